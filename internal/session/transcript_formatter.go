package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/streamscribe/internal/repository"
)

const (
	transcriptTimeLayout   = "2006-01-02 15:04:05"
	defaultTranscriptLimit = 50
)

// Transcripts returns archived transcripts for key, newest first.
func (s *Service) Transcripts(ctx context.Context, key string, limit int) ([]repository.Transcript, error) {
	if strings.TrimSpace(key) == "" {
		return nil, newError(KindValidation, "list transcripts", errors.New("key is required"))
	}
	if limit <= 0 {
		limit = defaultTranscriptLimit
	}
	list, err := s.repo.ListTranscriptsByKey(ctx, key, limit)
	if err != nil {
		return nil, newError(KindInternal, "list transcripts", err)
	}
	return list, nil
}

// BuildTranscriptText renders archived transcripts as plain text, one block
// per transcript.
func BuildTranscriptText(key string, transcripts []repository.Transcript, loc *time.Location) []byte {
	loc = safeLocation(loc)
	lines := []string{fmt.Sprintf("key: %s", key), ""}
	for _, tr := range transcripts {
		duration := tr.EndedAt.Sub(tr.StartedAt)
		if duration < 0 {
			duration = 0
		}
		lines = append(lines,
			fmt.Sprintf("[%s] %s (%s, %s)", tr.StartedAt.In(loc).Format(transcriptTimeLayout), formatElapsedHMS(duration), tr.Source, tr.Reason),
			tr.Text,
			"",
		)
	}
	return []byte(strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n")
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
