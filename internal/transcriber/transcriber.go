package transcriber

import (
	"context"
	"strings"
	"time"
)

type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

type Result struct {
	Segments []Segment
	Language string
}

// Recognizer maps one complete audio buffer to timestamped text segments.
// Implementations may take seconds and must honor ctx cancellation.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte, language string) (Result, error)
}

// FileRecognizer is implemented by backends that can read audio straight
// from a path on the local filesystem.
type FileRecognizer interface {
	TranscribeFile(ctx context.Context, path, language string) (Result, error)
}

// Text joins segment texts with a single space and trims the result.
func (r Result) Text() string {
	return JoinSegments(r.Segments)
}

func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		parts = append(parts, seg.Text)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
