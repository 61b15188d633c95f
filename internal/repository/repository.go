package repository

import (
	"context"
	"time"
)

type SaveTranscriptInput struct {
	Key       string
	Source    TranscriptSource
	Text      string
	Language  string
	Reason    EndReason
	StartedAt time.Time
	EndedAt   time.Time
}

// Repository archives finished transcripts. Live session state is never
// read back from it.
type Repository interface {
	SaveTranscript(ctx context.Context, input SaveTranscriptInput) error
	ListTranscriptsByKey(ctx context.Context, key string, limit int) ([]Transcript, error)
}

type noopRepository struct{}

// NewNoopRepository is used when no database is configured.
func NewNoopRepository() Repository {
	return noopRepository{}
}

func (noopRepository) SaveTranscript(context.Context, SaveTranscriptInput) error {
	return nil
}

func (noopRepository) ListTranscriptsByKey(context.Context, string, int) ([]Transcript, error) {
	return nil, nil
}
