package webhook

import (
	"context"
	"time"
)

type UtterancePayload struct {
	Key      string    `json:"key"`
	Source   string    `json:"source"`
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	ReadyAt  time.Time `json:"ready_at"`
}

// Sender hands a completed utterance to the downstream consumer.
type Sender interface {
	SendUtterance(ctx context.Context, payload UtterancePayload) error
}
