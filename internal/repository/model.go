package repository

import "time"

type TranscriptSource string

const (
	TranscriptSourceStream TranscriptSource = "stream"
	TranscriptSourceBuffer TranscriptSource = "buffer"
)

type EndReason string

const (
	EndReasonEnded    EndReason = "ended"
	EndReasonExpired  EndReason = "expired"
	EndReasonReplaced EndReason = "replaced"
	EndReasonClosed   EndReason = "connection_closed"
	EndReasonShutdown EndReason = "shutdown"
	EndReasonFlushed  EndReason = "flushed"
)

type Transcript struct {
	ID        string
	Key       string
	Source    TranscriptSource
	Text      string
	Language  string
	Reason    EndReason
	StartedAt time.Time
	EndedAt   time.Time
	CreatedAt time.Time
}
