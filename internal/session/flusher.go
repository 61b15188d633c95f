package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/foxseedlab/streamscribe/internal/metrics"
	"github.com/foxseedlab/streamscribe/internal/repository"
	"github.com/foxseedlab/streamscribe/internal/webhook"
)

const flushTimeout = 10 * time.Second

// Flusher hands ready utterances downstream at most once per fingerprint
// and key. Delivery runs in the background; a failed delivery clears the
// fingerprint so the next ready poll retries it.
type Flusher struct {
	sender  webhook.Sender
	repo    repository.Repository
	metrics *metrics.Metrics

	mu   sync.Mutex
	sent map[string]uint64
	wg   sync.WaitGroup
}

func NewFlusher(sender webhook.Sender, repo repository.Repository, m *metrics.Metrics) *Flusher {
	return &Flusher{
		sender:  sender,
		repo:    repo,
		metrics: m,
		sent:    make(map[string]uint64),
	}
}

func fingerprint(key, text string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(key)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(text)
	return d.Sum64()
}

// Offer schedules delivery of text for key unless the same text was already
// handed off. It reports whether a delivery was scheduled.
func (f *Flusher) Offer(source repository.TranscriptSource, key, text, language string, readyAt time.Time) bool {
	if text == "" {
		return false
	}
	fp := fingerprint(key, text)
	f.mu.Lock()
	if f.sent[key] == fp {
		f.mu.Unlock()
		f.metrics.RecordUtteranceFlushed("duplicate")
		return false
	}
	f.sent[key] = fp
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.deliver(source, key, text, language, readyAt, fp)
	}()
	return true
}

func (f *Flusher) deliver(source repository.TranscriptSource, key, text, language string, readyAt time.Time, fp uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	err := f.sender.SendUtterance(ctx, webhook.UtterancePayload{
		Key:      key,
		Source:   string(source),
		Text:     text,
		Language: language,
		ReadyAt:  readyAt,
	})
	if err != nil {
		slog.Error("failed to send ready utterance downstream", "error", err, "key", key, "source", source)
		f.metrics.RecordUtteranceFlushed("failed")
		f.mu.Lock()
		if f.sent[key] == fp {
			delete(f.sent, key)
		}
		f.mu.Unlock()
		return
	}
	f.metrics.RecordUtteranceFlushed("sent")

	if err := f.repo.SaveTranscript(ctx, repository.SaveTranscriptInput{
		Key:       key,
		Source:    source,
		Text:      text,
		Language:  language,
		Reason:    repository.EndReasonFlushed,
		StartedAt: readyAt,
		EndedAt:   readyAt,
	}); err != nil {
		slog.Error("failed to archive flushed utterance", "error", err, "key", key)
	}
}

// Forget drops the fingerprint for key, typically after its buffer was cleared.
func (f *Flusher) Forget(key string) {
	f.mu.Lock()
	delete(f.sent, key)
	f.mu.Unlock()
}

// Wait blocks until every scheduled delivery has finished.
func (f *Flusher) Wait() {
	f.wg.Wait()
}
