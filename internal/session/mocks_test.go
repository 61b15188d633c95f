package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/streamscribe/internal/metrics"
	"github.com/foxseedlab/streamscribe/internal/repository"
	"github.com/foxseedlab/streamscribe/internal/transcriber"
	"github.com/foxseedlab/streamscribe/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// mockRecognizer echoes the audio bytes back as text unless fn is set.
type mockRecognizer struct {
	mu    sync.Mutex
	calls [][]byte
	fn    func(ctx context.Context, audio []byte, language string) (transcriber.Result, error)
}

func (m *mockRecognizer) Transcribe(ctx context.Context, audio []byte, language string) (transcriber.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]byte(nil), audio...))
	fn := m.fn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, audio, language)
	}
	return transcriber.Result{
		Segments: []transcriber.Segment{{Text: string(audio)}},
		Language: language,
	}, nil
}

func (m *mockRecognizer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockRepository struct {
	mu    sync.Mutex
	saved []repository.SaveTranscriptInput
}

func (m *mockRepository) SaveTranscript(_ context.Context, input repository.SaveTranscriptInput) error {
	m.mu.Lock()
	m.saved = append(m.saved, input)
	m.mu.Unlock()
	return nil
}

func (m *mockRepository) ListTranscriptsByKey(_ context.Context, key string, _ int) ([]repository.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Transcript
	for _, s := range m.saved {
		if s.Key == key {
			out = append(out, repository.Transcript{Key: s.Key, Source: s.Source, Text: s.Text, Reason: s.Reason})
		}
	}
	return out, nil
}

func (m *mockRepository) savedInputs() []repository.SaveTranscriptInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.SaveTranscriptInput(nil), m.saved...)
}

type mockSender struct {
	mu   sync.Mutex
	sent []webhook.UtterancePayload
	err  error
}

func (m *mockSender) SendUtterance(_ context.Context, payload webhook.UtterancePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, payload)
	return nil
}

func (m *mockSender) payloads() []webhook.UtterancePayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]webhook.UtterancePayload(nil), m.sent...)
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

type testService struct {
	*Service
	clock  *fakeClock
	stt    *mockRecognizer
	repo   *mockRepository
	sender *mockSender
}

func newTestService(t *testing.T, mutate func(*Options)) *testService {
	t.Helper()
	return newTestServiceWithAccumulator(t, IndependentChunks{}, mutate)
}

func newTestServiceWithAccumulator(t *testing.T, acc Accumulator, mutate func(*Options)) *testService {
	t.Helper()
	clock := newFakeClock()
	opts := Options{
		EnableDebounceBuffer:    true,
		DefaultSilenceThreshold: 1500 * time.Millisecond,
		DefaultLanguage:         "en",
		RecognitionTimeout:      5 * time.Second,
		IdleTimeout:             10 * time.Minute,
		SweepInterval:           30 * time.Second,
		Now:                     clock.Now,
	}
	if mutate != nil {
		mutate(&opts)
	}
	ts := &testService{
		clock:  clock,
		stt:    &mockRecognizer{},
		repo:   &mockRepository{},
		sender: &mockSender{},
	}
	ts.Service = NewService(opts, ts.stt, acc, ts.repo, ts.sender, newTestMetrics())
	t.Cleanup(func() { _ = ts.Shutdown() })
	return ts
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}
