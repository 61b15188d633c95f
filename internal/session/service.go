package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/streamscribe/internal/metrics"
	"github.com/foxseedlab/streamscribe/internal/repository"
	"github.com/foxseedlab/streamscribe/internal/transcriber"
	"github.com/foxseedlab/streamscribe/internal/webhook"
)

const archiveTimeout = 10 * time.Second

type Options struct {
	EnableDebounceBuffer    bool
	DefaultSilenceThreshold time.Duration
	DefaultLanguage         string
	RecognitionTimeout      time.Duration
	IdleTimeout             time.Duration
	SweepInterval           time.Duration
	Now                     func() time.Time
}

// BufferResult is the outcome of feeding text to the debounce buffer.
type BufferResult struct {
	Key       string
	Text      string
	Ready     bool
	WasReady  bool
	SilenceMs int64
}

type FileResult struct {
	Text     string
	Language string
}

// Service is the transport-agnostic core: every HTTP and push handler goes
// through it.
type Service struct {
	opts       Options
	now        func() time.Time
	registry   *Registry
	invoker    *Invoker
	recognizer transcriber.Recognizer
	streams    *Debouncer
	cumulative bool
	buffers    *Debouncer
	flusher    *Flusher
	repo       repository.Repository
	metrics    *metrics.Metrics

	archives sync.WaitGroup
}

func NewService(opts Options, recognizer transcriber.Recognizer, accumulator Accumulator, repo repository.Repository, sender webhook.Sender, m *metrics.Metrics) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		opts:       opts,
		now:        opts.Now,
		registry:   NewRegistry(opts.Now),
		recognizer: recognizer,
		streams:    NewDebouncer(),
		buffers:    NewDebouncer(),
		flusher:    NewFlusher(sender, repo, m),
		repo:       repo,
		metrics:    m,
	}
	s.invoker = NewInvoker(recognizer, accumulator, opts.RecognitionTimeout, m, opts.Now)
	s.cumulative = s.invoker.accumulator.Cumulative()
	s.invoker.afterRecognize = s.updateReadiness
	return s
}

func (s *Service) StartStream(id string) Snapshot {
	current, replaced := s.registry.start(id)
	s.streams.Forget(id)
	s.flusher.Forget(id)
	if replaced != nil {
		slog.Info("stream restarted; previous state discarded", "stream_id", id)
		s.finish(replaced, repository.EndReasonReplaced)
	}
	s.metrics.RecordStreamStarted(s.registry.Len())
	slog.Info("stream started", "stream_id", id)
	return current.snapshot()
}

// FeedAudio decodes a base64 fragment and feeds it. A malformed fragment is
// a ValidationError returned with the untouched partial result.
func (s *Service) FeedAudio(ctx context.Context, id, encoded, language string) (FeedResult, error) {
	sess, ok := s.registry.lookup(id)
	if !ok {
		return FeedResult{StreamID: id}, newError(KindNotFound, "feed audio", ErrNotFound)
	}
	audio, err := DecodeFragment(encoded)
	if err != nil {
		s.metrics.DecodeErrors.Inc()
		return feedResultFrom(sess.snapshot(), false), newError(KindValidation, "decode audio", err)
	}
	return s.feed(ctx, sess, audio, language)
}

func (s *Service) FeedRaw(ctx context.Context, id string, audio []byte, language string) (FeedResult, error) {
	sess, ok := s.registry.lookup(id)
	if !ok {
		return FeedResult{StreamID: id}, newError(KindNotFound, "feed audio", ErrNotFound)
	}
	return s.feed(ctx, sess, audio, language)
}

func (s *Service) feed(ctx context.Context, sess *Session, audio []byte, language string) (FeedResult, error) {
	if language == "" {
		language = s.opts.DefaultLanguage
	}
	if len(audio) == 0 {
		s.updateReadiness(sess, "")
	}
	return s.invoker.Feed(ctx, sess, audio, language)
}

// updateReadiness runs the stream debouncer for a live session and stores
// the resulting flag. Sessions already ended or replaced are ignored. A
// ready utterance handed downstream is consumed, so the next one starts
// from empty text and, for cumulative accumulators, from no retained audio.
func (s *Service) updateReadiness(sess *Session, text string) {
	if cur, ok := s.registry.lookup(sess.id); !ok || cur != sess {
		return
	}
	now := s.now()
	update := s.streams.Update
	if s.cumulative {
		update = s.streams.Replace
	}
	res := update(sess.id, text, s.opts.DefaultSilenceThreshold, now)
	s.metrics.RecordBufferUpdate(res.Ready)

	sess.mu.Lock()
	sess.ready = res.Ready && sess.partial != ""
	ready := sess.ready
	language := sess.language
	sess.mu.Unlock()

	if !ready || !s.flusher.Offer(repository.TranscriptSourceStream, sess.id, res.Text, language, now) {
		return
	}
	s.streams.Peek(sess.id, true)
	s.flusher.Forget(sess.id)
	if s.cumulative {
		sess.mu.Lock()
		sess.buffered = nil
		sess.mu.Unlock()
	}
}

// Result is the read-only poll: unknown ids yield an empty view.
func (s *Service) Result(id string) Snapshot {
	return s.registry.GetOrDefault(id)
}

func (s *Service) Stream(id string) (Snapshot, error) {
	return s.registry.Get(id)
}

func (s *Service) Streams() []Snapshot {
	return s.registry.List()
}

// EndStream removes the stream and returns its final text, empty when the
// stream is unknown.
func (s *Service) EndStream(id string, reason repository.EndReason) string {
	sess, ok := s.registry.remove(id)
	if !ok {
		return ""
	}
	final := s.finish(sess, reason)
	s.streams.Forget(id)
	s.flusher.Forget(id)
	slog.Info("stream ended", "stream_id", id, "reason", reason, "final_chars", len(final))
	return final
}

// finish records metrics and archives a session already out of the registry.
func (s *Service) finish(sess *Session, reason repository.EndReason) string {
	snap := sess.snapshot()
	s.finishSnapshot(snap, reason, s.now())
	return snap.Text
}

func (s *Service) finishSnapshot(snap Snapshot, reason repository.EndReason, now time.Time) {
	s.metrics.RecordStreamEnded(string(reason), now.Sub(snap.StartedAt).Seconds(), s.registry.Len())
	if snap.Text == "" {
		return
	}
	s.archive(repository.SaveTranscriptInput{
		Key:       snap.ID,
		Source:    repository.TranscriptSourceStream,
		Text:      snap.Text,
		Language:  snap.Language,
		Reason:    reason,
		StartedAt: snap.StartedAt,
		EndedAt:   now,
	})
}

func (s *Service) archive(input repository.SaveTranscriptInput) {
	s.archives.Add(1)
	go func() {
		defer s.archives.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := s.repo.SaveTranscript(ctx, input); err != nil {
			slog.Error("failed to archive transcript", "error", err, "key", input.Key, "reason", input.Reason)
		}
	}()
}

// TranscribeFile runs a one-shot recognition of a local file. With a
// guildID and the debounce buffer enabled the text is also buffered.
func (s *Service) TranscribeFile(ctx context.Context, path, guildID, language string) (FileResult, error) {
	if strings.TrimSpace(path) == "" {
		return FileResult{}, newError(KindValidation, "transcribe file", errors.New("path is required"))
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		if err == nil {
			err = fs.ErrNotExist
		}
		return FileResult{}, newError(KindNotFound, "transcribe file", fmt.Errorf("file not found: %w", err))
	}
	if language == "" {
		language = s.opts.DefaultLanguage
	}

	if s.opts.RecognitionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RecognitionTimeout)
		defer cancel()
	}
	started := s.now()
	res, err := s.recognizeFile(ctx, path, language)
	elapsed := s.now().Sub(started).Seconds()
	if err != nil {
		s.metrics.RecordRecognition(elapsed, failureCause(ctx, err))
		slog.Warn("file transcription failed", "path", path, "error", err)
		return FileResult{}, newError(KindRecognition, "transcribe file", err)
	}
	s.metrics.RecordRecognition(elapsed, "")

	out := FileResult{Text: res.Text(), Language: res.Language}
	if out.Language == "" {
		out.Language = language
	}
	if guildID != "" && s.opts.EnableDebounceBuffer {
		if _, err := s.BufferText(guildID, out.Text, s.opts.DefaultSilenceThreshold); err != nil {
			slog.Warn("failed to buffer file transcription", "guild_id", guildID, "error", err)
		}
	}
	return out, nil
}

func (s *Service) recognizeFile(ctx context.Context, path, language string) (transcriber.Result, error) {
	if fr, ok := s.recognizer.(transcriber.FileRecognizer); ok {
		return fr.TranscribeFile(ctx, path, language)
	}
	audio, err := os.ReadFile(path)
	if err != nil {
		return transcriber.Result{}, err
	}
	return s.recognizer.Transcribe(ctx, audio, language)
}

// BufferText feeds text to the debounce buffer of key. A zero threshold
// selects the configured default.
func (s *Service) BufferText(key, text string, threshold time.Duration) (BufferResult, error) {
	if !s.opts.EnableDebounceBuffer {
		return BufferResult{Key: key}, newError(KindValidation, "buffer text", ErrBufferDisabled)
	}
	if threshold <= 0 {
		threshold = s.opts.DefaultSilenceThreshold
	}
	now := s.now()
	res := s.buffers.Update(key, text, threshold, now)
	s.metrics.RecordBufferUpdate(res.Ready)
	if res.Ready {
		s.flusher.Offer(repository.TranscriptSourceBuffer, key, res.Text, "", now)
	}
	return BufferResult{
		Key:       key,
		Text:      res.Text,
		Ready:     res.Ready,
		WasReady:  res.WasReady,
		SilenceMs: res.Elapsed.Milliseconds(),
	}, nil
}

// ReadBuffer returns the buffered text of key; clear makes it destructive.
func (s *Service) ReadBuffer(key string, clear bool) (BufferView, error) {
	if !s.opts.EnableDebounceBuffer {
		return BufferView{}, newError(KindValidation, "read buffer", ErrBufferDisabled)
	}
	view := s.buffers.Peek(key, clear)
	if clear {
		s.flusher.Forget(key)
	}
	return view, nil
}

// Run sweeps idle streams and buffers until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if s.opts.IdleTimeout <= 0 || s.opts.SweepInterval <= 0 {
		slog.Info("idle sweep disabled")
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	slog.Info("idle sweep started", "idle_timeout", s.opts.IdleTimeout.String(), "interval", s.opts.SweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("idle sweep stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes streams and buffers idle longer than the idle timeout and
// returns the ids of removed streams.
func (s *Service) Sweep() []string {
	now := s.now()
	expired := s.registry.Sweep(now, s.opts.IdleTimeout)
	ids := make([]string, 0, len(expired))
	for _, snap := range expired {
		ids = append(ids, snap.ID)
		s.streams.Forget(snap.ID)
		s.flusher.Forget(snap.ID)
		s.finishSnapshot(snap, repository.EndReasonExpired, now)
	}
	for _, key := range s.buffers.Sweep(now, s.opts.IdleTimeout) {
		s.flusher.Forget(key)
	}
	if len(ids) > 0 {
		slog.Info("expired idle streams", "count", len(ids), "stream_ids", ids)
	}
	return ids
}

// Shutdown ends every live stream and waits for pending archive and
// downstream deliveries.
func (s *Service) Shutdown() error {
	remaining := s.registry.Shutdown()
	now := s.now()
	for _, snap := range remaining {
		s.finishSnapshot(snap, repository.EndReasonShutdown, now)
	}
	s.flusher.Wait()
	s.archives.Wait()
	slog.Info("session service stopped", "ended_streams", len(remaining))
	return nil
}
