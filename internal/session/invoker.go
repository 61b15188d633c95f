package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/streamscribe/internal/metrics"
	"github.com/foxseedlab/streamscribe/internal/transcriber"
)

var errRecognizerStalled = errors.New("previous recognition is still running past its deadline")

const (
	failureCauseTimeout  = "timeout"
	failureCauseCanceled = "canceled"
	failureCauseError    = "error"
)

// FeedResult is the session view after a feed. On a RecognitionError it
// holds the last good partial result.
type FeedResult struct {
	StreamID   string
	Text       string
	Language   string
	Ready      bool
	Recognized bool
}

// Invoker runs the recognizer for a session with at most one invocation in
// flight per session. Later feeds wait for the slot rather than being
// skipped, so effects land in acquisition order.
type Invoker struct {
	recognizer  transcriber.Recognizer
	accumulator Accumulator
	timeout     time.Duration
	metrics     *metrics.Metrics
	now         func() time.Time

	// afterRecognize runs while the feed slot is still held.
	afterRecognize func(s *Session, text string)
}

func NewInvoker(recognizer transcriber.Recognizer, accumulator Accumulator, timeout time.Duration, m *metrics.Metrics, now func() time.Time) *Invoker {
	if accumulator == nil {
		accumulator = IndependentChunks{}
	}
	if now == nil {
		now = time.Now
	}
	return &Invoker{
		recognizer:  recognizer,
		accumulator: accumulator,
		timeout:     timeout,
		metrics:     m,
		now:         now,
	}
}

func (v *Invoker) Feed(ctx context.Context, s *Session, fragment []byte, language string) (FeedResult, error) {
	if len(fragment) == 0 {
		v.metrics.FragmentsEmpty.Inc()
		return feedResultFrom(s.snapshot(), false), nil
	}
	v.metrics.FragmentsDecoded.Inc()

	if err := v.acquire(ctx, s); err != nil {
		return feedResultFrom(s.snapshot(), false), newError(KindRecognition, "wait for recognition slot", err)
	}

	s.mu.Lock()
	payload, retained := v.accumulator.Accumulate(s.buffered, fragment)
	s.buffered = retained
	s.inFlight = true
	s.touchLocked(v.now())
	s.mu.Unlock()

	text, detected, pending, err := v.invoke(ctx, s.id, payload, language)
	if pending != nil {
		s.mu.Lock()
		s.stalled = true
		snap := s.snapshotLocked()
		s.mu.Unlock()
		go v.releaseWhenDone(s, pending)
		return feedResultFrom(snap, false), newError(KindRecognition, "recognize", err)
	}
	defer v.release(s)

	s.mu.Lock()
	s.inFlight = false
	s.touchLocked(v.now())
	if err != nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return feedResultFrom(snap, false), newError(KindRecognition, "recognize", err)
	}
	s.partial = text
	if detected != "" {
		s.language = detected
	} else if s.language == "" {
		s.language = language
	}
	s.mu.Unlock()

	if v.afterRecognize != nil {
		v.afterRecognize(s, text)
	}
	return feedResultFrom(s.snapshot(), true), nil
}

// acquire takes the session's feed slot, waiting behind an in-flight
// recognition. A session whose recognizer overran its deadline fails fast
// instead of queueing behind it.
func (v *Invoker) acquire(ctx context.Context, s *Session) error {
	select {
	case s.feed <- struct{}{}:
		return nil
	default:
	}
	s.mu.Lock()
	stalled := s.stalled
	s.mu.Unlock()
	if stalled {
		return errRecognizerStalled
	}

	v.metrics.RecognitionWaits.Inc()
	slog.Debug("waiting for in-flight recognition", "stream_id", s.id)
	select {
	case s.feed <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *Invoker) release(s *Session) {
	<-s.feed
}

// releaseWhenDone keeps the slot until an abandoned recognizer call returns,
// then drops its result.
func (v *Invoker) releaseWhenDone(s *Session, pending <-chan recognition) {
	late := <-pending
	s.mu.Lock()
	s.inFlight = false
	s.stalled = false
	s.mu.Unlock()
	v.release(s)
	slog.Warn("dropped recognition result that arrived after its deadline", "stream_id", s.id, "error", late.err, "segments", len(late.res.Segments))
}

type recognition struct {
	res transcriber.Result
	err error
}

// invoke bounds the recognizer call by the configured timeout. Timeouts,
// cancellations and recognizer panics come back as ordinary errors. When
// the deadline passes before the recognizer returns, pending delivers its
// eventual result.
func (v *Invoker) invoke(ctx context.Context, streamID string, payload []byte, language string) (text, detected string, pending <-chan recognition, err error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	started := v.now()
	done := make(chan recognition, 1)
	go func() {
		res, recErr := v.transcribe(ctx, payload, language)
		done <- recognition{res: res, err: recErr}
	}()

	var r recognition
	select {
	case r = <-done:
		if r.err == nil && ctx.Err() != nil {
			r.err = ctx.Err()
		}
	case <-ctx.Done():
		r.err = ctx.Err()
		pending = done
	}

	elapsed := v.now().Sub(started).Seconds()
	if r.err != nil {
		cause := failureCause(ctx, r.err)
		v.metrics.RecordRecognition(elapsed, cause)
		slog.Warn("recognition failed; keeping previous partial result", "stream_id", streamID, "cause", cause, "error", r.err, "audio_bytes", len(payload))
		return "", "", pending, r.err
	}
	v.metrics.RecordRecognition(elapsed, "")
	slog.Debug("recognition completed", "stream_id", streamID, "segments", len(r.res.Segments), "language", r.res.Language, "duration_sec", elapsed)
	return r.res.Text(), r.res.Language, nil, nil
}

func (v *Invoker) transcribe(ctx context.Context, payload []byte, language string) (res transcriber.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recognizer panicked: %v", r)
		}
	}()
	return v.recognizer.Transcribe(ctx, payload, language)
}

func failureCause(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return failureCauseTimeout
	case errors.Is(err, context.Canceled):
		return failureCauseCanceled
	default:
		return failureCauseError
	}
}

func feedResultFrom(snap Snapshot, recognized bool) FeedResult {
	return FeedResult{
		StreamID:   snap.ID,
		Text:       snap.Text,
		Language:   snap.Language,
		Ready:      snap.Ready,
		Recognized: recognized,
	}
}
