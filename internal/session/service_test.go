package session

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxseedlab/streamscribe/internal/repository"
	"github.com/foxseedlab/streamscribe/internal/transcriber"
)

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestService_StreamLifecycle(t *testing.T) {
	ts := newTestService(t, nil)
	ctx := context.Background()

	ts.StartStream("s1")
	res, err := ts.FeedAudio(ctx, "s1", encode("hello world"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hello world" || res.Language != "en" {
		t.Fatalf("unexpected feed result: %+v", res)
	}
	if got := ts.Result("s1").Text; got != "hello world" {
		t.Fatalf("expected polled text, got %q", got)
	}

	if final := ts.EndStream("s1", repository.EndReasonEnded); final != "hello world" {
		t.Fatalf("expected final text, got %q", final)
	}
	if snap := ts.Result("s1"); snap.Text != "" || snap.Ready {
		t.Fatalf("expected empty view after end, got %+v", snap)
	}
	if _, err := ts.FeedAudio(ctx, "s1", encode("late"), ""); !IsKind(err, KindNotFound) {
		t.Fatalf("expected not found after end, got %v", err)
	}

	waitUntil(t, time.Second, func() bool { return len(ts.repo.savedInputs()) == 1 }, "expected transcript archived")
	saved := ts.repo.savedInputs()[0]
	if saved.Key != "s1" || saved.Text != "hello world" || saved.Reason != repository.EndReasonEnded {
		t.Fatalf("unexpected archived transcript: %+v", saved)
	}
}

func TestService_FeedUnknownStream(t *testing.T) {
	ts := newTestService(t, nil)
	if _, err := ts.FeedAudio(context.Background(), "nope", encode("x"), ""); !IsKind(err, KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if ts.stt.callCount() != 0 {
		t.Fatal("recognizer must not run for unknown streams")
	}
}

func TestService_MalformedAudioKeepsPartial(t *testing.T) {
	ts := newTestService(t, nil)
	ctx := context.Background()
	ts.StartStream("s1")
	if _, err := ts.FeedAudio(ctx, "s1", encode("keep me"), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := ts.FeedAudio(ctx, "s1", "###", "")
	if !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if res.Text != "keep me" {
		t.Fatalf("expected partial kept, got %q", res.Text)
	}
}

func TestService_RestartDiscardsState(t *testing.T) {
	ts := newTestService(t, nil)
	ts.StartStream("s1")
	if _, err := ts.FeedAudio(context.Background(), "s1", encode("old"), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := ts.StartStream("s1")
	if snap.Text != "" {
		t.Fatalf("expected fresh stream, got %q", snap.Text)
	}
	waitUntil(t, time.Second, func() bool { return len(ts.repo.savedInputs()) == 1 }, "expected replaced stream archived")
	if got := ts.repo.savedInputs()[0].Reason; got != repository.EndReasonReplaced {
		t.Fatalf("expected replaced reason, got %s", got)
	}
}

func TestService_StreamBecomesReadyAfterSilence(t *testing.T) {
	ts := newTestService(t, nil)
	ctx := context.Background()
	ts.StartStream("s1")

	res, err := ts.FeedAudio(ctx, "s1", encode("hello"), "")
	if err != nil || res.Ready {
		t.Fatalf("expected not ready after speech, got %+v %v", res, err)
	}

	ts.clock.Advance(2 * time.Second)
	res, err = ts.FeedAudio(ctx, "s1", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Ready || res.Text != "hello" {
		t.Fatalf("expected ready after silence, got %+v", res)
	}
	if !ts.Result("s1").Ready {
		t.Fatal("expected polled view to be ready")
	}

	waitUntil(t, time.Second, func() bool { return len(ts.sender.payloads()) == 1 }, "expected utterance sent downstream")

	ts.clock.Advance(time.Second)
	if _, err := ts.FeedAudio(ctx, "s1", "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts.flusher.Wait()
	if got := len(ts.sender.payloads()); got != 1 {
		t.Fatalf("expected same utterance sent once, got %d", got)
	}
}

func TestService_EachUtteranceSentOnce(t *testing.T) {
	ts := newTestService(t, nil)
	ctx := context.Background()
	ts.StartStream("s1")

	for i, utterance := range []string{"first utterance", "second utterance"} {
		if _, err := ts.FeedAudio(ctx, "s1", encode(utterance), ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ts.clock.Advance(2 * time.Second)
		res, err := ts.FeedAudio(ctx, "s1", "", "")
		if err != nil || !res.Ready {
			t.Fatalf("expected %q ready after silence, got %+v %v", utterance, res, err)
		}
		waitUntil(t, time.Second, func() bool { return len(ts.sender.payloads()) == i+1 }, "expected utterance sent downstream")
	}

	payloads := ts.sender.payloads()
	if payloads[0].Text != "first utterance" || payloads[1].Text != "second utterance" {
		t.Fatalf("expected each utterance delivered alone, got %q and %q", payloads[0].Text, payloads[1].Text)
	}
}

func TestService_RepeatedUtteranceSentAgain(t *testing.T) {
	ts := newTestService(t, nil)
	ctx := context.Background()
	ts.StartStream("s1")

	for i := range 2 {
		if _, err := ts.FeedAudio(ctx, "s1", encode("yes"), ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ts.clock.Advance(2 * time.Second)
		if _, err := ts.FeedAudio(ctx, "s1", "", ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		waitUntil(t, time.Second, func() bool { return len(ts.sender.payloads()) == i+1 }, "expected repeated utterance sent")
	}
}

func TestService_ConcatenatedAudioReplacesText(t *testing.T) {
	ts := newTestServiceWithAccumulator(t, ConcatenateChunks{MaxBytes: 1 << 20}, nil)
	ctx := context.Background()
	ts.StartStream("s1")

	if _, err := ts.FeedAudio(ctx, "s1", encode("hello "), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := ts.FeedAudio(ctx, "s1", encode("world"), "")
	if err != nil || res.Text != "hello world" {
		t.Fatalf("expected re-recognized text, got %+v %v", res, err)
	}

	ts.clock.Advance(2 * time.Second)
	if res, err := ts.FeedAudio(ctx, "s1", "", ""); err != nil || !res.Ready {
		t.Fatalf("expected ready after silence, got %+v %v", res, err)
	}
	waitUntil(t, time.Second, func() bool { return len(ts.sender.payloads()) == 1 }, "expected utterance sent downstream")
	if got := ts.sender.payloads()[0].Text; got != "hello world" {
		t.Fatalf("expected flushed text without repeats, got %q", got)
	}

	res, err = ts.FeedAudio(ctx, "s1", encode("next"), "")
	if err != nil || res.Text != "next" {
		t.Fatalf("expected retained audio dropped after flush, got %+v %v", res, err)
	}
}

func TestService_EmptyFeedsDoNotKeepStreamAlive(t *testing.T) {
	ts := newTestService(t, nil)
	ctx := context.Background()
	ts.StartStream("s1")
	if _, err := ts.FeedAudio(ctx, "s1", encode("hello"), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	contributed := ts.Result("s1").LastActivity

	for range 3 {
		ts.clock.Advance(4 * time.Minute)
		if _, err := ts.FeedAudio(ctx, "s1", "", ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := ts.Result("s1").LastActivity; !got.Equal(contributed) {
		t.Fatalf("expected last activity unchanged by empty feeds, got %v want %v", got, contributed)
	}
	if expired := ts.Sweep(); len(expired) != 1 || expired[0] != "s1" {
		t.Fatalf("expected polled-only stream expired, got %v", expired)
	}
}

func TestService_EmptyRecognitionNeverReady(t *testing.T) {
	ts := newTestService(t, nil)
	ts.stt.fn = func(_ context.Context, _ []byte, _ string) (transcriber.Result, error) {
		return transcriber.Result{}, nil
	}
	ctx := context.Background()
	ts.StartStream("s1")
	if _, err := ts.FeedAudio(ctx, "s1", encode("noise"), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts.clock.Advance(5 * time.Second)
	res, err := ts.FeedAudio(ctx, "s1", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Ready {
		t.Fatal("empty partial result must never be ready")
	}
}

func TestService_RecognitionFailureReturnsPreviousText(t *testing.T) {
	ts := newTestService(t, nil)
	ctx := context.Background()
	ts.StartStream("s1")
	if _, err := ts.FeedAudio(ctx, "s1", encode("good"), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts.stt.mu.Lock()
	ts.stt.fn = func(_ context.Context, _ []byte, _ string) (transcriber.Result, error) {
		return transcriber.Result{}, errors.New("backend down")
	}
	ts.stt.mu.Unlock()

	res, err := ts.FeedAudio(ctx, "s1", encode("bad"), "")
	if !IsKind(err, KindRecognition) {
		t.Fatalf("expected recognition error, got %v", err)
	}
	if res.Text != "good" {
		t.Fatalf("expected previous text, got %q", res.Text)
	}
}

func TestService_TranscribeFile(t *testing.T) {
	ts := newTestService(t, nil)
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("file words"), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	res, err := ts.TranscribeFile(context.Background(), path, "g1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "file words" || res.Language != "en" {
		t.Fatalf("unexpected file result: %+v", res)
	}
	view, err := ts.ReadBuffer("g1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Text != "file words" {
		t.Fatalf("expected file text buffered, got %q", view.Text)
	}
}

func TestService_TranscribeFileErrors(t *testing.T) {
	ts := newTestService(t, nil)
	ctx := context.Background()

	if _, err := ts.TranscribeFile(ctx, " ", "", ""); !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error for empty path, got %v", err)
	}
	missing := filepath.Join(t.TempDir(), "missing.wav")
	if _, err := ts.TranscribeFile(ctx, missing, "", ""); !IsKind(err, KindNotFound) {
		t.Fatalf("expected not found for missing file, got %v", err)
	}
	if _, err := ts.TranscribeFile(ctx, t.TempDir(), "", ""); !IsKind(err, KindNotFound) {
		t.Fatalf("expected not found for directory, got %v", err)
	}
}

func TestService_BufferText(t *testing.T) {
	ts := newTestService(t, nil)

	res, err := ts.BufferText("g1", "foo", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "foo" || res.Ready {
		t.Fatalf("unexpected first buffer result: %+v", res)
	}

	ts.clock.Advance(2 * time.Second)
	res, err = ts.BufferText("g1", "bar", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.WasReady || res.Ready || res.Text != "foo bar" || res.SilenceMs != 2000 {
		t.Fatalf("unexpected buffer result after pause: %+v", res)
	}

	ts.clock.Advance(2 * time.Second)
	res, err = ts.BufferText("g1", "", 0)
	if err != nil || !res.Ready {
		t.Fatalf("expected ready buffer, got %+v %v", res, err)
	}
	waitUntil(t, time.Second, func() bool { return len(ts.sender.payloads()) == 1 }, "expected buffered utterance sent")
	if got := ts.sender.payloads()[0]; got.Key != "g1" || got.Text != "foo bar" || got.Source != string(repository.TranscriptSourceBuffer) {
		t.Fatalf("unexpected payload: %+v", got)
	}

	view, err := ts.ReadBuffer("g1", true)
	if err != nil || view.Text != "foo bar" || !view.Ready {
		t.Fatalf("unexpected clearing read: %+v %v", view, err)
	}
	if view, _ := ts.ReadBuffer("g1", false); view.Text != "" || view.Ready {
		t.Fatalf("expected cleared buffer, got %+v", view)
	}
}

func TestService_BufferCustomThreshold(t *testing.T) {
	ts := newTestService(t, nil)
	if _, err := ts.BufferText("g1", "foo", 5*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts.clock.Advance(2 * time.Second)
	res, _ := ts.BufferText("g1", "", 5*time.Second)
	if res.Ready {
		t.Fatal("must not be ready before the custom threshold")
	}
}

func TestService_BufferDisabled(t *testing.T) {
	ts := newTestService(t, func(o *Options) { o.EnableDebounceBuffer = false })

	if _, err := ts.BufferText("g1", "foo", 0); !IsKind(err, KindValidation) || !errors.Is(err, ErrBufferDisabled) {
		t.Fatalf("expected buffer disabled error, got %v", err)
	}
	if _, err := ts.ReadBuffer("g1", false); !errors.Is(err, ErrBufferDisabled) {
		t.Fatalf("expected buffer disabled error, got %v", err)
	}
}

func TestService_SweepExpiresIdleStreams(t *testing.T) {
	ts := newTestService(t, nil)
	ts.StartStream("idle")
	if _, err := ts.FeedAudio(context.Background(), "idle", encode("left behind"), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts.StartStream("empty")

	ts.clock.Advance(11 * time.Minute)
	ts.StartStream("fresh")

	expired := ts.Sweep()
	if len(expired) != 2 {
		t.Fatalf("expected 2 expired streams, got %v", expired)
	}
	if _, err := ts.Stream("fresh"); err != nil {
		t.Fatalf("expected fresh stream kept, got %v", err)
	}
	if len(ts.Streams()) != 1 {
		t.Fatalf("expected 1 live stream, got %d", len(ts.Streams()))
	}

	waitUntil(t, time.Second, func() bool { return len(ts.repo.savedInputs()) == 1 }, "expected expired transcript archived")
	saved := ts.repo.savedInputs()[0]
	if saved.Key != "idle" || saved.Reason != repository.EndReasonExpired {
		t.Fatalf("unexpected archived transcript: %+v", saved)
	}
}

func TestService_RunStopsWithContext(t *testing.T) {
	ts := newTestService(t, func(o *Options) { o.SweepInterval = 5 * time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ts.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestService_ShutdownArchivesLiveStreams(t *testing.T) {
	ts := newTestService(t, nil)
	ts.StartStream("s1")
	if _, err := ts.FeedAudio(context.Background(), "s1", encode("unfinished"), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ts.Shutdown(); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	saved := ts.repo.savedInputs()
	if len(saved) != 1 || saved[0].Reason != repository.EndReasonShutdown {
		t.Fatalf("expected shutdown archive, got %+v", saved)
	}
	if len(ts.Streams()) != 0 {
		t.Fatal("expected no live streams after shutdown")
	}
}
