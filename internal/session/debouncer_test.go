package session

import (
	"testing"
	"time"
)

const testThreshold = 1500 * time.Millisecond

func TestDebouncer_JoinsTextWithSingleSpace(t *testing.T) {
	d := NewDebouncer()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := d.Update("k", "  hello ", testThreshold, now)
	if first.Text != "hello" || first.Ready || first.Elapsed != 0 {
		t.Fatalf("unexpected first update: %+v", first)
	}
	second := d.Update("k", "world", testThreshold, now.Add(100*time.Millisecond))
	if second.Text != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", second.Text)
	}
	if second.Elapsed != 100*time.Millisecond {
		t.Fatalf("expected 100ms elapsed, got %v", second.Elapsed)
	}
}

func TestDebouncer_ReadyAfterSilence(t *testing.T) {
	d := NewDebouncer()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	d.Update("k", "foo", testThreshold, now)
	res := d.Update("k", "", testThreshold, now.Add(time.Second))
	if res.Ready {
		t.Fatal("must not be ready before threshold")
	}
	res = d.Update("k", "", testThreshold, now.Add(3*time.Second))
	if !res.Ready || !res.WasReady || res.Text != "foo" {
		t.Fatalf("expected ready with foo, got %+v", res)
	}
}

func TestDebouncer_NewSpeechAfterPauseResetsReady(t *testing.T) {
	d := NewDebouncer()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	d.Update("k", "foo", testThreshold, now)
	res := d.Update("k", "bar", testThreshold, now.Add(2*time.Second))
	if !res.WasReady {
		t.Fatal("expected the pause to be reported as ready before the append")
	}
	if res.Ready {
		t.Fatal("expected new text to reset ready")
	}
	if res.Text != "foo bar" {
		t.Fatalf("expected %q, got %q", "foo bar", res.Text)
	}
}

func TestDebouncer_EmptyTextNeverReady(t *testing.T) {
	d := NewDebouncer()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	d.Update("k", "", testThreshold, now)
	res := d.Update("k", "   ", testThreshold, now.Add(10*time.Second))
	if res.Ready || res.Text != "" {
		t.Fatalf("empty buffer must never be ready, got %+v", res)
	}
}

func TestDebouncer_PeekClear(t *testing.T) {
	d := NewDebouncer()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Update("k", "foo", testThreshold, now)
	d.Update("k", "", testThreshold, now.Add(2*time.Second))

	view := d.Peek("k", false)
	if view.Text != "foo" || !view.Ready {
		t.Fatalf("unexpected peek view: %+v", view)
	}
	view = d.Peek("k", true)
	if view.Text != "foo" || !view.Ready {
		t.Fatalf("clearing peek must return prior state, got %+v", view)
	}
	if view := d.Peek("k", false); view.Text != "" || view.Ready {
		t.Fatalf("expected cleared buffer, got %+v", view)
	}
	res := d.Update("k", "next", testThreshold, now.Add(time.Hour))
	if res.Elapsed != 0 || res.Ready {
		t.Fatalf("cleared key must start over, got %+v", res)
	}
}

func TestDebouncer_ClockGoingBackwardsKeepsLastUpdate(t *testing.T) {
	d := NewDebouncer()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Update("k", "foo", testThreshold, now)
	res := d.Update("k", "", testThreshold, now.Add(-time.Minute))
	if res.Elapsed != 0 || res.Ready {
		t.Fatalf("unexpected result after clock skew: %+v", res)
	}
	res = d.Update("k", "", testThreshold, now.Add(2*time.Second))
	if !res.Ready {
		t.Fatal("expected ready measured from the first update")
	}
}

func TestDebouncer_Sweep(t *testing.T) {
	d := NewDebouncer()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Update("old", "a", testThreshold, now)
	d.Update("new", "b", testThreshold, now.Add(9*time.Minute))

	keys := d.Sweep(now.Add(11*time.Minute), 10*time.Minute)
	if len(keys) != 1 || keys[0] != "old" {
		t.Fatalf("expected only old swept, got %v", keys)
	}
	if d.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", d.Len())
	}
}

func TestDebouncer_ReplaceSupersedesText(t *testing.T) {
	d := NewDebouncer()
	now := time.Now()

	d.Replace("k", "hello", testThreshold, now)
	res := d.Replace("k", "hello world", testThreshold, now.Add(100*time.Millisecond))
	if res.Text != "hello world" {
		t.Fatalf("expected replaced text, got %q", res.Text)
	}

	res = d.Replace("k", "hello world", testThreshold, now.Add(2*time.Second))
	if !res.Ready || res.Text != "hello world" {
		t.Fatalf("expected unchanged text to count as silence, got %+v", res)
	}
	res = d.Replace("k", "", testThreshold, now.Add(3*time.Second))
	if !res.Ready {
		t.Fatal("expected ready to stick until new speech")
	}
}
