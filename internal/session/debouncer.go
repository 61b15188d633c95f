package session

import (
	"strings"
	"sync"
	"time"
)

// DebounceResult is the outcome of one Debouncer.Update call.
type DebounceResult struct {
	Text string
	// Ready is the flag after the update was applied.
	Ready bool
	// WasReady is the flag computed from the silence check before any new
	// text was appended. New speech after a long pause yields WasReady=true
	// and Ready=false.
	WasReady bool
	Elapsed  time.Duration
}

type BufferView struct {
	Text  string
	Ready bool
}

type debounceEntry struct {
	text       string
	ready      bool
	lastUpdate time.Time
}

// Debouncer accumulates text per key and reports readiness lazily: a key
// becomes ready on the first update after more than the silence threshold
// has passed with non-empty text. There is no timer; callers must poll.
type Debouncer struct {
	mu      sync.Mutex
	entries map[string]*debounceEntry
}

func NewDebouncer() *Debouncer {
	return &Debouncer{entries: make(map[string]*debounceEntry)}
}

func (d *Debouncer) Update(key, newText string, threshold time.Duration, now time.Time) DebounceResult {
	return d.apply(key, newText, threshold, now, appendText)
}

// Replace works like Update for sources whose every text already covers
// all earlier speech, so the new text supersedes the buffered one. Text
// equal to what is buffered counts as no new speech.
func (d *Debouncer) Replace(key, newText string, threshold time.Duration, now time.Time) DebounceResult {
	return d.apply(key, newText, threshold, now, replaceText)
}

// mergeFunc combines buffered and incoming text. changed reports whether
// the incoming text was new speech.
type mergeFunc func(buffered, incoming string) (merged string, changed bool)

func appendText(buffered, incoming string) (string, bool) {
	if incoming == "" {
		return buffered, false
	}
	if strings.TrimSpace(buffered) == "" {
		return incoming, true
	}
	return buffered + " " + incoming, true
}

func replaceText(buffered, incoming string) (string, bool) {
	if incoming == "" || incoming == strings.TrimSpace(buffered) {
		return buffered, false
	}
	return incoming, true
}

func (d *Debouncer) apply(key, newText string, threshold time.Duration, now time.Time, merge mergeFunc) DebounceResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[key]
	if !ok {
		e = &debounceEntry{}
		d.entries[key] = e
	}

	var elapsed time.Duration
	if !e.lastUpdate.IsZero() && now.After(e.lastUpdate) {
		elapsed = now.Sub(e.lastUpdate)
	}
	if elapsed > threshold && strings.TrimSpace(e.text) != "" {
		e.ready = true
	}
	wasReady := e.ready

	if merged, changed := merge(e.text, strings.TrimSpace(newText)); changed {
		e.text = merged
		e.ready = false
	}

	if now.After(e.lastUpdate) {
		e.lastUpdate = now
	}

	return DebounceResult{
		Text:     e.text,
		Ready:    e.ready,
		WasReady: wasReady,
		Elapsed:  elapsed,
	}
}

// Peek returns the buffered text and readiness for key. With clear set the
// entry is reset to empty text, not ready, and a zero last update time.
func (d *Debouncer) Peek(key string, clear bool) BufferView {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[key]
	if !ok {
		return BufferView{}
	}
	view := BufferView{Text: e.text, Ready: e.ready}
	if clear {
		delete(d.entries, key)
	}
	return view
}

func (d *Debouncer) Forget(key string) {
	d.mu.Lock()
	delete(d.entries, key)
	d.mu.Unlock()
}

// Sweep drops entries not updated for longer than idle and returns their keys.
func (d *Debouncer) Sweep(now time.Time, idle time.Duration) []string {
	if idle <= 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var keys []string
	for key, e := range d.entries {
		if now.Sub(e.lastUpdate) > idle {
			delete(d.entries, key)
			keys = append(keys, key)
		}
	}
	return keys
}

func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
