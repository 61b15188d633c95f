package session

import (
	"encoding/base64"
	"errors"
	"strings"
)

var errMalformedAudio = errors.New("audio is not valid base64")

// Accumulator combines a newly arrived fragment with the audio a session
// has retained and produces the payload for the recognizer.
type Accumulator interface {
	Accumulate(buffered [][]byte, fragment []byte) (payload []byte, retained [][]byte)
	// Cumulative reports whether each payload covers all retained audio, so
	// its recognized text replaces the previous text instead of extending it.
	Cumulative() bool
}

// IndependentChunks treats every fragment as a complete, self-contained
// recording. Nothing is retained between fragments.
type IndependentChunks struct{}

func (IndependentChunks) Accumulate(_ [][]byte, fragment []byte) ([]byte, [][]byte) {
	return fragment, nil
}

func (IndependentChunks) Cumulative() bool { return false }

// ConcatenateChunks re-recognizes everything received so far. It only makes
// sense for headerless PCM, where byte concatenation equals sample
// concatenation. The oldest chunks are dropped once MaxBytes is exceeded.
type ConcatenateChunks struct {
	MaxBytes int
}

func (c ConcatenateChunks) Accumulate(buffered [][]byte, fragment []byte) ([]byte, [][]byte) {
	retained := append(append(make([][]byte, 0, len(buffered)+1), buffered...), fragment)
	total := 0
	for _, chunk := range retained {
		total += len(chunk)
	}
	for c.MaxBytes > 0 && total > c.MaxBytes && len(retained) > 1 {
		total -= len(retained[0])
		retained = retained[1:]
	}
	payload := make([]byte, 0, total)
	for _, chunk := range retained {
		payload = append(payload, chunk...)
	}
	return payload, retained
}

func (ConcatenateChunks) Cumulative() bool { return true }

// DecodeFragment decodes a base64 fragment, padded or not. Whitespace such
// as line breaks inserted by some encoders is ignored.
func DecodeFragment(encoded string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, encoded)
	if cleaned == "" {
		return nil, nil
	}
	if b, err := base64.StdEncoding.DecodeString(cleaned); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
	if err != nil {
		return nil, errMalformedAudio
	}
	return b, nil
}
