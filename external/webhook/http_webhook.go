package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/foxseedlab/streamscribe/internal/webhook"
)

const (
	defaultSendTimeout = 10 * time.Second
	eventHeader        = "X-Streamscribe-Event"
	utteranceEvent     = "utterance.ready"
	maxErrorBodyBytes  = 512
)

// HTTPSender posts ready utterances as JSON. A blank URL turns every send
// into a no-op.
type HTTPSender struct {
	url    string
	client *http.Client
}

func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: defaultSendTimeout},
	}
}

func (s *HTTPSender) SendUtterance(ctx context.Context, payload webhook.UtterancePayload) error {
	if s.url == "" {
		return nil
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		return fmt.Errorf("failed to encode utterance: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &body)
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventHeader, utteranceEvent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver utterance for %s: %w", payload.Key, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
