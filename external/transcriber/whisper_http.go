package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/foxseedlab/streamscribe/internal/transcriber"
)

const maxErrorBodyBytes = 512

type WhisperHTTPConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// WhisperHTTPRecognizer posts audio to a whisper inference server
// (whisper.cpp server or an OpenAI-compatible transcription endpoint).
type WhisperHTTPRecognizer struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

func NewWhisperHTTPRecognizer(cfg WhisperHTTPConfig) *WhisperHTTPRecognizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WhisperHTTPRecognizer{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		model:    cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (r *WhisperHTTPRecognizer) Transcribe(ctx context.Context, audio []byte, language string) (transcriber.Result, error) {
	body, contentType, err := r.multipartBody(audio, language)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("create multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, body)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("send recognition request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return transcriber.Result{}, fmt.Errorf("recognition endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return transcriber.Result{}, fmt.Errorf("decode recognition response: %w", err)
	}
	return out.toResult(), nil
}

func (r *WhisperHTTPRecognizer) multipartBody(audio []byte, language string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"temperature":     "0",
	}
	if r.model != "" {
		fields["model"] = r.model
	}
	if language != "" {
		fields["language"] = language
	}
	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", key, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (w whisperResponse) toResult() transcriber.Result {
	res := transcriber.Result{Language: w.Language}
	for _, seg := range w.Segments {
		res.Segments = append(res.Segments, transcriber.Segment{
			Text:  strings.TrimSpace(seg.Text),
			Start: secondsToDuration(seg.Start),
			End:   secondsToDuration(seg.End),
		})
	}
	if len(res.Segments) == 0 && strings.TrimSpace(w.Text) != "" {
		res.Segments = []transcriber.Segment{{Text: strings.TrimSpace(w.Text)}}
	}
	return res
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
