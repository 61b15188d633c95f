package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/foxseedlab/streamscribe/internal/repository"
	"github.com/foxseedlab/streamscribe/internal/session"
)

const maxRequestBytes = 32 << 20

var errInvalidJSON = errors.New("invalid JSON")

type transcribeRequest struct {
	Path     string `json:"path"`
	GuildID  string `json:"guild_id"`
	Language string `json:"language"`
}

type streamRequest struct {
	StreamID string `json:"stream_id"`
	Audio    string `json:"audio"`
	Language string `json:"language"`
}

type bufferRequest struct {
	GuildID          string `json:"guild_id"`
	Text             string `json:"text"`
	SilenceThreshold *int64 `json:"silence_threshold"`
}

type textResponse struct {
	Text     string `json:"text"`
	StreamID string `json:"stream_id,omitempty"`
	Language string `json:"language,omitempty"`
	Ready    *bool  `json:"ready,omitempty"`
	Error    string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// decodeBody decodes a JSON object body. An empty body decodes as {} so
// every field falls back to its default.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errInvalidJSON
	}
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// statusFor maps an error kind to its HTTP status. Recognition failures
// are reported in the body next to the last good text.
func statusFor(err error) int {
	switch session.KindOf(err) {
	case session.KindValidation:
		return http.StatusBadRequest
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindRecognition:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// publicError hides internal failures behind a generic message.
func publicError(err error) string {
	if session.KindOf(err) == session.KindInternal {
		return "internal error"
	}
	var se *session.Error
	if errors.As(err, &se) && se.Err != nil {
		return se.Err.Error()
	}
	return err.Error()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, healthText)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	res, err := s.service.TranscribeFile(r.Context(), req.Path, req.GuildID, req.Language)
	if err != nil {
		msg := publicError(err)
		switch session.KindOf(err) {
		case session.KindNotFound:
			msg = "File not found"
		case session.KindInternal:
			slog.Error("transcribe request failed", "error", err, "path", req.Path)
		}
		writeJSON(w, statusFor(err), textResponse{Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Text: res.Text, Language: res.Language})
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	snap := s.service.StartStream(orDefault(req.StreamID, defaultStreamID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "stream_id": snap.ID})
}

func (s *Server) handleStreamAudio(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	id := orDefault(req.StreamID, defaultStreamID)

	res, err := s.service.FeedAudio(r.Context(), id, req.Audio, req.Language)
	if err != nil {
		if session.IsKind(err, session.KindNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "Stream not started"})
			return
		}
		writeJSON(w, statusFor(err), textResponse{Text: res.Text, StreamID: id, Error: publicError(err)})
		return
	}
	ready := res.Ready
	writeJSON(w, http.StatusOK, textResponse{Text: res.Text, StreamID: id, Language: res.Language, Ready: &ready})
}

func (s *Server) handleStreamResult(w http.ResponseWriter, r *http.Request) {
	snap := s.service.Result(orDefault(r.URL.Query().Get("stream_id"), defaultStreamID))
	ready := snap.Ready
	writeJSON(w, http.StatusOK, textResponse{Text: snap.Text, StreamID: snap.ID, Ready: &ready})
}

func (s *Server) handleStreamEnd(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	final := s.service.EndStream(orDefault(req.StreamID, defaultStreamID), repository.EndReasonEnded)
	writeJSON(w, http.StatusOK, textResponse{Text: final})
}

func (s *Server) handleBufferWrite(w http.ResponseWriter, r *http.Request) {
	var req bufferRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var threshold time.Duration
	if req.SilenceThreshold != nil {
		if *req.SilenceThreshold < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "silence_threshold cannot be negative"})
			return
		}
		threshold = time.Duration(*req.SilenceThreshold) * time.Millisecond
	}

	res, err := s.service.BufferText(orDefault(req.GuildID, defaultBufferKey), req.Text, threshold)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: publicError(err)})
		return
	}
	// ready reports the silence check made before the new text was
	// appended, so a pause followed by new speech still signals the
	// completed utterance.
	writeJSON(w, http.StatusOK, map[string]any{
		"buffer":     res.Text,
		"ready":      res.WasReady,
		"silence_ms": res.SilenceMs,
	})
}

func (s *Server) handleBufferRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clearBuffer := false
	if raw := q.Get("clear"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "clear must be a boolean"})
			return
		}
		clearBuffer = v
	}
	view, err := s.service.ReadBuffer(orDefault(q.Get("guild_id"), defaultBufferKey), clearBuffer)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: publicError(err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"buffer":     view.Text,
		"sent_to_ai": view.Ready,
	})
}

func (s *Server) handleStreams(w http.ResponseWriter, _ *http.Request) {
	streams := s.service.Streams()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(streams),
		"streams": streams,
	})
}

type transcriptResponse struct {
	Key       string    `json:"key"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Language  string    `json:"language,omitempty"`
	Reason    string    `json:"reason"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = v
	}
	key := q.Get("key")
	list, err := s.service.Transcripts(r.Context(), key, limit)
	if err != nil {
		if session.KindOf(err) == session.KindInternal {
			slog.Error("failed to list transcripts", "error", err, "key", key)
		}
		writeJSON(w, statusFor(err), errorResponse{Error: publicError(err)})
		return
	}

	if q.Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(session.BuildTranscriptText(key, list, time.UTC))
		return
	}
	out := make([]transcriptResponse, 0, len(list))
	for _, tr := range list {
		out = append(out, transcriptResponse{
			Key:       tr.Key,
			Source:    string(tr.Source),
			Text:      tr.Text,
			Language:  tr.Language,
			Reason:    string(tr.Reason),
			StartedAt: tr.StartedAt,
			EndedAt:   tr.EndedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "transcripts": out})
}
