package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/foxseedlab/streamscribe/internal/repository"
	"github.com/foxseedlab/streamscribe/internal/session"
	"github.com/gorilla/websocket"
)

const maxFrameBytes = 32 << 20

type wsFrame struct {
	Audio     string `json:"audio"`
	Language  string `json:"language"`
	GetResult bool   `json:"get_result"`
}

type wsReply struct {
	Text     string `json:"text"`
	StreamID string `json:"stream_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleWebSocket owns one stream for the lifetime of the connection. Text
// frames carry JSON commands; binary frames carry raw audio.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := orDefault(r.URL.Query().Get("stream_id"), defaultWSStreamID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "stream_id", id)
		return
	}
	conn.SetReadLimit(maxFrameBytes)
	s.trackConn(conn, true)
	s.metrics.WSConnections.Inc()

	s.service.StartStream(id)
	slog.Info("websocket stream connected", "stream_id", id, "remote_addr", r.RemoteAddr)

	defer func() {
		s.service.EndStream(id, repository.EndReasonClosed)
		s.metrics.WSConnections.Dec()
		s.trackConn(conn, false)
		_ = conn.Close()
		slog.Info("websocket stream disconnected", "stream_id", id)
	}()

	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.Warn("websocket read failed", "error", err, "stream_id", id)
			}
			return
		}

		var reply wsReply
		switch msgType {
		case websocket.TextMessage:
			reply = s.handleFrame(ctx, id, data)
		case websocket.BinaryMessage:
			reply = s.feedFrame(id, func() (session.FeedResult, error) {
				return s.service.FeedRaw(ctx, id, data, "")
			})
		default:
			continue
		}
		if err := conn.WriteJSON(reply); err != nil {
			slog.Warn("websocket write failed", "error", err, "stream_id", id)
			return
		}
	}
}

// handleFrame checks that data is a JSON object before looking at any of
// its fields.
func (s *Server) handleFrame(ctx context.Context, id string, data []byte) wsReply {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return wsReply{Error: "frame must be a JSON object"}
	}
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return wsReply{Error: "invalid frame: " + err.Error()}
	}

	switch {
	case frame.Audio != "":
		return s.feedFrame(id, func() (session.FeedResult, error) {
			return s.service.FeedAudio(ctx, id, frame.Audio, frame.Language)
		})
	case frame.GetResult:
		snap := s.service.Result(id)
		return wsReply{Text: snap.Text, StreamID: id}
	default:
		return wsReply{Error: "frame must contain audio or get_result"}
	}
}

// feedFrame runs feed and restarts the connection's stream once if the idle
// sweep reaped it while the socket stayed open.
func (s *Server) feedFrame(id string, feed func() (session.FeedResult, error)) wsReply {
	res, err := feed()
	if session.IsKind(err, session.KindNotFound) {
		slog.Info("websocket stream expired; restarting", "stream_id", id)
		s.service.StartStream(id)
		res, err = feed()
	}
	if err != nil {
		if session.KindOf(err) == session.KindInternal {
			slog.Error("websocket feed failed", "error", err, "stream_id", id)
		}
		return wsReply{Text: res.Text, StreamID: id, Error: publicError(err)}
	}
	return wsReply{Text: res.Text, StreamID: id}
}
