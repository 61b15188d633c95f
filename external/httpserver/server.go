package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/foxseedlab/streamscribe/internal/metrics"
	"github.com/foxseedlab/streamscribe/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultStreamID   = "default"
	defaultWSStreamID = "ws_default"
	defaultBufferKey  = "default"
	healthText        = "Whisper streaming service (real-time)"
)

// Server binds the session service to HTTP and the websocket push
// transport.
type Server struct {
	service  *session.Service
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
	server   *http.Server

	connsMu sync.Mutex
	conns   map[*websocket.Conn]struct{}
}

func NewServer(addr string, service *session.Service, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		service:  service,
		metrics:  m,
		gatherer: gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.withMetrics)

	r.Get("/", s.handleHealth)
	r.Post("/transcribe", s.handleTranscribe)
	r.Route("/stream", func(r chi.Router) {
		r.Post("/start", s.handleStreamStart)
		r.Post("/audio", s.handleStreamAudio)
		r.Get("/result", s.handleStreamResult)
		r.Post("/end", s.handleStreamEnd)
	})
	r.Post("/buffer", s.handleBufferWrite)
	r.Get("/buffer", s.handleBufferRead)
	r.Get("/streams", s.handleStreams)
	r.Get("/transcripts", s.handleTranscripts)
	r.Get("/ws", s.handleWebSocket)
	r.Post("/ws", s.handleWebSocket)

	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// withMetrics records request counts and latency per route pattern.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), time.Since(started).Seconds())
	})
}

// Start serves until Stop is called. It returns nil after a graceful stop.
func (s *Server) Start() error {
	slog.Info("http server listening", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains HTTP requests and closes open websocket connections.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)

	s.connsMu.Lock()
	for conn := range s.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	s.connsMu.Unlock()

	slog.Info("http server stopped")
	return err
}

func (s *Server) trackConn(conn *websocket.Conn, add bool) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}
