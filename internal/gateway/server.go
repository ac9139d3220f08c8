package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/agentos/internal/bus"
	"github.com/haasonsaas/agentos/internal/infra"
	"github.com/haasonsaas/agentos/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

// ServerConfig configures the WebSocket server.
type ServerConfig struct {
	Addr string
	Auth AuthConfig

	// CheckOrigin overrides the upgrade origin check; nil allows all
	// origins, matching a gateway fronted by its own proxy.
	CheckOrigin func(r *http.Request) bool
}

// Server exposes the gateway over WebSocket plus health and metrics
// endpoints.
type Server struct {
	cfg      ServerConfig
	gateway  *Gateway
	auth     *Authenticator
	metrics  *Metrics
	registry *prometheus.Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger

	httpServer *http.Server

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id       string
	identity *Identity
	conn     *websocket.Conn
	send     chan []byte
	closed   chan struct{}
	once     sync.Once
}

// NewServer wires the WebSocket surface onto a gateway core.
func NewServer(cfg ServerConfig, gw *Gateway, metrics *Metrics, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		cfg:      cfg,
		gateway:  gw,
		auth:     NewAuthenticator(cfg.Auth),
		metrics:  metrics,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger:   logger.With("component", "ws_server"),
		sessions: make(map[string]*session),
	}
}

// Handler returns the HTTP mux serving /ws, /healthz, and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe blocks serving HTTP until the context is canceled, then
// shuts down, closing every session with a going-away frame.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.closeAllSessions()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.Authenticate(r)
	if err != nil {
		s.logger.Warn("handshake rejected", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	sess := &session{
		id:       models.NewID(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		closed:   make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectedSessions.Inc()
	}
	s.logger.Info("session connected",
		"session_id", sess.id, "user_id", identity.UserID, "anonymous", identity.Anonymous)

	s.gateway.Responses().Attach(sess.id, func(env *models.Envelope) {
		data, err := json.Marshal(env)
		if err != nil {
			return
		}
		select {
		case sess.send <- data:
			if s.metrics != nil {
				s.metrics.RepliesRouted.Inc()
			}
		case <-sess.closed:
		}
	})

	// The request context dies when this handler returns, so the pumps
	// run on their own context tied to the session lifetime.
	go s.writePump(sess)
	go s.readPump(context.Background(), sess)
}

func (s *Server) readPump(ctx context.Context, sess *session) {
	defer s.dropSession(sess)

	sess.conn.SetReadLimit(maxMessageSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("session read error", "session_id", sess.id, "error", err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(sess, "Invalid message format")
			continue
		}

		s.stampIdentity(&env, sess)
		s.gateway.Responses().Track(env.Correlation(), sess.id)

		if err := s.gateway.InjectMessage(ctx, &env); err != nil {
			s.gateway.Responses().Untrack(env.Correlation())
			s.sendError(sess, injectErrorCode(err))
		}
	}
}

// stampIdentity overwrites client-supplied identity metadata with the
// authenticated principal so lanes and policies cannot be spoofed.
func (s *Server) stampIdentity(env *models.Envelope, sess *session) {
	if env.Metadata == nil {
		env.Metadata = make(map[string]string)
	}
	env.Metadata["user_id"] = sess.identity.UserID
	if env.Metadata["channel_id"] == "" {
		env.Metadata["channel_id"] = "web"
	}
	if env.Source == "" {
		env.Source = "gateway://" + sess.id
	}
}

func (s *Server) writePump(sess *session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.closed:
			return
		}
	}
}

func (s *Server) sendError(sess *session, message string) {
	data, _ := json.Marshal(map[string]string{"error": message})
	select {
	case sess.send <- data:
	case <-sess.closed:
	}
}

func injectErrorCode(err error) string {
	switch {
	case errors.Is(err, bus.ErrInvalidTarget):
		return "InvalidTarget"
	case errors.Is(err, infra.ErrBackpressure):
		return "Backpressure"
	case errors.Is(err, infra.ErrCircuitOpen):
		return "CircuitOpen"
	case errors.Is(err, ErrInvalidEnvelope):
		return "Invalid message format"
	default:
		return "InternalError"
	}
}

func (s *Server) dropSession(sess *session) {
	sess.once.Do(func() { close(sess.closed) })
	sess.conn.Close()

	s.mu.Lock()
	if _, ok := s.sessions[sess.id]; ok {
		delete(s.sessions, sess.id)
		if s.metrics != nil {
			s.metrics.ConnectedSessions.Dec()
		}
	}
	s.mu.Unlock()

	s.gateway.Responses().CloseSession(sess.id)
	s.logger.Info("session closed", "session_id", sess.id)
}

func (s *Server) closeAllSessions() {
	s.mu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	for _, sess := range open {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		sess.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		s.dropSession(sess)
	}
}
