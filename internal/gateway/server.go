// Package gateway serves the promotion tools and the conversational agent
// over HTTP and WebSocket.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"promoagent/internal/brain"
	"promoagent/internal/domain"
	"promoagent/internal/queue"
	"promoagent/internal/tooling"
)

// ErrInvalidPort is returned when gateway port is not in 0..65535.
var ErrInvalidPort = errors.New("gateway port must be 0-65535")

// ChatBrain runs one conversational turn. *brain.Brain implements it.
type ChatBrain interface {
	Turn(ctx context.Context, sessionID, utterance string) (brain.Reply, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLanes serializes chat turns per session through q. Without it the
// server creates its own queue.
func WithLanes(q *queue.LaneQueue) Option {
	return func(s *Server) {
		if q != nil {
			s.lanes = q
		}
	}
}

// WithSecrets lists values that must never appear in logged errors.
func WithSecrets(values ...string) Option {
	return func(s *Server) { s.secrets = append(s.secrets, values...) }
}

// Server exposes the tool endpoints, /chat and /ws behind optional Bearer
// token auth.
type Server struct {
	cfg         *domain.GatewayConfig
	tools       *tooling.ToolRegistry
	chat        ChatBrain
	lanes       *queue.LaneQueue
	logger      *slog.Logger
	secrets     []string
	server      *http.Server
	addr        string
	addrMu      sync.RWMutex
	listenErr   error
	listenErrMu sync.Mutex
}

// NewServer builds a gateway server from config. Port 0 means pick a random
// port. tools backs POST /tools/{name} and /api/tools/{name}; chat backs
// /chat and /ws. Either may be nil: tool routes then answer 404 and /chat 503,
// while /ws echoes. Returns ErrInvalidPort if port is not in 0..65535.
func NewServer(cfg *domain.GatewayConfig, tools *tooling.ToolRegistry, chat ChatBrain, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = &domain.GatewayConfig{Port: 8080}
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, ErrInvalidPort
	}
	s := &Server{cfg: cfg, tools: tools, chat: chat, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.lanes == nil {
		s.lanes = queue.NewLaneQueue(queue.WithIdleTimeout(10 * time.Minute))
	}
	if cfg.AuthToken != "" {
		s.secrets = append(s.secrets, cfg.AuthToken)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /tools/{name}", s.handleTool)
	mux.HandleFunc("POST /api/tools/{name}", s.handleTool)
	mux.HandleFunc("GET /tools", s.handleListTools)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("/ws", s.handleWS)

	s.server = &http.Server{
		Handler:           RequestLog(s.logger)(BearerAuth(cfg.AuthToken)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Addr returns the bound address (e.g. "127.0.0.1:8080") after Run has started. Empty before Run.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// ListenErr returns the error from the initial Listen in Run(), if any.
func (s *Server) ListenErr() error {
	s.listenErrMu.Lock()
	defer s.listenErrMu.Unlock()
	return s.listenErr
}

// Handler returns the HTTP handler used by the server. For testing without binding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// netListen is the function used to listen; tests may replace it to force Listen errors.
var netListen = func(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// serverShutdown is the function used to shut down the server; tests may replace it.
var serverShutdown = func(srv *http.Server, ctx context.Context) error {
	return srv.Shutdown(ctx)
}

// Run listens on the configured port and serves until ctx is done. Returns
// nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	addr := ":" + strconv.Itoa(s.cfg.Port)
	ln, err := netListen("tcp", addr)
	if err != nil {
		s.listenErrMu.Lock()
		s.listenErr = err
		s.listenErrMu.Unlock()
		return err
	}
	s.addrMu.Lock()
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()
	s.logger.Info("gateway listening", "addr", s.Addr(), "auth", s.cfg.AuthToken != "")

	done := make(chan error, 1)
	go func() {
		done <- s.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case err := <-done:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := serverShutdown(s.server, shutdownCtx); err != nil {
		return err
	}
	<-done
	return nil
}
