package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/tendyrelay/internal/observability"
	"github.com/danmuck/tendyrelay/internal/protocol/session"
	"github.com/danmuck/tendyrelay/internal/protocol/wire"
	"github.com/danmuck/tendyrelay/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultPort = 8765

// ServiceConfig is the relay endpoint configuration.
type ServiceConfig struct {
	ListenAddr     string
	Encoding       string
	SpoolDir       string
	AllowedOrigins []string
	Relay          relay.Config
	Session        session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr: fmt.Sprintf("0.0.0.0:%d", DefaultPort),
		Encoding:   wire.CodecJSON,
		Relay:      relay.DefaultConfig(),
		Session:    session.DefaultConfig(),
	}
}

// Service owns the HTTP engine, the websocket upgrader and the open connections.
type Service struct {
	cfg      ServiceConfig
	codec    wire.Codec
	engine   *gin.Engine
	upgrader websocket.Upgrader
	observer relay.Observer
	log      zerolog.Logger
	started  time.Time

	connsMu sync.Mutex
	conns   map[*websocket.Conn]struct{}
	active  atomic.Int64
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultServiceConfig().ListenAddr
	}
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.Relay.DeliveryTimeout == 0 {
		cfg.Relay.DeliveryTimeout = cfg.Session.DeliveryTimeout
	}
	if err := cfg.Relay.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Session.ValidateServerTransport(); err != nil {
		return nil, err
	}
	if err := ValidateOrigins(cfg.AllowedOrigins); err != nil {
		return nil, err
	}
	codec, err := wire.Lookup(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		codec:    codec,
		observer: observability.NewRelayObserver(),
		log:      log.Logger.With().Str("component", "server").Logger(),
		started:  time.Now(),
		conns:    make(map[*websocket.Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
		ReadBufferSize:   32 * 1024,
		WriteBufferSize:  32 * 1024,
		CheckOrigin:      originChecker(cfg.AllowedOrigins),
	}
	s.engine = s.newEngine()
	return s, nil
}

func (s *Service) Config() ServiceConfig { return s.cfg }

// Handler exposes the gin engine, mainly for httptest.
func (s *Service) Handler() http.Handler { return s.engine }

// ActiveConnections is the number of open websocket sessions.
func (s *Service) ActiveConnections() int64 { return s.active.Load() }

// Run listens on the configured address and blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("encoding", s.codec.Name()).
		Bool("tls", s.cfg.Session.TLS.Enabled).
		Msg("server.Service.Run listening")
	return s.Serve(ctx, ln)
}

func (s *Service) listen() (net.Listener, error) {
	tlsCfg, err := s.cfg.Session.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return net.Listen("tcp", s.cfg.ListenAddr)
	}
	return tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
}

// Serve handles HTTP on ln until ctx ends, then closes every websocket and
// shuts the HTTP server down.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.Session.HandshakeTimeout,
	}
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Session.WriteTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || (ctx.Err() != nil && errors.Is(err, net.ErrClosed)) {
		return nil
	}
	return err
}

func (s *Service) trackConn(conn *websocket.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Service) untrackConn(conn *websocket.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connsMu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, conn := range conns {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
	}
}

// originChecker allows every origin when the list is empty or contains "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}
