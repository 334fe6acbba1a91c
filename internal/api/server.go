// Package api serves the meshbridge HTTP surface: health, metrics, channel
// keys, the outbound queue, inbound radio frames, trial decode and admin
// requests.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/meshbridge/internal/auth"
	"github.com/danmuck/meshbridge/internal/bridge"
	"github.com/danmuck/meshbridge/internal/channels"
	"github.com/danmuck/meshbridge/internal/decrypt"
	"github.com/danmuck/meshbridge/internal/node"
	"github.com/danmuck/meshbridge/internal/observability"
	"github.com/danmuck/meshbridge/internal/outbound"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var ErrNotReady = errors.New("api: channel keys not loaded")

// ChannelView is the channel cache surface the API reads and refreshes.
type ChannelView interface {
	Snapshot(ctx context.Context) []channels.ChannelKey
	Refresh(ctx context.Context) error
	LoadedAt() time.Time
}

// MessageQueue is the outbound queue surface the API drives.
type MessageQueue interface {
	Enqueue(text string, dest outbound.Destination, opts ...outbound.Option) (string, error)
	Stats() outbound.Stats
	Clear() int
}

type Decryptor interface {
	TryDecrypt(ctx context.Context, ciphertext []byte, packetID, fromNode uint32, hint *uint8) decrypt.Result
	TryDecryptWithChannel(ctx context.Context, ciphertext []byte, packetID, fromNode uint32, channelID string) decrypt.Result
}

// FrameSink consumes FromRadio frames read off the gateway radio.
type FrameSink interface {
	HandleFromRadio(ctx context.Context, raw []byte) error
}

type AdminSender interface {
	SendAdmin(ctx context.Context, req bridge.AdminRequest) (uint32, error)
}

type Config struct {
	ID          string
	Addr        string
	CORSOrigins []string
	// Token enables bearer auth on every route but /health, /ready and
	// /metrics when non-empty. A comma separated list accepts any entry.
	Token           string
	ShutdownTimeout time.Duration
}

// Deps are the engine components behind the routes. Nil members disable
// the routes that need them.
type Deps struct {
	Channels  ChannelView
	Queue     MessageQueue
	Decryptor Decryptor
	Admin     AdminSender
	Frames    FrameSink
}

type Server struct {
	cfg      Config
	deps     Deps
	router   *gin.Engine
	appeared time.Time
}

var _ node.Node = (*Server)(nil)

func New(cfg Config, deps Deps) *Server {
	observability.RegisterMetrics()
	if cfg.ID == "" {
		cfg.ID = "meshbridge"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(cfg.ID))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		router:   r,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) NodeID() string {
	return s.cfg.ID
}

func (s *Server) Kind() string {
	return "meshbridge"
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) Ready(context.Context) error {
	if s.deps.Channels != nil && s.deps.Channels.LoadedAt().IsZero() {
		return ErrNotReady
	}
	return nil
}

// Serve listens on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Str("node", s.cfg.ID).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info().Str("node", s.cfg.ID).Msg("api stopped")
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

func (s *Server) protected() gin.IRoutes {
	tokens := auth.ParseTokens(s.cfg.Token)
	if len(tokens) == 0 {
		return s.router
	}
	return s.router.Group("/", auth.Middleware(tokens))
}
