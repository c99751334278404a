package chat

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"famly/middleware"
	midsec "famly/middleware/security"
	"famly/tools/errs"
)

type ServerOptions struct {
	Addr           string
	MaxConnections int
	ReadLimit      int64 // bytes per inbound frame; zero derives it from the body limit
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	AllowedOrigins []string
	UpgradeRate    float64
	UpgradeBurst   int

	Auth midsec.Options
	// Ready backs /readyz; nil reports ready.
	Ready func(ctx context.Context) error
	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
}

// MinReadLimit is the smallest frame read limit that still lets a maximal
// message:send through: every rune of the body may arrive as a \uXXXX
// surrogate pair (12 bytes), plus room for the rest of the frame. Frames over
// the limit close the socket, so lower limits would turn a legal send into a
// dropped connection.
func MinReadLimit(maxBodyChars int) int64 {
	if maxBodyChars <= 0 {
		maxBodyChars = DefaultMaxBodyChars
	}
	return 12*int64(maxBodyChars) + 4<<10
}

func (o *ServerOptions) setDefaults(maxBodyChars int) {
	if o.Addr == "" {
		o.Addr = ":8080"
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = MinReadLimit(maxBodyChars)
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
}

// Server is the HTTP/WebSocket front of a Hub.
type Server struct {
	hub      *Hub
	opts     ServerOptions
	log      *zap.Logger
	engine   *gin.Engine
	mids     *middleware.Manager
	upgrader websocket.Upgrader
	http     *http.Server

	baseCtx context.Context
	cancel  context.CancelFunc
	conns   sync.WaitGroup
}

func NewServer(hub *Hub, opts ServerOptions, log *zap.Logger) *Server {
	opts.setDefaults(hub.Pipeline().MaxBody())
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		hub:      hub,
		opts:     opts,
		log:      log,
		upgrader: newUpgrader(opts.AllowedOrigins),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	s.mids = middleware.NewManager(
		middleware.RateLimitPerIP(middleware.NewIPLimiter(opts.UpgradeRate, opts.UpgradeBurst)),
		middleware.Origin(opts.AllowedOrigins),
		midsec.Middleware(opts.Auth),
	)
	s.engine = s.routes()
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "connections": s.hub.Registry().Count()})
	})
	r.GET("/readyz", s.handleReady)
	if s.opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/ws", s.mids.Use(), s.HandleWS)
	return r
}

func (s *Server) handleReady(c *gin.Context) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.log.Warn("not ready", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": errs.KindInternal, "message": "dependencies unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ReadLimit is the effective inbound frame limit.
func (s *Server) ReadLimit() int64 { return s.opts.ReadLimit }

// Engine exposes the router, mostly for httptest.
func (s *Server) Engine() http.Handler { return s.engine }

// Middlewares is the /ws middleware chain.
func (s *Server) Middlewares() *middleware.Manager { return s.mids }

// Serve accepts on ln, capped at MaxConnections concurrent sockets.
func (s *Server) Serve(ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}
	s.log.Info("listening", zap.String("addr", ln.Addr().String()), zap.Int("maxConnections", s.opts.MaxConnections))
	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errs.WrapMsg(err, "serve", "addr", s.opts.Addr)
	}
	return nil
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return errs.WrapMsg(err, "listen", "addr", s.opts.Addr)
	}
	return s.Serve(ln)
}

// Shutdown stops accepting, closes every live socket and waits for their
// pumps to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.cancel()
	for _, c := range s.hub.Registry().All() {
		s.hub.Disconnect(c)
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	if err != nil {
		return errs.WrapMsg(err, "shutdown")
	}
	return nil
}
