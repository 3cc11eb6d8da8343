// Package web serves the assistant's browser page and hosts the routes other
// components mount, such as the realtime WebSocket endpoint.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/bt-bridge/voicerag/shared"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	DefaultAddr            = "localhost:8765"
	DefaultStaticDir       = "static"
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

type Options struct {
	Addr string
	// StaticDir is served for every path no route claims.
	StaticDir string
	// IndexFile is served at "/". Defaults to index.html inside StaticDir.
	IndexFile       string
	ServiceName     string
	MetricsEnabled  bool
	ShutdownTimeout time.Duration
}

type Server struct {
	logger shared.LoggerAdapter
	opts   Options
	engine *gin.Engine

	mu         sync.Mutex
	running    bool
	onShutdown []func()
}

func New(logger shared.LoggerAdapter, opts Options) (*Server, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.StaticDir == "" {
		opts.StaticDir = DefaultStaticDir
	}
	if opts.IndexFile == "" {
		opts.IndexFile = filepath.Join(opts.StaticDir, "index.html")
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "voicerag"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		logger: logger.With(zap.String("component", "web")),
		opts:   opts,
	}
	s.engine = s.newEngine()
	return s, nil
}

func (s *Server) newEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	engine.Use(Tracing(s.opts.ServiceName))
	engine.Use(AccessLog(s.logger))

	engine.GET("/", func(c *gin.Context) {
		c.File(s.opts.IndexFile)
	})
	if s.opts.MetricsEnabled {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	static := http.FileServer(gin.Dir(s.opts.StaticDir, false))
	engine.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusNotFound)
			return
		}
		static.ServeHTTP(c.Writer, c.Request)
	})
	return engine
}

// Engine is the router components mount their routes on.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) Addr() string {
	return s.opts.Addr
}

// OnShutdown registers f to run when Serve starts shutting down, before it
// waits for in-flight requests. http.Server does not track hijacked
// connections, so components holding WebSockets close them here.
func (s *Server) OnShutdown(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onShutdown = append(s.onShutdown, f)
}

// Listen binds the configured address. It fails when the port is taken.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", s.opts.Addr, err)
	}
	return ln, nil
}

// Serve handles connections on ln until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		_ = ln.Close()
		return shared.ErrServerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
	}

	s.mu.Lock()
	hooks := slices.Clone(s.onShutdown)
	s.mu.Unlock()
	for _, f := range hooks {
		f()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return <-errCh
}

// Run binds and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
