// Package admin serves a node's local HTTP status and control surface.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/node"
	"github.com/danmuck/glowlink/internal/observability"
)

const DefaultMonitorInterval = 500 * time.Millisecond

// Node is the part of node.Node the admin surface drives.
type Node interface {
	Name() string
	Status() node.Status
	Do(ctx context.Context, name string, a node.Action) error
	Namespace(ctx context.Context, name string) (node.NamespaceView, error)
}

type Options struct {
	CORSOrigins     []string
	MonitorInterval time.Duration
	// ActionTimeout bounds how long a request waits for the loop.
	ActionTimeout time.Duration
}

type Server struct {
	node     Node
	opts     Options
	router   *gin.Engine
	upgrader websocket.Upgrader
	monitors atomic.Int64
}

func New(n Node, opts Options) *Server {
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = DefaultMonitorInterval
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 2 * time.Second
	}
	observability.RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.InitLogger("glowd", n.Name())))
	r.Use(observability.RequestMetricsMiddleware(n.Name()))
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: normalizeOrigins(opts.CORSOrigins),
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		node:   n,
		opts:   opts,
		router: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine { return s.router }

// MonitorCount is the number of connected /monitor clients.
func (s *Server) MonitorCount() int64 { return s.monitors.Load() }

// Serve listens on addr until ctx ends.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logs.Infof("admin.Serve listening addr=%q node=%q", addr, s.node.Name())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logs.Warnf("admin.Serve shutdown err=%v", err)
		}
		return nil
	}
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		if v := strings.TrimSpace(o); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
