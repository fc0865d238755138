package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/glowlink/internal/controller"
	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/mode"
	"github.com/danmuck/glowlink/internal/node"
	"github.com/danmuck/glowlink/internal/registry"
)

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", s.health)
	r.GET("/state", s.state)
	r.GET("/peers", s.peers)
	r.GET("/registry/:namespace", s.namespace)
	r.POST("/registry/:namespace/request", s.act("request-namespace", func(c *gin.Context) node.Action {
		name := c.Param("namespace")
		return func(ctx context.Context, ctrl *controller.Controller) error {
			return ctrl.RequestNamespace(ctx, name)
		}
	}))
	r.POST("/registry/:namespace/push", s.act("push-namespace", func(c *gin.Context) node.Action {
		name := c.Param("namespace")
		return func(ctx context.Context, ctrl *controller.Controller) error {
			return ctrl.PushNamespace(ctx, name)
		}
	}))
	r.POST("/mode/next", s.act("next-mode", func(*gin.Context) node.Action {
		return func(ctx context.Context, ctrl *controller.Controller) error { return ctrl.NextMode(ctx) }
	}))
	r.POST("/mode/:title", s.act("activate", func(c *gin.Context) node.Action {
		title := c.Param("title")
		return func(ctx context.Context, ctrl *controller.Controller) error { return ctrl.Activate(ctx, title) }
	}))
	r.POST("/option/next", s.act("next-option", func(*gin.Context) node.Action {
		return func(ctx context.Context, ctrl *controller.Controller) error { return ctrl.NextOption(ctx) }
	}))
	r.POST("/brightness/:value", s.brightness)
	r.POST("/action", s.act("custom-action", func(*gin.Context) node.Action {
		return func(ctx context.Context, ctrl *controller.Controller) error { return ctrl.CustomAction(ctx) }
	}))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/monitor", s.monitor)
}

func (s *Server) health(c *gin.Context) {
	st := s.node.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"node":      st.Name,
		"boot_id":   st.BootID,
		"uptime_ms": st.UptimeMS,
		"peers":     len(st.Peers),
	})
}

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, s.node.Status())
}

func (s *Server) peers(c *gin.Context) {
	st := s.node.Status()
	c.JSON(http.StatusOK, gin.H{
		"peers":    st.Peers,
		"limit":    st.PeerLimit,
		"rejected": st.Rejected,
	})
}

func (s *Server) namespace(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.ActionTimeout)
	defer cancel()
	view, err := s.node.Namespace(ctx, c.Param("namespace"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) brightness(c *gin.Context) {
	v, err := strconv.ParseUint(c.Param("value"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "brightness must be an integer in [0,255]"})
		return
	}
	s.act("brightness", func(*gin.Context) node.Action {
		return func(ctx context.Context, ctrl *controller.Controller) error {
			return ctrl.SetBrightness(ctx, uint16(v))
		}
	})(c)
}

// act runs the action built from the request on the node loop and answers
// with the resulting mode state.
func (s *Server) act(name string, build func(*gin.Context) node.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.ActionTimeout)
		defer cancel()
		do := build(c)
		var after node.ModeStatus
		err := s.node.Do(ctx, name, func(ctx context.Context, ctrl *controller.Controller) error {
			if err := do(ctx, ctrl); err != nil {
				return err
			}
			after = node.DescribeMode(ctrl.Active())
			return nil
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": after})
	}
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, controller.ErrUnknownMode), errors.Is(err, registry.ErrNoNamespace):
		status = http.StatusNotFound
	case errors.Is(err, mode.ErrInvalidBrightness), errors.Is(err, mode.ErrInvalidOption),
		errors.Is(err, registry.ErrOutOfRange), errors.Is(err, registry.ErrTypeMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, node.ErrStopped), errors.Is(err, node.ErrActionsFull):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// monitor streams status snapshots to a websocket client until it disconnects.
func (s *Server) monitor(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logs.Warnf("admin.monitor upgrade err=%v", err)
		return
	}
	defer conn.Close()
	active := s.monitors.Add(1)
	logs.Infof("admin.monitor client connected remote=%q active=%d", c.ClientIP(), active)
	defer func() {
		remaining := s.monitors.Add(-1)
		logs.Infof("admin.monitor client disconnected remote=%q active=%d", c.ClientIP(), remaining)
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.MonitorInterval)
	defer ticker.Stop()
	var lastIteration uint64
	for {
		st := s.node.Status()
		if st.Iterations != lastIteration || lastIteration == 0 {
			lastIteration = st.Iterations
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.MonitorInterval + time.Second))
			if err := conn.WriteJSON(st); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logs.Debugf("admin.monitor write err=%v", err)
				}
				return
			}
		}
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
