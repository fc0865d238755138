// Package controller is the synchronizer state machine. It owns the mode list
// and applies local actions and remote events so every node in range converges
// on the same mode, option, brightness and settings.
//
// A Controller is driven by a single goroutine (the node loop) and is not safe
// for concurrent use.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/glowlink/internal/clock"
	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/mode"
	"github.com/danmuck/glowlink/internal/observability"
	"github.com/danmuck/glowlink/internal/protocol/message"
	"github.com/danmuck/glowlink/internal/registry"
)

var (
	ErrUnknownMode = errors.New("controller: unknown mode")
	ErrNoModes     = errors.New("controller: no modes")
)

const (
	DefaultAttentionTicks = 50
	DefaultJoinFlashes    = 3
	DefaultAlertFlashes   = 2
)

// Broadcaster sends one message to every peer in range. transport.Link satisfies it.
type Broadcaster interface {
	Send(ctx context.Context, t message.Type, body any) error
}

// Indicator renders an attention signal on the fixture.
type Indicator interface {
	Attention(flashes int)
}

// Seniority reports whether a known peer has been up longer than local
// milliseconds at local time now. peers.Directory satisfies it.
type Seniority interface {
	HasElder(local uint64, now time.Duration) bool
}

// LogIndicator is the Indicator used when no LED driver is attached.
type LogIndicator struct{}

func (LogIndicator) Attention(flashes int) {
	logs.Infof("controller.attention flashes=%d", flashes)
}

type Config struct {
	// AttentionTicks is how many loop ticks an attention signal stays active.
	AttentionTicks int
	JoinFlashes    int
	AlertFlashes   int
	// Node labels metrics.
	Node string
	// ID is this node's derived id; namespace replies addressed elsewhere are ignored.
	ID uint32
}

func (c Config) withDefaults() Config {
	if c.AttentionTicks <= 0 {
		c.AttentionTicks = DefaultAttentionTicks
	}
	if c.JoinFlashes <= 0 {
		c.JoinFlashes = DefaultJoinFlashes
	}
	if c.AlertFlashes <= 0 {
		c.AlertFlashes = DefaultAlertFlashes
	}
	return c
}

// Stats counts synchronizer outcomes.
type Stats struct {
	EventsSent     uint64 `json:"events_sent"`
	EventsApplied  uint64 `json:"events_applied"`
	EventsRejected uint64 `json:"events_rejected"`
	SyncsSent      uint64 `json:"syncs_sent"`
	Rebroadcasts   uint64 `json:"rebroadcasts"`
	AcksSent       uint64 `json:"acks_sent"`
	AcksReceived   uint64 `json:"acks_received"`
	NamespacesSent uint64 `json:"namespaces_sent"`
	NamespacesSet  uint64 `json:"namespaces_applied"`
	// NamespacesIgnored counts replies meant for another node or not asked for.
	NamespacesIgnored uint64 `json:"namespaces_ignored"`
}

type Controller struct {
	cfg       Config
	reg       *registry.Registry
	modes     []mode.Mode
	byTitle   map[string]int
	active    int
	out       Broadcaster
	indicator Indicator
	seniority Seniority

	frame        uint64
	attention    int
	awaitingSync bool
	// requested holds namespaces asked for and not yet answered.
	requested map[string]struct{}
	stats     Stats
}

// New builds a controller over modes, which must all be declared in reg.
// The first mode starts active.
func New(reg *registry.Registry, modes []mode.Mode, out Broadcaster, indicator Indicator, cfg Config) (*Controller, error) {
	if len(modes) == 0 {
		return nil, ErrNoModes
	}
	if indicator == nil {
		indicator = LogIndicator{}
	}
	c := &Controller{
		cfg:       cfg.withDefaults(),
		reg:       reg,
		modes:     modes,
		byTitle:   make(map[string]int, len(modes)),
		out:       out,
		indicator: indicator,
		requested: make(map[string]struct{}),
	}
	for i, m := range modes {
		if _, dup := c.byTitle[m.Title()]; dup {
			return nil, fmt.Errorf("controller: duplicate mode %q", m.Title())
		}
		c.byTitle[m.Title()] = i
	}
	if err := c.switchTo(0); err != nil {
		return nil, err
	}
	return c, nil
}

// SetSeniority lets HandleSync leave the answer to an older peer.
func (c *Controller) SetSeniority(s Seniority) { c.seniority = s }

func (c *Controller) Active() mode.Mode { return c.modes[c.active] }

func (c *Controller) Modes() []mode.Mode {
	out := make([]mode.Mode, len(c.modes))
	copy(out, c.modes)
	return out
}

func (c *Controller) Registry() *registry.Registry { return c.reg }
func (c *Controller) Alerting() bool               { return c.attention > 0 }
func (c *Controller) Stats() Stats                 { return c.stats }

func (c *Controller) switchTo(i int) error {
	if err := c.reg.Activate(c.modes[i].Title()); err != nil {
		return err
	}
	c.active = i
	return nil
}

func (c *Controller) signal(flashes int) {
	if c.attention == 0 {
		c.indicator.Attention(flashes)
	}
	c.attention = c.cfg.AttentionTicks
}

// Tick advances the active mode and the attention countdown by one loop frame.
func (c *Controller) Tick() {
	c.frame++
	c.Active().Tick(c.frame)
	if c.attention > 0 {
		c.attention--
	}
}

// Broadcast sends the active mode's full state as an Event.
func (c *Controller) Broadcast(ctx context.Context) error {
	s := c.Active().Serialize()
	ev := message.Event{
		Title:       s.Title,
		Version:     s.Version,
		OptionIndex: s.OptionIndex,
		Brightness:  s.Brightness,
		Registry:    s.Registry,
	}
	if err := c.out.Send(ctx, message.TypeEvent, ev); err != nil {
		logs.Warnf("controller.Broadcast mode=%q err=%v", s.Title, err)
		return err
	}
	c.stats.EventsSent++
	observability.RecordSync(c.cfg.Node, "event_sent")
	logs.Debugf("controller.Broadcast mode=%q option=%d brightness=%d", s.Title, s.OptionIndex, s.Brightness)
	return nil
}

// Dispatch routes one envelope from the inbound queue. isJoin reports that the
// envelope's sender was first heard with this message.
func (c *Controller) Dispatch(ctx context.Context, env message.Envelope, isJoin bool, now time.Duration) error {
	switch env.Type {
	case message.TypeEvent:
		return c.HandleEvent(ctx, env, isJoin)
	case message.TypeSync:
		return c.HandleSync(ctx, env, now)
	case message.TypeCommand:
		return c.HandleCommand(ctx, env)
	default:
		return nil
	}
}

// HandleEvent adopts a peer's mode state. Nothing changes unless the whole
// event applies cleanly, and applying never triggers a re-broadcast.
func (c *Controller) HandleEvent(ctx context.Context, env message.Envelope, isJoin bool) error {
	if isJoin {
		c.signal(c.cfg.JoinFlashes)
	}
	ev, err := env.Event()
	if err != nil {
		return c.reject(env, err)
	}
	idx, ok := c.byTitle[ev.Title]
	if !ok {
		return c.reject(env, fmt.Errorf("%w: %q", ErrUnknownMode, ev.Title))
	}
	target := c.modes[idx]
	err = target.Deserialize(mode.State{
		Title:       ev.Title,
		Version:     ev.Version,
		OptionIndex: ev.OptionIndex,
		Brightness:  ev.Brightness,
		Registry:    ev.Registry,
	})
	if err != nil {
		return c.reject(env, err)
	}
	if idx != c.active {
		if err := c.switchTo(idx); err != nil {
			return c.reject(env, err)
		}
		logs.Infof("controller.HandleEvent switched mode=%q from=%08x", ev.Title, env.SenderID)
	}
	target.OnOptionChanged()
	c.stats.EventsApplied++
	observability.RecordSync(c.cfg.Node, "event_applied")
	logs.Debugf("controller.HandleEvent applied mode=%q option=%d brightness=%d from=%08x",
		ev.Title, ev.OptionIndex, ev.Brightness, env.SenderID)

	if c.awaitingSync {
		c.awaitingSync = false
		if err := c.out.Send(ctx, message.TypeCommand, message.Command{Command: message.CommandAckSync}); err != nil {
			logs.Warnf("controller.HandleEvent ack sync err=%v", err)
		} else {
			c.stats.AcksSent++
		}
	}
	return nil
}

func (c *Controller) reject(env message.Envelope, err error) error {
	c.stats.EventsRejected++
	observability.RecordSync(c.cfg.Node, "event_rejected")
	logs.Warnf("controller.HandleEvent from=%08x rejected: %v", env.SenderID, err)
	return err
}

// HandleSync re-broadcasts local state when this node has been up longer than
// the peer that sent the sync. Equal uptimes do nothing, and neither does a
// node that knows of an even older peer.
func (c *Controller) HandleSync(ctx context.Context, env message.Envelope, now time.Duration) error {
	s, err := env.Sync()
	if err != nil {
		logs.Warnf("controller.HandleSync from=%08x: %v", env.SenderID, err)
		return err
	}
	local := clock.Millis(now)
	if local <= s.Timestamp {
		logs.Debugf("controller.HandleSync from=%08x peer=%dms local=%dms, deferring", env.SenderID, s.Timestamp, local)
		return nil
	}
	if c.seniority != nil && c.seniority.HasElder(local, now) {
		logs.Debugf("controller.HandleSync from=%08x local=%dms, deferring to an elder peer", env.SenderID, local)
		observability.RecordSync(c.cfg.Node, "deferred")
		return nil
	}
	logs.Infof("controller.HandleSync from=%08x peer=%dms local=%dms, re-broadcasting", env.SenderID, s.Timestamp, local)
	// The eldest node answers syncs and never adopts one in return.
	c.awaitingSync = false
	c.stats.Rebroadcasts++
	observability.RecordSync(c.cfg.Node, "rebroadcast")
	return c.Broadcast(ctx)
}

// OnNewPeer signals attention and announces local uptime so the longest-running
// node answers with its state.
func (c *Controller) OnNewPeer(ctx context.Context, id uint32, now time.Duration) error {
	c.signal(c.cfg.JoinFlashes)
	c.awaitingSync = true
	ts := clock.Millis(now)
	if err := c.out.Send(ctx, message.TypeSync, message.Sync{Timestamp: ts}); err != nil {
		logs.Warnf("controller.OnNewPeer peer=%08x sync err=%v", id, err)
		return err
	}
	c.stats.SyncsSent++
	observability.RecordSync(c.cfg.Node, "sync_sent")
	logs.Infof("controller.OnNewPeer peer=%08x sync timestamp=%dms", id, ts)
	return nil
}
