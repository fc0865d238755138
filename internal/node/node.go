// Package node runs one fixture: a cooperative control loop that owns the peer
// directory, the registry and the controller, fed by a transport link.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/glowlink/internal/clock"
	"github.com/danmuck/glowlink/internal/config"
	"github.com/danmuck/glowlink/internal/controller"
	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/mode"
	"github.com/danmuck/glowlink/internal/observability"
	"github.com/danmuck/glowlink/internal/peers"
	"github.com/danmuck/glowlink/internal/protocol/identity"
	"github.com/danmuck/glowlink/internal/registry"
	"github.com/danmuck/glowlink/internal/transport"
)

var (
	ErrStopped       = errors.New("node: not running")
	ErrActionsFull   = errors.New("node: action queue full")
	ErrInvalidConfig = errors.New("node: invalid loop interval")
)

const actionQueueSize = 16

type Options struct {
	Name              string
	HeartbeatInterval time.Duration
	PeerTimeout       time.Duration
	LoopInterval      time.Duration
	MaxPeers          int
	QueueCapacity     int
	AttentionTicks    int
	EchoHeartbeats    bool
	InitialMode       string

	Clock     clock.Clock
	Indicator controller.Indicator
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Name:              cfg.NodeName(),
		HeartbeatInterval: cfg.HeartbeatInterval,
		PeerTimeout:       cfg.PeerTimeout,
		LoopInterval:      cfg.LoopInterval,
		MaxPeers:          cfg.MaxPeers,
		QueueCapacity:     cfg.QueueCapacity,
		AttentionTicks:    cfg.AttentionTicks,
		EchoHeartbeats:    cfg.EchoHeartbeats,
		InitialMode:       cfg.InitialMode,
	}
}

// Action is a local user action executed on the loop goroutine.
type Action func(ctx context.Context, c *controller.Controller) error

type pendingAction struct {
	name string
	do   Action
	done chan error
}

type Node struct {
	opts   Options
	bootID uuid.UUID
	clock  clock.Clock
	link   *transport.Link
	dir    *peers.Directory
	reg    *registry.Registry
	ctrl   *controller.Controller

	actions    chan pendingAction
	status     atomic.Pointer[Status]
	running    atomic.Bool
	iterations uint64
}

// New builds a node on medium. The node owns the medium from here on.
func New(medium transport.Medium, opts Options) (*Node, error) {
	if opts.LoopInterval < 0 {
		return nil, ErrInvalidConfig
	}
	if opts.LoopInterval == 0 {
		opts.LoopInterval = 20 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewMonotonic()
	}
	if opts.Name == "" {
		opts.Name = identity.Fingerprint(medium.Address())
	}

	link, err := transport.NewLink(medium, transport.Config{
		HeartbeatInterval: opts.HeartbeatInterval,
		QueueCapacity:     opts.QueueCapacity,
		EchoHeartbeats:    opts.EchoHeartbeats,
		Node:              opts.Name,
	})
	if err != nil {
		return nil, err
	}
	reg := registry.New()
	modes, err := mode.Catalog(reg)
	if err != nil {
		return nil, err
	}
	ctrl, err := controller.New(reg, modes, link, opts.Indicator, controller.Config{
		AttentionTicks: opts.AttentionTicks,
		Node:           opts.Name,
		ID:             link.ID(),
	})
	if err != nil {
		return nil, err
	}
	dir := peers.New(opts.MaxPeers, opts.PeerTimeout)
	ctrl.SetSeniority(dir)
	if opts.InitialMode != "" {
		if err := ctrl.Select(opts.InitialMode); err != nil {
			return nil, fmt.Errorf("node: initial mode: %w", err)
		}
	}

	n := &Node{
		opts:    opts,
		bootID:  uuid.New(),
		clock:   opts.Clock,
		link:    link,
		dir:     dir,
		reg:     reg,
		ctrl:    ctrl,
		actions: make(chan pendingAction, actionQueueSize),
	}
	n.publish(0)
	logs.Infof("node.New name=%q addr=%s id=%08x boot=%s mode=%q",
		opts.Name, link.Address(), link.ID(), n.bootID, ctrl.Active().Title())
	return n, nil
}

func (n *Node) Name() string      { return n.opts.Name }
func (n *Node) ID() uint32        { return n.link.ID() }
func (n *Node) BootID() uuid.UUID { return n.bootID }

// Running reports whether Run is driving the loop.
func (n *Node) Running() bool { return n.running.Load() }

// Run drives the loop every LoopInterval until ctx ends, then closes the medium.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return fmt.Errorf("node: %s already running", n.opts.Name)
	}
	defer n.running.Store(false)
	defer n.link.Close()

	ticker := time.NewTicker(n.opts.LoopInterval)
	defer ticker.Stop()
	logs.Infof("node.Run name=%q interval=%s", n.opts.Name, n.opts.LoopInterval)

	for {
		select {
		case <-ctx.Done():
			n.failPending()
			logs.Infof("node.Run shutdown name=%q iterations=%d", n.opts.Name, n.iterations)
			return nil
		case <-ticker.C:
			n.Step(ctx)
		}
	}
}

// Step runs one loop iteration: drain inbound, apply local actions, evict,
// heartbeat, tick the active mode and publish a fresh status snapshot.
func (n *Node) Step(ctx context.Context) {
	start := time.Now()
	now := n.clock.Now()

	for _, env := range n.link.Drain(0) {
		isNew := n.link.Observe(ctx, env, n.dir, now)
		if isNew {
			_ = n.ctrl.OnNewPeer(ctx, env.SenderID, now)
		}
		_ = n.ctrl.Dispatch(ctx, env, isNew, now)
	}

	n.runActions(ctx)

	for _, id := range n.dir.EvictExpired(now) {
		observability.RecordPeerEvent(n.opts.Name, "evict")
		logs.Infof("node.Step name=%q peer=%08x timed out", n.opts.Name, id)
	}

	n.link.Tick(ctx, now)
	n.ctrl.Tick()
	n.iterations++
	n.publish(now)

	observability.SetPeers(n.opts.Name, n.dir.Len())
	observability.ObserveLoop(n.opts.Name, time.Since(start))
}

func (n *Node) runActions(ctx context.Context) {
	for {
		select {
		case a := <-n.actions:
			err := a.do(ctx, n.ctrl)
			if err != nil {
				logs.Warnf("node.action name=%q action=%s err=%v", n.opts.Name, a.name, err)
			}
			a.done <- err
		default:
			return
		}
	}
}

func (n *Node) failPending() {
	for {
		select {
		case a := <-n.actions:
			a.done <- ErrStopped
		default:
			return
		}
	}
}

// Submit queues an action for the next loop iteration. The returned channel
// receives its result exactly once.
func (n *Node) Submit(name string, do Action) (<-chan error, error) {
	a := pendingAction{name: name, do: do, done: make(chan error, 1)}
	select {
	case n.actions <- a:
		return a.done, nil
	default:
		return nil, ErrActionsFull
	}
}

// Do submits an action and waits for the loop to run it.
func (n *Node) Do(ctx context.Context, name string, do Action) error {
	if !n.running.Load() {
		return ErrStopped
	}
	done, err := n.Submit(name, do)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
