package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/glowlink/internal/clock"
	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/observability"
	"github.com/danmuck/glowlink/internal/peers"
	"github.com/danmuck/glowlink/internal/protocol/frame"
	"github.com/danmuck/glowlink/internal/protocol/identity"
	"github.com/danmuck/glowlink/internal/protocol/message"
)

const (
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultQueueCapacity     = 64
)

type Config struct {
	HeartbeatInterval time.Duration
	QueueCapacity     int
	// EchoHeartbeats answers every heartbeat with an Echo carrying local uptime.
	EchoHeartbeats bool
	// Node labels metrics; defaults to the address fingerprint.
	Node string
}

// Stats counts link activity since creation.
type Stats struct {
	Sent             uint64 `json:"sent"`
	SendErrors       uint64 `json:"send_errors"`
	Received         uint64 `json:"received"`
	Malformed        uint64 `json:"malformed"`
	IdentityMismatch uint64 `json:"identity_mismatch"`
	Deserialize      uint64 `json:"deserialize"`
	QueueFull        uint64 `json:"queue_full"`
	Own              uint64 `json:"own"`
}

type counters struct {
	sent, sendErrors, received, malformed atomic.Uint64
	identity, deserialize, queueFull, own atomic.Uint64
}

// Link frames outbound messages onto a Medium and queues inbound envelopes for
// the control loop. Send, Tick and Observe belong to the loop goroutine; the
// receive path runs on the medium's goroutine and only touches the queue.
type Link struct {
	medium  Medium
	cfg     Config
	addr    identity.Address
	selfID  uint32
	inbound chan message.Envelope
	stats   counters

	lastHeartbeat time.Duration
	heartbeatSent bool
}

func NewLink(medium Medium, cfg Config) (*Link, error) {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	addr := medium.Address()
	if cfg.Node == "" {
		cfg.Node = identity.Fingerprint(addr)
	}
	l := &Link{
		medium:  medium,
		cfg:     cfg,
		addr:    addr,
		selfID:  identity.Derive(addr),
		inbound: make(chan message.Envelope, cfg.QueueCapacity),
	}
	if err := medium.Listen(l.receive); err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	logs.Infof("transport.NewLink addr=%s id=%08x node=%s queue=%d", addr, l.selfID, cfg.Node, cfg.QueueCapacity)
	return l, nil
}

func (l *Link) ID() uint32                { return l.selfID }
func (l *Link) Address() identity.Address { return l.addr }
func (l *Link) Close() error              { return l.medium.Close() }

// Send marshals body, frames it and broadcasts once. Oversized payloads return
// frame.ErrPayloadTooLarge and nothing is sent.
func (l *Link) Send(ctx context.Context, t message.Type, body any) error {
	payload, err := message.Marshal(t, body)
	if err != nil {
		return err
	}
	raw, err := frame.Encode(l.addr, l.selfID, payload)
	if err != nil {
		logs.Warnf("transport.Link.Send type=%s payload=%d: %v", t, len(payload), err)
		return err
	}
	if err := l.medium.Broadcast(ctx, raw); err != nil {
		l.stats.sendErrors.Add(1)
		observability.RecordSend(l.cfg.Node, t.String(), false)
		logs.Warnf("transport.Link.Send type=%s broadcast err=%v", t, err)
		return err
	}
	l.stats.sent.Add(1)
	observability.RecordSend(l.cfg.Node, t.String(), true)
	logs.Tracef("transport.Link.Send type=%s bytes=%d", t, len(raw))
	return nil
}

// receive is the medium callback. It validates and enqueues; nothing else.
func (l *Link) receive(raw []byte, from identity.Address) {
	f, err := frame.Decode(raw)
	if err != nil {
		l.stats.malformed.Add(1)
		observability.RecordDrop(l.cfg.Node, observability.DropMalformed)
		logs.Debugf("transport.Link.receive from=%s drop: %v", from, err)
		return
	}
	if derived := identity.Derive(from); derived != f.SenderID {
		l.stats.identity.Add(1)
		observability.RecordDrop(l.cfg.Node, observability.DropIdentity)
		logs.Warnf("transport.Link.receive from=%s drop: %v (derived=%08x frame=%08x)",
			from, ErrIdentityMismatch, derived, f.SenderID)
		return
	}
	if f.SenderID == l.selfID {
		l.stats.own.Add(1)
		return
	}
	t, body, err := message.Unmarshal(f.Payload)
	if err != nil {
		l.stats.deserialize.Add(1)
		observability.RecordDrop(l.cfg.Node, observability.DropDeserialize)
		logs.Debugf("transport.Link.receive from=%s drop: %v", from, err)
		return
	}
	env := message.Envelope{SenderID: f.SenderID, Address: from, Type: t, Body: body}
	select {
	case l.inbound <- env:
		l.stats.received.Add(1)
		observability.RecordReceive(l.cfg.Node, t.String())
	default:
		l.stats.queueFull.Add(1)
		observability.RecordDrop(l.cfg.Node, observability.DropQueueFull)
		logs.Warnf("transport.Link.receive queue full, dropping %s from %08x", t, f.SenderID)
	}
}

// Drain returns up to max queued envelopes without blocking. max <= 0 drains
// whatever is queued now.
func (l *Link) Drain(max int) []message.Envelope {
	if max <= 0 {
		max = cap(l.inbound)
	}
	var out []message.Envelope
	for len(out) < max {
		select {
		case env := <-l.inbound:
			out = append(out, env)
		default:
			return out
		}
	}
	return out
}

// Pending reports how many envelopes wait in the queue.
func (l *Link) Pending() int { return len(l.inbound) }

// Tick sends a heartbeat when the interval has elapsed. The first call always sends.
func (l *Link) Tick(ctx context.Context, now time.Duration) {
	if l.heartbeatSent && now-l.lastHeartbeat <= l.cfg.HeartbeatInterval {
		return
	}
	l.lastHeartbeat = now
	l.heartbeatSent = true
	if err := l.Send(ctx, message.TypeHeartbeat, message.Heartbeat{Uptime: clock.Millis(now)}); err != nil {
		logs.Warnf("transport.Link.Tick heartbeat err=%v", err)
	}
}

// Observe records presence and advertised uptime for env in dir and reports
// whether the sender is new.
func (l *Link) Observe(ctx context.Context, env message.Envelope, dir *peers.Directory, now time.Duration) bool {
	rejected := dir.Rejected()
	isNew := dir.Upsert(env.SenderID, env.Address, now)
	if dir.Rejected() != rejected {
		observability.RecordDrop(l.cfg.Node, observability.DropPeerTableFull)
	}
	if isNew {
		observability.RecordPeerEvent(l.cfg.Node, "join")
	}

	switch env.Type {
	case message.TypeHeartbeat:
		hb, err := env.Heartbeat()
		if err != nil {
			logs.Debugf("transport.Link.Observe heartbeat from %08x: %v", env.SenderID, err)
			return isNew
		}
		dir.RecordUptime(env.SenderID, hb.Uptime)
		if l.cfg.EchoHeartbeats {
			if err := l.Send(ctx, message.TypeEcho, message.Echo{Uptime: clock.Millis(now)}); err != nil && !errors.Is(err, ErrClosed) {
				logs.Warnf("transport.Link.Observe echo err=%v", err)
			}
		}
	case message.TypeEcho:
		echo, err := env.Echo()
		if err != nil {
			logs.Debugf("transport.Link.Observe echo from %08x: %v", env.SenderID, err)
			return isNew
		}
		dir.RecordUptime(env.SenderID, echo.Uptime)
	case message.TypeSync:
		s, err := env.Sync()
		if err != nil {
			return isNew
		}
		dir.RecordUptime(env.SenderID, s.Timestamp)
	}
	return isNew
}

func (l *Link) Stats() Stats {
	return Stats{
		Sent:             l.stats.sent.Load(),
		SendErrors:       l.stats.sendErrors.Load(),
		Received:         l.stats.received.Load(),
		Malformed:        l.stats.malformed.Load(),
		IdentityMismatch: l.stats.identity.Load(),
		Deserialize:      l.stats.deserialize.Load(),
		QueueFull:        l.stats.queueFull.Load(),
		Own:              l.stats.own.Load(),
	}
}
