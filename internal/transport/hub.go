package transport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/protocol/identity"
)

const hubInboxSize = 256

type delivery struct {
	raw  []byte
	from identity.Address
}

// Hub is an in-memory broadcast medium shared by several endpoints in one
// process. Frames reach every other endpoint asynchronously and may be lost.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[identity.Address]*HubMedium

	loss  float64
	sync  bool
	rngMu sync.Mutex
	rng   *rand.Rand
}

type HubOption func(*Hub)

// WithLoss drops each delivery with probability p.
func WithLoss(p float64) HubOption {
	return func(h *Hub) { h.loss = p }
}

// WithSeed makes loss decisions reproducible.
func WithSeed(seed uint64) HubOption {
	return func(h *Hub) { h.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithSyncDelivery runs receivers on the broadcasting goroutine, which makes
// multi-node runs stepped from one goroutine deterministic.
func WithSyncDelivery() HubOption {
	return func(h *Hub) { h.sync = true }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		endpoints: make(map[identity.Address]*HubMedium),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join attaches a new endpoint with link address addr.
func (h *Hub) Join(addr identity.Address) (*HubMedium, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.endpoints[addr]; ok {
		return nil, fmt.Errorf("transport: hub address %s already joined", addr)
	}
	m := &HubMedium{
		hub:   h,
		addr:  addr,
		inbox: make(chan delivery, hubInboxSize),
		done:  make(chan struct{}),
	}
	h.endpoints[addr] = m
	go m.run()
	return m, nil
}

func (h *Hub) leave(addr identity.Address) {
	h.mu.Lock()
	delete(h.endpoints, addr)
	h.mu.Unlock()
}

func (h *Hub) lose() bool {
	if h.loss <= 0 {
		return false
	}
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return h.rng.Float64() < h.loss
}

func (h *Hub) broadcast(from identity.Address, raw []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for addr, m := range h.endpoints {
		if addr == from || h.lose() {
			continue
		}
		buf := make([]byte, len(raw))
		copy(buf, raw)
		if h.sync {
			m.deliver(delivery{raw: buf, from: from})
			continue
		}
		select {
		case m.inbox <- delivery{raw: buf, from: from}:
		default:
			logs.Debugf("transport.Hub inbox full at %s, frame lost", addr)
		}
	}
}

// HubMedium is one endpoint of a Hub.
type HubMedium struct {
	hub      *Hub
	addr     identity.Address
	inbox    chan delivery
	receiver atomic.Pointer[Receiver]
	done     chan struct{}
	closed   atomic.Bool
	once     sync.Once
}

func (m *HubMedium) Address() identity.Address { return m.addr }

func (m *HubMedium) Broadcast(ctx context.Context, raw []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.hub.broadcast(m.addr, raw)
	return nil
}

func (m *HubMedium) Listen(r Receiver) error {
	if !m.receiver.CompareAndSwap(nil, &r) {
		return ErrAlreadyListening
	}
	return nil
}

// Inject delivers raw as if it had been heard from from. It runs the receiver
// on the caller's goroutine.
func (m *HubMedium) Inject(raw []byte, from identity.Address) {
	m.deliver(delivery{raw: raw, from: from})
}

func (m *HubMedium) Close() error {
	m.once.Do(func() {
		m.closed.Store(true)
		m.hub.leave(m.addr)
		close(m.done)
	})
	return nil
}

func (m *HubMedium) run() {
	for {
		select {
		case <-m.done:
			return
		case d := <-m.inbox:
			m.deliver(d)
		}
	}
}

func (m *HubMedium) deliver(d delivery) {
	if r := m.receiver.Load(); r != nil {
		(*r)(d.raw, d.from)
	}
}
