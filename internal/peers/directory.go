// Package peers tracks remote nodes heard on the broadcast medium.
//
// A Directory is owned by the control loop and is not safe for concurrent use;
// readers outside the loop use the snapshots returned by All.
package peers

import (
	"sort"
	"time"

	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/protocol/identity"
)

const (
	DefaultCapacity = 32
	DefaultTimeout  = 10 * time.Second
)

// Node is one known peer.
type Node struct {
	ID        uint32
	Address   identity.Address
	FirstSeen time.Duration
	LastSeen  time.Duration
	// Uptime is the last uptime the peer advertised in a heartbeat or echo,
	// heard at local time UptimeAt.
	Uptime    uint64
	UptimeAt  time.Duration
	HasUptime bool
}

// EstimatedUptime extrapolates the peer's advertised uptime to local time now.
func (n Node) EstimatedUptime(now time.Duration) uint64 {
	if !n.HasUptime {
		return 0
	}
	elapsed := now - n.UptimeAt
	if elapsed < 0 {
		elapsed = 0
	}
	return n.Uptime + uint64(elapsed.Milliseconds())
}

// Directory is a fixed-capacity table of peers keyed by derived id.
type Directory struct {
	capacity int
	timeout  time.Duration
	nodes    map[uint32]*Node
	rejected uint64
}

func New(capacity int, timeout time.Duration) *Directory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Directory{
		capacity: capacity,
		timeout:  timeout,
		nodes:    make(map[uint32]*Node, capacity),
	}
}

// Upsert records that id was heard at now. It reports true only when the peer
// was not yet in the table. A full table ignores new peers.
func (d *Directory) Upsert(id uint32, addr identity.Address, now time.Duration) bool {
	if n, ok := d.nodes[id]; ok {
		n.LastSeen = now
		if n.Address.IsZero() {
			n.Address = addr
		}
		return false
	}
	if len(d.nodes) >= d.capacity {
		d.rejected++
		logs.Warnf("peers.Directory.Upsert table full id=%d capacity=%d rejected=%d", id, d.capacity, d.rejected)
		return false
	}
	d.nodes[id] = &Node{ID: id, Address: addr, FirstSeen: now, LastSeen: now}
	logs.Infof("peers.Directory.Upsert new peer id=%d addr=%s", id, addr)
	return true
}

// RecordUptime stores the uptime a known peer advertised when it was last seen.
func (d *Directory) RecordUptime(id uint32, uptime uint64) bool {
	n, ok := d.nodes[id]
	if !ok {
		return false
	}
	n.Uptime = uptime
	n.UptimeAt = n.LastSeen
	n.HasUptime = true
	return true
}

// HasElder reports whether any known peer has been up longer than local
// milliseconds, judged from advertised uptimes.
func (d *Directory) HasElder(local uint64, now time.Duration) bool {
	for _, n := range d.nodes {
		if n.EstimatedUptime(now) > local {
			return true
		}
	}
	return false
}

// EvictExpired removes every peer with now-lastSeen > timeout and returns their ids.
func (d *Directory) EvictExpired(now time.Duration) []uint32 {
	var evicted []uint32
	for id, n := range d.nodes {
		if now-n.LastSeen > d.timeout {
			delete(d.nodes, id)
			evicted = append(evicted, id)
			logs.Debugf("peers.Directory.EvictExpired removed id=%d idle=%s", id, now-n.LastSeen)
		}
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i] < evicted[j] })
	return evicted
}

func (d *Directory) Contains(id uint32) bool {
	_, ok := d.nodes[id]
	return ok
}

func (d *Directory) Get(id uint32) (Node, bool) {
	n, ok := d.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// All returns a copy of every entry ordered by id.
func (d *Directory) All() []Node {
	out := make([]Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Directory) Len() int {
	return len(d.nodes)
}

func (d *Directory) Capacity() int {
	return d.capacity
}

func (d *Directory) Timeout() time.Duration {
	return d.timeout
}

// Rejected counts upserts ignored because the table was full.
func (d *Directory) Rejected() uint64 {
	return d.rejected
}
