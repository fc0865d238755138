package node

import (
	"fmt"
	"time"

	"github.com/danmuck/glowlink/internal/controller"
	"github.com/danmuck/glowlink/internal/mode"
	"github.com/danmuck/glowlink/internal/protocol/identity"
	"github.com/danmuck/glowlink/internal/transport"
)

// Status is an immutable snapshot published by the loop after every iteration.
type Status struct {
	Name        string           `json:"name"`
	BootID      string           `json:"boot_id"`
	Address     string           `json:"address"`
	ID          string           `json:"id"`
	Fingerprint string           `json:"fingerprint"`
	UptimeMS    int64            `json:"uptime_ms"`
	Iterations  uint64           `json:"iterations"`
	Mode        ModeStatus       `json:"mode"`
	Modes       []string         `json:"modes"`
	Alerting    bool             `json:"alerting"`
	Peers       []PeerStatus     `json:"peers"`
	PeerLimit   int              `json:"peer_limit"`
	Rejected    uint64           `json:"peers_rejected"`
	Link        transport.Stats  `json:"link"`
	Sync        controller.Stats `json:"sync"`
}

type ModeStatus struct {
	Title       string         `json:"title"`
	Version     string         `json:"version"`
	Option      int            `json:"option"`
	OptionTitle string         `json:"option_title"`
	Brightness  uint16         `json:"brightness"`
	Registry    map[string]any `json:"registry"`
}

type PeerStatus struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	Fingerprint string `json:"fingerprint"`
	LastSeenMS  int64  `json:"last_seen_ms_ago"`
	UptimeMS    uint64 `json:"uptime_ms,omitempty"`
}

// Status returns the latest published snapshot. Safe from any goroutine.
func (n *Node) Status() Status {
	return *n.status.Load()
}

func (n *Node) publish(now time.Duration) {
	modes := n.ctrl.Modes()
	titles := make([]string, 0, len(modes))
	for _, m := range modes {
		titles = append(titles, m.Title())
	}
	nodes := n.dir.All()
	ps := make([]PeerStatus, 0, len(nodes))
	for _, p := range nodes {
		ps = append(ps, PeerStatus{
			ID:          formatID(p.ID),
			Address:     p.Address.String(),
			Fingerprint: identity.Fingerprint(p.Address),
			LastSeenMS:  (now - p.LastSeen).Milliseconds(),
			UptimeMS:    p.EstimatedUptime(now),
		})
	}
	addr := n.link.Address()
	n.status.Store(&Status{
		Name:        n.opts.Name,
		BootID:      n.bootID.String(),
		Address:     addr.String(),
		ID:          formatID(n.link.ID()),
		Fingerprint: identity.Fingerprint(addr),
		UptimeMS:    now.Milliseconds(),
		Iterations:  n.iterations,
		Mode:        DescribeMode(n.ctrl.Active()),
		Modes:       titles,
		Alerting:    n.ctrl.Alerting(),
		Peers:       ps,
		PeerLimit:   n.dir.Capacity(),
		Rejected:    n.dir.Rejected(),
		Link:        n.link.Stats(),
		Sync:        n.ctrl.Stats(),
	})
}

// DescribeMode captures a mode's serialized state along with its option title.
func DescribeMode(m mode.Mode) ModeStatus {
	state := m.Serialize()
	optionTitle := ""
	if opts := m.Options(); int(state.OptionIndex) < len(opts) {
		optionTitle = opts[state.OptionIndex].Title
	}
	return ModeStatus{
		Title:       state.Title,
		Version:     state.Version,
		Option:      int(state.OptionIndex),
		OptionTitle: optionTitle,
		Brightness:  state.Brightness,
		Registry:    state.Registry,
	}
}

func formatID(id uint32) string {
	return fmt.Sprintf("%08x", id)
}
