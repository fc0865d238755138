package node

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/protocol/identity"
	"github.com/danmuck/glowlink/internal/transport"
)

// Cluster runs several nodes on one in-memory hub, for simulation and tests.
type Cluster struct {
	Hub   *transport.Hub
	Nodes []*Node
}

// NewCluster creates count nodes whose addresses count up from base.
func NewCluster(base identity.Address, count int, opts Options, hubOpts ...transport.HubOption) (*Cluster, error) {
	return joinCluster(transport.NewHub(hubOpts...), base, count, opts)
}

func joinCluster(hub *transport.Hub, base identity.Address, count int, opts Options) (*Cluster, error) {
	if count <= 0 {
		return nil, fmt.Errorf("node: cluster needs at least one node, got %d", count)
	}
	c := &Cluster{Hub: hub, Nodes: make([]*Node, 0, count)}
	name := opts.Name
	for i := 0; i < count; i++ {
		addr := base
		addr[len(addr)-1] += byte(i)
		medium, err := hub.Join(addr)
		if err != nil {
			c.Close()
			return nil, err
		}
		nodeOpts := opts
		if name != "" {
			nodeOpts.Name = fmt.Sprintf("%s-%d", name, i)
		} else {
			nodeOpts.Name = ""
		}
		n, err := New(medium, nodeOpts)
		if err != nil {
			_ = medium.Close()
			c.Close()
			return nil, err
		}
		c.Nodes = append(c.Nodes, n)
	}
	return c, nil
}

// Close releases the hub endpoints of nodes that were never run.
func (c *Cluster) Close() {
	for _, n := range c.Nodes {
		if err := n.link.Close(); err != nil {
			logs.Warnf("node.Cluster.Close name=%q err=%v", n.Name(), err)
		}
	}
}

// Run runs every node until ctx ends and returns the first error.
func (c *Cluster) Run(ctx context.Context) error {
	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
	)
	for _, n := range c.Nodes {
		wg.Add(1)
		go func(n *Node) {
			defer wg.Done()
			if err := n.Run(ctx); err != nil {
				once.Do(func() { first = err })
			}
		}(n)
	}
	wg.Wait()
	return first
}

// Converged reports whether every node shows the same mode state.
func (c *Cluster) Converged() bool {
	if len(c.Nodes) == 0 {
		return true
	}
	ref := c.Nodes[0].Status().Mode
	for _, n := range c.Nodes[1:] {
		if !reflect.DeepEqual(ref, n.Status().Mode) {
			return false
		}
	}
	logs.Tracef("node.Cluster converged mode=%q option=%d", ref.Title, ref.Option)
	return true
}
