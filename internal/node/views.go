package node

import (
	"context"
	"fmt"

	"github.com/danmuck/glowlink/internal/controller"
	"github.com/danmuck/glowlink/internal/registry"
)

// NamespaceView is a read-only copy of one registry namespace.
type NamespaceView struct {
	Title   string               `json:"title"`
	Version string               `json:"version"`
	Active  bool                 `json:"active"`
	Entries []registry.EntryInfo `json:"entries"`
}

// Namespace reads a registry namespace on the loop goroutine.
func (n *Node) Namespace(ctx context.Context, name string) (NamespaceView, error) {
	// The action may still run after Do gives up on ctx, so the view is handed
	// over instead of written into shared state.
	out := make(chan NamespaceView, 1)
	err := n.Do(ctx, "namespace", func(_ context.Context, c *controller.Controller) error {
		ns, ok := c.Registry().Lookup(name)
		if !ok {
			return fmt.Errorf("%w: %s", registry.ErrNoNamespace, name)
		}
		out <- NamespaceView{
			Title:   ns.Title(),
			Version: ns.Version(),
			Active:  c.Registry().Active() == ns,
			Entries: ns.Describe(),
		}
		return nil
	})
	if err != nil {
		return NamespaceView{}, err
	}
	return <-out, nil
}
