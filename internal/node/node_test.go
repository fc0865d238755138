package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/glowlink/internal/clock"
	"github.com/danmuck/glowlink/internal/controller"
	"github.com/danmuck/glowlink/internal/mode"
	"github.com/danmuck/glowlink/internal/protocol/identity"
	"github.com/danmuck/glowlink/internal/registry"
	"github.com/danmuck/glowlink/internal/testutil/testlog"
	"github.com/danmuck/glowlink/internal/transport"
)

var baseAddr = identity.Address{0x02, 0x47, 0x4c, 0x00, 0x00, 0x01}

func addr(i byte) identity.Address {
	a := baseAddr
	a[5] += i
	return a
}

func testOptions(clk clock.Clock) Options {
	return Options{
		HeartbeatInterval: 200 * time.Millisecond,
		PeerTimeout:       time.Second,
		LoopInterval:      10 * time.Millisecond,
		AttentionTicks:    5,
		Clock:             clk,
	}
}

func join(t *testing.T, hub *transport.Hub, i byte, clk clock.Clock) *Node {
	t.Helper()
	m, err := hub.Join(addr(i))
	require.NoError(t, err)
	n, err := New(m, testOptions(clk))
	require.NoError(t, err)
	return n
}

func rainbowAction(ctx context.Context, c *controller.Controller) error {
	if err := c.Activate(ctx, mode.TitleRainbow); err != nil {
		return err
	}
	if err := c.SetOption(ctx, 2); err != nil {
		return err
	}
	if err := c.SetBrightness(ctx, 180); err != nil {
		return err
	}
	return c.CustomAction(ctx)
}

func TestLateJoinersAdoptEldestState(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	hub := transport.NewHub(transport.WithSyncDelivery())

	clkA := clock.NewManual(5 * time.Second)
	a := join(t, hub, 0, clkA)
	done, err := a.Submit("rainbow", rainbowAction)
	require.NoError(t, err)
	a.Step(ctx)
	require.NoError(t, <-done)

	clkB := clock.NewManual(time.Second)
	clkC := clock.NewManual(0)
	b := join(t, hub, 1, clkB)
	c := join(t, hub, 2, clkC)
	nodes := []*Node{a, b, c}
	clocks := []*clock.Manual{clkA, clkB, clkC}

	for round := 0; round < 20; round++ {
		for i, n := range nodes {
			n.Step(ctx)
			clocks[i].Advance(20 * time.Millisecond)
		}
	}

	want := a.Status().Mode
	require.Equal(t, mode.TitleRainbow, want.Title)
	require.Equal(t, 2, want.Option)
	require.EqualValues(t, 180, want.Brightness)
	require.Equal(t, true, want.Registry["stopped"])
	for _, n := range nodes[1:] {
		require.Equal(t, want, n.Status().Mode, "node %s diverged", n.Name())
		require.Len(t, n.Status().Peers, 2)
	}
	require.GreaterOrEqual(t, a.Status().Sync.Rebroadcasts, uint64(1))
	require.Zero(t, b.Status().Sync.Rebroadcasts, "younger node answered a sync")
	require.Zero(t, c.Status().Sync.Rebroadcasts, "youngest node answered a sync")
	require.EqualValues(t, 1, b.Status().Sync.AcksSent)
	require.GreaterOrEqual(t, a.Status().Sync.AcksReceived, uint64(1))
}

func TestSilentPeerIsEvicted(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	hub := transport.NewHub(transport.WithSyncDelivery())
	clkA, clkB := clock.NewManual(0), clock.NewManual(0)
	a := join(t, hub, 0, clkA)
	b := join(t, hub, 1, clkB)

	b.Step(ctx)
	a.Step(ctx)
	require.Len(t, a.Status().Peers, 1)
	require.True(t, a.Status().Alerting, "join should raise attention")

	clkA.Advance(1500 * time.Millisecond)
	for i := 0; i < 5; i++ {
		a.Step(ctx)
	}
	require.Empty(t, a.Status().Peers)
	require.False(t, a.Status().Alerting, "attention should expire after AttentionTicks")
}

func TestActionsRunOnTheLoop(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := transport.NewHub()
	n := join(t, hub, 0, nil)

	require.ErrorIs(t, n.Do(ctx, "noop", func(context.Context, *controller.Controller) error { return nil }), ErrStopped)

	errc := make(chan error, 1)
	go func() { errc <- n.Run(ctx) }()
	require.Eventually(t, func() bool { return n.Status().Iterations > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, n.Do(ctx, "next-mode", func(ctx context.Context, c *controller.Controller) error {
		return c.NextMode(ctx)
	}))
	require.Eventually(t, func() bool { return n.Status().Mode.Title == mode.TitleCandle }, time.Second, 5*time.Millisecond)

	err := n.Do(ctx, "bad", func(ctx context.Context, c *controller.Controller) error {
		return c.Activate(ctx, "Disco")
	})
	require.True(t, errors.Is(err, controller.ErrUnknownMode), "got %v", err)

	view, err := n.Namespace(ctx, mode.TitleStrobe)
	require.NoError(t, err)
	require.Equal(t, "1.0.0", view.Version)
	require.False(t, view.Active)
	require.Len(t, view.Entries, 3)
	_, err = n.Namespace(ctx, "Disco")
	require.ErrorIs(t, err, registry.ErrNoNamespace)

	cancel()
	require.NoError(t, <-errc)
}

func readRainbowSpeed(t *testing.T, n *Node) int {
	t.Helper()
	var speed int
	done, err := n.Submit("read-speed", func(_ context.Context, c *controller.Controller) error {
		ns, ok := c.Registry().Lookup(mode.TitleRainbow)
		if !ok {
			return registry.ErrNoNamespace
		}
		v, err := ns.GetInt("speed")
		speed = v
		return err
	})
	require.NoError(t, err)
	n.Step(context.Background())
	require.NoError(t, <-done)
	return speed
}

func setRainbowSpeed(speed int) Action {
	return func(_ context.Context, c *controller.Controller) error {
		ns, ok := c.Registry().Lookup(mode.TitleRainbow)
		if !ok {
			return registry.ErrNoNamespace
		}
		return ns.SetInt("speed", speed)
	}
}

func TestNamespaceRequestLeavesRespondersUntouched(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	hub := transport.NewHub(transport.WithSyncDelivery())
	x := join(t, hub, 0, clock.NewManual(0))
	b := join(t, hub, 1, clock.NewManual(3*time.Second))
	c := join(t, hub, 2, clock.NewManual(2*time.Second))
	nodes := []*Node{x, b, c}

	_, err := b.Submit("speed", setRainbowSpeed(10))
	require.NoError(t, err)
	_, err = c.Submit("speed", setRainbowSpeed(20))
	require.NoError(t, err)
	for round := 0; round < 3; round++ {
		for _, n := range nodes {
			n.Step(ctx)
		}
	}

	done, err := x.Submit("request", func(ctx context.Context, ctrl *controller.Controller) error {
		return ctrl.RequestNamespace(ctx, mode.TitleRainbow)
	})
	require.NoError(t, err)
	for round := 0; round < 3; round++ {
		for _, n := range nodes {
			n.Step(ctx)
		}
	}
	require.NoError(t, <-done)

	require.Equal(t, 10, readRainbowSpeed(t, b), "responder adopted another responder's reply")
	require.Equal(t, 20, readRainbowSpeed(t, c), "responder adopted another responder's reply")
	require.Contains(t, []int{10, 20}, readRainbowSpeed(t, x))
	require.EqualValues(t, 1, x.Status().Sync.NamespacesSet)
	require.Zero(t, b.Status().Sync.NamespacesSet)
	require.Zero(t, c.Status().Sync.NamespacesSet)
}

func TestNamespaceTimeoutDoesNotShareTheView(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m, err := transport.NewHub().Join(addr(0))
	require.NoError(t, err)
	opts := testOptions(clock.NewManual(0))
	opts.LoopInterval = time.Hour
	n, err := New(m, opts)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- n.Run(ctx) }()
	require.Eventually(t, n.Running, time.Second, time.Millisecond)

	short, stop := context.WithTimeout(ctx, 20*time.Millisecond)
	defer stop()
	view, err := n.Namespace(short, mode.TitleStrobe)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, view.Title)

	// the abandoned read still runs on the next iteration without blocking it
	n.Step(ctx)

	cancel()
	require.NoError(t, <-errc)
}

func TestFailedClusterReleasesHubAddresses(t *testing.T) {
	testlog.Start(t)
	hub := transport.NewHub()
	taken, err := hub.Join(addr(1))
	require.NoError(t, err)

	_, err = joinCluster(hub, baseAddr, 3, testOptions(clock.NewManual(0)))
	require.Error(t, err)
	m, err := hub.Join(addr(0))
	require.NoError(t, err, "node built before the failure kept its hub endpoint")
	require.NoError(t, m.Close())
	require.NoError(t, taken.Close())

	opts := testOptions(clock.NewManual(0))
	opts.InitialMode = "Disco"
	_, err = joinCluster(hub, baseAddr, 2, opts)
	require.ErrorIs(t, err, controller.ErrUnknownMode)
	m, err = hub.Join(addr(0))
	require.NoError(t, err, "medium of the failed node kept its hub endpoint")
	require.NoError(t, m.Close())
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	testlog.Start(t)
	n := join(t, transport.NewHub(), 0, clock.NewManual(0))
	noop := func(context.Context, *controller.Controller) error { return nil }
	for i := 0; i < actionQueueSize; i++ {
		_, err := n.Submit("noop", noop)
		require.NoError(t, err)
	}
	_, err := n.Submit("noop", noop)
	require.ErrorIs(t, err, ErrActionsFull)
}

func TestInitialModeAndValidation(t *testing.T) {
	testlog.Start(t)
	hub := transport.NewHub()
	m, err := hub.Join(addr(0))
	require.NoError(t, err)
	opts := testOptions(clock.NewManual(0))
	opts.InitialMode = mode.TitleSunset
	n, err := New(m, opts)
	require.NoError(t, err)
	require.Equal(t, mode.TitleSunset, n.Status().Mode.Title)

	m2, err := hub.Join(addr(1))
	require.NoError(t, err)
	opts.InitialMode = "Disco"
	_, err = New(m2, opts)
	require.ErrorIs(t, err, controller.ErrUnknownMode)
}

func TestClusterConvergesOverLossyHub(t *testing.T) {
	if testing.Short() {
		t.Skip("runs real loops")
	}
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cluster, err := NewCluster(baseAddr, 3, Options{
		Name:              "sim",
		HeartbeatInterval: 50 * time.Millisecond,
		PeerTimeout:       2 * time.Second,
		LoopInterval:      5 * time.Millisecond,
	}, transport.WithLoss(0.05), transport.WithSeed(42))
	require.NoError(t, err)
	require.Equal(t, "sim-2", cluster.Nodes[2].Name())

	errc := make(chan error, 1)
	go func() { errc <- cluster.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, n := range cluster.Nodes {
			if len(n.Status().Peers) != 2 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	// repeat the local action until every replica has seen it despite loss
	first := cluster.Nodes[0]
	require.Eventually(t, func() bool {
		_ = first.Do(ctx, "rainbow", rainbowOnce)
		return cluster.Converged() && cluster.Nodes[2].Status().Mode.Title == mode.TitleRainbow
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
}

func rainbowOnce(ctx context.Context, c *controller.Controller) error {
	if c.Active().Title() != mode.TitleRainbow {
		return c.Activate(ctx, mode.TitleRainbow)
	}
	return c.Broadcast(ctx)
}
