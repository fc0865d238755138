package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/glowlink/internal/peers"
	"github.com/danmuck/glowlink/internal/protocol/frame"
	"github.com/danmuck/glowlink/internal/protocol/identity"
	"github.com/danmuck/glowlink/internal/protocol/message"
	"github.com/danmuck/glowlink/internal/testutil/testlog"
)

var (
	addrA = identity.Address{0x24, 0x6F, 0x28, 0x00, 0x00, 0x0A}
	addrB = identity.Address{0x24, 0x6F, 0x28, 0x00, 0x00, 0x0B}
)

type recordingMedium struct {
	mu     sync.Mutex
	addr   identity.Address
	frames [][]byte
	recv   Receiver
}

func (m *recordingMedium) Broadcast(_ context.Context, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, append([]byte(nil), raw...))
	return nil
}

func (m *recordingMedium) Listen(r Receiver) error {
	m.recv = r
	return nil
}

func (m *recordingMedium) Close() error              { return nil }
func (m *recordingMedium) Address() identity.Address { return m.addr }

func (m *recordingMedium) sent(t *testing.T) []message.Type {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]message.Type, 0, len(m.frames))
	for _, raw := range m.frames {
		f, err := frame.Decode(raw)
		require.NoError(t, err)
		typ, _, err := message.Unmarshal(f.Payload)
		require.NoError(t, err)
		out = append(out, typ)
	}
	return out
}

func hubPair(t *testing.T, cfg Config) (*Link, *Link, *HubMedium) {
	t.Helper()
	hub := NewHub()
	ma, err := hub.Join(addrA)
	require.NoError(t, err)
	mb, err := hub.Join(addrB)
	require.NoError(t, err)
	la, err := NewLink(ma, cfg)
	require.NoError(t, err)
	lb, err := NewLink(mb, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = la.Close()
		_ = lb.Close()
	})
	return la, lb, mb
}

func encodeFrom(t *testing.T, addr identity.Address, typ message.Type, body any) []byte {
	t.Helper()
	payload, err := message.Marshal(typ, body)
	require.NoError(t, err)
	raw, err := frame.Encode(addr, identity.Derive(addr), payload)
	require.NoError(t, err)
	return raw
}

func TestSendReachesPeer(t *testing.T) {
	testlog.Start(t)
	la, lb, _ := hubPair(t, Config{})

	ev := message.Event{Title: "Rainbow", Version: "1.0.0", OptionIndex: 2, Brightness: 180,
		Registry: map[string]any{"speed": 3}}
	require.NoError(t, la.Send(context.Background(), message.TypeEvent, ev))

	var got []message.Envelope
	require.Eventually(t, func() bool {
		got = append(got, lb.Drain(0)...)
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	env := got[0]
	require.Equal(t, la.ID(), env.SenderID)
	require.Equal(t, addrA, env.Address)
	decoded, err := env.Event()
	require.NoError(t, err)
	require.Equal(t, "Rainbow", decoded.Title)
	require.EqualValues(t, 3, decoded.Registry["speed"])
}

func TestMalformedLengthIsDroppedBeforeTheLoop(t *testing.T) {
	testlog.Start(t)
	_, lb, mb := hubPair(t, Config{})
	dir := peers.New(4, time.Second)

	raw := make([]byte, frame.HeaderLen+50)
	copy(raw, addrA[:])
	binary.BigEndian.PutUint32(raw[6:10], identity.Derive(addrA))
	binary.BigEndian.PutUint16(raw[10:12], 300)
	mb.Inject(raw, addrA)

	for _, env := range lb.Drain(0) {
		lb.Observe(context.Background(), env, dir, 0)
	}
	require.Equal(t, 0, dir.Len())
	require.EqualValues(t, 1, lb.Stats().Malformed)
	require.EqualValues(t, 0, lb.Stats().Received)
}

func TestIdentityMismatchIsDropped(t *testing.T) {
	testlog.Start(t)
	_, lb, mb := hubPair(t, Config{})

	raw := encodeFrom(t, addrA, message.TypeHeartbeat, message.Heartbeat{Uptime: 5})
	mb.Inject(raw, identity.Address{0x24, 0x6F, 0x28, 0x00, 0x00, 0xFF})

	require.Empty(t, lb.Drain(0))
	require.EqualValues(t, 1, lb.Stats().IdentityMismatch)
}

func TestOwnFramesAreIgnored(t *testing.T) {
	testlog.Start(t)
	_, lb, mb := hubPair(t, Config{})

	mb.Inject(encodeFrom(t, addrB, message.TypeHeartbeat, message.Heartbeat{Uptime: 5}), addrB)

	require.Empty(t, lb.Drain(0))
	require.EqualValues(t, 1, lb.Stats().Own)
}

func TestForeignFrameClaimingOurIDIsIdentityMismatch(t *testing.T) {
	testlog.Start(t)
	_, lb, mb := hubPair(t, Config{})

	raw := encodeFrom(t, addrB, message.TypeHeartbeat, message.Heartbeat{Uptime: 5})
	mb.Inject(raw, addrA)

	require.Empty(t, lb.Drain(0))
	require.EqualValues(t, 1, lb.Stats().IdentityMismatch)
	require.EqualValues(t, 0, lb.Stats().Own)
}

func TestUndecodablePayloadIsDropped(t *testing.T) {
	testlog.Start(t)
	_, lb, mb := hubPair(t, Config{})

	raw, err := frame.Encode(addrA, identity.Derive(addrA), []byte{0xff, 0x00, 0x13})
	require.NoError(t, err)
	mb.Inject(raw, addrA)

	require.Empty(t, lb.Drain(0))
	require.EqualValues(t, 1, lb.Stats().Deserialize)
}

func TestQueueOverflowDropsNewest(t *testing.T) {
	testlog.Start(t)
	_, lb, mb := hubPair(t, Config{QueueCapacity: 2})

	for i := uint64(1); i <= 3; i++ {
		mb.Inject(encodeFrom(t, addrA, message.TypeHeartbeat, message.Heartbeat{Uptime: i}), addrA)
	}

	got := lb.Drain(0)
	require.Len(t, got, 2)
	for i, env := range got {
		hb, err := env.Heartbeat()
		require.NoError(t, err)
		require.EqualValues(t, i+1, hb.Uptime)
	}
	require.EqualValues(t, 1, lb.Stats().QueueFull)
}

func TestDrainRespectsMax(t *testing.T) {
	testlog.Start(t)
	_, lb, mb := hubPair(t, Config{})
	for i := 0; i < 5; i++ {
		mb.Inject(encodeFrom(t, addrA, message.TypeSync, message.Sync{Timestamp: 1}), addrA)
	}
	require.Len(t, lb.Drain(3), 3)
	require.Equal(t, 2, lb.Pending())
	require.Len(t, lb.Drain(0), 2)
}

func TestTickHeartbeatInterval(t *testing.T) {
	testlog.Start(t)
	m := &recordingMedium{addr: addrA}
	l, err := NewLink(m, Config{HeartbeatInterval: time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	l.Tick(ctx, 0)
	l.Tick(ctx, 500*time.Millisecond)
	l.Tick(ctx, time.Second)
	require.Len(t, m.sent(t), 1)

	l.Tick(ctx, time.Second+time.Millisecond)
	require.Equal(t, []message.Type{message.TypeHeartbeat, message.TypeHeartbeat}, m.sent(t))
}

func TestObserveRecordsPresenceAndUptime(t *testing.T) {
	testlog.Start(t)
	m := &recordingMedium{addr: addrB}
	l, err := NewLink(m, Config{EchoHeartbeats: true})
	require.NoError(t, err)
	dir := peers.New(4, time.Second)
	ctx := context.Background()

	m.recv(encodeFrom(t, addrA, message.TypeHeartbeat, message.Heartbeat{Uptime: 1234}), addrA)
	envs := l.Drain(0)
	require.Len(t, envs, 1)

	require.True(t, l.Observe(ctx, envs[0], dir, 10*time.Millisecond))
	require.False(t, l.Observe(ctx, envs[0], dir, 20*time.Millisecond))

	n, ok := dir.Get(identity.Derive(addrA))
	require.True(t, ok)
	require.True(t, n.HasUptime)
	require.EqualValues(t, 1234, n.Uptime)
	require.Equal(t, 20*time.Millisecond, n.LastSeen)
	require.Equal(t, []message.Type{message.TypeEcho, message.TypeEcho}, m.sent(t))
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	testlog.Start(t)
	m := &recordingMedium{addr: addrA}
	l, err := NewLink(m, Config{})
	require.NoError(t, err)

	ev := message.Event{Title: "Static Light", Version: "1.0.0",
		Registry: map[string]any{"label": strings.Repeat("x", 300)}}
	err = l.Send(context.Background(), message.TypeEvent, ev)
	require.True(t, errors.Is(err, frame.ErrPayloadTooLarge), "got %v", err)
	require.Empty(t, m.sent(t))
}

func TestHubLossDropsEverything(t *testing.T) {
	testlog.Start(t)
	hub := NewHub(WithLoss(1), WithSeed(7))
	ma, err := hub.Join(addrA)
	require.NoError(t, err)
	mb, err := hub.Join(addrB)
	require.NoError(t, err)
	la, err := NewLink(ma, Config{})
	require.NoError(t, err)
	lb, err := NewLink(mb, Config{})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, la.Send(context.Background(), message.TypeSync, message.Sync{Timestamp: 9}))
	}
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, lb.Drain(0))

	_, err = hub.Join(addrA)
	require.Error(t, err)
	require.NoError(t, ma.Close())
	require.ErrorIs(t, la.Send(context.Background(), message.TypeSync, message.Sync{}), ErrClosed)
	require.ErrorIs(t, mb.Listen(func([]byte, identity.Address) {}), ErrAlreadyListening)
}

func TestObserveRecordsSyncTimestampAsUptime(t *testing.T) {
	testlog.Start(t)
	m := &recordingMedium{addr: addrB}
	l, err := NewLink(m, Config{})
	require.NoError(t, err)
	dir := peers.New(4, time.Second)

	m.recv(encodeFrom(t, addrA, message.TypeSync, message.Sync{Timestamp: 4000}), addrA)
	envs := l.Drain(0)
	require.Len(t, envs, 1)
	require.True(t, l.Observe(context.Background(), envs[0], dir, 50*time.Millisecond))
	require.True(t, dir.HasElder(1000, 60*time.Millisecond))
	require.Empty(t, m.sent(t), "sync must not be echoed")
}
