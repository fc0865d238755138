package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/protocol/frame"
	"github.com/danmuck/glowlink/internal/protocol/identity"
)

const DefaultGroup = "239.0.71.71:4711"

// readBufferSize exceeds the largest legal frame so oversized datagrams reach
// the decoder and are rejected there.
const readBufferSize = 2 * frame.MaxFrameLen

type UDPConfig struct {
	Address identity.Address
	// Group is the IPv4 multicast group and port.
	Group string
	// Interface names the NIC to join on; empty lets the kernel choose.
	Interface string
}

// UDPMedium broadcasts frames to an IPv4 multicast group on the local network.
// UDP carries no hardware address, so the link-level source of a frame is the
// address the frame itself advertises.
type UDPMedium struct {
	addr   identity.Address
	group  *net.UDPAddr
	ifi    *net.Interface
	conn   net.PacketConn
	pc     *ipv4.PacketConn
	closed atomic.Bool
	once   sync.Once
	wg     sync.WaitGroup
	listen atomic.Bool
}

func NewUDPMedium(cfg UDPConfig) (*UDPMedium, error) {
	groupAddr := strings.TrimSpace(cfg.Group)
	if groupAddr == "" {
		groupAddr = DefaultGroup
	}
	group, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve group %q: %w", groupAddr, err)
	}
	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("transport: %s is not a multicast group", group.IP)
	}
	var ifi *net.Interface
	if name := strings.TrimSpace(cfg.Interface); name != "" {
		ifi, err = net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("transport: interface %q: %w", name, err)
		}
	}

	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", group.Port))
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group.IP}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: join %s: %w", group.IP, err)
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("transport: multicast interface: %w", err)
		}
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		logs.Warnf("transport.NewUDPMedium loopback err=%v", err)
	}
	if err := pc.SetMulticastTTL(1); err != nil {
		logs.Warnf("transport.NewUDPMedium ttl err=%v", err)
	}
	logs.Infof("transport.NewUDPMedium addr=%s group=%s iface=%q", cfg.Address, group, cfg.Interface)
	return &UDPMedium{addr: cfg.Address, group: group, ifi: ifi, conn: conn, pc: pc}, nil
}

func (m *UDPMedium) Address() identity.Address { return m.addr }

func (m *UDPMedium) Broadcast(ctx context.Context, raw []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := m.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := m.pc.WriteTo(raw, nil, m.group)
	return err
}

func (m *UDPMedium) Listen(r Receiver) error {
	if !m.listen.CompareAndSwap(false, true) {
		return ErrAlreadyListening
	}
	m.wg.Add(1)
	go m.readLoop(r)
	return nil
}

func (m *UDPMedium) readLoop(r Receiver) {
	defer m.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		n, _, src, err := m.pc.ReadFrom(buf)
		if err != nil {
			if m.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logs.Warnf("transport.UDPMedium.readLoop err=%v", err)
			continue
		}
		var from identity.Address
		if n >= len(from) {
			copy(from[:], buf[:len(from)])
		}
		logs.Tracef("transport.UDPMedium.readLoop bytes=%d src=%v", n, src)
		r(buf[:n], from)
	}
}

func (m *UDPMedium) Close() error {
	var err error
	m.once.Do(func() {
		m.closed.Store(true)
		_ = m.pc.LeaveGroup(m.ifi, &net.UDPAddr{IP: m.group.IP})
		err = m.conn.Close()
		m.wg.Wait()
	})
	return err
}
