package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"syscall"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/playg8/EuNet/internal/core"
	"github.com/playg8/EuNet/internal/packet"
)

// udpConn is the slice of *net.UDPConn the endpoint uses, split out so
// tests can drive the receive loop with a fake socket.
type udpConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	Close() error
}

// UdpEndpoint is the single bound UDP socket shared by every session: it
// receives datagrams into pooled packets, runs them through the UDP
// preprocessor, and maintains the punched-endpoint reverse index that makes
// sessions addressable on the UDP plane.
type UdpEndpoint struct {
	conn    udpConn
	pool    *packet.Pool
	logger  *logrus.Logger
	metrics *core.Metrics

	// punched endpoint string -> *Session
	index *cache.Cache

	receivedCount atomic.Int64
	receivedBytes atomic.Int64
	relayCount    atomic.Int64
	relayBytes    atomic.Int64

	// preProcess returns true when it consumed the datagram; deliver hands
	// server-addressed datagrams to the session owning the sender endpoint.
	preProcess func(pkt *packet.Packet, sender *net.UDPAddr) bool
	deliver    func(s *Session, pkt *packet.Packet)

	closed atomic.Bool
	done   chan struct{}
}

func newUdpEndpoint(conn udpConn, pool *packet.Pool, logger *logrus.Logger, metrics *core.Metrics) *UdpEndpoint {
	return &UdpEndpoint{
		conn:    conn,
		pool:    pool,
		logger:  logger,
		metrics: metrics,
		index:   cache.New(cache.NoExpiration, 0),
		done:    make(chan struct{}),
	}
}

// bindUDP opens the endpoint's socket, optionally with SO_REUSEADDR set
// before the bind.
func bindUDP(address string, reuseAddress bool) (*net.UDPConn, error) {
	var lc net.ListenConfig
	if reuseAddress {
		lc.Control = func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		}
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", address)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// receiveLoop reads datagrams until the socket closes. Any single-datagram
// failure is logged and skipped; the loop itself only exits on close.
func (e *UdpEndpoint) receiveLoop() error {
	defer close(e.done)

	for {
		pkt := e.pool.AllocRaw(packet.HeaderSize)
		n, sender, err := e.conn.ReadFromUDP(pkt.Buffer())
		if err != nil {
			pkt.Release()
			if e.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.logger.Debugf("udp: read: %v", err)
			continue
		}

		if n < packet.HeaderSize {
			pkt.Release()
			continue
		}
		pkt.SetSize(n)

		e.receivedCount.Add(1)
		e.receivedBytes.Add(int64(n))
		e.metrics.UDPReceived.Inc()
		e.metrics.UDPReceivedBytes.Add(float64(n))

		e.handleDatagram(pkt, sender)
	}
}

// handleDatagram owns the packet for the rest of the receive path and
// releases it on every exit, panics included.
func (e *UdpEndpoint) handleDatagram(pkt *packet.Packet, sender *net.UDPAddr) {
	defer pkt.Release()

	if e.preProcess(pkt, sender) {
		return
	}

	// Server-addressed datagram: only sessions that completed rendezvous
	// are addressable; everything else is dropped unseen.
	if s := e.TryGetSession(sender); s != nil {
		e.deliver(s, pkt)
	}
}

// SendTo transmits a raw datagram to the given endpoint.
func (e *UdpEndpoint) SendTo(data []byte, addr *net.UDPAddr) error {
	if _, err := e.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("udp: send to %v: %w", addr, err)
	}
	return nil
}

// AddSession registers the session under its punched endpoint, making it
// addressable by the UDP plane.
func (e *UdpEndpoint) AddSession(s *Session) {
	ep := s.UDP().PunchedEndPoint()
	if ep == nil {
		return
	}
	e.index.Set(ep.String(), s, cache.NoExpiration)
}

// RemoveSession drops the session's reverse-index entry, if any.
func (e *UdpEndpoint) RemoveSession(s *Session) {
	if s.UDP() == nil {
		return
	}
	if ep := s.UDP().PunchedEndPoint(); ep != nil {
		e.index.Delete(ep.String())
	}
}

// TryGetSession resolves the session whose punched endpoint matches the
// given address, or nil.
func (e *UdpEndpoint) TryGetSession(addr *net.UDPAddr) *Session {
	v, ok := e.index.Get(addr.String())
	if !ok {
		return nil
	}
	return v.(*Session)
}

func (e *UdpEndpoint) countRelay(bytes int) {
	e.relayCount.Add(1)
	e.relayBytes.Add(int64(bytes))
	e.metrics.RelayServed.Inc()
	e.metrics.RelayServedBytes.Add(float64(bytes))
}

// Statistics counters.
func (e *UdpEndpoint) ReceivedCount() int64 { return e.receivedCount.Load() }
func (e *UdpEndpoint) ReceivedBytes() int64 { return e.receivedBytes.Load() }
func (e *UdpEndpoint) RelayCount() int64    { return e.relayCount.Load() }
func (e *UdpEndpoint) RelayBytes() int64    { return e.relayBytes.Load() }

// close shuts the socket down and waits for the receive loop to drain.
func (e *UdpEndpoint) close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	_ = e.conn.Close()
	<-e.done
}

// closeSocket tears the socket down without waiting for the loop, for the
// start failure path where the loop was never launched.
func (e *UdpEndpoint) closeSocket() {
	if e.closed.CompareAndSwap(false, true) {
		_ = e.conn.Close()
	}
}
