package channel

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/playg8/EuNet/internal/packet"
)

// Sender is the outbound half of the UDP plane, implemented by the server's
// single bound socket.
type Sender interface {
	SendTo(data []byte, addr *net.UDPAddr) error
}

// UDPChannel holds the per-session UDP state established by rendezvous.
// The punched endpoint is the externally observed address the client's
// datagrams actually arrive from; it is set exactly once and from then on
// is the authoritative reply address.
type UDPChannel struct {
	sender Sender

	mu              sync.Mutex
	localEndPoint   *net.UDPAddr
	remoteEndPoint  *net.UDPAddr
	punchedEndPoint *net.UDPAddr

	sentCount     atomic.Int64
	receivedCount atomic.Int64
}

func NewUDPChannel(sender Sender) *UDPChannel {
	return &UDPChannel{sender: sender}
}

// SetEndpoints records the client-reported local endpoint and the remote
// endpoint the rendezvous datagram arrived from.
func (c *UDPChannel) SetEndpoints(local, remote *net.UDPAddr) {
	c.mu.Lock()
	c.localEndPoint = local
	c.remoteEndPoint = remote
	c.mu.Unlock()
}

// LocalEndPoint returns the endpoint the client reported for itself.
func (c *UDPChannel) LocalEndPoint() *net.UDPAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localEndPoint
}

// RemoteEndPoint returns the address the rendezvous arrived from.
func (c *UDPChannel) RemoteEndPoint() *net.UDPAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteEndPoint
}

// SetPunchedEndPoint records the observed endpoint on first call and
// reports whether this call was the one that set it. Later calls leave the
// original value untouched.
func (c *UDPChannel) SetPunchedEndPoint(addr *net.UDPAddr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.punchedEndPoint != nil {
		return false
	}
	c.punchedEndPoint = addr
	return true
}

// PunchedEndPoint returns the observed endpoint, or nil before rendezvous
// completes.
func (c *UDPChannel) PunchedEndPoint() *net.UDPAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.punchedEndPoint
}

// SendPacket seals and transmits a packet to the punched endpoint, taking
// ownership of it.
func (c *UDPChannel) SendPacket(pkt *packet.Packet) error {
	defer pkt.Release()

	ep := c.PunchedEndPoint()
	if ep == nil {
		return fmt.Errorf("udp channel: no punched endpoint yet")
	}

	pkt.Seal()
	if err := c.sender.SendTo(pkt.Bytes(), ep); err != nil {
		return err
	}
	c.sentCount.Add(1)
	return nil
}

// CountReceived records one inbound datagram handled by this channel.
func (c *UDPChannel) CountReceived() { c.receivedCount.Add(1) }

// SentCount returns the number of datagrams transmitted.
func (c *UDPChannel) SentCount() int64 { return c.sentCount.Load() }

// ReceivedCount returns the number of datagrams received.
func (c *UDPChannel) ReceivedCount() int64 { return c.receivedCount.Load() }
