// Package channel implements the per-session transports: a framed TCP
// channel and the UDP channel state bound during rendezvous.
package channel

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playg8/EuNet/internal/packet"
)

// TCPChannel frames packets over a single accepted connection. ReadPacket
// is driven by exactly one goroutine (the session's run loop); SendPacket
// is safe to call from any goroutine.
type TCPChannel struct {
	conn net.Conn
	pool *packet.Pool

	writeMu sync.Mutex
	closed  atomic.Bool

	// Unix nanos of the last received packet, read by the update sweep.
	lastReceived atomic.Int64

	sentCount     atomic.Int64
	receivedCount atomic.Int64
}

func NewTCPChannel(conn net.Conn, pool *packet.Pool) *TCPChannel {
	c := &TCPChannel{conn: conn, pool: pool}
	c.lastReceived.Store(time.Now().UnixNano())
	return c
}

// RemoteAddr returns the peer address of the underlying connection.
func (c *TCPChannel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// ReadPacket blocks until a complete frame has been received and returns it
// in a pooled packet owned by the caller.
func (c *TCPChannel) ReadPacket() (*packet.Packet, error) {
	header := make([]byte, packet.HeaderSize)
	if err := c.readFull(header); err != nil {
		return nil, err
	}

	size := packet.DecodeWireSize(header)
	if size < packet.HeaderSize || size > packet.MaxPacketSize {
		return nil, fmt.Errorf("tcp channel: bad frame size %d", size)
	}

	pkt := c.pool.AllocRaw(size)
	copy(pkt.Buffer(), header)
	if err := c.readFull(pkt.Bytes()[packet.HeaderSize:]); err != nil {
		pkt.Release()
		return nil, err
	}

	c.lastReceived.Store(time.Now().UnixNano())
	c.receivedCount.Add(1)
	return pkt, nil
}

func (c *TCPChannel) readFull(buf []byte) error {
	received := 0
	for received < len(buf) {
		n, err := c.conn.Read(buf[received:])
		received += n

		if n == 0 || err == io.EOF {
			return io.EOF
		} else if err != nil {
			return fmt.Errorf("tcp channel: read from %v: %w", c.conn.RemoteAddr(), err)
		}
	}
	return nil
}

// SendPacket seals and transmits a packet, taking ownership of it. The
// packet is released on every path.
func (c *TCPChannel) SendPacket(pkt *packet.Packet) error {
	defer pkt.Release()

	if c.closed.Load() {
		return fmt.Errorf("tcp channel: send on closed channel")
	}
	pkt.Seal()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	data := pkt.Bytes()
	sent := 0
	for sent < len(data) {
		n, err := c.conn.Write(data[sent:])
		if err != nil {
			return fmt.Errorf("tcp channel: send to %v: %w", c.conn.RemoteAddr(), err)
		}
		sent += n
	}

	c.sentCount.Add(1)
	return nil
}

// IdleFor reports how long the channel has gone without receiving a packet.
func (c *TCPChannel) IdleFor() time.Duration {
	return time.Duration(time.Now().UnixNano() - c.lastReceived.Load())
}

// SentCount returns the number of packets transmitted.
func (c *TCPChannel) SentCount() int64 { return c.sentCount.Load() }

// ReceivedCount returns the number of packets received.
func (c *TCPChannel) ReceivedCount() int64 { return c.receivedCount.Load() }

// Close shuts the connection down, unblocking any pending ReadPacket.
// Closing more than once is a no-op.
func (c *TCPChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
