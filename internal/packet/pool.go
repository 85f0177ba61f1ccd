package packet

import (
	"sync"
	"sync/atomic"
)

// defaultBufferSize fits any UDP datagram we expect and the common case for
// TCP frames; SetSize grows past it when a larger TCP frame arrives.
const defaultBufferSize = 2048

// Pool hands out reusable packet buffers. Alloc and Release are counted so
// scenarios can assert that every allocation was returned exactly once.
type Pool struct {
	pool       sync.Pool
	bufferSize int

	allocCount atomic.Int64
	freeCount  atomic.Int64
}

// NewPool creates a pool of packets with bufferSize-byte backing buffers.
// A bufferSize of zero uses the default.
func NewPool(bufferSize int) *Pool {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	p := &Pool{bufferSize: bufferSize}
	p.pool.New = func() interface{} {
		return &Packet{buf: make([]byte, bufferSize), pool: p}
	}
	return p
}

// Alloc returns a header-only packet with the given property and delivery
// method stamped in and every other header field zeroed.
func (p *Pool) Alloc(prop Property, method DeliveryMethod) *Packet {
	pkt := p.pool.Get().(*Packet)
	pkt.released = false
	pkt.size = HeaderSize
	for i := 0; i < HeaderSize; i++ {
		pkt.buf[i] = 0
	}
	pkt.SetProperty(prop)
	pkt.SetDeliveryMethod(method)
	p.allocCount.Add(1)
	return pkt
}

// AllocRaw returns a packet sized to hold n bytes with no header stamping,
// for receive paths that fill the buffer straight off the wire.
func (p *Pool) AllocRaw(n int) *Packet {
	pkt := p.pool.Get().(*Packet)
	pkt.released = false
	pkt.size = HeaderSize
	pkt.SetSize(n)
	p.allocCount.Add(1)
	return pkt
}

func (p *Pool) free(pkt *Packet) {
	p.freeCount.Add(1)
	p.pool.Put(pkt)
}

// AllocCount returns the number of packets handed out since creation.
func (p *Pool) AllocCount() int64 { return p.allocCount.Load() }

// FreeCount returns the number of packets released since creation.
func (p *Pool) FreeCount() int64 { return p.freeCount.Load() }

// Outstanding returns the number of live packets. Zero after a complete
// scenario means no leaks.
func (p *Pool) Outstanding() int64 { return p.allocCount.Load() - p.freeCount.Load() }
