// Package packet implements the wire format shared between the server and
// its game clients: a fixed little-endian header followed by a payload,
// carried in pooled buffers with explicit release.
package packet

import "encoding/binary"

// HeaderSize is the fixed prefix carried by every packet on both transports.
const HeaderSize = 8

// Header layout, all little-endian:
//
//	offset 0  uint16  total packet size including the header
//	offset 2  byte    property
//	offset 3  byte    delivery method
//	offset 4  uint16  p2p session id (relay addressing)
//	offset 6  uint16  session id for connection (rendezvous addressing)
const (
	sizeOffset         = 0
	propertyOffset     = 2
	deliveryOffset     = 3
	p2pSessionOffset   = 4
	connectionIDOffset = 6
)

// MaxPacketSize bounds a single packet on either transport.
const MaxPacketSize = 65535

// Property identifies what a packet carries and who interprets it.
type Property byte

const (
	PropertyNone Property = iota
	AliveCheck
	UserData
	Ack
	ViewRequest
	JoinP2p
	LeaveP2p
	RequestConnection
	ResponseConnection
	Request
	Response
)

func (p Property) String() string {
	switch p {
	case AliveCheck:
		return "AliveCheck"
	case UserData:
		return "UserData"
	case Ack:
		return "Ack"
	case ViewRequest:
		return "ViewRequest"
	case JoinP2p:
		return "JoinP2p"
	case LeaveP2p:
		return "LeaveP2p"
	case RequestConnection:
		return "RequestConnection"
	case ResponseConnection:
		return "ResponseConnection"
	case Request:
		return "Request"
	case Response:
		return "Response"
	}
	return "None"
}

// DeliveryMethod describes how the sending channel treats a packet.
type DeliveryMethod byte

const (
	Unreliable DeliveryMethod = iota
	ReliableOrdered
	ReliableUnordered
	Sequenced
)

// AliveCheck payload bytes.
const (
	AlivePing byte = 0xFF
	AlivePong byte = 0x00
)

// Packet is a pooled wire buffer. It is owned by exactly one holder at a
// time; whoever holds it must either hand it off or Release it.
type Packet struct {
	buf      []byte
	size     int
	pool     *Pool
	released bool
}

// Bytes returns the full packet (header plus payload) as currently sized.
func (p *Packet) Bytes() []byte { return p.buf[:p.size] }

// Payload returns the bytes following the header.
func (p *Packet) Payload() []byte { return p.buf[HeaderSize:p.size] }

// Size returns the total packet size including the header.
func (p *Packet) Size() int { return p.size }

// SetSize resizes the packet, growing the underlying buffer if needed.
func (p *Packet) SetSize(n int) {
	if n > cap(p.buf) {
		grown := make([]byte, n)
		copy(grown, p.buf)
		p.buf = grown
	} else if n > len(p.buf) {
		p.buf = p.buf[:cap(p.buf)]
	}
	p.size = n
}

// Buffer exposes the backing slice so transports can read directly into it.
func (p *Packet) Buffer() []byte { return p.buf }

func (p *Packet) Property() Property        { return Property(p.buf[propertyOffset]) }
func (p *Packet) SetProperty(prop Property) { p.buf[propertyOffset] = byte(prop) }

func (p *Packet) DeliveryMethod() DeliveryMethod     { return DeliveryMethod(p.buf[deliveryOffset]) }
func (p *Packet) SetDeliveryMethod(m DeliveryMethod) { p.buf[deliveryOffset] = byte(m) }

// P2pSessionId addresses relayed datagrams: the target session on the way
// in, rewritten to the sender session before forwarding.
func (p *Packet) P2pSessionId() uint16 {
	return binary.LittleEndian.Uint16(p.buf[p2pSessionOffset:])
}

func (p *Packet) SetP2pSessionId(id uint16) {
	binary.LittleEndian.PutUint16(p.buf[p2pSessionOffset:], id)
}

// SessionIdForConnection addresses rendezvous packets. Zero marks a
// server-originated response.
func (p *Packet) SessionIdForConnection() uint16 {
	return binary.LittleEndian.Uint16(p.buf[connectionIDOffset:])
}

func (p *Packet) SetSessionIdForConnection(id uint16) {
	binary.LittleEndian.PutUint16(p.buf[connectionIDOffset:], id)
}

// WireSize reads the size field from the header.
func (p *Packet) WireSize() int {
	return int(binary.LittleEndian.Uint16(p.buf[sizeOffset:]))
}

// Seal stamps the current size into the header, making the packet ready to
// transmit.
func (p *Packet) Seal() {
	binary.LittleEndian.PutUint16(p.buf[sizeOffset:], uint16(p.size))
}

// AppendPayload copies b onto the end of the packet and grows the size.
func (p *Packet) AppendPayload(b []byte) {
	end := p.size
	p.SetSize(end + len(b))
	copy(p.buf[end:], b)
}

// Release returns the packet to its pool. Releasing twice is a bug and
// panics so that ownership violations surface during development.
func (p *Packet) Release() {
	if p.released {
		panic("packet: released twice")
	}
	p.released = true
	p.pool.free(p)
}

// DecodeWireSize extracts the declared packet size from a raw header prefix.
func DecodeWireSize(header []byte) int {
	return int(binary.LittleEndian.Uint16(header[sizeOffset:]))
}
