package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playg8/EuNet/internal/channel"
	"github.com/playg8/EuNet/internal/packet"
)

// SessionState tracks a session through its lifecycle.
type SessionState int32

const (
	SessionInit SessionState = iota
	SessionConnected
	SessionClosing
	SessionClosed
)

// Session is one connected client: its TCP channel, the UDP channel bound
// during rendezvous, and the dispatch state for packets it sends.
//
// The read loop runs on the session's own goroutine; update ticks arrive
// from the scheduler's goroutine and must stay safe against the loop.
type Session struct {
	id        uint16
	connectID uint64

	tcp *channel.TCPChannel
	udp *channel.UDPChannel

	srv *Server

	state     atomic.Int32
	closeOnce sync.Once
}

func newSession(id uint16, connectID uint64, conn net.Conn, srv *Server) *Session {
	s := &Session{
		id:        id,
		connectID: connectID,
		tcp:       channel.NewTCPChannel(conn, srv.pool),
		srv:       srv,
	}
	if srv.udp != nil {
		s.udp = channel.NewUDPChannel(srv.udp)
	}
	return s
}

// ID returns the session's 16-bit identifier (never zero).
func (s *Session) ID() uint16 { return s.id }

// ConnectID returns the nonce that binds UDP rendezvous to this session.
func (s *Session) ConnectID() uint64 { return s.connectID }

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// TCP returns the session's TCP channel.
func (s *Session) TCP() *channel.TCPChannel { return s.tcp }

// UDP returns the session's UDP channel, or nil when UDP service is off.
func (s *Session) UDP() *channel.UDPChannel { return s.udp }

// RemoteAddr returns the TCP peer address.
func (s *Session) RemoteAddr() net.Addr { return s.tcp.RemoteAddr() }

// run drives the TCP read loop until the connection drops or the session
// is closed. It owns the connected/closed event pair: connected is emitted
// before the first read, closed after the last dispatch, so embedders see
// them in order around every receive.
func (s *Session) run() {
	defer s.finish()

	s.state.Store(int32(SessionConnected))
	s.srv.events.OnSessionConnected(s)

	for {
		pkt, err := s.tcp.ReadPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && s.State() == SessionConnected {
				s.srv.logger.Warnf("session %d: %v", s.id, err)
				s.srv.events.OnSessionErrored(s, err)
			}
			return
		}

		if err := s.handlePacket(pkt); err != nil {
			s.srv.logger.Warnf("session %d: dispatch: %v", s.id, err)
			s.srv.events.OnSessionErrored(s, err)
			return
		}
	}
}

// finish recovers any panic from the loop, closes the connection, emits the
// closed event, and hands the session back to the factory. This is the one
// exit path for every session.
func (s *Session) finish() {
	if r := recover(); r != nil {
		err := fmt.Errorf("session %d: panic: %v", s.id, r)
		s.srv.logger.Errorf("%v\n%s", err, debug.Stack())
		s.srv.events.OnSessionErrored(s, err)
	}

	s.Close()
	s.state.Store(int32(SessionClosed))
	s.srv.events.OnSessionClosed(s)
	s.srv.releaseSession(s)
}

// handlePacket routes one received TCP packet: preprocessor first, then
// message or request dispatch. The packet is released on every path.
func (s *Session) handlePacket(pkt *packet.Packet) error {
	defer pkt.Release()

	if s.srv.cfg.Debugging.PacketLoggingEnabled {
		s.srv.logger.Debugf("session %d: recv %s (%d bytes)", s.id, pkt.Property(), pkt.Size())
	}

	if s.srv.preProcessTCP(s, pkt) {
		return nil
	}

	switch pkt.Property() {
	case packet.UserData:
		return s.srv.events.OnSessionReceived(s, packet.NewReader(pkt.Payload()))
	case packet.Request:
		return s.handleRequest(pkt)
	default:
		// The UDP-plane properties have no business on the TCP stream.
		s.srv.logger.Debugf("session %d: ignoring %s on tcp", s.id, pkt.Property())
		return nil
	}
}

// handleRequest walks the RPC chain and sends the response frame back,
// echoing the request id so the client can pair it up. A frame too short
// for the request id, or an error from a service or the user handler, is
// returned without sending any response.
func (s *Session) handleRequest(pkt *packet.Packet) error {
	r := packet.NewReader(pkt.Payload())
	requestID, err := r.ReadUint32()
	if err != nil {
		return fmt.Errorf("request frame too short: %w", err)
	}

	w := packet.NewWriter()
	handled, err := s.srv.rpc.dispatch(s, r, w)
	if err != nil {
		return err
	}
	if !handled {
		if err := s.srv.events.OnSessionRequestReceived(s, r, w); err != nil {
			return err
		}
	}

	resp := s.srv.pool.Alloc(packet.Response, packet.ReliableOrdered)
	var header [4]byte
	header[0] = byte(requestID)
	header[1] = byte(requestID >> 8)
	header[2] = byte(requestID >> 16)
	header[3] = byte(requestID >> 24)
	resp.AppendPayload(header[:])
	resp.AppendPayload(w.Bytes())
	return s.tcp.SendPacket(resp)
}

// handleUDP processes a server-addressed datagram that the preprocessor
// passed through. Ownership of the packet stays with the receive loop.
func (s *Session) handleUDP(pkt *packet.Packet) {
	if s.State() != SessionConnected || s.udp == nil {
		return
	}
	s.udp.CountReceived()

	switch pkt.Property() {
	case packet.UserData, packet.ViewRequest:
		if err := s.srv.events.OnSessionReceived(s, packet.NewReader(pkt.Payload())); err != nil {
			s.srv.events.OnSessionErrored(s, err)
			s.Close()
		}
	case packet.Ack:
		// The UDP channel keeps no reliability state; an ack is only counted.
	default:
		s.srv.logger.Debugf("session %d: ignoring %s on udp", s.id, pkt.Property())
	}
}

// Update advances the session's timers. It is invoked from the scheduler's
// goroutine and becomes a no-op once the session leaves Connected, which
// also absorbs the one trailing tick a snapshot iteration may deliver
// after removal.
func (s *Session) Update(elapsedMs int64) {
	if s.State() != SessionConnected {
		return
	}

	timeout := time.Duration(s.srv.cfg.AliveTimeout) * time.Millisecond
	if timeout > 0 && s.tcp.IdleFor() > timeout {
		s.srv.logger.Infof("session %d: no traffic for %v, closing", s.id, timeout)
		s.Close()
	}
}

// Close begins shutdown: the state moves to Closing and the connection is
// closed, which unblocks the read loop; the loop's exit path emits the
// closed event and releases the session. Safe to call from any goroutine,
// any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(SessionClosing))
		if err := s.tcp.Close(); err != nil {
			s.srv.logger.Debugf("session %d: close: %v", s.id, err)
		}
	})
}
