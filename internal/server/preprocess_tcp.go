package server

import (
	"fmt"

	"github.com/playg8/EuNet/internal/packet"
)

// preProcessTCP intercepts control packets on the TCP receive path before
// the general dispatch sees them. It returns true when the packet was
// consumed; ownership of the received packet always stays with the caller.
//
// The preprocessor is synchronous by contract so it can never head-of-line
// block the read loop. A panic inside it surfaces through OnErrored and
// still counts as consumed, preventing duplicate dispatch.
func (s *Server) preProcessTCP(sess *Session, pkt *packet.Packet) (consumed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.events.OnErrored(fmt.Errorf("tcp preprocess: session %d: %v", sess.ID(), r))
			consumed = true
		}
	}()

	switch pkt.Property() {
	case packet.AliveCheck:
		payload := pkt.Payload()
		if len(payload) >= 1 && payload[0] == packet.AlivePing {
			pong := s.pool.Alloc(packet.AliveCheck, packet.ReliableOrdered)
			pong.AppendPayload([]byte{packet.AlivePong})
			if err := sess.TCP().SendPacket(pong); err != nil {
				s.logger.Warnf("session %d: keepalive reply: %v", sess.ID(), err)
			}
		}
		// Unsolicited pongs fall through to here and are dropped.
		return true

	case packet.JoinP2p:
		s.p2p.Join(pkt.P2pSessionId(), sess)
		return true

	case packet.LeaveP2p:
		s.p2p.Leave(pkt.P2pSessionId(), sess)
		return true
	}

	return false
}
