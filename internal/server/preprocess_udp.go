package server

import (
	"fmt"
	"net"

	"github.com/playg8/EuNet/internal/packet"
)

// preProcessUDP interprets relay, rendezvous, and connection packets on
// the UDP plane. It returns true when it consumed the datagram; a false
// return hands the datagram to the session owning the sender endpoint.
//
// The UDP plane never trusts its input: unknown targets, unset endpoints,
// unknown senders, and rendezvous mismatches are all silently dropped.
func (s *Server) preProcessUDP(pkt *packet.Packet, sender *net.UDPAddr) (consumed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.events.OnErrored(fmt.Errorf("udp preprocess: from %v: %v", sender, r))
			consumed = true
		}
	}()

	if s.cfg.Debugging.PacketLoggingEnabled {
		s.logger.Debugf("udp: recv %s from %v (%d bytes)", pkt.Property(), sender, pkt.Size())
	}

	switch pkt.Property() {
	case packet.UserData, packet.Ack, packet.ViewRequest:
		return s.relay(pkt, sender)
	case packet.RequestConnection:
		s.rendezvous(pkt, sender)
		return true
	case packet.ResponseConnection:
		// Handled client-side; the server has nothing to do with one.
		return true
	}

	return false
}

// relay forwards a peer-addressed datagram to its target session,
// rewriting the sender identity in place so the recipient sees the true
// origin. Relay to self is permitted.
func (s *Server) relay(pkt *packet.Packet, sender *net.UDPAddr) bool {
	target := pkt.P2pSessionId()
	if target == 0 {
		// Server-addressed: the owning session's channel processes it.
		return false
	}

	targetSession := s.registry.Find(target)
	if targetSession == nil || targetSession.UDP() == nil {
		return true
	}
	targetEp := targetSession.UDP().PunchedEndPoint()
	if targetEp == nil {
		return true
	}
	senderSession := s.udp.TryGetSession(sender)
	if senderSession == nil {
		return true
	}

	pkt.SetP2pSessionId(senderSession.ID())

	if err := s.udp.SendTo(pkt.Bytes(), targetEp); err != nil {
		s.logger.Debugf("udp: relay %d -> %d: %v", senderSession.ID(), target, err)
		return true
	}
	s.udp.countRelay(pkt.Size())
	return true
}

// rendezvous binds a client's observed UDP endpoint to the TCP session it
// claims, authenticated by the connect id nonce. Re-received requests are
// idempotent: the response is re-sent but the index entry is added at most
// once.
func (s *Server) rendezvous(pkt *packet.Packet, sender *net.UDPAddr) {
	sid := pkt.SessionIdForConnection()

	r := packet.NewReader(pkt.Payload())
	connectID, err := r.ReadUint64()
	if err != nil {
		return
	}
	localEp, err := r.ReadEndpoint()
	if err != nil {
		return
	}

	sess := s.registry.Find(sid)
	if sess == nil || sess.UDP() == nil || sess.ConnectID() != connectID {
		return
	}

	udp := sess.UDP()
	udp.SetEndpoints(localEp, sender)
	if udp.SetPunchedEndPoint(sender) {
		s.udp.AddSession(sess)
		s.logger.Infof("session %d: udp rendezvous complete via %v", sess.ID(), sender)
	}

	resp := s.pool.Alloc(packet.ResponseConnection, packet.Unreliable)
	resp.SetSessionIdForConnection(0)
	resp.Seal()
	if err := s.udp.SendTo(resp.Bytes(), sender); err != nil {
		s.logger.Debugf("session %d: rendezvous response: %v", sess.ID(), err)
	}
	resp.Release()
}
