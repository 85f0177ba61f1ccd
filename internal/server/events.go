package server

import "github.com/playg8/EuNet/internal/packet"

// Events is the hook surface exposed to embedders. Implementations must be
// safe for concurrent invocation: session events arrive from each session's
// own goroutine and error events can arrive from any of the server's loops.
//
// For every accepted session, OnSessionConnected is delivered exactly once
// and strictly before any OnSessionReceived for that session;
// OnSessionClosed is delivered exactly once and strictly after all of them.
type Events interface {
	OnSessionConnected(s *Session)
	OnSessionClosed(s *Session)

	// OnSessionReceived handles a one-way message. Returning an error
	// closes the session.
	OnSessionReceived(s *Session, r *packet.Reader) error

	// OnSessionRequestReceived handles a request no RPC service consumed.
	// Whatever is written to w is sent back as the response frame.
	OnSessionRequestReceived(s *Session, r *packet.Reader, w *packet.Writer) error

	// OnSessionErrored reports a per-session failure (I/O error, panic in
	// an update tick). The session is closed afterwards where applicable.
	OnSessionErrored(s *Session, err error)

	// OnErrored reports failures not attributable to one session, such as
	// a panic inside a preprocessor.
	OnErrored(err error)
}

// NopEvents implements Events with no-ops so embedders can override only
// the hooks they care about.
type NopEvents struct{}

func (NopEvents) OnSessionConnected(*Session) {}
func (NopEvents) OnSessionClosed(*Session)    {}

func (NopEvents) OnSessionReceived(*Session, *packet.Reader) error { return nil }

func (NopEvents) OnSessionRequestReceived(*Session, *packet.Reader, *packet.Writer) error {
	return nil
}

func (NopEvents) OnSessionErrored(*Session, error) {}
func (NopEvents) OnErrored(error)                  {}
