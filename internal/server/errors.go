package server

import "errors"

var (
	// ErrConfigInvalid covers invalid options and operations attempted in
	// the wrong server state (e.g. registering an RPC service while running).
	ErrConfigInvalid = errors.New("config invalid")

	// ErrBindFailed is returned when the TCP listener or the UDP socket
	// cannot be bound.
	ErrBindFailed = errors.New("bind failed")

	// ErrCapacityExceeded is returned when inserting a session past
	// MaxSession; the factory reports it by returning nothing.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrSessionClosed names the condition of a session that has already
	// left the Connected state. No function in this module returns it.
	ErrSessionClosed = errors.New("session closed")
)
