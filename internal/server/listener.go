package server

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// tcpListener accepts inbound connections and hands them to the server's
// accept callback. Stopping is idempotent; a failed bind is fatal to start.
type tcpListener struct {
	addr     string
	logger   *logrus.Logger
	onAccept func(net.Conn)

	listener net.Listener
	closed   atomic.Bool
	done     chan struct{}
}

func newTCPListener(addr string, logger *logrus.Logger, onAccept func(net.Conn)) *tcpListener {
	return &tcpListener{
		addr:     addr,
		logger:   logger,
		onAccept: onAccept,
		done:     make(chan struct{}),
	}
}

// bind opens the listening socket. Failure to bind is fatal for start.
func (l *tcpListener) bind() error {
	socket, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", l.addr, err)
	}
	l.listener = socket

	l.logger.Infof("waiting for connections on %v", socket.Addr())
	return nil
}

// run accepts connections until the socket closes.
func (l *tcpListener) run() error {
	defer close(l.done)

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() {
				return nil
			}
			l.logger.Warnf("failed to accept connection: %v", err)
			continue
		}
		l.onAccept(conn)
	}
}

// Addr returns the bound address, useful when the configured port was 0.
func (l *tcpListener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// stop ceases accepting and closes the listening socket. Repeated stops
// are no-ops.
func (l *tcpListener) stop() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	if l.listener != nil {
		_ = l.listener.Close()
		<-l.done
	}
}
