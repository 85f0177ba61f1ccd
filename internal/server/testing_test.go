package server

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/playg8/EuNet/internal/core"
	"github.com/playg8/EuNet/internal/packet"
)

// recorder captures the event stream for assertions. The optional hooks
// let individual tests take over message/request handling.
type recorder struct {
	NopEvents

	connected chan *Session
	closed    chan *Session
	errored   chan error

	onMessage func(s *Session, r *packet.Reader) error
	onRequest func(s *Session, r *packet.Reader, w *packet.Writer) error
}

func newRecorder() *recorder {
	return &recorder{
		connected: make(chan *Session, 16),
		closed:    make(chan *Session, 16),
		errored:   make(chan error, 16),
	}
}

func (r *recorder) OnSessionConnected(s *Session) { r.connected <- s }
func (r *recorder) OnSessionClosed(s *Session)    { r.closed <- s }

func (r *recorder) OnSessionReceived(s *Session, reader *packet.Reader) error {
	if r.onMessage != nil {
		return r.onMessage(s, reader)
	}
	return nil
}

func (r *recorder) OnSessionRequestReceived(s *Session, reader *packet.Reader, w *packet.Writer) error {
	if r.onRequest != nil {
		return r.onRequest(s, reader, w)
	}
	return nil
}

func (r *recorder) OnSessionErrored(s *Session, err error) {
	select {
	case r.errored <- err:
	default:
	}
}

func (r *recorder) OnErrored(err error) {
	select {
	case r.errored <- err:
	default:
	}
}

func waitSession(t *testing.T, ch chan *Session, what string) *Session {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s event", what)
		return nil
	}
}

func expectNoSession(t *testing.T, ch chan *Session, wait time.Duration, what string) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("unexpected %s event for session %d", what, s.ID())
	case <-time.After(wait):
	}
}

func testConfig() *core.Config {
	cfg := &core.Config{
		Name:                  "test",
		Hostname:              "127.0.0.1",
		MaxSession:            4,
		SessionUpdateInterval: 20,
		AliveTimeout:          60000,
	}
	cfg.Logging.LogLevel = "error"
	return cfg
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestServer assembles a server without binding anything, wiring a fake
// UDP socket when asked so the preprocessors can be driven directly.
func newTestServer(t *testing.T, withUDP bool) (*Server, *recorder, *fakeUDPConn) {
	t.Helper()

	rec := newRecorder()
	srv := New(testConfig(), testLogger(), rec)

	var conn *fakeUDPConn
	if withUDP {
		conn = &fakeUDPConn{}
		srv.udp = newUdpEndpoint(conn, srv.pool, srv.logger, srv.metrics)
		srv.udp.preProcess = srv.preProcessUDP
		srv.udp.deliver = srv.deliverUDP
	}
	return srv, rec, conn
}

// addTestSession creates a registered session backed by a pipe, returning
// the client half for driving it.
func addTestSession(t *testing.T, srv *Server) (*Session, net.Conn) {
	t.Helper()

	id, connectID, ok := srv.factory.acquire()
	require.True(t, ok, "factory at capacity")

	client, serverConn := net.Pipe()
	sess := newSession(id, connectID, serverConn, srv)
	require.NoError(t, srv.registry.Insert(sess))
	sess.state.Store(int32(SessionConnected))

	t.Cleanup(func() { client.Close() })
	return sess, client
}

// fakeUDPConn records outbound datagrams and serves a scripted inbound
// queue to the receive loop.
type fakeUDPConn struct {
	mu   sync.Mutex
	sent []sentDatagram

	inbound []inboundDatagram
}

type sentDatagram struct {
	data []byte
	addr *net.UDPAddr
}

type inboundDatagram struct {
	data   []byte
	sender *net.UDPAddr
}

func (f *fakeUDPConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.inbound) == 0 {
		return 0, nil, net.ErrClosed
	}
	d := f.inbound[0]
	f.inbound = f.inbound[1:]
	n := copy(b, d.data)
	return n, d.sender, nil
}

func (f *fakeUDPConn) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentDatagram{data: append([]byte(nil), b...), addr: addr})
	return len(b), nil
}

func (f *fakeUDPConn) Close() error { return nil }

func (f *fakeUDPConn) sentDatagrams() []sentDatagram {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentDatagram(nil), f.sent...)
}

func (f *fakeUDPConn) queue(data []byte, sender *net.UDPAddr) {
	f.mu.Lock()
	f.inbound = append(f.inbound, inboundDatagram{data: data, sender: sender})
	f.mu.Unlock()
}

// buildFrame assembles a raw wire frame the way a client would.
func buildFrame(prop packet.Property, method packet.DeliveryMethod, p2pID, connID uint16, payload []byte) []byte {
	frame := make([]byte, packet.HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(frame[0:], uint16(len(frame)))
	frame[2] = byte(prop)
	frame[3] = byte(method)
	binary.LittleEndian.PutUint16(frame[4:], p2pID)
	binary.LittleEndian.PutUint16(frame[6:], connID)
	copy(frame[packet.HeaderSize:], payload)
	return frame
}

// readFrame reads one frame off a client connection.
func readFrame(t *testing.T, conn net.Conn) (packet.Property, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	header := make([]byte, packet.HeaderSize)
	_, err := io.ReadFull(conn, header)
	require.NoError(t, err)

	size := int(binary.LittleEndian.Uint16(header))
	payload := make([]byte, size-packet.HeaderSize)
	_, err = io.ReadFull(conn, payload)
	require.NoError(t, err)

	return packet.Property(header[2]), payload
}
