// Package server implements the session server runtime: listener
// acceptance, session lifecycle, TCP/UDP packet preprocessing, the RPC
// dispatch chain, the periodic session-update scheduler, and the UDP
// relay/rendezvous plane.
package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/playg8/EuNet/internal/core"
	"github.com/playg8/EuNet/internal/packet"
)

// ServerState tracks the server's linear lifecycle.
type ServerState int32

const (
	StateNone ServerState = iota
	StateStarting
	StateStarted
	StateStopping
	StateStopped
)

func (s ServerState) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateStarted:
		return "Started"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	}
	return "None"
}

// Server owns all of the runtime pieces and runs them under one lifecycle.
type Server struct {
	cfg     *core.Config
	logger  *logrus.Logger
	events  Events
	metrics *core.Metrics
	pool    *packet.Pool

	state atomic.Int32

	registry *SessionRegistry
	factory  *sessionFactory
	p2p      *P2pManager
	rpc      *rpcDispatcher

	listener  *tcpListener
	udp       *UdpEndpoint
	scheduler *updateScheduler

	httpServer *http.Server

	group     *errgroup.Group
	sessionWg sync.WaitGroup
}

// New assembles a server from its configuration. Nothing is bound until
// Start.
func New(cfg *core.Config, logger *logrus.Logger, events Events) *Server {
	if events == nil {
		events = NopEvents{}
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		events:   events,
		metrics:  core.NewMetrics(),
		pool:     packet.NewPool(0),
		registry: NewSessionRegistry(cfg.MaxSession),
		factory:  newSessionFactory(cfg.MaxSession),
		p2p:      NewP2pManager(logger),
		rpc:      &rpcDispatcher{},
	}
}

// State returns the current lifecycle state.
func (s *Server) State() ServerState { return ServerState(s.state.Load()) }

func (s *Server) transition(from, to ServerState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// AddRpcService registers an RPC service on the dispatch chain. Services
// can only be registered while the server has never started or is fully
// stopped.
func (s *Server) AddRpcService(svc RpcService) error {
	if st := s.State(); st != StateNone && st != StateStopped {
		return fmt.Errorf("adding rpc service in state %v: %w", st, ErrConfigInvalid)
	}
	return s.rpc.register(svc)
}

// Start binds the transports and brings all of the loops up. It requires
// the None or Stopped state; a bind failure leaves the server in Starting
// until Reset is called.
func (s *Server) Start() error {
	if !s.transition(StateNone, StateStarting) && !s.transition(StateStopped, StateStarting) {
		return fmt.Errorf("start requires state None or Stopped, have %v: %w", s.State(), ErrConfigInvalid)
	}

	if err := s.cfg.Validate(); err != nil {
		s.state.Store(int32(StateNone))
		return fmt.Errorf("%v: %w", err, ErrConfigInvalid)
	}
	for _, advisory := range s.cfg.UpdateIntervalAdvisories() {
		s.logger.Warn(advisory)
	}

	s.group = &errgroup.Group{}

	if s.cfg.UDPServer.Enabled {
		conn, err := bindUDP(s.cfg.UDPAddress(), s.cfg.UDPServer.ReuseAddress)
		if err != nil {
			return fmt.Errorf("udp %s: %v: %w", s.cfg.UDPAddress(), err, ErrBindFailed)
		}
		s.udp = newUdpEndpoint(conn, s.pool, s.logger, s.metrics)
		s.udp.preProcess = s.preProcessUDP
		s.udp.deliver = s.deliverUDP
	}

	s.listener = newTCPListener(s.cfg.TCPAddress(), s.logger, s.acceptConn)
	if err := s.listener.bind(); err != nil {
		if s.udp != nil {
			s.udp.closeSocket()
			s.udp = nil
		}
		return fmt.Errorf("tcp %s: %v: %w", s.cfg.TCPAddress(), err, ErrBindFailed)
	}

	s.scheduler = newUpdateScheduler(s.cfg.UpdateInterval(), s.registry, s.events, s.logger)

	s.group.Go(s.listener.run)
	if s.udp != nil {
		s.group.Go(s.udp.receiveLoop)
		s.logger.Infof("%s: udp service on %s", s.cfg.Name, s.cfg.UDPAddress())
	}
	s.group.Go(s.scheduler.run)
	s.startHTTP()

	s.state.Store(int32(StateStarted))
	s.logger.Infof("%s: started (max %d sessions)", s.cfg.Name, s.cfg.MaxSession)
	return nil
}

// startHTTP serves the metrics registry (and optionally pprof) when a web
// port is configured.
func (s *Server) startHTTP() {
	if s.cfg.Web.HTTPPort <= 0 {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	if s.cfg.Debugging.PprofEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Hostname, s.cfg.Web.HTTPPort),
		Handler: mux,
	}
	s.group.Go(func() error {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warnf("http server: %v", err)
		}
		return nil
	})
}

// deliverUDP hands a server-addressed datagram to its session, isolating
// panics so the receive loop keeps going.
func (s *Server) deliverUDP(sess *Session, pkt *packet.Packet) {
	defer func() {
		if r := recover(); r != nil {
			s.events.OnSessionErrored(sess, fmt.Errorf("udp dispatch: session %d: %v", sess.ID(), r))
		}
	}()
	sess.handleUDP(pkt)
}

// acceptConn admits one accepted TCP connection. The factory returning
// nothing is the capacity gate: the connection is closed, no session event
// fires, and the listener keeps accepting.
func (s *Server) acceptConn(conn net.Conn) {
	if s.State() != StateStarted {
		_ = conn.Close()
		return
	}

	id, connectID, ok := s.factory.acquire()
	if !ok {
		s.metrics.SessionsRejected.Inc()
		s.logger.Infof("rejected connection from %s: session capacity (%d) reached",
			conn.RemoteAddr(), s.cfg.MaxSession)
		_ = conn.Close()
		return
	}

	sess := newSession(id, connectID, conn, s)
	if err := s.registry.Insert(sess); err != nil {
		s.factory.release(id)
		s.logger.Warnf("%v", err)
		_ = conn.Close()
		return
	}

	s.metrics.SessionsAccepted.Inc()
	s.metrics.ActiveSessions.Inc()
	s.logger.Infof("accepted connection from %s as session %d", conn.RemoteAddr(), id)

	s.sessionWg.Add(1)
	go func() {
		defer s.sessionWg.Done()
		sess.run()
	}()
}

// releaseSession detaches a finished session from every shared structure
// and recycles its identity. Invoked exactly once per session, from its
// own exit path.
func (s *Server) releaseSession(sess *Session) {
	s.registry.Remove(sess.ID())
	if s.udp != nil {
		s.udp.RemoveSession(sess)
	}
	s.p2p.OnSessionClosed(sess)
	s.factory.release(sess.ID())
	s.metrics.ActiveSessions.Dec()
	s.logger.Infof("disconnected session %d", sess.ID())
}

// Stop shuts everything down in order: listener first (no new sessions),
// then the sessions and their read loops, the update scheduler, the UDP
// endpoint, and finally the P2P state. After Stop returns no further
// callbacks fire.
func (s *Server) Stop() error {
	if !s.transition(StateStarted, StateStopping) {
		return fmt.Errorf("stop requires state Started, have %v: %w", s.State(), ErrConfigInvalid)
	}
	s.logger.Infof("%s: stopping", s.cfg.Name)

	s.listener.stop()

	s.registry.ForEach(func(sess *Session) { sess.Close() })
	s.sessionWg.Wait()

	s.scheduler.stopAndJoin()

	if s.udp != nil {
		s.udp.close()
		s.udp = nil
	}

	if s.httpServer != nil {
		_ = s.httpServer.Close()
		s.httpServer = nil
	}

	s.p2p.Clear()

	if err := s.group.Wait(); err != nil {
		s.logger.Warnf("shutdown: %v", err)
	}

	s.state.Store(int32(StateStopped))
	s.logger.Infof("%s: stopped", s.cfg.Name)
	return nil
}

// Reset returns a server whose Start failed from Starting back to None so
// it can be reconfigured and started again.
func (s *Server) Reset() error {
	if !s.transition(StateStarting, StateNone) {
		return fmt.Errorf("reset requires state Starting, have %v: %w", s.State(), ErrConfigInvalid)
	}
	return nil
}

// Dispose is the best-effort teardown: it stops the server if it is
// running and swallows any failure.
func (s *Server) Dispose() {
	if s.State() == StateStarted {
		_ = s.Stop()
	}
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int { return s.registry.Count() }

// Registry exposes the session registry for embedders (lookups, sweeps).
func (s *Server) Registry() *SessionRegistry { return s.registry }

// P2p exposes the p2p group manager.
func (s *Server) P2p() *P2pManager { return s.p2p }

// TCPAddr returns the bound TCP address once started.
func (s *Server) TCPAddr() net.Addr { return s.listener.Addr() }

// Statistics surface. The UDP counters read zero when UDP service is off.
func (s *Server) UdpReceivedCount() int64 {
	if s.udp == nil {
		return 0
	}
	return s.udp.ReceivedCount()
}

func (s *Server) UdpReceivedBytes() int64 {
	if s.udp == nil {
		return 0
	}
	return s.udp.ReceivedBytes()
}

func (s *Server) RelayServCount() int64 {
	if s.udp == nil {
		return 0
	}
	return s.udp.RelayCount()
}

func (s *Server) RelayServBytes() int64 {
	if s.udp == nil {
		return 0
	}
	return s.udp.RelayBytes()
}

// PacketPool exposes the shared pool, mainly so scenarios can assert the
// allocation/free accounting.
func (s *Server) PacketPool() *packet.Pool { return s.pool }
