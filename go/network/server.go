package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	pf "github.com/paynet/fep/go/protocols/fep"
	"github.com/paynet/fep/go/registry"
	log "github.com/sirupsen/logrus"
)

// InboundHandler processes a peer-initiated message, returning the response
// to write and whether to write one.
type InboundHandler func(ctx context.Context, channel string, msg pf.Message) (pf.Message, bool)

// ServerConfig parameterizes a Server.
type ServerConfig struct {
	// Channel is the logical channel ID this server serves.
	Channel string
	// Profile supplies the listening ports and TLS flag. A port of zero
	// binds an ephemeral port, reported by ActualSendPort / ActualReceivePort.
	Profile registry.ConnectionProfile
	// Codec frames and correlates messages on this link.
	Codec pf.Codec
	// Handler receives inbound financial messages. Network-management
	// requests (sign-on, echo) are answered by the server itself.
	Handler InboundHandler
	// TLSConfig applies when Profile.TLS is set; it must carry certificates.
	TLSConfig *tls.Config
}

// Server is the inbound mirror of Client: it binds listening sockets on the
// profile's send and receive ports (a single socket when they coincide),
// accepts peer connections, and dispatches inbound messages to its handler.
// Servers cannot be reconnected; operators stop and then start them.
type Server struct {
	cfg ServerConfig

	state atomic.Int32 // ServerState; lock-free reads.
	mu    sync.Mutex

	listeners []net.Listener
	conns     map[net.Conn]struct{}
	peerCount atomic.Int32

	ctx      context.Context
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer returns a Server for |cfg|, in state ServerStopped.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Codec == nil {
		cfg.Codec = pf.JSONCodec{}
	}
	return &Server{
		cfg:   cfg,
		conns: make(map[net.Conn]struct{}),
	}
}

// State returns the current state. Lock-free.
func (s *Server) State() ServerState { return ServerState(s.state.Load()) }

// PeerCount returns the number of connected peer sockets.
func (s *Server) PeerCount() int { return int(s.peerCount.Load()) }

// Channel returns the logical channel ID this server serves.
func (s *Server) Channel() string { return s.cfg.Channel }

// ActualSendPort returns the concretely bound send port, or zero if not
// running. Useful when the configured port is zero (ephemeral).
func (s *Server) ActualSendPort() int { return s.actualPort(0) }

// ActualReceivePort returns the concretely bound receive port, or zero if
// not running. Equal to ActualSendPort for single-channel profiles.
func (s *Server) ActualReceivePort() int {
	if !s.cfg.Profile.IsDualChannel() {
		return s.ActualSendPort()
	}
	return s.actualPort(1)
}

func (s *Server) actualPort(i int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.listeners) {
		return 0
	}
	var addr, ok = s.listeners[i].Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}

// Start binds the listening sockets and begins accepting peers,
// driving ServerStopped => ServerStarting => ServerRunning.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.transitionLocked(ServerStarting) {
		var st = s.State()
		s.mu.Unlock()
		return fmt.Errorf("channel %s: cannot start server from state %s", s.cfg.Channel, st)
	}
	s.ctx, s.cancelFn = context.WithCancel(ctx)
	s.mu.Unlock()

	var p = &s.cfg.Profile
	var ports = []int{p.SendPort}
	if p.IsDualChannel() {
		ports = append(ports, p.ReceivePort)
	}

	var listeners []net.Listener
	for _, port := range ports {
		var l, err = net.Listen("tcp", net.JoinHostPort(p.Host, strconv.Itoa(port)))
		if err == nil && p.TLS {
			if s.cfg.TLSConfig == nil {
				err = fmt.Errorf("profile requires TLS but no TLS configuration was provided")
			} else {
				l = tls.NewListener(l, s.cfg.TLSConfig)
			}
		}
		if err != nil {
			for _, prev := range listeners {
				_ = prev.Close()
			}
			s.mu.Lock()
			s.transitionLocked(ServerFailed)
			s.mu.Unlock()
			return fmt.Errorf("channel %s: listening on port %d: %w", s.cfg.Channel, port, err)
		}
		listeners = append(listeners, l)
	}

	s.mu.Lock()
	s.listeners = listeners
	s.transitionLocked(ServerRunning)
	s.mu.Unlock()

	for _, l := range listeners {
		s.wg.Add(1)
		go s.acceptLoop(l)
	}

	log.WithFields(log.Fields{
		"channel":     s.cfg.Channel,
		"sendPort":    s.ActualSendPort(),
		"receivePort": s.ActualReceivePort(),
	}).Info("channel server started")
	return nil
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()

	for {
		var conn, err = l.Accept()
		if err != nil {
			if s.State() == ServerRunning && s.ctx.Err() == nil {
				log.WithFields(log.Fields{
					"channel": s.cfg.Channel,
					"err":     err,
				}).Error("accept failed")
			}
			return
		}

		s.mu.Lock()
		if s.State() != ServerRunning {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.peerCount.Add(1)
		serverPeersGauge.WithLabelValues(s.cfg.Channel).Inc()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn runs the receive loop of one accepted peer, dispatching inbound
// messages and writing responses back on the same socket.
func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()

		s.peerCount.Add(-1)
		serverPeersGauge.WithLabelValues(s.cfg.Channel).Dec()
		s.wg.Done()
	}()

	for {
		var payload, err = readFrame(conn)
		if err != nil {
			return
		}
		messagesCounter.WithLabelValues(s.cfg.Channel, "received").Inc()

		msg, err := s.cfg.Codec.Decode(payload)
		if err != nil {
			protocolErrors.WithLabelValues(s.cfg.Channel).Inc()
			log.WithFields(log.Fields{
				"channel": s.cfg.Channel,
				"err":     err,
			}).Warn("dropping undecodable message")
			continue
		}

		var resp pf.Message
		var reply bool
		if msg.MTI == pf.MTINetworkRequest {
			resp, reply = s.handleNetMgmt(msg), true
		} else if s.cfg.Handler != nil {
			resp, reply = s.cfg.Handler(s.ctx, s.cfg.Channel, msg)
		} else {
			log.WithFields(log.Fields{
				"channel": s.cfg.Channel,
				"mti":     msg.MTI,
			}).Warn("dropping inbound message with no handler")
			continue
		}
		if !reply {
			continue
		}

		frame, err := s.cfg.Codec.Encode(resp)
		if err != nil {
			log.WithFields(log.Fields{
				"channel": s.cfg.Channel,
				"err":     err,
			}).Error("failed to encode response")
			continue
		}
		if err = writeFrame(conn, frame); err != nil {
			log.WithFields(log.Fields{
				"channel": s.cfg.Channel,
				"err":     err,
			}).Warn("failed to write response; dropping peer")
			return
		}
		messagesCounter.WithLabelValues(s.cfg.Channel, "sent").Inc()
	}
}

// handleNetMgmt answers sign-on, sign-off, and echo-test requests.
func (s *Server) handleNetMgmt(msg pf.Message) pf.Message {
	var resp = pf.Message{
		MTI:      pf.ResponseMTI(msg.MTI),
		STAN:     msg.STAN,
		RRN:      msg.RRN,
		Terminal: msg.Terminal,
	}
	resp.SetField(pf.FieldNetMgmtCode, msg.Field(pf.FieldNetMgmtCode))

	switch msg.Field(pf.FieldNetMgmtCode) {
	case pf.NetMgmtSignOn, pf.NetMgmtSignOff, pf.NetMgmtEcho:
		resp.SetField(pf.FieldResponseCode, pf.CodeApproved)
	default:
		resp.SetField(pf.FieldResponseCode, pf.CodeInvalidTransaction)
	}
	return resp
}

// Stop closes the listeners and all peer connections, driving
// ServerRunning => ServerStopping => ServerStopped.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.transitionLocked(ServerStopping) {
		var st = s.State()
		s.mu.Unlock()
		return fmt.Errorf("channel %s: cannot stop server from state %s", s.cfg.Channel, st)
	}
	var listeners = s.listeners
	s.listeners = nil
	var conns = make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	if s.cancelFn != nil {
		s.cancelFn()
	}
	for _, l := range listeners {
		_ = l.Close()
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.transitionLocked(ServerStopped)
	s.mu.Unlock()

	log.WithField("channel", s.cfg.Channel).Info("channel server stopped")
	return nil
}

// transitionLocked performs a legality-checked transition with s.mu held.
func (s *Server) transitionLocked(to ServerState) bool {
	var from = s.State()
	if from == to {
		return true
	}
	if !serverTransitionLegal(from, to) {
		log.WithFields(log.Fields{
			"channel": s.cfg.Channel,
			"from":    from,
			"to":      to,
		}).Error("refusing illegal server state transition")
		return false
	}
	s.state.Store(int32(to))
	return true
}
