// Package network implements the connection layer: dual-channel TCP clients
// and servers driven by connection profiles, with state machines, heartbeats,
// reconnection, and timeout-matched request/response correlation.
package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	pf "github.com/paynet/fep/go/protocols/fep"
	"github.com/paynet/fep/go/registry"
	log "github.com/sirupsen/logrus"
)

// DefaultSendQueue bounds the outbound queue when ClientConfig doesn't.
const DefaultSendQueue = 1024

// maxRetryDelay caps the exponential reconnect backoff.
const maxRetryDelay = 30 * time.Second

// StateChange describes one observed client transition.
type StateChange struct {
	Channel  string
	From, To ConnState
}

// ClientConfig parameterizes a Client.
type ClientConfig struct {
	// Channel is the logical channel ID this client serves.
	Channel string
	// Profile supplies transport settings (host, ports, timeouts, retry policy).
	Profile registry.ConnectionProfile
	// Codec frames and correlates messages on this link.
	Codec pf.Codec
	// TLSConfig applies when Profile.TLS is set; nil uses defaults.
	TLSConfig *tls.Config
	// SendQueue bounds the outbound queue; DefaultSendQueue if zero.
	SendQueue int
	// DisableSignOn skips the 0800 sign-on exchange, moving the client
	// directly to SignedOn once connected. Used for links whose peers
	// don't implement network management.
	DisableSignOn bool
	// OnStateChange observes transitions. Called synchronously with client
	// locks held; it must not call back into the Client.
	OnStateChange func(StateChange)
	// OnInbound handles peer-initiated messages which match no pending
	// request. Unmatched messages are logged and dropped when nil.
	OnInbound func(pf.Message)
}

// outbound is one queued write: an encoded frame, and an optional channel
// which receives the write result.
type outbound struct {
	frame []byte
	errCh chan error
}

// session is one established connection epoch: the socket pair of a single
// (re)connect. Loops hold the session they serve, so a stale loop's failure
// can't tear down a successor's sockets.
type session struct {
	send, recv net.Conn
	done       chan struct{}
	closeOnce  sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.send.Close()
		if s.recv != s.send {
			_ = s.recv.Close()
		}
	})
}

// Client is the outbound side of a channel: a dual-channel (or single-socket)
// TCP client with a state machine, heartbeats, reconnection, and correlated
// request/response exchange.
type Client struct {
	cfg ClientConfig

	state atomic.Int32 // ConnState; lock-free reads.
	mu    sync.Mutex   // Guards transitions, cur, and closed.

	cur    *session
	closed bool

	sendUp atomic.Bool
	recvUp atomic.Bool

	pending *pendingMap
	sendCh  chan outbound
	stan    atomic.Uint64

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewClient returns a Client for |cfg|. The client is Disconnected until
// Connect is called.
func NewClient(cfg ClientConfig) *Client {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}
	if cfg.Codec == nil {
		cfg.Codec = pf.JSONCodec{}
	}
	return &Client{
		cfg:     cfg,
		pending: newPendingMap(),
		sendCh:  make(chan outbound, cfg.SendQueue),
		closeCh: make(chan struct{}),
	}
}

// State returns the current state. Lock-free.
func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

// IsSendChannelConnected reports whether the send socket is up. Lock-free.
func (c *Client) IsSendChannelConnected() bool { return c.sendUp.Load() }

// IsReceiveChannelConnected reports whether the receive socket is up. Lock-free.
func (c *Client) IsReceiveChannelConnected() bool { return c.recvUp.Load() }

// IsSignedOn reports whether the client is operational. Lock-free.
func (c *Client) IsSignedOn() bool { return c.State() == SignedOn }

// PendingRequests returns the number of in-flight correlated requests.
func (c *Client) PendingRequests() int { return c.pending.len() }

// Channel returns the logical channel ID this client serves.
func (c *Client) Channel() string { return c.cfg.Channel }

// Connect drives Disconnected => Connecting => Connected, performs the
// sign-on exchange, and starts the send, receive, and heartbeat loops.
// With AutoReconnect set, dial failures retry with exponential backoff up to
// MaxRetries before the client enters Failed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCancelled
	}
	if !c.transitionLocked(Connecting) {
		var s = c.State()
		c.mu.Unlock()
		return fmt.Errorf("channel %s: cannot connect from state %s", c.cfg.Channel, s)
	}
	c.mu.Unlock()

	var err = c.dialOnce(ctx)
	if err == nil {
		return nil
	}
	if !c.cfg.Profile.AutoReconnect {
		c.transitionTo(Failed)
		return fmt.Errorf("connecting channel %s: %w", c.cfg.Channel, err)
	}
	if !c.transitionTo(Reconnecting) {
		return fmt.Errorf("connecting channel %s: %w", c.cfg.Channel, err)
	}
	if err = c.retryLoop(ctx, err); err != nil {
		return fmt.Errorf("connecting channel %s: %w", c.cfg.Channel, err)
	}
	return nil
}

// retryLoop runs reconnect attempts from state Reconnecting until one
// succeeds, retries exhaust (entering Failed), or the client closes.
func (c *Client) retryLoop(ctx context.Context, lastErr error) error {
	for attempt := 1; attempt <= c.cfg.Profile.MaxRetries; attempt++ {
		var delay = c.retryDelay(attempt)
		log.WithFields(log.Fields{
			"channel": c.cfg.Channel,
			"attempt": attempt,
			"delay":   delay,
			"err":     lastErr,
		}).Warn("connection attempt failed; backing off")

		var timer = time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.transitionTo(Failed)
			return ctx.Err()
		case <-c.closeCh:
			timer.Stop()
			return ErrCancelled
		}

		if !c.transitionTo(Connecting) {
			return ErrCancelled // Closed concurrently.
		}
		reconnectsCounter.WithLabelValues(c.cfg.Channel).Inc()

		if lastErr = c.dialOnce(ctx); lastErr == nil {
			return nil
		}
		if !c.transitionTo(Reconnecting) {
			return ErrCancelled
		}
	}
	c.transitionTo(Failed)
	return lastErr
}

// dialOnce makes a single connection attempt from state Connecting.
func (c *Client) dialOnce(ctx context.Context) error {
	var p = &c.cfg.Profile
	var connectTimeout = time.Duration(p.ConnectTimeout) * time.Millisecond

	var dial = func(port int) (net.Conn, error) {
		var addr = net.JoinHostPort(p.Host, strconv.Itoa(port))
		var dialer = &net.Dialer{Timeout: connectTimeout}

		if p.TLS {
			return (&tls.Dialer{NetDialer: dialer, Config: c.cfg.TLSConfig}).DialContext(ctx, "tcp", addr)
		}
		return dialer.DialContext(ctx, "tcp", addr)
	}

	sendConn, err := dial(p.SendPort)
	if err != nil {
		return fmt.Errorf("dialing send socket: %w", err)
	}
	var recvConn = sendConn
	if p.IsDualChannel() {
		if recvConn, err = dial(p.ReceivePort); err != nil {
			_ = sendConn.Close()
			return fmt.Errorf("dialing receive socket: %w", err)
		}
	}
	var sess = &session{send: sendConn, recv: recvConn, done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sess.close()
		return ErrCancelled
	}
	c.cur = sess
	c.transitionLocked(Connected)
	c.sendUp.Store(true)
	c.recvUp.Store(true)
	c.mu.Unlock()

	c.wg.Add(2)
	go c.sendLoop(sess)
	go c.recvLoop(sess)

	if c.cfg.DisableSignOn {
		c.transitionTo(SignedOn)
	} else {
		c.transitionTo(SigningOn)
		if err = c.signOn(ctx); err != nil {
			c.dropSession(sess)
			return fmt.Errorf("sign-on: %w", err)
		}
		c.transitionTo(SignedOn)
	}

	log.WithFields(log.Fields{
		"channel": c.cfg.Channel,
		"host":    p.Host,
		"dual":    p.IsDualChannel(),
	}).Info("channel connected and signed on")

	c.wg.Add(1)
	go c.heartbeatLoop(sess)
	return nil
}

// dropSession tears down |sess| without a state transition, leaving the
// caller (a connect attempt) to decide the next state.
func (c *Client) dropSession(sess *session) {
	c.mu.Lock()
	if c.cur == sess {
		c.cur = nil
		c.sendUp.Store(false)
		c.recvUp.Store(false)
	}
	c.mu.Unlock()
	sess.close()
}

// fail handles an I/O failure of |sess|. Stale sessions are ignored. When the
// client was operational, it moves to Reconnecting (with AutoReconnect) or
// Failed, and all pending requests resolve with ErrPeerClosed.
func (c *Client) fail(sess *session, cause error) {
	c.mu.Lock()
	if c.cur != sess || c.closed {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.sendUp.Store(false)
	c.recvUp.Store(false)

	var wasOperational = c.State() == SignedOn
	if wasOperational {
		if c.cfg.Profile.AutoReconnect {
			c.transitionLocked(Reconnecting)
		} else {
			c.transitionLocked(Failed)
		}
	}
	c.mu.Unlock()

	sess.close()
	c.pending.failAll(fmt.Errorf("%w: %s", ErrPeerClosed, cause))

	log.WithFields(log.Fields{
		"channel": c.cfg.Channel,
		"err":     cause,
	}).Warn("channel connection failed")

	if wasOperational && c.cfg.Profile.AutoReconnect {
		go func() {
			if err := c.retryLoop(context.Background(), cause); err != nil && err != ErrCancelled {
				log.WithFields(log.Fields{
					"channel": c.cfg.Channel,
					"err":     err,
				}).Error("channel reconnection exhausted retries")
			}
		}()
	}
}

func (c *Client) sendLoop(sess *session) {
	defer c.wg.Done()

	for {
		select {
		case out := <-c.sendCh:
			var err = writeFrame(sess.send, out.frame)
			if out.errCh != nil {
				out.errCh <- err
			}
			if err != nil {
				c.fail(sess, fmt.Errorf("writing frame: %w", err))
				return
			}
			messagesCounter.WithLabelValues(c.cfg.Channel, "sent").Inc()

		case <-sess.done:
			return
		}
	}
}

func (c *Client) recvLoop(sess *session) {
	defer c.wg.Done()

	for {
		var payload, err = readFrame(sess.recv)
		if err != nil {
			c.fail(sess, fmt.Errorf("reading frame: %w", err))
			return
		}
		messagesCounter.WithLabelValues(c.cfg.Channel, "received").Inc()

		msg, err := c.cfg.Codec.Decode(payload)
		if err != nil {
			// A decode failure is a protocol error of one message,
			// not of the connection.
			protocolErrors.WithLabelValues(c.cfg.Channel).Inc()
			log.WithFields(log.Fields{
				"channel": c.cfg.Channel,
				"err":     err,
			}).Warn("dropping undecodable message")
			continue
		}

		var key = c.cfg.Codec.CorrelationKey(msg)
		if c.pending.resolve(key, msg) {
			continue
		}
		if c.pending.wasLapsed(key) {
			// The requester gave up before the peer answered. This is a
			// late response, not peer-initiated traffic.
			lateResponsesCounter.WithLabelValues(c.cfg.Channel).Inc()
			log.WithFields(log.Fields{
				"channel": c.cfg.Channel,
				"key":     key,
				"mti":     msg.MTI,
			}).Warn("dropping late response")
			continue
		}
		if c.cfg.OnInbound != nil {
			c.cfg.OnInbound(msg)
			continue
		}
		unmatchedCounter.WithLabelValues(c.cfg.Channel).Inc()
		log.WithFields(log.Fields{
			"channel": c.cfg.Channel,
			"key":     key,
			"mti":     msg.MTI,
		}).Warn("dropping unmatched response")
	}
}

func (c *Client) heartbeatLoop(sess *session) {
	defer c.wg.Done()

	var interval = time.Duration(c.cfg.Profile.HeartbeatInterval) * time.Millisecond
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var msg = pf.Message{MTI: pf.MTINetworkRequest, STAN: c.nextSTAN()}
			msg.SetField(pf.FieldNetMgmtCode, pf.NetMgmtEcho)

			if _, err := c.exchange(context.Background(), msg, c.responseTimeout()); err != nil {
				heartbeatsCounter.WithLabelValues(c.cfg.Channel, "lost").Inc()
				c.fail(sess, fmt.Errorf("heartbeat: %w", err))
				return
			}
			heartbeatsCounter.WithLabelValues(c.cfg.Channel, "ok").Inc()

		case <-sess.done:
			return
		}
	}
}

// signOn performs the 0800/0810 sign-on exchange.
func (c *Client) signOn(ctx context.Context) error {
	var msg = pf.Message{MTI: pf.MTINetworkRequest, STAN: c.nextSTAN()}
	msg.SetField(pf.FieldNetMgmtCode, pf.NetMgmtSignOn)

	var resp, err = c.exchange(ctx, msg, c.responseTimeout())
	if err != nil {
		return err
	}
	if resp.MTI != pf.MTINetworkResponse {
		return fmt.Errorf("unexpected sign-on response MTI %q", resp.MTI)
	}
	if code := resp.Field(pf.FieldResponseCode); code != "" && !pf.IsApproval(code) {
		return fmt.Errorf("sign-on declined with response code %q", code)
	}
	return nil
}

// SendAndReceive sends |msg| and blocks until the correlated response
// arrives, or |timeout| (the profile's response timeout if zero) expires.
// It fails with ErrNotConnected unless the client is SignedOn.
func (c *Client) SendAndReceive(ctx context.Context, msg pf.Message, timeout time.Duration) (pf.Message, error) {
	if c.State() != SignedOn {
		return pf.Message{}, fmt.Errorf("channel %s: %w", c.cfg.Channel, ErrNotConnected)
	}
	if timeout <= 0 {
		timeout = c.responseTimeout()
	}
	return c.exchange(ctx, msg, timeout)
}

// SendOneWay sends |msg| and returns once it is written. It never awaits a
// reply.
func (c *Client) SendOneWay(msg pf.Message) error {
	if c.State() != SignedOn {
		return fmt.Errorf("channel %s: %w", c.cfg.Channel, ErrNotConnected)
	}
	var frame, err = c.cfg.Codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	var errCh = make(chan error, 1)
	if err = c.enqueue(frame, errCh); err != nil {
		return err
	}
	select {
	case err = <-errCh:
		return err
	case <-c.closeCh:
		return ErrCancelled
	}
}

// exchange is the correlation core shared by SendAndReceive, sign-on, and
// heartbeats. It does not check the client state.
func (c *Client) exchange(ctx context.Context, msg pf.Message, timeout time.Duration) (pf.Message, error) {
	var key = c.cfg.Codec.CorrelationKey(msg)
	var frame, err = c.cfg.Codec.Encode(msg)
	if err != nil {
		return pf.Message{}, fmt.Errorf("encoding message: %w", err)
	}

	var pr = c.pending.add(key, timeout)
	if pr == nil {
		return pf.Message{}, fmt.Errorf("correlation key %q: %w", key, ErrDuplicateCorrelation)
	}
	pendingGauge.WithLabelValues(c.cfg.Channel).Inc()
	defer pendingGauge.WithLabelValues(c.cfg.Channel).Dec()

	if err = c.enqueue(frame, nil); err != nil {
		c.pending.remove(key)
		return pf.Message{}, err
	}

	var timer = time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pr.ch:
		return res.msg, res.err
	case <-timer.C:
		c.pending.remove(key)
		return pf.Message{}, fmt.Errorf("correlation key %q after %s: %w", key, timeout, ErrTimeout)
	case <-ctx.Done():
		c.pending.remove(key)
		return pf.Message{}, ctx.Err()
	case <-c.closeCh:
		c.pending.remove(key)
		return pf.Message{}, ErrCancelled
	}
}

// enqueue adds a frame to the bounded send queue, blocking up to the
// profile's connect timeout before failing with ErrBackpressure.
func (c *Client) enqueue(frame []byte, errCh chan error) error {
	var out = outbound{frame: frame, errCh: errCh}
	select {
	case c.sendCh <- out:
		return nil
	default:
	}

	var timer = time.NewTimer(time.Duration(c.cfg.Profile.ConnectTimeout) * time.Millisecond)
	defer timer.Stop()

	select {
	case c.sendCh <- out:
		return nil
	case <-timer.C:
		return fmt.Errorf("channel %s: %w", c.cfg.Channel, ErrBackpressure)
	case <-c.closeCh:
		return ErrCancelled
	}
}

// Close moves the client to Disconnecting, cancels all pending requests with
// ErrCancelled, closes sockets, and settles at Disconnected. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.State() != Disconnected {
		c.transitionLocked(Disconnecting)
	}
	var sess = c.cur
	c.cur = nil
	c.sendUp.Store(false)
	c.recvUp.Store(false)
	c.mu.Unlock()

	close(c.closeCh)
	c.pending.failAll(ErrCancelled)
	if sess != nil {
		sess.close()
	}
	c.wg.Wait()

	c.mu.Lock()
	if c.State() == Disconnecting {
		c.transitionLocked(Disconnected)
	}
	c.mu.Unlock()

	log.WithField("channel", c.cfg.Channel).Info("channel closed")
	return nil
}

// transitionTo performs a legality-checked transition under lock.
func (c *Client) transitionTo(to ConnState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed && to != Disconnecting && to != Disconnected {
		return false
	}
	return c.transitionLocked(to)
}

// transitionLocked performs a transition with c.mu held. Illegal transitions
// are refused and logged, never applied.
func (c *Client) transitionLocked(to ConnState) bool {
	var from = c.State()
	if from == to {
		return true
	}
	if !connTransitionLegal(from, to) {
		log.WithFields(log.Fields{
			"channel": c.cfg.Channel,
			"from":    from,
			"to":      to,
		}).Error("refusing illegal state transition")
		return false
	}
	c.state.Store(int32(to))
	stateTransitions.WithLabelValues(c.cfg.Channel, to.String()).Inc()

	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(StateChange{Channel: c.cfg.Channel, From: from, To: to})
	}
	return true
}

func (c *Client) responseTimeout() time.Duration {
	return time.Duration(c.cfg.Profile.ResponseTimeout) * time.Millisecond
}

// retryDelay is the exponential backoff of reconnect |attempt| (1-based).
func (c *Client) retryDelay(attempt int) time.Duration {
	var d = time.Duration(c.cfg.Profile.RetryDelay) * time.Millisecond
	for i := 1; i < attempt && d < maxRetryDelay; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

func (c *Client) nextSTAN() string {
	return fmt.Sprintf("%06d", c.stan.Add(1)%1000000)
}
