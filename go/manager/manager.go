// Package manager is the authoritative controller over dual-channel clients
// and servers, keyed by channel ID. It subscribes to the registry and
// reconciles running instances against the desired set of active bindings,
// and exposes the operator surface (add, remove, reconnect, queries).
package manager

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/paynet/fep/go/network"
	pf "github.com/paynet/fep/go/protocols/fep"
	"github.com/paynet/fep/go/registry"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"
)

// ErrChannelNotConfigured: the registry holds no binding for the channel.
var ErrChannelNotConfigured = errors.New("channel is not configured")

// signOnProperty disables the sign-on exchange when a binding, channel, or
// profile sets it to "false".
const signOnProperty = "signOn"

// Config parameterizes a Manager.
type Config struct {
	// Registry supplying bindings and profiles.
	Registry *registry.Registry
	// Codec used by constructed clients and servers.
	Codec pf.Codec
	// Handler for inbound messages of server-mode channels.
	Handler network.InboundHandler
	// TLSConfig for channels whose profile sets TLS.
	TLSConfig *tls.Config
	// OnStateChange observes client transitions across all channels.
	OnStateChange func(network.StateChange)
}

// Manager owns the Client and Server instances of configured channels.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	clients  map[string]*network.Client
	servers  map[string]*network.Server
	shutdown bool

	// reconcileCh coalesces registry-update triggers for the reconcile loop.
	reconcileCh chan struct{}
	sub         *registry.Subscription
}

// New returns a Manager over |cfg.Registry|, subscribed for configuration
// changes. Reconciliation runs on the task queued by QueueTasks.
func New(cfg Config) *Manager {
	var m = &Manager{
		cfg:         cfg,
		clients:     make(map[string]*network.Client),
		servers:     make(map[string]*network.Server),
		reconcileCh: make(chan struct{}, 1),
	}
	m.sub = cfg.Registry.Subscribe(m)
	return m
}

// ConnectionsUpdated implements registry.Subscriber. It only signals the
// reconcile loop; reconciliation itself is serialized there.
func (m *Manager) ConnectionsUpdated([]*registry.ChannelConnection, []*registry.ConnectionProfile) {
	select {
	case m.reconcileCh <- struct{}{}:
	default: // A reconcile is already pending.
	}
}

// QueueTasks queues the reconcile loop, which drives instances toward the
// registry's active bindings on each configuration change.
func (m *Manager) QueueTasks(tasks *task.Group) {
	tasks.Queue("manager.reconcile", func() error {
		for {
			select {
			case <-m.reconcileCh:
				m.reconcile(tasks.Context())
			case <-tasks.Context().Done():
				m.Shutdown()
				return nil
			}
		}
	})
}

// reconcile adds missing instances, removes stale ones, and leaves unchanged
// entries alone.
func (m *Manager) reconcile(ctx context.Context) {
	var desired = make(map[string]*registry.ChannelConnection)
	for _, b := range m.cfg.Registry.ActiveConnections() {
		if b.Profile == nil {
			log.WithField("channel", b.ChannelID).
				Warn("skipping binding with unresolved profile")
			continue
		}
		desired[b.ChannelID] = b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return
	}

	var stale []string
	for id := range m.clients {
		if _, ok := desired[id]; !ok {
			stale = append(stale, id)
		}
	}
	for id := range m.servers {
		if _, ok := desired[id]; !ok {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		m.removeLocked(id)
		log.WithField("channel", id).Info("removed connection no longer configured")
	}

	for id, b := range desired {
		if _, ok := m.clients[id]; ok {
			continue
		}
		if _, ok := m.servers[id]; ok {
			continue
		}
		if err := m.addLocked(ctx, b); err != nil {
			log.WithFields(log.Fields{
				"channel": id,
				"err":     err,
			}).Error("failed to add configured connection")
		}
	}
	reconcilesCounter.Inc()
}

// AddConnection constructs and starts the connection of |channelID| per its
// registry binding: a listening Server for server-mode profiles, else a
// connecting Client. It is idempotent on an already-present channel.
func (m *Manager) AddConnection(ctx context.Context, channelID string) error {
	var b = m.cfg.Registry.GetConnection(channelID)
	if b == nil || b.Profile == nil {
		return fmt.Errorf("channel %q: %w", channelID, ErrChannelNotConfigured)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return errors.New("manager is shut down")
	}
	if _, ok := m.clients[channelID]; ok {
		return nil
	}
	if _, ok := m.servers[channelID]; ok {
		return nil
	}
	return m.addLocked(ctx, b)
}

func (m *Manager) addLocked(ctx context.Context, b *registry.ChannelConnection) error {
	var profile = *b.Profile
	var channel = m.cfg.Registry.GetChannel(b.ChannelID)

	if profile.ServerMode {
		var srv = network.NewServer(network.ServerConfig{
			Channel:   b.ChannelID,
			Profile:   profile,
			Codec:     m.cfg.Codec,
			Handler:   m.cfg.Handler,
			TLSConfig: m.cfg.TLSConfig,
		})
		if err := srv.Start(ctx); err != nil {
			return err
		}
		m.servers[b.ChannelID] = srv
		connectionsGauge.WithLabelValues("server").Inc()
		return nil
	}

	var disableSignOn bool
	if v, ok := b.Property(channel, signOnProperty); ok && v == "false" {
		disableSignOn = true
	}

	var client = network.NewClient(network.ClientConfig{
		Channel:       b.ChannelID,
		Profile:       profile,
		Codec:         m.cfg.Codec,
		TLSConfig:     m.cfg.TLSConfig,
		DisableSignOn: disableSignOn,
		OnStateChange: m.cfg.OnStateChange,
	})
	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return err
	}
	m.clients[b.ChannelID] = client
	connectionsGauge.WithLabelValues("client").Inc()
	return nil
}

// RemoveConnection stops and removes the connection of |channelID|,
// returning whether anything was removed.
func (m *Manager) RemoveConnection(channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(channelID)
}

func (m *Manager) removeLocked(channelID string) bool {
	if client, ok := m.clients[channelID]; ok {
		delete(m.clients, channelID)
		if err := client.Close(); err != nil {
			log.WithFields(log.Fields{"channel": channelID, "err": err}).
				Warn("error closing client")
		}
		connectionsGauge.WithLabelValues("client").Dec()
		return true
	}
	if srv, ok := m.servers[channelID]; ok {
		delete(m.servers, channelID)
		if err := srv.Stop(); err != nil {
			log.WithFields(log.Fields{"channel": channelID, "err": err}).
				Warn("error stopping server")
		}
		connectionsGauge.WithLabelValues("server").Dec()
		return true
	}
	return false
}

// Reconnect closes and re-establishes the client of |channelID|.
// Server-mode channels fail with ErrServerMode: operators stop and start
// listeners instead.
func (m *Manager) Reconnect(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[channelID]; ok {
		return fmt.Errorf("channel %q: %w", channelID, network.ErrServerMode)
	}
	var client, ok = m.clients[channelID]
	if !ok {
		return fmt.Errorf("channel %q: %w", channelID, ErrChannelNotConfigured)
	}

	var b = m.cfg.Registry.GetConnection(channelID)
	if b == nil || b.Profile == nil {
		return fmt.Errorf("channel %q: %w", channelID, ErrChannelNotConfigured)
	}

	delete(m.clients, channelID)
	_ = client.Close()
	connectionsGauge.WithLabelValues("client").Dec()

	return m.addLocked(ctx, b)
}

// Client returns the client of |channelID|, or nil.
func (m *Manager) Client(channelID string) *network.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[channelID]
}

// Server returns the server of |channelID|, or nil.
func (m *Manager) Server(channelID string) *network.Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.servers[channelID]
}

// ClientIDs returns the channel IDs of running clients, sorted.
func (m *Manager) ClientIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out = make([]string, 0, len(m.clients))
	for id := range m.clients {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ServerIDs returns the channel IDs of running servers, sorted.
func (m *Manager) ServerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out = make([]string, 0, len(m.servers))
	for id := range m.servers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ClientStates returns a snapshot of client states by channel ID.
func (m *Manager) ClientStates() map[string]network.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out = make(map[string]network.ConnState, len(m.clients))
	for id, c := range m.clients {
		out[id] = c.State()
	}
	return out
}

// ServerStates returns a snapshot of server states by channel ID.
func (m *Manager) ServerStates() map[string]network.ServerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out = make(map[string]network.ServerState, len(m.servers))
	for id, s := range m.servers {
		out[id] = s.State()
	}
	return out
}

// ServerPeerCounts returns connected peer counts by server channel ID.
func (m *Manager) ServerPeerCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out = make(map[string]int, len(m.servers))
	for id, s := range m.servers {
		out[id] = s.PeerCount()
	}
	return out
}

// SignedOnCount returns the number of operational clients.
func (m *Manager) SignedOnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for _, c := range m.clients {
		if c.IsSignedOn() {
			n++
		}
	}
	return n
}

// Shutdown closes every client and server and detaches from the registry.
// Further operations fail; Shutdown is idempotent.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	var ids = make([]string, 0, len(m.clients)+len(m.servers))
	for id := range m.clients {
		ids = append(ids, id)
	}
	for id := range m.servers {
		ids = append(ids, id)
	}
	for _, id := range ids {
		m.removeLocked(id)
	}
	m.mu.Unlock()

	m.sub.Unsubscribe()
	log.Info("connection manager shut down")
}
