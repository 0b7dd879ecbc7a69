// Package registry is the in-memory store of logical channels, connection
// profiles, and channel-to-profile bindings. It supports wholesale reloads
// from a configuration source, runtime registration, priority-ordered
// listings, and subscriber fan-out of configuration changes.
package registry

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	pb "go.gazette.dev/core/broker/protocol"
)

// ChannelType classifies a logical channel.
type ChannelType string

const (
	ChannelATM       ChannelType = "ATM"
	ChannelPOS       ChannelType = "POS"
	ChannelInterbank ChannelType = "INTERBANK"
	ChannelCBS       ChannelType = "CBS"
	ChannelMobile    ChannelType = "MOBILE"
	ChannelAPI       ChannelType = "API"
	ChannelBatch     ChannelType = "BATCH"
)

// Channel is a logical endpoint identifier.
type Channel struct {
	ID       string      `json:"id" yaml:"id"`
	Name     string      `json:"name,omitempty" yaml:"name,omitempty"`
	Type     ChannelType `json:"type" yaml:"type"`
	Vendor   string      `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Version  string      `json:"version,omitempty" yaml:"version,omitempty"`
	Active   bool        `json:"active" yaml:"active"`
	Priority int         `json:"priority,omitempty" yaml:"priority,omitempty"`
	// Default request/response schema names, with per-MTI overrides.
	RequestSchema   string            `json:"requestSchema,omitempty" yaml:"requestSchema,omitempty"`
	ResponseSchema  string            `json:"responseSchema,omitempty" yaml:"responseSchema,omitempty"`
	SchemaOverrides map[string]string `json:"schemaOverrides,omitempty" yaml:"schemaOverrides,omitempty"`
	Properties      map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
	Tags            []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Validate returns an error if the Channel is malformed.
func (c *Channel) Validate() error {
	if c.ID == "" {
		return pb.NewValidationError("missing ID")
	} else if c.Type == "" {
		return pb.NewValidationError("missing Type")
	} else if c.Priority < 1 {
		return pb.NewValidationError("invalid Priority (%d; expected >= 1)", c.Priority)
	}
	return nil
}

// ConnectionProfile is a reusable set of physical transport settings.
// Durations are integer milliseconds, as they appear in configuration.
type ConnectionProfile struct {
	ID   string `json:"id" yaml:"id"`
	Host string `json:"host" yaml:"host"`
	// SendPort is the outbound (or listening) port. ReceivePort <= 0 means the
	// profile is single-channel and the receive port equals the send port.
	SendPort          int               `json:"sendPort" yaml:"sendPort"`
	ReceivePort       int               `json:"receivePort,omitempty" yaml:"receivePort,omitempty"`
	ConnectTimeout    int               `json:"connectTimeout" yaml:"connectTimeout"`
	ResponseTimeout   int               `json:"responseTimeout" yaml:"responseTimeout"`
	HeartbeatInterval int               `json:"heartbeatInterval" yaml:"heartbeatInterval"`
	KeepaliveInterval int               `json:"keepaliveInterval,omitempty" yaml:"keepaliveInterval,omitempty"`
	RetryDelay        int               `json:"retryDelay" yaml:"retryDelay"`
	MaxRetries        int               `json:"maxRetries" yaml:"maxRetries"`
	TLS               bool              `json:"tls,omitempty" yaml:"tls,omitempty"`
	PoolSize          int               `json:"poolSize,omitempty" yaml:"poolSize,omitempty"`
	AutoReconnect     bool              `json:"autoReconnect" yaml:"autoReconnect"`
	ServerMode        bool              `json:"serverMode,omitempty" yaml:"serverMode,omitempty"`
	Properties        map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Validate returns an error if the ConnectionProfile is malformed.
func (p *ConnectionProfile) Validate() error {
	if p.ID == "" {
		return pb.NewValidationError("missing ID")
	} else if p.Host == "" && !p.ServerMode {
		return pb.NewValidationError("missing Host")
	} else if p.SendPort < 1 || p.SendPort > 65535 {
		// Port zero would be legal for an ephemeral listener, but profiles are
		// operator-written and an unset port is invariably a mistake.
		return pb.NewValidationError("invalid SendPort (%d)", p.SendPort)
	} else if p.ReceivePort > 65535 {
		return pb.NewValidationError("invalid ReceivePort (%d)", p.ReceivePort)
	} else if p.ConnectTimeout <= 0 {
		return pb.NewValidationError("invalid ConnectTimeout (%d)", p.ConnectTimeout)
	} else if p.ResponseTimeout <= 0 {
		return pb.NewValidationError("invalid ResponseTimeout (%d)", p.ResponseTimeout)
	} else if p.HeartbeatInterval <= 0 {
		return pb.NewValidationError("invalid HeartbeatInterval (%d)", p.HeartbeatInterval)
	} else if p.KeepaliveInterval < 0 {
		// Zero means unset, as with ReceivePort.
		return pb.NewValidationError("invalid KeepaliveInterval (%d)", p.KeepaliveInterval)
	} else if p.PoolSize < 0 {
		return pb.NewValidationError("invalid PoolSize (%d)", p.PoolSize)
	}
	// Retry fields drive the client reconnect loop. Server-mode profiles
	// listen and never reconnect, so the fields are unused there.
	if !p.ServerMode {
		if p.RetryDelay <= 0 {
			return pb.NewValidationError("invalid RetryDelay (%d)", p.RetryDelay)
		} else if p.MaxRetries < 0 {
			return pb.NewValidationError("invalid MaxRetries (%d)", p.MaxRetries)
		}
	}
	return nil
}

// IsDualChannel reports whether send and receive use distinct sockets.
func (p *ConnectionProfile) IsDualChannel() bool {
	return p.ReceivePort > 0 && p.ReceivePort != p.SendPort
}

// EffectiveReceivePort is ReceivePort if set, else SendPort.
func (p *ConnectionProfile) EffectiveReceivePort() int {
	if p.ReceivePort > 0 {
		return p.ReceivePort
	}
	return p.SendPort
}

// ChannelConnection binds a Channel to a ConnectionProfile, with per-binding
// overrides. Profile is resolved from ProfileID during load or registration.
type ChannelConnection struct {
	ChannelID   string             `json:"channelId" yaml:"channelId"`
	ProfileID   string             `json:"profileId" yaml:"profileId"`
	Profile     *ConnectionProfile `json:"-" yaml:"-"`
	Schemas     map[string]string  `json:"schemas,omitempty" yaml:"schemas,omitempty"` // Per-MTI schema map.
	Properties  map[string]string  `json:"properties,omitempty" yaml:"properties,omitempty"`
	Active      bool               `json:"active" yaml:"active"`
	Priority    int                `json:"priority,omitempty" yaml:"priority,omitempty"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validate returns an error if the ChannelConnection is malformed.
func (c *ChannelConnection) Validate() error {
	if c.ChannelID == "" {
		return pb.NewValidationError("missing ChannelID")
	} else if c.ProfileID == "" {
		return pb.NewValidationError("missing ProfileID")
	} else if c.Priority < 1 {
		return pb.NewValidationError("invalid Priority (%d; expected >= 1)", c.Priority)
	}
	return nil
}

// Property resolves |key| through the binding's cascade:
// binding-local, then channel, then profile properties.
func (c *ChannelConnection) Property(channel *Channel, key string) (string, bool) {
	if v, ok := c.Properties[key]; ok {
		return v, true
	}
	if channel != nil {
		if v, ok := channel.Properties[key]; ok {
			return v, true
		}
	}
	if c.Profile != nil {
		if v, ok := c.Profile.Properties[key]; ok {
			return v, true
		}
	}
	return "", false
}

// Subscriber is notified of configuration changes with snapshot views.
// Callbacks run synchronously on the mutating goroutine and must not call
// back into the Registry.
type Subscriber interface {
	ConnectionsUpdated(bindings []*ChannelConnection, profiles []*ConnectionProfile)
}

// Subscription is a handle of a registered Subscriber.
// Owners release it with Unsubscribe.
type Subscription struct {
	r  *Registry
	id int
}

// Unsubscribe removes the Subscriber. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	delete(s.r.subscribers, s.id)
}

// Registry is the authoritative store of channels, profiles, and bindings.
// Reads take a shared lock; wholesale loads swap complete replacement maps so
// no reader or subscriber ever observes a partial merge.
type Registry struct {
	// Strict causes Load to fail on any malformed entry, rather than skipping
	// the entry with a warning.
	Strict bool

	mu          sync.RWMutex
	channels    map[string]*Channel
	profiles    map[string]*ConnectionProfile
	bindings    map[string]*ChannelConnection // Keyed by channel ID.
	subscribers map[int]Subscriber
	nextSubID   int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		channels:    make(map[string]*Channel),
		profiles:    make(map[string]*ConnectionProfile),
		bindings:    make(map[string]*ChannelConnection),
		subscribers: make(map[int]Subscriber),
	}
}

// Subscribe registers |s| for configuration-change notifications, and
// immediately notifies it of the current state.
func (r *Registry) Subscribe(s Subscriber) *Subscription {
	r.mu.Lock()
	var id = r.nextSubID
	r.nextSubID++
	r.subscribers[id] = s
	var bindings, profiles = r.snapshotLocked()
	r.mu.Unlock()

	s.ConnectionsUpdated(bindings, profiles)
	return &Subscription{r: r, id: id}
}

// RegisterProfile adds or replaces a ConnectionProfile, re-resolving any
// bindings which reference it.
func (r *Registry) RegisterProfile(p *ConnectionProfile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validating profile %q: %w", p.ID, err)
	}

	r.mu.Lock()
	r.profiles[p.ID] = p
	for _, b := range r.bindings {
		if b.ProfileID == p.ID {
			b.Profile = p
		}
	}
	r.mu.Unlock()

	r.notify()
	return nil
}

// UnregisterProfile removes a ConnectionProfile. Bindings referencing it keep
// their dangling ProfileID but lose the resolved pointer.
func (r *Registry) UnregisterProfile(id string) bool {
	r.mu.Lock()
	var _, ok = r.profiles[id]
	delete(r.profiles, id)
	for _, b := range r.bindings {
		if b.ProfileID == id {
			b.Profile = nil
			log.WithFields(log.Fields{
				"channel": b.ChannelID,
				"profile": id,
			}).Warn("binding references an unregistered profile")
		}
	}
	r.mu.Unlock()

	if ok {
		r.notify()
	}
	return ok
}

// RegisterChannel adds or replaces a Channel.
func (r *Registry) RegisterChannel(c *Channel) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating channel %q: %w", c.ID, err)
	}
	r.mu.Lock()
	r.channels[c.ID] = c
	r.mu.Unlock()

	r.notify()
	return nil
}

// RegisterConnection adds or replaces a ChannelConnection, resolving its
// profile reference. A dangling reference is tolerated with a warning, to
// match load semantics; the binding resolves when the profile arrives.
func (r *Registry) RegisterConnection(c *ChannelConnection) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating connection %q: %w", c.ChannelID, err)
	}

	r.mu.Lock()
	if p, ok := r.profiles[c.ProfileID]; ok {
		c.Profile = p
	} else {
		log.WithFields(log.Fields{
			"channel": c.ChannelID,
			"profile": c.ProfileID,
		}).Warn("connection references an unknown profile")
	}
	r.bindings[c.ChannelID] = c
	r.mu.Unlock()

	r.notify()
	return nil
}

// UnregisterConnection removes the binding of |channelID|,
// returning whether one was present.
func (r *Registry) UnregisterConnection(channelID string) bool {
	r.mu.Lock()
	var _, ok = r.bindings[channelID]
	delete(r.bindings, channelID)
	r.mu.Unlock()

	if ok {
		r.notify()
	}
	return ok
}

// GetProfile returns the ConnectionProfile of |id|, or nil.
func (r *Registry) GetProfile(id string) *ConnectionProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profiles[id]
}

// MustGetProfile returns the ConnectionProfile of |id|, or an error.
func (r *Registry) MustGetProfile(id string) (*ConnectionProfile, error) {
	if p := r.GetProfile(id); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("connection profile %q is not configured", id)
}

// GetChannel returns the Channel of |id|, or nil.
func (r *Registry) GetChannel(id string) *Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[id]
}

// GetConnection returns the ChannelConnection of |channelID|, or nil.
func (r *Registry) GetConnection(channelID string) *ChannelConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings[channelID]
}

// MustGetConnection returns the ChannelConnection of |channelID|, or an error.
func (r *Registry) MustGetConnection(channelID string) (*ChannelConnection, error) {
	if c := r.GetConnection(channelID); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("channel %q is not configured", channelID)
}

// ActiveConnections returns active bindings ordered by ascending priority
// (then channel ID, for stability).
func (r *Registry) ActiveConnections() []*ChannelConnection {
	r.mu.RLock()
	var out []*ChannelConnection
	for _, b := range r.bindings {
		if b.Active {
			out = append(out, b)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	return out
}

// ActiveChannels returns active channels ordered by ascending priority.
func (r *Registry) ActiveChannels() []*Channel {
	r.mu.RLock()
	var out []*Channel
	for _, c := range r.channels {
		if c.Active {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ConnectionsByProfile returns bindings referencing |profileID|.
func (r *Registry) ConnectionsByProfile(profileID string) []*ChannelConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*ChannelConnection
	for _, b := range r.bindings {
		if b.ProfileID == profileID {
			out = append(out, b)
		}
	}
	return out
}

// ChannelIDs returns a snapshot of all bound channel IDs.
func (r *Registry) ChannelIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out = make([]string, 0, len(r.bindings))
	for id := range r.bindings {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ProfileIDs returns a snapshot of all profile IDs.
func (r *Registry) ProfileIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out = make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SchemaFor resolves the schema name of |channelID| and |mti|: the binding's
// per-MTI map, then the channel's per-MTI overrides, then channel defaults.
func (r *Registry) SchemaFor(channelID, mti string, response bool) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if b := r.bindings[channelID]; b != nil {
		if s, ok := b.Schemas[mti]; ok {
			return s
		}
	}
	if c := r.channels[channelID]; c != nil {
		if s, ok := c.SchemaOverrides[mti]; ok {
			return s
		}
		if response {
			return c.ResponseSchema
		}
		return c.RequestSchema
	}
	return ""
}

// snapshotLocked copies current bindings and profiles for subscriber fan-out.
// r.mu must be held.
func (r *Registry) snapshotLocked() ([]*ChannelConnection, []*ConnectionProfile) {
	var bindings = make([]*ChannelConnection, 0, len(r.bindings))
	for _, b := range r.bindings {
		bindings = append(bindings, b)
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].ChannelID < bindings[j].ChannelID })

	var profiles = make([]*ConnectionProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })

	return bindings, profiles
}

func (r *Registry) notify() {
	r.mu.RLock()
	var bindings, profiles = r.snapshotLocked()
	var subs = make([]Subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	for _, s := range subs {
		s.ConnectionsUpdated(bindings, profiles)
	}
	updateGauges(len(bindings), len(profiles))
}
