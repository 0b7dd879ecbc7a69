package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testProfile(id string) *ConnectionProfile {
	return &ConnectionProfile{
		ID:                id,
		Host:              "fisc.test.internal",
		SendPort:          9001,
		ReceivePort:       9002,
		ConnectTimeout:    5000,
		ResponseTimeout:   30000,
		HeartbeatInterval: 30000,
		RetryDelay:        1000,
		MaxRetries:        3,
		AutoReconnect:     true,
	}
}

func testBinding(channelID, profileID string, priority int) *ChannelConnection {
	return &ChannelConnection{
		ChannelID: channelID,
		ProfileID: profileID,
		Active:    true,
		Priority:  priority,
	}
}

func TestProfileValidationCases(t *testing.T) {
	var p = testProfile("CBS_PRIMARY")
	require.NoError(t, p.Validate())

	var cases = []func(p *ConnectionProfile){
		func(p *ConnectionProfile) { p.ID = "" },
		func(p *ConnectionProfile) { p.Host = "" },
		func(p *ConnectionProfile) { p.SendPort = 0 },
		func(p *ConnectionProfile) { p.SendPort = 70000 },
		func(p *ConnectionProfile) { p.ReceivePort = 70000 },
		func(p *ConnectionProfile) { p.ConnectTimeout = 0 },
		func(p *ConnectionProfile) { p.ResponseTimeout = -1 },
		func(p *ConnectionProfile) { p.HeartbeatInterval = 0 },
		func(p *ConnectionProfile) { p.RetryDelay = 0 },
		func(p *ConnectionProfile) { p.MaxRetries = -1 },
		func(p *ConnectionProfile) { p.KeepaliveInterval = -1 },
		func(p *ConnectionProfile) { p.PoolSize = -1 },
	}
	for i, mutate := range cases {
		var bad = testProfile("CBS_PRIMARY")
		mutate(bad)
		require.Error(t, bad.Validate(), "case %d", i)
	}

	// A server-mode profile doesn't require a host, and has no reconnect
	// loop: the retry fields may be left unset.
	var server = testProfile("ATM_LISTENER")
	server.Host = ""
	server.ServerMode = true
	server.RetryDelay = 0
	server.MaxRetries = 0
	require.NoError(t, server.Validate())
}

func TestDualChannelDerivations(t *testing.T) {
	var p = testProfile("CBS_PRIMARY")
	require.True(t, p.IsDualChannel())
	require.Equal(t, 9002, p.EffectiveReceivePort())

	p.ReceivePort = 0
	require.False(t, p.IsDualChannel())
	require.Equal(t, 9001, p.EffectiveReceivePort())

	p.ReceivePort = 9001
	require.False(t, p.IsDualChannel())
}

func TestRegisterResolvesBindings(t *testing.T) {
	var r = New()

	// Binding registered ahead of its profile: tolerated, unresolved.
	require.NoError(t, r.RegisterConnection(testBinding("ATM_NCR_V1", "CBS_PRIMARY", 10)))
	require.Nil(t, r.GetConnection("ATM_NCR_V1").Profile)

	// Profile arrival re-resolves the binding.
	require.NoError(t, r.RegisterProfile(testProfile("CBS_PRIMARY")))
	require.NotNil(t, r.GetConnection("ATM_NCR_V1").Profile)
	require.Equal(t, "CBS_PRIMARY", r.GetConnection("ATM_NCR_V1").Profile.ID)

	// Profile removal leaves the binding dangling again.
	require.True(t, r.UnregisterProfile("CBS_PRIMARY"))
	require.Nil(t, r.GetConnection("ATM_NCR_V1").Profile)
	require.False(t, r.UnregisterProfile("CBS_PRIMARY"))

	require.True(t, r.UnregisterConnection("ATM_NCR_V1"))
	require.False(t, r.UnregisterConnection("ATM_NCR_V1"))
}

func TestInvalidRegistrationsAreRejected(t *testing.T) {
	var r = New()

	require.Error(t, r.RegisterProfile(&ConnectionProfile{ID: "bad"}))
	require.Error(t, r.RegisterConnection(&ChannelConnection{ChannelID: "x"}))
	require.Error(t, r.RegisterChannel(&Channel{ID: "x"}))

	// Nothing was partially applied.
	require.Empty(t, r.ProfileIDs())
	require.Empty(t, r.ChannelIDs())
}

func TestActiveListingsArePriorityOrdered(t *testing.T) {
	var r = New()
	require.NoError(t, r.RegisterProfile(testProfile("CBS_PRIMARY")))

	require.NoError(t, r.RegisterConnection(testBinding("POS_LOW", "CBS_PRIMARY", 50)))
	require.NoError(t, r.RegisterConnection(testBinding("ATM_NCR_V1", "CBS_PRIMARY", 10)))
	require.NoError(t, r.RegisterConnection(testBinding("MOBILE_V2", "CBS_PRIMARY", 20)))

	var inactive = testBinding("BATCH_NIGHTLY", "CBS_PRIMARY", 1)
	inactive.Active = false
	require.NoError(t, r.RegisterConnection(inactive))

	var got []string
	for _, b := range r.ActiveConnections() {
		got = append(got, b.ChannelID)
	}
	require.Equal(t, []string{"ATM_NCR_V1", "MOBILE_V2", "POS_LOW"}, got)

	require.NoError(t, r.RegisterChannel(&Channel{ID: "ATM", Type: ChannelATM, Active: true, Priority: 5}))
	require.NoError(t, r.RegisterChannel(&Channel{ID: "POS", Type: ChannelPOS, Active: true, Priority: 1}))
	require.NoError(t, r.RegisterChannel(&Channel{ID: "OFF", Type: ChannelAPI, Active: false, Priority: 1}))

	var channels = r.ActiveChannels()
	require.Len(t, channels, 2)
	require.Equal(t, "POS", channels[0].ID)
	require.Equal(t, "ATM", channels[1].ID)
}

func TestConnectionsByProfileAndIDSets(t *testing.T) {
	var r = New()
	require.NoError(t, r.RegisterProfile(testProfile("CBS_PRIMARY")))
	require.NoError(t, r.RegisterProfile(testProfile("FISC_BACKUP")))
	require.NoError(t, r.RegisterConnection(testBinding("ATM_NCR_V1", "CBS_PRIMARY", 10)))
	require.NoError(t, r.RegisterConnection(testBinding("POS_V1", "CBS_PRIMARY", 20)))
	require.NoError(t, r.RegisterConnection(testBinding("IB_FISC", "FISC_BACKUP", 30)))

	require.Len(t, r.ConnectionsByProfile("CBS_PRIMARY"), 2)
	require.Len(t, r.ConnectionsByProfile("FISC_BACKUP"), 1)
	require.Empty(t, r.ConnectionsByProfile("NONE"))

	require.Equal(t, []string{"ATM_NCR_V1", "IB_FISC", "POS_V1"}, r.ChannelIDs())
	require.Equal(t, []string{"CBS_PRIMARY", "FISC_BACKUP"}, r.ProfileIDs())
}

func TestPropertyCascade(t *testing.T) {
	var profile = testProfile("CBS_PRIMARY")
	profile.Properties = map[string]string{"encoding": "ebcdic", "zone": "dc1"}

	var channel = &Channel{
		ID: "ATM_NCR_V1", Type: ChannelATM, Active: true, Priority: 1,
		Properties: map[string]string{"encoding": "ascii", "vendorMode": "ncr"},
	}

	var binding = testBinding("ATM_NCR_V1", "CBS_PRIMARY", 10)
	binding.Profile = profile
	binding.Properties = map[string]string{"vendorMode": "ndc+"}

	var v, ok = binding.Property(channel, "vendorMode")
	require.True(t, ok)
	require.Equal(t, "ndc+", v) // Binding-local wins.

	v, ok = binding.Property(channel, "encoding")
	require.True(t, ok)
	require.Equal(t, "ascii", v) // Channel overrides profile.

	v, ok = binding.Property(channel, "zone")
	require.True(t, ok)
	require.Equal(t, "dc1", v) // Falls through to profile.

	_, ok = binding.Property(channel, "absent")
	require.False(t, ok)
}

type recordingSubscriber struct {
	calls    int
	bindings []string
	profiles []string
}

func (s *recordingSubscriber) ConnectionsUpdated(bindings []*ChannelConnection, profiles []*ConnectionProfile) {
	s.calls++
	s.bindings = s.bindings[:0]
	for _, b := range bindings {
		s.bindings = append(s.bindings, b.ChannelID)
	}
	s.profiles = s.profiles[:0]
	for _, p := range profiles {
		s.profiles = append(s.profiles, p.ID)
	}
}

func TestSubscriberFanOut(t *testing.T) {
	var r = New()
	require.NoError(t, r.RegisterProfile(testProfile("CBS_PRIMARY")))

	var sub = new(recordingSubscriber)
	var handle = r.Subscribe(sub)

	// Subscribe delivers an immediate snapshot.
	require.Equal(t, 1, sub.calls)
	require.Equal(t, []string{"CBS_PRIMARY"}, sub.profiles)

	require.NoError(t, r.RegisterConnection(testBinding("ATM_NCR_V1", "CBS_PRIMARY", 10)))
	require.Equal(t, 2, sub.calls)
	require.Equal(t, []string{"ATM_NCR_V1"}, sub.bindings)

	handle.Unsubscribe()
	handle.Unsubscribe() // Idempotent.

	require.NoError(t, r.RegisterConnection(testBinding("POS_V1", "CBS_PRIMARY", 20)))
	require.Equal(t, 2, sub.calls) // Not invoked after Unsubscribe.
}
