package registry

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Source is a configuration document and its modification indicator.
// YAML and JSON documents are both accepted (YAML is a superset).
type Source interface {
	Read() ([]byte, error)
	ModTime() (time.Time, error)
}

// FileSource reads configuration from a file path.
type FileSource string

// Read the file contents.
func (f FileSource) Read() ([]byte, error) { return os.ReadFile(string(f)) }

// ModTime of the file.
func (f FileSource) ModTime() (time.Time, error) {
	var info, err = os.Stat(string(f))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// ConfigError wraps a configuration failure surfaced from Load.
type ConfigError struct{ Err error }

// Error implements the error interface.
func (e *ConfigError) Error() string { return "invalid configuration: " + e.Err.Error() }

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether |err| is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// configDoc is the union of the v1 and v2 document shapes.
// Fields not enumerated here are ignored.
type configDoc struct {
	Version string `yaml:"version"`

	// v2: profiles and channel bindings.
	ConnectionProfiles map[string]*ConnectionProfile `yaml:"connectionProfiles"`
	Channels           map[string]yaml.Node          `yaml:"channels"`

	// v1: per-channel schema overrides and defaults.
	SchemaOverrides map[string]map[string]string `yaml:"schemaOverrides"`
	Defaults        struct {
		RequestSchema  string `yaml:"requestSchema"`
		ResponseSchema string `yaml:"responseSchema"`
	} `yaml:"defaults"`
}

// v1Channel is the legacy per-channel schema mapping document.
type v1Channel struct {
	Name           string      `yaml:"name"`
	Type           ChannelType `yaml:"type"`
	Vendor         string      `yaml:"vendor"`
	Version        string      `yaml:"version"`
	Active         *bool       `yaml:"active"`
	Priority       int         `yaml:"priority"`
	RequestSchema  string      `yaml:"requestSchema"`
	ResponseSchema string      `yaml:"responseSchema"`
}

// Load replaces the Registry's state from |source|. The document format is
// detected from its version field: "2.x" documents carry connection profiles
// and bindings; anything else is treated as a legacy schema-only document.
//
// Replacement is all-or-nothing. New state is fully built and validated
// before it is swapped in, so concurrent readers and subscribers never
// observe a partial merge. With Strict unset, malformed entries are skipped
// with a warning; a malformed document always fails.
func (r *Registry) Load(source Source) error {
	var raw, err = source.Read()
	if err != nil {
		return &ConfigError{Err: fmt.Errorf("reading source: %w", err)}
	}

	var doc configDoc
	if err = yaml.Unmarshal(raw, &doc); err != nil {
		return &ConfigError{Err: fmt.Errorf("parsing document: %w", err)}
	}

	if len(doc.Version) >= 2 && doc.Version[:2] == "2." {
		return r.loadV2(&doc)
	}
	return r.loadV1(&doc)
}

func (r *Registry) loadV2(doc *configDoc) error {
	var profiles = make(map[string]*ConnectionProfile, len(doc.ConnectionProfiles))
	var bindings = make(map[string]*ChannelConnection, len(doc.Channels))

	for id, p := range doc.ConnectionProfiles {
		if p == nil {
			p = new(ConnectionProfile)
		}
		p.ID = id

		if err := p.Validate(); err != nil {
			if r.Strict {
				return &ConfigError{Err: fmt.Errorf("profile %q: %w", id, err)}
			}
			log.WithFields(log.Fields{"profile": id, "err": err}).
				Warn("skipping malformed connection profile")
			continue
		}
		profiles[id] = p
	}

	for id, node := range doc.Channels {
		var b = new(ChannelConnection)
		if err := node.Decode(b); err != nil {
			if r.Strict {
				return &ConfigError{Err: fmt.Errorf("channel %q: %w", id, err)}
			}
			log.WithFields(log.Fields{"channel": id, "err": err}).
				Warn("skipping malformed channel binding")
			continue
		}
		b.ChannelID = id
		if b.Priority == 0 {
			b.Priority = defaultPriority
		}

		if err := b.Validate(); err != nil {
			if r.Strict {
				return &ConfigError{Err: fmt.Errorf("channel %q: %w", id, err)}
			}
			log.WithFields(log.Fields{"channel": id, "err": err}).
				Warn("skipping malformed channel binding")
			continue
		}

		// Dangling profile references are logged and tolerated.
		if p, ok := profiles[b.ProfileID]; ok {
			b.Profile = p
		} else {
			log.WithFields(log.Fields{"channel": id, "profile": b.ProfileID}).
				Warn("channel binding references an unknown profile")
		}
		bindings[id] = b
	}

	r.mu.Lock()
	r.profiles = profiles
	r.bindings = bindings
	r.mu.Unlock()

	log.WithFields(log.Fields{
		"profiles": len(profiles),
		"bindings": len(bindings),
	}).Info("loaded connection configuration")
	configLoads.WithLabelValues("v2").Inc()

	r.notify()
	return nil
}

// loadV1 populates channel schema mappings only. Profiles and bindings,
// which v1 documents cannot express, are left untouched.
func (r *Registry) loadV1(doc *configDoc) error {
	var channels = make(map[string]*Channel, len(doc.Channels))

	for id, node := range doc.Channels {
		var v1 v1Channel
		if err := node.Decode(&v1); err != nil {
			if r.Strict {
				return &ConfigError{Err: fmt.Errorf("channel %q: %w", id, err)}
			}
			log.WithFields(log.Fields{"channel": id, "err": err}).
				Warn("skipping malformed channel")
			continue
		}

		var c = &Channel{
			ID:             id,
			Name:           v1.Name,
			Type:           v1.Type,
			Vendor:         v1.Vendor,
			Version:        v1.Version,
			Active:         v1.Active == nil || *v1.Active,
			Priority:       v1.Priority,
			RequestSchema:  v1.RequestSchema,
			ResponseSchema: v1.ResponseSchema,
		}
		if c.Priority == 0 {
			c.Priority = defaultPriority
		}
		if c.RequestSchema == "" {
			c.RequestSchema = doc.Defaults.RequestSchema
		}
		if c.ResponseSchema == "" {
			c.ResponseSchema = doc.Defaults.ResponseSchema
		}
		if o, ok := doc.SchemaOverrides[id]; ok {
			c.SchemaOverrides = o
		}

		if err := c.Validate(); err != nil {
			if r.Strict {
				return &ConfigError{Err: fmt.Errorf("channel %q: %w", id, err)}
			}
			log.WithFields(log.Fields{"channel": id, "err": err}).
				Warn("skipping malformed channel")
			continue
		}
		channels[id] = c
	}

	r.mu.Lock()
	r.channels = channels
	r.mu.Unlock()

	log.WithField("channels", len(channels)).Info("loaded channel schema configuration")
	configLoads.WithLabelValues("v1").Inc()

	r.notify()
	return nil
}

const defaultPriority = 100
