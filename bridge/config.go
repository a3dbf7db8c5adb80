package bridge

import (
	"sync"
	"time"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// Configuration defaults. They can all be changed by the administrator
// through the SetConfig entrypoint.
const (
	// DefaultMinConfirmations is the quorum: how many distinct active
	// validators must confirm a message before it is trusted.
	DefaultMinConfirmations = 2
	// DefaultMaxMessageTTL caps the requested time-to-live of a submitted
	// message.
	DefaultMaxMessageTTL = 24 * time.Hour
	// DefaultIdentityValidity is how long a verified identity link stays
	// valid before it has to be renewed.
	DefaultIdentityValidity = 30 * 24 * time.Hour
	// DefaultGrantDuration is used when an access grant is created without
	// an explicit duration.
	DefaultGrantDuration = 24 * time.Hour
)

// Config is the bridge configuration. It is owned by the coordinator and
// persisted with the service storage; there is no ambient global state. All
// mutation goes through admin-gated setters on the service.
type Config struct {
	// AdminKey authorizes validator and configuration management. It is set
	// once at initialisation and never changed afterwards.
	AdminKey kyber.Point
	// MinConfirmations is the validator quorum for messages and for
	// identity attestations.
	MinConfirmations uint32
	// MaxMessageTTLSec caps the ttl argument of SubmitMessage, in seconds.
	MaxMessageTTLSec int64
	// IdentityValiditySec is the lifetime of a verified identity link, in
	// seconds.
	IdentityValiditySec int64
	// GrantDurationSec is the default lifetime of an access grant, in
	// seconds.
	GrantDurationSec int64
	// SupportedChains lists the chains messages may originate from. The
	// well known networks are supported out of the box, custom ranges have
	// to be added by the administrator.
	SupportedChains []ChainID

	sync.Mutex
}

// NewConfig returns a configuration with the documented defaults and all
// well known networks supported.
func NewConfig() *Config {
	return &Config{
		MinConfirmations:    DefaultMinConfirmations,
		MaxMessageTTLSec:    int64(DefaultMaxMessageTTL / time.Second),
		IdentityValiditySec: int64(DefaultIdentityValidity / time.Second),
		GrantDurationSec:    int64(DefaultGrantDuration / time.Second),
		SupportedChains: []ChainID{
			Stellar, Ethereum, Polygon, Avalanche, BSC, Arbitrum, Optimism,
		},
	}
}

// Admin returns the administrator key, or nil before initialisation.
func (c *Config) Admin() kyber.Point {
	c.Lock()
	defer c.Unlock()
	return c.AdminKey
}

// SetAdmin fixes the administrator key. It can only be called once.
func (c *Config) SetAdmin(p kyber.Point) error {
	c.Lock()
	defer c.Unlock()
	if c.AdminKey != nil {
		return xerrors.New("admin key already set")
	}
	c.AdminKey = p
	return nil
}

// Supports returns true if messages from the given chain are accepted.
func (c *Config) Supports(chain ChainID) bool {
	c.Lock()
	defer c.Unlock()
	for _, s := range c.SupportedChains {
		if s == chain {
			return true
		}
	}
	return false
}

// AddChain adds a chain to the supported set. Adding a chain twice is a
// no-op.
func (c *Config) AddChain(chain ChainID) {
	c.Lock()
	defer c.Unlock()
	for _, s := range c.SupportedChains {
		if s == chain {
			return
		}
	}
	c.SupportedChains = append(c.SupportedChains, chain)
}

// Snapshot returns a copy of the current numeric settings, so callers do not
// hold the lock while using them.
func (c *Config) Snapshot() ConfigValues {
	c.Lock()
	defer c.Unlock()
	return ConfigValues{
		MinConfirmations:    c.MinConfirmations,
		MaxMessageTTLSec:    c.MaxMessageTTLSec,
		IdentityValiditySec: c.IdentityValiditySec,
		GrantDurationSec:    c.GrantDurationSec,
	}
}

// SetValues overwrites the numeric settings. Zero fields keep their current
// value.
func (c *Config) SetValues(v ConfigValues) {
	c.Lock()
	defer c.Unlock()
	if v.MinConfirmations > 0 {
		c.MinConfirmations = v.MinConfirmations
	}
	if v.MaxMessageTTLSec > 0 {
		c.MaxMessageTTLSec = v.MaxMessageTTLSec
	}
	if v.IdentityValiditySec > 0 {
		c.IdentityValiditySec = v.IdentityValiditySec
	}
	if v.GrantDurationSec > 0 {
		c.GrantDurationSec = v.GrantDurationSec
	}
}

// ConfigValues holds the admin-settable integers of the configuration.
type ConfigValues struct {
	MinConfirmations    uint32
	MaxMessageTTLSec    int64
	IdentityValiditySec int64
	GrantDurationSec    int64
}
