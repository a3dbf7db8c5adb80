// Package bridge implements the validator-attested cross-chain message relay.
// Messages submitted by relayers are replay-checked against a durable nonce
// ledger and accumulate validator confirmations until they reach the
// configured quorum. There is no waiting primitive: relayers poll GetMessage
// to observe finalization.
package bridge

import (
	"time"

	"github.com/medchain/medbridge/validator"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var (
	// ErrInvalidChain is returned when a message references a chain that is
	// not in the supported set.
	ErrInvalidChain = xerrors.New("unsupported chain")
	// ErrInvalidMessageType is returned for message types outside the
	// defined set.
	ErrInvalidMessageType = xerrors.New("invalid message type")
	// ErrMessageExpired is returned when a message is touched past its
	// expiry. The message is transitioned to Expired at that moment.
	ErrMessageExpired = xerrors.New("message expired")
	// ErrInsufficientConfirmations is returned when an operation needs a
	// finalized message but the quorum is not reached yet. This is a "try
	// again later", not a permanent failure.
	ErrInsufficientConfirmations = xerrors.New("quorum not reached")
)

// timeNow is a variable so tests can move the clock.
var timeNow = time.Now

// Coordinator drives the message lifecycle: it checks submissions against
// the ledger, verifies confirmations against the validator registry and
// finalizes messages once the quorum is reached.
type Coordinator struct {
	ledger     *Ledger
	validators *validator.Registry
	config     *Config
}

// NewCoordinator returns a coordinator using the given ledger, validator
// registry and configuration.
func NewCoordinator(l *Ledger, vr *validator.Registry, c *Config) *Coordinator {
	return &Coordinator{
		ledger:     l,
		validators: vr,
		config:     c,
	}
}

// Config returns the configuration owned by this coordinator.
func (co *Coordinator) Config() *Config {
	return co.config
}

// Submit records a new message in Pending state and returns it. It fails
// with ErrInvalidChain for unsupported source chains and with
// ErrDuplicateNonce if the (source chain, nonce) pair was ever seen before.
// The ttl is capped by the configured maximum.
func (co *Coordinator) Submit(chain ChainID, nonce uint64, typ MessageType,
	payloadHash []byte, ttl time.Duration) (*Message, error) {
	if !typ.Valid() {
		return nil, ErrInvalidMessageType
	}
	if !co.config.Supports(chain) {
		return nil, ErrInvalidChain
	}
	values := co.config.Snapshot()
	ttlSec := int64(ttl / time.Second)
	if ttlSec <= 0 || ttlSec > values.MaxMessageTTLSec {
		ttlSec = values.MaxMessageTTLSec
	}

	now := timeNow().Unix()
	msg := &Message{
		SourceChain: chain,
		Nonce:       nonce,
		Type:        typ,
		PayloadHash: payloadHash,
		CreatedAt:   now,
		ExpiresAt:   now + ttlSec,
		State:       Pending,
	}
	if err := co.ledger.Store(msg); err != nil {
		return nil, err
	}
	log.Lvlf3("submitted message %x from %v nonce %d type %v",
		msg.ID(), chain, nonce, typ)
	return msg, nil
}

// Confirm adds the confirmation of a validator to a message. The validator
// must be active and sig must be its schnorr signature over the message
// digest. Confirming twice with the same validator is a no-op, so the call
// is safe to retry. Once the confirmation set reaches the quorum the message
// transitions to Finalized.
func (co *Coordinator) Confirm(msgID []byte, valAddr string, sig []byte) (*Message, error) {
	if !co.validators.IsValidator(valAddr) {
		return nil, validator.ErrNotAuthorized
	}

	min := int(co.config.Snapshot().MinConfirmations)
	now := timeNow().Unix()
	var expired bool
	msg, err := co.ledger.Update(msgID, func(m *Message) error {
		if m.State == Expired {
			expired = true
			return nil
		}
		if m.State == Pending && now > m.ExpiresAt {
			// Lazy transition: there is no background scheduler, the
			// expiry is applied by whoever touches the message first.
			m.State = Expired
			expired = true
			return nil
		}
		if m.State == Finalized {
			// Terminal and immutable - a retried confirmation is not an
			// error.
			return nil
		}
		if err := co.validators.VerifyAttestation(valAddr, m.Digest(), sig); err != nil {
			return err
		}
		if m.Confirmed(valAddr) {
			return nil
		}
		m.Confirmations = append(m.Confirmations, valAddr)
		if len(m.Confirmations) >= min {
			m.State = Finalized
			log.Lvlf2("message %x finalized with %d confirmations",
				msgID, len(m.Confirmations))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return msg, ErrMessageExpired
	}
	return msg, nil
}

// Get returns the message with the given ID in any state. A pending message
// past its expiry is transitioned to Expired before being returned, so reads
// never report a stale Pending state.
func (co *Coordinator) Get(msgID []byte) (*Message, error) {
	now := timeNow().Unix()
	msg, err := co.ledger.Get(msgID)
	if err != nil {
		return nil, err
	}
	if msg.State == Pending && now > msg.ExpiresAt {
		return co.ledger.Update(msgID, func(m *Message) error {
			if m.State == Pending && now > m.ExpiresAt {
				m.State = Expired
			}
			return nil
		})
	}
	return msg, nil
}

// RequireFinalized returns the message only if it reached the quorum. It is
// used by operations that need an authenticated, finalized message before
// they run, like initiating an atomic transaction from a relay request.
func (co *Coordinator) RequireFinalized(msgID []byte) (*Message, error) {
	msg, err := co.Get(msgID)
	if err != nil {
		return nil, err
	}
	switch msg.State {
	case Finalized:
		return msg, nil
	case Expired:
		return nil, ErrMessageExpired
	default:
		return nil, ErrInsufficientConfirmations
	}
}

// Count reports the ledger counters.
func (co *Coordinator) Count() (Counters, error) {
	return co.ledger.Count()
}
