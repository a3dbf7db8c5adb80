// Package validator keeps track of the validators that are allowed to attest
// cross-chain messages and identity links. Validators are added by the bridge
// administrator, carry a stake and a trust score, and are deactivated instead
// of deleted so that confirmations they gave in the past stay auditable.
package validator

import (
	"sync"

	"github.com/medchain/medbridge"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"golang.org/x/xerrors"
)

// Trust scores are clamped to [0, MaxTrustScore].
const MaxTrustScore = 100

// InitialTrustScore is given to a freshly added validator.
const InitialTrustScore = 50

var (
	// ErrAlreadyExists is returned when adding a validator whose address is
	// already registered, active or not.
	ErrAlreadyExists = xerrors.New("validator already exists")
	// ErrNotFound is returned for lookups of unknown validator addresses.
	ErrNotFound = xerrors.New("validator not found")
	// ErrNotAuthorized is returned when an unknown or deactivated validator
	// tries to contribute a confirmation or attestation.
	ErrNotAuthorized = xerrors.New("not an active validator")
)

// Validator is one member of the bridge validator set.
type Validator struct {
	Address   string
	PublicKey kyber.Point
	Stake     uint64
	// TrustScore is in [0, MaxTrustScore]. It only influences future
	// admission decisions - messages that already reached quorum are never
	// retroactively invalidated when a score drops.
	TrustScore uint32
	Active     bool
}

// Registry is the validator set. It is stored as part of the bridge service
// storage, so all fields need to be exported.
type Registry struct {
	Validators map[string]*Validator

	sync.Mutex
}

// NewRegistry returns an empty validator registry.
func NewRegistry() *Registry {
	return &Registry{
		Validators: make(map[string]*Validator),
	}
}

// Add registers a new validator. The address must not be known yet, even as a
// deactivated validator.
func (r *Registry) Add(address string, public kyber.Point, stake uint64) error {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.Validators[address]; ok {
		return ErrAlreadyExists
	}
	r.Validators[address] = &Validator{
		Address:    address,
		PublicKey:  public,
		Stake:      stake,
		TrustScore: InitialTrustScore,
		Active:     true,
	}
	return nil
}

// Deactivate marks a validator as inactive. The entry is kept so that
// confirmations given before deactivation stay attributable.
func (r *Registry) Deactivate(address string) error {
	r.Lock()
	defer r.Unlock()

	v, ok := r.Validators[address]
	if !ok {
		return ErrNotFound
	}
	v.Active = false
	return nil
}

// AdjustTrust moves the trust score of a validator by delta, clamping the
// result to [0, MaxTrustScore].
func (r *Registry) AdjustTrust(address string, delta int32) (uint32, error) {
	r.Lock()
	defer r.Unlock()

	v, ok := r.Validators[address]
	if !ok {
		return 0, ErrNotFound
	}
	score := int64(v.TrustScore) + int64(delta)
	if score < 0 {
		score = 0
	}
	if score > MaxTrustScore {
		score = MaxTrustScore
	}
	v.TrustScore = uint32(score)
	return v.TrustScore, nil
}

// AdjustStake sets the stake of a validator to the given value.
func (r *Registry) AdjustStake(address string, stake uint64) error {
	r.Lock()
	defer r.Unlock()

	v, ok := r.Validators[address]
	if !ok {
		return ErrNotFound
	}
	v.Stake = stake
	return nil
}

// IsValidator returns true if the address belongs to an active validator.
func (r *Registry) IsValidator(address string) bool {
	r.Lock()
	defer r.Unlock()

	v, ok := r.Validators[address]
	return ok && v.Active
}

// Get returns a copy of the validator with the given address.
func (r *Registry) Get(address string) (Validator, error) {
	r.Lock()
	defer r.Unlock()

	v, ok := r.Validators[address]
	if !ok {
		return Validator{}, ErrNotFound
	}
	return *v, nil
}

// ActiveCount returns the number of active validators.
func (r *Registry) ActiveCount() int {
	r.Lock()
	defer r.Unlock()

	var n int
	for _, v := range r.Validators {
		if v.Active {
			n++
		}
	}
	return n
}

// VerifyAttestation checks that sig is a valid schnorr signature by the given
// active validator over msg. It returns ErrNotAuthorized for unknown or
// deactivated validators, so callers can treat "no such validator" and
// "deactivated validator" the same way.
func (r *Registry) VerifyAttestation(address string, msg, sig []byte) error {
	r.Lock()
	v, ok := r.Validators[address]
	r.Unlock()

	if !ok || !v.Active {
		return ErrNotAuthorized
	}
	if err := schnorr.Verify(medbridge.Suite, v.PublicKey, msg, sig); err != nil {
		return xerrors.Errorf("verifying attestation: %v", err)
	}
	return nil
}
