// Package identity binds external-chain addresses to local Stellar identities
// through accumulated validator attestations. A link becomes Verified once
// enough distinct active validators attested it, stays valid for a
// configurable period and then has to be renewed, which re-enters Pending.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"github.com/medchain/medbridge/bridge"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Status of an identity link.
type Status uint32

// Pending links wait for attestations, Verified links can be resolved,
// Expired links have to be renewed.
const (
	Pending Status = iota
	Verified
	Expired
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Verified:
		return "verified"
	case Expired:
		return "expired"
	}
	return "invalid"
}

var (
	// ErrLinkNotFound is returned for lookups of unknown identity links.
	ErrLinkNotFound = xerrors.New("identity link not found")
	// ErrDuplicateAttestation is returned when a validator attests the same
	// link twice.
	ErrDuplicateAttestation = xerrors.New("validator already attested this link")
	// ErrIdentityExpired is returned when a link is resolved or attested
	// past its validity.
	ErrIdentityExpired = xerrors.New("identity link expired")
)

var timeNow = time.Now

// Link binds an external-chain address to a Stellar identity.
type Link struct {
	Stellar         string
	ExternalChain   bridge.ChainID
	ExternalAddress string
	// Attestations holds the addresses of the validators that attested
	// this link since it last entered Pending.
	Attestations []string
	VerifiedAt   int64
	ExpiresAt    int64
	Status       Status
}

// LinkID derives the identifier of the link for a Stellar identity on an
// external chain. One identity has at most one link per chain.
func LinkID(stellar string, chain bridge.ChainID) []byte {
	h := sha256.New()
	h.Write([]byte(stellar))
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(chain))
	h.Write(buf[:])
	return h.Sum(nil)
}

// ID returns the identifier of this link.
func (l *Link) ID() []byte {
	return LinkID(l.Stellar, l.ExternalChain)
}

// Digest returns what a validator signs to attest this link.
func (l *Link) Digest() []byte {
	h := sha256.New()
	h.Write([]byte(l.Stellar))
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(l.ExternalChain))
	h.Write(buf[:])
	h.Write([]byte(l.ExternalAddress))
	return h.Sum(nil)
}

func (l *Link) attested(validator string) bool {
	for _, a := range l.Attestations {
		if a == validator {
			return true
		}
	}
	return false
}

// lazyExpire downgrades a Verified link whose validity elapsed. Returns true
// if the link is expired.
func (l *Link) lazyExpire(now int64) bool {
	if l.Status == Verified && now > l.ExpiresAt {
		l.Status = Expired
	}
	return l.Status == Expired
}

// Registry holds all identity links. It is stored as part of the bridge
// service storage, so the map is exported.
type Registry struct {
	Links map[string]*Link

	sync.Mutex
}

// NewRegistry returns an empty identity link registry.
func NewRegistry() *Registry {
	return &Registry{
		Links: make(map[string]*Link),
	}
}

// Request starts the verification of a link, or returns the existing one
// unchanged if it is already Pending or Verified, so the call is safe to
// retry. An expired link re-enters Pending with an empty attestation set:
// this is the renewal path.
func (r *Registry) Request(stellar string, chain bridge.ChainID, external string) (Link, error) {
	r.Lock()
	defer r.Unlock()

	key := hex.EncodeToString(LinkID(stellar, chain))
	now := timeNow().Unix()
	if l, ok := r.Links[key]; ok {
		if !l.lazyExpire(now) {
			return *l, nil
		}
		// Renewal: all attestations have to be collected again.
		l.Status = Pending
		l.Attestations = nil
		l.ExternalAddress = external
		l.VerifiedAt = 0
		l.ExpiresAt = 0
		log.Lvlf3("identity link %v/%v renewed", stellar, chain)
		return *l, nil
	}

	l := &Link{
		Stellar:         stellar,
		ExternalChain:   chain,
		ExternalAddress: external,
		Status:          Pending,
	}
	r.Links[key] = l
	return *l, nil
}

// Attest records the attestation of a validator. The caller is responsible
// for checking that the validator is active and that its signature over
// Link.Digest verifies. Once minAttestations distinct validators attested,
// the link becomes Verified for validity seconds.
func (r *Registry) Attest(linkID []byte, validator string, minAttestations int,
	validity int64) (Link, error) {
	r.Lock()
	defer r.Unlock()

	l, ok := r.Links[hex.EncodeToString(linkID)]
	if !ok {
		return Link{}, ErrLinkNotFound
	}
	now := timeNow().Unix()
	if l.lazyExpire(now) {
		return *l, ErrIdentityExpired
	}
	if l.Status == Verified {
		// Already verified - an extra attestation is a retry, not an
		// error, and does not extend the validity.
		if l.attested(validator) {
			return *l, nil
		}
		return *l, nil
	}
	if l.attested(validator) {
		return *l, ErrDuplicateAttestation
	}
	l.Attestations = append(l.Attestations, validator)
	if len(l.Attestations) >= minAttestations {
		l.Status = Verified
		l.VerifiedAt = now
		l.ExpiresAt = now + validity
		log.Lvlf2("identity link %v/%v verified with %d attestations",
			l.Stellar, l.ExternalChain, len(l.Attestations))
	}
	return *l, nil
}

// Get returns the link with the given ID without touching its status. It is
// used to fetch the digest a validator has to sign.
func (r *Registry) Get(linkID []byte) (Link, error) {
	r.Lock()
	defer r.Unlock()

	l, ok := r.Links[hex.EncodeToString(linkID)]
	if !ok {
		return Link{}, ErrLinkNotFound
	}
	return *l, nil
}

// Resolve returns the link for a Stellar identity on a chain. It fails with
// ErrIdentityExpired when the validity elapsed, even if the stored status
// still said Verified - the status is corrected lazily on this read. A
// Pending link is returned as such without an error: not yet verified is a
// legitimate state for the caller to observe.
func (r *Registry) Resolve(stellar string, chain bridge.ChainID) (Link, error) {
	r.Lock()
	defer r.Unlock()

	l, ok := r.Links[hex.EncodeToString(LinkID(stellar, chain))]
	if !ok {
		return Link{}, ErrLinkNotFound
	}
	if l.lazyExpire(timeNow().Unix()) {
		return *l, ErrIdentityExpired
	}
	return *l, nil
}
