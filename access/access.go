// Package access stores and evaluates the permission grants that gate
// whether a cross-chain request may reach record data. Grants carry a
// permission level, a record scope, free-standing conditions and an expiry;
// evaluation fails closed and every check, successful or not, leaves an
// audit entry.
package access

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/medchain/medbridge/bridge"
	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Level is the permission level of a grant. Levels are totally ordered:
// a request is allowed only if its level is not above the one of the grant.
type Level uint32

// None < Read < ReadConfidential < Write < Admin. Admin additionally allows
// managing grants on behalf of the grantor.
const (
	None Level = iota
	Read
	ReadConfidential
	Write
	Admin
)

func (l Level) String() string {
	switch l {
	case None:
		return "none"
	case Read:
		return "read"
	case ReadConfidential:
		return "read-confidential"
	case Write:
		return "write"
	case Admin:
		return "admin"
	}
	return "invalid"
}

// ScopeKind selects which records a grant applies to.
type ScopeKind uint32

// The scope variants.
const (
	AllRecords ScopeKind = iota
	SpecificRecords
	CategoryBased
	TimeRanged
)

// Scope is the subset of records a grant applies to. Only the fields of the
// selected kind are interpreted.
type Scope struct {
	Kind ScopeKind
	// RecordIDs is the allowed set for SpecificRecords.
	RecordIDs []uint64
	// Categories is the allowed set for CategoryBased.
	Categories []string
	// Start and End bound TimeRanged scopes, unix seconds.
	Start int64
	End   int64
}

// ConditionKind is one of the free-standing conditions of a grant.
type ConditionKind uint32

// The condition variants. All conditions of a grant must hold for a check to
// succeed.
const (
	// EmergencyOnly restricts the grant to emergency requests.
	EmergencyOnly ConditionKind = iota
	// RequireConsent requires the request to carry a consent proof.
	RequireConsent
	// AuditRequired requires the request to be attributable, i.e. carry the
	// hashed origin of the accessor.
	AuditRequired
	// SingleUse makes the grant pass exactly once.
	SingleUse
	// TimeRestricted limits checks to a time window.
	TimeRestricted
)

// Condition is an independent predicate over the current time and the
// request context.
type Condition struct {
	Kind ConditionKind
	// NotBefore and NotAfter bound TimeRestricted conditions, unix seconds.
	NotBefore int64
	NotAfter  int64
}

// Action is what the accessor intends to do with the record, recorded in the
// audit trail.
type Action uint32

// The audited actions.
const (
	View Action = iota
	Download
	Share
	Export
	Emergency
)

func (a Action) String() string {
	switch a {
	case View:
		return "view"
	case Download:
		return "download"
	case Share:
		return "share"
	case Export:
		return "export"
	case Emergency:
		return "emergency-access"
	}
	return "invalid"
}

var (
	// ErrGrantNotFound is returned by grant management operations for
	// unknown grant IDs. CheckAccess never returns it: a missing grant
	// fails closed instead.
	ErrGrantNotFound = xerrors.New("grant not found")
	// ErrGrantExpired is returned when managing a grant past its expiry.
	ErrGrantExpired = xerrors.New("grant expired")
	// ErrNotAuthorized is returned when the caller is neither the record
	// owner nor an admin-level delegate of it.
	ErrNotAuthorized = xerrors.New("caller may not manage grants for this patient")
	// ErrInsufficientPermissions is the reason recorded when a request
	// asks for a higher level than granted.
	ErrInsufficientPermissions = xerrors.New("requested level above granted level")
)

var timeNow = time.Now

// Grant is one stored access permission.
type Grant struct {
	ID             []byte
	Grantor        string
	GranteeChain   bridge.ChainID
	GranteeAddress string
	Level          Level
	Scope          Scope
	Conditions     []Condition
	CreatedAt      int64
	ExpiresAt      int64
	// DelegatedBy is set when the grant was created by an admin-level
	// delegate instead of the grantor itself.
	DelegatedBy string
	Revoked     bool
	// Consumed is flipped by the first successful check of a SingleUse
	// grant.
	Consumed bool
}

func (g *Grant) hasCondition(k ConditionKind) bool {
	for _, c := range g.Conditions {
		if c.Kind == k {
			return true
		}
	}
	return false
}

// usable tells whether the grant can still authorize anything at all.
func (g *Grant) usable(now int64) bool {
	return !g.Revoked && now <= g.ExpiresAt
}

// Request is the context of one access check.
type Request struct {
	GrantID   []byte
	Requester string
	Chain     bridge.ChainID
	RecordID  uint64
	// Category of the requested record, matched against CategoryBased
	// scopes.
	Category string
	Level    Level
	Action   Action
	// Emergency marks break-glass requests.
	Emergency bool
	// ConsentProof is an opaque token proving patient consent, required by
	// RequireConsent conditions.
	ConsentProof []byte
	// IPHash is the hashed network origin of the accessor.
	IPHash []byte
}

// RecordStore is the record collaborator. Only existence and hash cross this
// boundary, never plaintext.
type RecordStore interface {
	RecordExists(recordID uint64) bool
	RecordHash(recordID uint64) ([]byte, error)
}

// Sink receives audit entries. Appending is fire-and-forget: the core never
// reads entries back, errors are only logged.
type Sink interface {
	Append(Entry) error
}

// Entry is one line of the append-only access audit trail.
type Entry struct {
	AccessorChain   bridge.ChainID
	AccessorAddress string
	Patient         string
	RecordID        uint64
	Action          Action
	Timestamp       int64
	IPHash          []byte
	Success         bool
}

// Manager stores and evaluates access grants. The grant map is persisted
// with the bridge service storage; the collaborators are re-attached after
// loading with SetCollaborators.
type Manager struct {
	Grants map[string]*Grant

	sync.Mutex
	records RecordStore
	audit   Sink
}

// NewManager returns an empty grant manager.
func NewManager() *Manager {
	return &Manager{
		Grants: make(map[string]*Grant),
	}
}

// SetCollaborators attaches the record store and the audit sink. Both may be
// nil: without a record store, existence checks are skipped; without a sink,
// checks are not audited.
func (m *Manager) SetCollaborators(records RecordStore, audit Sink) {
	m.Lock()
	defer m.Unlock()
	m.records = records
	m.audit = audit
}

// isDelegate reports whether caller holds a usable Admin-level grant from
// grantor. Must be called with the lock held.
func (m *Manager) isDelegate(caller, grantor string, now int64) bool {
	for _, g := range m.Grants {
		if g.Grantor == grantor && g.GranteeAddress == caller &&
			g.Level >= Admin && g.usable(now) {
			return true
		}
	}
	return false
}

// Grant creates a new access grant from grantor to the given grantee. Only
// the grantor itself or one of its admin-level delegates may call this; a
// delegate is recorded in DelegatedBy. A zero duration falls back to
// defaultDuration.
func (m *Manager) Grant(caller, grantor string, chain bridge.ChainID, grantee string,
	level Level, scope Scope, duration time.Duration, conditions []Condition,
	defaultDuration int64) (Grant, error) {
	m.Lock()
	defer m.Unlock()

	now := timeNow().Unix()
	var delegatedBy string
	if caller != grantor {
		if !m.isDelegate(caller, grantor, now) {
			return Grant{}, ErrNotAuthorized
		}
		delegatedBy = caller
	}

	durSec := int64(duration / time.Second)
	if durSec <= 0 {
		durSec = defaultDuration
	}

	id := make([]byte, 32)
	random.Bytes(id, random.New())
	g := &Grant{
		ID:             id,
		Grantor:        grantor,
		GranteeChain:   chain,
		GranteeAddress: grantee,
		Level:          level,
		Scope:          scope,
		Conditions:     conditions,
		CreatedAt:      now,
		ExpiresAt:      now + durSec,
		DelegatedBy:    delegatedBy,
	}
	m.Grants[hex.EncodeToString(id)] = g
	log.Lvlf3("grant %x: %v -> %v/%v level %v", id, grantor, chain, grantee, level)
	return *g, nil
}

// Revoke immediately invalidates a grant, regardless of its expiry. Only the
// grantor or an admin-level delegate may revoke. Revoking twice is a no-op.
func (m *Manager) Revoke(caller string, grantID []byte) error {
	m.Lock()
	defer m.Unlock()

	g, ok := m.Grants[hex.EncodeToString(grantID)]
	if !ok {
		return ErrGrantNotFound
	}
	if caller != g.Grantor && !m.isDelegate(caller, g.Grantor, timeNow().Unix()) {
		return ErrNotAuthorized
	}
	g.Revoked = true
	log.Lvlf3("grant %x revoked by %v", grantID, caller)
	return nil
}

// Get returns a copy of a grant.
func (m *Manager) Get(grantID []byte) (Grant, error) {
	m.Lock()
	defer m.Unlock()

	g, ok := m.Grants[hex.EncodeToString(grantID)]
	if !ok {
		return Grant{}, ErrGrantNotFound
	}
	return *g, nil
}

// Check evaluates an access request against its grant. It fails closed:
// false for a missing, expired, revoked, out-of-scope, under-permissioned or
// condition-violating grant - never an error. Every call appends an audit
// entry, whatever the outcome.
func (m *Manager) Check(req Request) bool {
	m.Lock()
	defer m.Unlock()

	now := timeNow().Unix()
	g, ok := m.Grants[hex.EncodeToString(req.GrantID)]
	if !ok {
		// No grant to take the patient from; audit what is known.
		m.appendAudit(req, "", false)
		return false
	}

	allowed := m.evaluate(g, req, now)
	if allowed && g.hasCondition(SingleUse) {
		g.Consumed = true
	}
	m.appendAudit(req, g.Grantor, allowed)
	return allowed
}

// evaluate applies expiry, level ordering, scope and all conditions. Must be
// called with the lock held.
func (m *Manager) evaluate(g *Grant, req Request, now int64) bool {
	if !g.usable(now) {
		return false
	}
	if req.Level > g.Level {
		return false
	}

	switch g.Scope.Kind {
	case AllRecords:
	case SpecificRecords:
		var found bool
		for _, id := range g.Scope.RecordIDs {
			if id == req.RecordID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	case CategoryBased:
		var found bool
		for _, c := range g.Scope.Categories {
			if c == req.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	case TimeRanged:
		if now < g.Scope.Start || now > g.Scope.End {
			return false
		}
	default:
		return false
	}

	// The record itself must exist before anything is reported about it.
	if m.records != nil && !m.records.RecordExists(req.RecordID) {
		return false
	}

	for _, c := range g.Conditions {
		switch c.Kind {
		case EmergencyOnly:
			if !req.Emergency {
				return false
			}
		case RequireConsent:
			if len(req.ConsentProof) == 0 {
				return false
			}
		case AuditRequired:
			if len(req.IPHash) == 0 {
				return false
			}
		case SingleUse:
			if g.Consumed {
				return false
			}
		case TimeRestricted:
			if now < c.NotBefore || now > c.NotAfter {
				return false
			}
		default:
			// Unknown condition kinds fail closed.
			return false
		}
	}
	return true
}

func (m *Manager) appendAudit(req Request, patient string, success bool) {
	if m.audit == nil {
		return
	}
	err := m.audit.Append(Entry{
		AccessorChain:   req.Chain,
		AccessorAddress: req.Requester,
		Patient:         patient,
		RecordID:        req.RecordID,
		Action:          req.Action,
		Timestamp:       timeNow().Unix(),
		IPHash:          req.IPHash,
		Success:         success,
	})
	if err != nil {
		log.Error("couldn't append audit entry:", err)
	}
}
