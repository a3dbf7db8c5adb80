package service

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/medchain/medbridge/access"
	"github.com/medchain/medbridge/atomic"
	"github.com/medchain/medbridge/bridge"
	"github.com/medchain/medbridge/identity"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3/network"
)

func init() {
	network.RegisterMessages(
		&InitRequest{}, &InitReply{},
		&AddValidator{}, &AddValidatorReply{},
		&DeactivateValidator{}, &DeactivateValidatorReply{},
		&AdjustTrust{}, &AdjustTrustReply{},
		&AdjustStake{}, &AdjustStakeReply{},
		&AddChain{}, &AddChainReply{},
		&SetConfig{}, &SetConfigReply{},
		&SubmitMessage{}, &SubmitMessageReply{},
		&ConfirmMessage{}, &ConfirmMessageReply{},
		&GetMessage{}, &GetMessageReply{},
		&InitiateTx{}, &InitiateTxReply{},
		&PrepareTx{}, &PrepareTxReply{},
		&CommitTx{}, &CommitTxReply{},
		&AbortTx{}, &AbortTxReply{},
		&GetTx{}, &GetTxReply{},
		&RequestVerification{}, &RequestVerificationReply{},
		&Attest{}, &AttestReply{},
		&ResolveIdentity{}, &ResolveIdentityReply{},
		&GrantAccess{}, &GrantAccessReply{},
		&RevokeAccess{}, &RevokeAccessReply{},
		&CheckAccess{}, &CheckAccessReply{},
		&SearchAudit{}, &SearchAuditReply{},
		&Status{}, &StatusReply{},
	)
}

// PROTOSTART
// type :bridge.ChainID:uint32
// type :bridge.MessageType:uint32
// type :bridge.MessageState:uint32
//
// package medbridge;
//
// option java_package = "ch.medchain.lib.proto";
// option java_outer_classname = "MedBridgeProto";

// ***
// These are the messages used in the API-calls
// ***

// InitRequest fixes the administrator of this bridge. It can only be done
// once per service instance.
type InitRequest struct {
	AdminKey kyber.Point
}

// InitReply is returned when the admin key was set.
type InitReply struct {
}

// AddValidator registers a new validator. Admin-only.
type AddValidator struct {
	Address   string
	PublicKey kyber.Point
	Stake     uint64
	// Signature is the admin's schnorr signature over Hash().
	Signature []byte
}

// Hash returns the digest the admin signs for this request.
func (req *AddValidator) Hash() []byte {
	h := sha256.New()
	h.Write([]byte("addvalidator"))
	h.Write([]byte(req.Address))
	buf, _ := req.PublicKey.MarshalBinary()
	h.Write(buf)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], req.Stake)
	h.Write(b[:])
	return h.Sum(nil)
}

// AddValidatorReply is returned when the validator is registered.
type AddValidatorReply struct {
}

// DeactivateValidator marks a validator as inactive. Admin-only.
type DeactivateValidator struct {
	Address   string
	Signature []byte
}

// Hash returns the digest the admin signs for this request.
func (req *DeactivateValidator) Hash() []byte {
	h := sha256.New()
	h.Write([]byte("deactivatevalidator"))
	h.Write([]byte(req.Address))
	return h.Sum(nil)
}

// DeactivateValidatorReply is returned when the validator is deactivated.
type DeactivateValidatorReply struct {
}

// AdjustTrust moves the trust score of a validator. Admin-only.
type AdjustTrust struct {
	Address   string
	Delta     int32
	Signature []byte
}

// Hash returns the digest the admin signs for this request.
func (req *AdjustTrust) Hash() []byte {
	h := sha256.New()
	h.Write([]byte("adjusttrust"))
	h.Write([]byte(req.Address))
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(req.Delta))
	h.Write(b[:])
	return h.Sum(nil)
}

// AdjustTrustReply returns the clamped score.
type AdjustTrustReply struct {
	Score uint32
}

// AdjustStake sets the stake of a validator. Admin-only.
type AdjustStake struct {
	Address   string
	Stake     uint64
	Signature []byte
}

// Hash returns the digest the admin signs for this request.
func (req *AdjustStake) Hash() []byte {
	h := sha256.New()
	h.Write([]byte("adjuststake"))
	h.Write([]byte(req.Address))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], req.Stake)
	h.Write(b[:])
	return h.Sum(nil)
}

// AdjustStakeReply is returned when the stake is updated.
type AdjustStakeReply struct {
}

// AddChain adds a chain to the supported set. Admin-only.
type AddChain struct {
	Chain     bridge.ChainID
	Signature []byte
}

// Hash returns the digest the admin signs for this request.
func (req *AddChain) Hash() []byte {
	h := sha256.New()
	h.Write([]byte("addchain"))
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(req.Chain))
	h.Write(b[:])
	return h.Sum(nil)
}

// AddChainReply is returned when the chain is supported.
type AddChainReply struct {
}

// SetConfig overwrites the numeric configuration values. Zero fields keep
// their current value. Admin-only.
type SetConfig struct {
	Values    bridge.ConfigValues
	Signature []byte
}

// Hash returns the digest the admin signs for this request.
func (req *SetConfig) Hash() []byte {
	h := sha256.New()
	h.Write([]byte("setconfig"))
	var b [8]byte
	binary.BigEndian.PutUint32(b[:4], req.Values.MinConfirmations)
	h.Write(b[:4])
	binary.BigEndian.PutUint64(b[:], uint64(req.Values.MaxMessageTTLSec))
	h.Write(b[:])
	binary.BigEndian.PutUint64(b[:], uint64(req.Values.IdentityValiditySec))
	h.Write(b[:])
	binary.BigEndian.PutUint64(b[:], uint64(req.Values.GrantDurationSec))
	h.Write(b[:])
	return h.Sum(nil)
}

// SetConfigReply is returned when the configuration is updated.
type SetConfigReply struct {
}

// SubmitMessage records a new cross-chain message in the ledger.
type SubmitMessage struct {
	SourceChain bridge.ChainID
	Nonce       uint64
	Type        bridge.MessageType
	PayloadHash []byte
	// TTLSec is the requested time-to-live in seconds. It is capped by the
	// configured maximum.
	TTLSec int64
}

// SubmitMessageReply returns the ledger ID of the new message.
type SubmitMessageReply struct {
	MessageID []byte
	Message   bridge.Message
}

// ConfirmMessage adds a validator confirmation to a pending message.
type ConfirmMessage struct {
	MessageID []byte
	Validator string
	// Signature is the validator's schnorr signature over the message
	// digest.
	Signature []byte
}

// ConfirmMessageReply returns the state after the confirmation was applied.
type ConfirmMessageReply struct {
	State         bridge.MessageState
	Confirmations uint32
}

// GetMessage fetches a message in any state.
type GetMessage struct {
	MessageID []byte
}

// GetMessageReply returns the message.
type GetMessageReply struct {
	Message bridge.Message
}

// InitiateTx creates a new atomic transaction over the given participant
// chains. If MessageID is set, the referenced message must be finalized
// first.
type InitiateTx struct {
	Participants []bridge.ChainID
	TimeoutSec   int64
	MessageID    []byte
}

// InitiateTxReply returns the new transaction.
type InitiateTxReply struct {
	TxID  []byte
	State atomic.State
}

// PrepareTx records that a participant chain is ready.
type PrepareTx struct {
	TxID        []byte
	Participant bridge.ChainID
}

// PrepareTxReply returns the state after the prepare was applied.
type PrepareTxReply struct {
	State atomic.State
}

// CommitTx finalizes a fully prepared transaction.
type CommitTx struct {
	TxID []byte
}

// CommitTxReply returns the final state.
type CommitTxReply struct {
	State atomic.State
}

// AbortTx gives up on a transaction that did not commit yet.
type AbortTx struct {
	TxID   []byte
	Reason string
}

// AbortTxReply returns the state after the abort.
type AbortTxReply struct {
	State atomic.State
}

// GetTx fetches an atomic transaction.
type GetTx struct {
	TxID []byte
}

// GetTxReply returns the transaction.
type GetTxReply struct {
	Transaction atomic.Transaction
}

// RequestVerification starts or renews the verification of an identity
// link.
type RequestVerification struct {
	Stellar         string
	ExternalChain   bridge.ChainID
	ExternalAddress string
}

// RequestVerificationReply returns the link ID to attest.
type RequestVerificationReply struct {
	LinkID []byte
	Status identity.Status
}

// Attest records a validator attestation on an identity link.
type Attest struct {
	LinkID    []byte
	Validator string
	// Signature is the validator's schnorr signature over the link digest.
	Signature []byte
}

// AttestReply returns the status after the attestation was applied.
type AttestReply struct {
	Status       identity.Status
	Attestations uint32
}

// ResolveIdentity looks up the link of a Stellar identity on a chain.
type ResolveIdentity struct {
	Stellar       string
	ExternalChain bridge.ChainID
}

// ResolveIdentityReply returns the link.
type ResolveIdentityReply struct {
	Link identity.Link
}

// GrantAccess creates an access grant. Caller must be the grantor or one of
// its admin-level delegates.
type GrantAccess struct {
	Caller         string
	Grantor        string
	GranteeChain   bridge.ChainID
	GranteeAddress string
	Level          access.Level
	Scope          access.Scope
	DurationSec    int64
	Conditions     []access.Condition
}

// GrantAccessReply returns the new grant.
type GrantAccessReply struct {
	GrantID   []byte
	ExpiresAt int64
}

// RevokeAccess immediately invalidates a grant.
type RevokeAccess struct {
	Caller  string
	GrantID []byte
}

// RevokeAccessReply is returned when the grant is revoked.
type RevokeAccessReply struct {
}

// CheckAccess evaluates an access request against its grant. The outcome is
// always audited.
type CheckAccess struct {
	Request access.Request
}

// CheckAccessReply returns the decision. RecordHash is only set when the
// access is allowed and the record collaborator is attached.
type CheckAccessReply struct {
	Allowed    bool
	RecordHash []byte
}

// SearchAudit returns the audit entries of a patient in a time range. An
// empty patient matches all entries. Admin-only.
type SearchAudit struct {
	Patient   string
	From      int64
	To        int64
	Signature []byte
}

// Hash returns the digest the admin signs for this request.
func (req *SearchAudit) Hash() []byte {
	h := sha256.New()
	h.Write([]byte("searchaudit"))
	h.Write([]byte(req.Patient))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(req.From))
	h.Write(b[:])
	binary.BigEndian.PutUint64(b[:], uint64(req.To))
	h.Write(b[:])
	return h.Sum(nil)
}

// SearchAuditReply returns the matching entries.
type SearchAuditReply struct {
	Entries []access.Entry
}

// Status asks for a summary of the bridge state.
type Status struct {
}

// StatusReply summarizes the bridge state.
type StatusReply struct {
	Initialized      bool
	ActiveValidators uint32
	Pending          uint32
	Finalized        uint32
	Expired          uint32
	MinConfirmations uint32
}
