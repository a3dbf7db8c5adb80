package service

import (
	"time"

	"github.com/medchain/medbridge"
	"github.com/medchain/medbridge/access"
	"github.com/medchain/medbridge/atomic"
	"github.com/medchain/medbridge/bridge"
	"github.com/medchain/medbridge/identity"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
)

// Client is a structure to communicate with the medical bridge service.
type Client struct {
	*onet.Client
	Roster *onet.Roster
}

// NewClient makes a new Client talking to the given roster.
func NewClient(r *onet.Roster) *Client {
	return &Client{
		Client: onet.NewClient(medbridge.Suite, ServiceName),
		Roster: r,
	}
}

func (c *Client) dst() *network.ServerIdentity {
	return c.Roster.List[0]
}

// Init fixes the administrator key of the bridge. It can only be called once.
func (c *Client) Init(admin kyber.Point) error {
	return c.SendProtobuf(c.dst(), &InitRequest{AdminKey: admin}, &InitReply{})
}

// AddValidator registers a new validator, signing the request with the admin
// key.
func (c *Client) AddValidator(admin kyber.Scalar, address string,
	public kyber.Point, stake uint64) error {
	req := &AddValidator{
		Address:   address,
		PublicKey: public,
		Stake:     stake,
	}
	sig, err := schnorr.Sign(medbridge.Suite, admin, req.Hash())
	if err != nil {
		return err
	}
	req.Signature = sig
	return c.SendProtobuf(c.dst(), req, &AddValidatorReply{})
}

// DeactivateValidator marks a validator as inactive.
func (c *Client) DeactivateValidator(admin kyber.Scalar, address string) error {
	req := &DeactivateValidator{Address: address}
	sig, err := schnorr.Sign(medbridge.Suite, admin, req.Hash())
	if err != nil {
		return err
	}
	req.Signature = sig
	return c.SendProtobuf(c.dst(), req, &DeactivateValidatorReply{})
}

// AdjustTrust moves the trust score of a validator and returns the clamped
// result.
func (c *Client) AdjustTrust(admin kyber.Scalar, address string, delta int32) (uint32, error) {
	req := &AdjustTrust{Address: address, Delta: delta}
	sig, err := schnorr.Sign(medbridge.Suite, admin, req.Hash())
	if err != nil {
		return 0, err
	}
	req.Signature = sig
	reply := &AdjustTrustReply{}
	if err := c.SendProtobuf(c.dst(), req, reply); err != nil {
		return 0, err
	}
	return reply.Score, nil
}

// AdjustStake sets the stake of a validator.
func (c *Client) AdjustStake(admin kyber.Scalar, address string, stake uint64) error {
	req := &AdjustStake{Address: address, Stake: stake}
	sig, err := schnorr.Sign(medbridge.Suite, admin, req.Hash())
	if err != nil {
		return err
	}
	req.Signature = sig
	return c.SendProtobuf(c.dst(), req, &AdjustStakeReply{})
}

// AddChain adds a chain to the supported set.
func (c *Client) AddChain(admin kyber.Scalar, chain bridge.ChainID) error {
	req := &AddChain{Chain: chain}
	sig, err := schnorr.Sign(medbridge.Suite, admin, req.Hash())
	if err != nil {
		return err
	}
	req.Signature = sig
	return c.SendProtobuf(c.dst(), req, &AddChainReply{})
}

// SetConfig overwrites the numeric configuration values. Zero fields keep
// their current value.
func (c *Client) SetConfig(admin kyber.Scalar, values bridge.ConfigValues) error {
	req := &SetConfig{Values: values}
	sig, err := schnorr.Sign(medbridge.Suite, admin, req.Hash())
	if err != nil {
		return err
	}
	req.Signature = sig
	return c.SendProtobuf(c.dst(), req, &SetConfigReply{})
}

// SubmitMessage records a new cross-chain message and returns its ledger ID.
func (c *Client) SubmitMessage(chain bridge.ChainID, nonce uint64,
	typ bridge.MessageType, payloadHash []byte, ttl time.Duration) (*SubmitMessageReply, error) {
	reply := &SubmitMessageReply{}
	err := c.SendProtobuf(c.dst(), &SubmitMessage{
		SourceChain: chain,
		Nonce:       nonce,
		Type:        typ,
		PayloadHash: payloadHash,
		TTLSec:      int64(ttl / time.Second),
	}, reply)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// ConfirmMessage fetches the message, signs its digest with the validator's
// private key and sends the confirmation.
func (c *Client) ConfirmMessage(validator string, priv kyber.Scalar,
	msgID []byte) (*ConfirmMessageReply, error) {
	msg, err := c.GetMessage(msgID)
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(medbridge.Suite, priv, msg.Digest())
	if err != nil {
		return nil, err
	}
	reply := &ConfirmMessageReply{}
	err = c.SendProtobuf(c.dst(), &ConfirmMessage{
		MessageID: msgID,
		Validator: validator,
		Signature: sig,
	}, reply)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// GetMessage returns the message with the given ID in any state.
func (c *Client) GetMessage(msgID []byte) (*bridge.Message, error) {
	reply := &GetMessageReply{}
	if err := c.SendProtobuf(c.dst(), &GetMessage{MessageID: msgID}, reply); err != nil {
		return nil, err
	}
	return &reply.Message, nil
}

// InitiateTx creates a new atomic transaction over the given participants.
func (c *Client) InitiateTx(participants []bridge.ChainID, timeout time.Duration,
	msgID []byte) (*InitiateTxReply, error) {
	reply := &InitiateTxReply{}
	err := c.SendProtobuf(c.dst(), &InitiateTx{
		Participants: participants,
		TimeoutSec:   int64(timeout / time.Second),
		MessageID:    msgID,
	}, reply)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// PrepareTx records that a participant chain is ready.
func (c *Client) PrepareTx(txID []byte, p bridge.ChainID) (atomic.State, error) {
	reply := &PrepareTxReply{}
	err := c.SendProtobuf(c.dst(), &PrepareTx{TxID: txID, Participant: p}, reply)
	if err != nil {
		return 0, err
	}
	return reply.State, nil
}

// CommitTx finalizes a fully prepared transaction.
func (c *Client) CommitTx(txID []byte) (atomic.State, error) {
	reply := &CommitTxReply{}
	if err := c.SendProtobuf(c.dst(), &CommitTx{TxID: txID}, reply); err != nil {
		return 0, err
	}
	return reply.State, nil
}

// AbortTx gives up on a transaction that did not commit yet.
func (c *Client) AbortTx(txID []byte, reason string) (atomic.State, error) {
	reply := &AbortTxReply{}
	err := c.SendProtobuf(c.dst(), &AbortTx{TxID: txID, Reason: reason}, reply)
	if err != nil {
		return 0, err
	}
	return reply.State, nil
}

// GetTx returns the transaction with the given ID.
func (c *Client) GetTx(txID []byte) (*atomic.Transaction, error) {
	reply := &GetTxReply{}
	if err := c.SendProtobuf(c.dst(), &GetTx{TxID: txID}, reply); err != nil {
		return nil, err
	}
	return &reply.Transaction, nil
}

// RequestVerification starts or renews the verification of an identity link.
func (c *Client) RequestVerification(stellar string, chain bridge.ChainID,
	external string) (*RequestVerificationReply, error) {
	reply := &RequestVerificationReply{}
	err := c.SendProtobuf(c.dst(), &RequestVerification{
		Stellar:         stellar,
		ExternalChain:   chain,
		ExternalAddress: external,
	}, reply)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Attest signs the digest of the link binding stellar to external on chain
// with the validator's private key and sends the attestation.
func (c *Client) Attest(validator string, priv kyber.Scalar, stellar string,
	chain bridge.ChainID, external string) (*AttestReply, error) {
	link := identity.Link{
		Stellar:         stellar,
		ExternalChain:   chain,
		ExternalAddress: external,
	}
	sig, err := schnorr.Sign(medbridge.Suite, priv, link.Digest())
	if err != nil {
		return nil, err
	}
	reply := &AttestReply{}
	err = c.SendProtobuf(c.dst(), &Attest{
		LinkID:    link.ID(),
		Validator: validator,
		Signature: sig,
	}, reply)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// ResolveIdentity looks up the link of a Stellar identity on a chain.
func (c *Client) ResolveIdentity(stellar string, chain bridge.ChainID) (*identity.Link, error) {
	reply := &ResolveIdentityReply{}
	err := c.SendProtobuf(c.dst(), &ResolveIdentity{
		Stellar:       stellar,
		ExternalChain: chain,
	}, reply)
	if err != nil {
		return nil, err
	}
	return &reply.Link, nil
}

// GrantAccess creates an access grant.
func (c *Client) GrantAccess(caller, grantor string, chain bridge.ChainID,
	grantee string, level access.Level, scope access.Scope,
	duration time.Duration, conditions []access.Condition) (*GrantAccessReply, error) {
	reply := &GrantAccessReply{}
	err := c.SendProtobuf(c.dst(), &GrantAccess{
		Caller:         caller,
		Grantor:        grantor,
		GranteeChain:   chain,
		GranteeAddress: grantee,
		Level:          level,
		Scope:          scope,
		DurationSec:    int64(duration / time.Second),
		Conditions:     conditions,
	}, reply)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// RevokeAccess immediately invalidates a grant.
func (c *Client) RevokeAccess(caller string, grantID []byte) error {
	return c.SendProtobuf(c.dst(), &RevokeAccess{
		Caller:  caller,
		GrantID: grantID,
	}, &RevokeAccessReply{})
}

// CheckAccess evaluates an access request against its grant.
func (c *Client) CheckAccess(req access.Request) (*CheckAccessReply, error) {
	reply := &CheckAccessReply{}
	if err := c.SendProtobuf(c.dst(), &CheckAccess{Request: req}, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// SearchAudit returns the audit entries of a patient in a time range.
func (c *Client) SearchAudit(admin kyber.Scalar, patient string,
	from, to int64) ([]access.Entry, error) {
	req := &SearchAudit{Patient: patient, From: from, To: to}
	sig, err := schnorr.Sign(medbridge.Suite, admin, req.Hash())
	if err != nil {
		return nil, err
	}
	req.Signature = sig
	reply := &SearchAuditReply{}
	if err := c.SendProtobuf(c.dst(), req, reply); err != nil {
		return nil, err
	}
	return reply.Entries, nil
}

// Status reports a summary of the bridge state.
func (c *Client) Status() (*StatusReply, error) {
	reply := &StatusReply{}
	if err := c.SendProtobuf(c.dst(), &Status{}, reply); err != nil {
		return nil, err
	}
	return reply, nil
}
