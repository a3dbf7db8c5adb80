// Package service exposes the medical bridge over onet. One service instance
// wires the validator registry, the message coordinator, the atomic
// transaction manager, the identity links and the access grants, and makes
// every operation available as an API call. Validator and configuration
// management is gated by a schnorr signature of the administrator key, which
// is fixed once with Init.
package service

import (
	"time"

	"github.com/medchain/medbridge"
	"github.com/medchain/medbridge/access"
	"github.com/medchain/medbridge/bridge"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

// Used for tests
var medBridgeID onet.ServiceID

// ServiceName is used for registration on the onet.
const ServiceName = "MedBridge"

// defaultTxTimeout is applied when an atomic transaction is initiated
// without an explicit timeout.
const defaultTxTimeout = 5 * time.Minute

// ErrNotInitialized is returned by admin-gated calls before Init fixed the
// administrator key.
var ErrNotInitialized = xerrors.New("bridge not initialized")

func init() {
	var err error
	medBridgeID, err = onet.RegisterNewService(ServiceName, newService)
	log.ErrFatal(err)
	network.RegisterMessages(&storage{})
}

// Service is the medical bridge service.
type Service struct {
	*onet.ServiceProcessor
	storage *storage

	ledger      *bridge.Ledger
	coordinator *bridge.Coordinator
	trail       *access.Trail
	records     access.RecordStore
}

// RegisterRecordStore attaches the collaborator that answers record
// existence and hash queries. Without it, access checks skip the existence
// test and CheckAccess replies without a record hash.
func (s *Service) RegisterRecordStore(store access.RecordStore) {
	s.records = store
	s.storage.Grants.SetCollaborators(store, s.trail)
}

// verifyAdmin checks that sig is the administrator's schnorr signature over
// hash.
func (s *Service) verifyAdmin(hash, sig []byte) error {
	admin := s.storage.Config.Admin()
	if admin == nil {
		return ErrNotInitialized
	}
	if err := schnorr.Verify(medbridge.Suite, admin, hash, sig); err != nil {
		return xerrors.Errorf("verifying admin signature: %v", err)
	}
	return nil
}

// Init fixes the administrator key of this bridge. It can only be called
// once; every later validator or configuration change must be signed by this
// key.
func (s *Service) Init(req *InitRequest) (*InitReply, error) {
	if req.AdminKey == nil {
		return nil, xerrors.New("missing admin key")
	}
	if err := s.storage.Config.SetAdmin(req.AdminKey); err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	log.Lvl2("bridge initialized with admin", req.AdminKey)
	return &InitReply{}, nil
}

// AddValidator registers a new validator.
func (s *Service) AddValidator(req *AddValidator) (*AddValidatorReply, error) {
	if err := s.verifyAdmin(req.Hash(), req.Signature); err != nil {
		return nil, err
	}
	if req.PublicKey == nil {
		return nil, xerrors.New("missing validator key")
	}
	if err := s.storage.Validators.Add(req.Address, req.PublicKey, req.Stake); err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return &AddValidatorReply{}, nil
}

// DeactivateValidator marks a validator as inactive.
func (s *Service) DeactivateValidator(req *DeactivateValidator) (*DeactivateValidatorReply, error) {
	if err := s.verifyAdmin(req.Hash(), req.Signature); err != nil {
		return nil, err
	}
	if err := s.storage.Validators.Deactivate(req.Address); err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return &DeactivateValidatorReply{}, nil
}

// AdjustTrust moves the trust score of a validator.
func (s *Service) AdjustTrust(req *AdjustTrust) (*AdjustTrustReply, error) {
	if err := s.verifyAdmin(req.Hash(), req.Signature); err != nil {
		return nil, err
	}
	score, err := s.storage.Validators.AdjustTrust(req.Address, req.Delta)
	if err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return &AdjustTrustReply{Score: score}, nil
}

// AdjustStake sets the stake of a validator.
func (s *Service) AdjustStake(req *AdjustStake) (*AdjustStakeReply, error) {
	if err := s.verifyAdmin(req.Hash(), req.Signature); err != nil {
		return nil, err
	}
	if err := s.storage.Validators.AdjustStake(req.Address, req.Stake); err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return &AdjustStakeReply{}, nil
}

// AddChain adds a chain to the supported set.
func (s *Service) AddChain(req *AddChain) (*AddChainReply, error) {
	if err := s.verifyAdmin(req.Hash(), req.Signature); err != nil {
		return nil, err
	}
	s.storage.Config.AddChain(req.Chain)
	if err := s.save(); err != nil {
		return nil, err
	}
	return &AddChainReply{}, nil
}

// SetConfig overwrites the numeric configuration values.
func (s *Service) SetConfig(req *SetConfig) (*SetConfigReply, error) {
	if err := s.verifyAdmin(req.Hash(), req.Signature); err != nil {
		return nil, err
	}
	s.storage.Config.SetValues(req.Values)
	if err := s.save(); err != nil {
		return nil, err
	}
	return &SetConfigReply{}, nil
}

// SubmitMessage records a new cross-chain message in the ledger.
func (s *Service) SubmitMessage(req *SubmitMessage) (*SubmitMessageReply, error) {
	msg, err := s.coordinator.Submit(req.SourceChain, req.Nonce, req.Type,
		req.PayloadHash, time.Duration(req.TTLSec)*time.Second)
	if err != nil {
		return nil, err
	}
	return &SubmitMessageReply{
		MessageID: msg.ID(),
		Message:   *msg,
	}, nil
}

// ConfirmMessage adds a validator confirmation to a pending message.
func (s *Service) ConfirmMessage(req *ConfirmMessage) (*ConfirmMessageReply, error) {
	msg, err := s.coordinator.Confirm(req.MessageID, req.Validator, req.Signature)
	if err != nil {
		return nil, err
	}
	return &ConfirmMessageReply{
		State:         msg.State,
		Confirmations: uint32(len(msg.Confirmations)),
	}, nil
}

// GetMessage fetches a message in any state.
func (s *Service) GetMessage(req *GetMessage) (*GetMessageReply, error) {
	msg, err := s.coordinator.Get(req.MessageID)
	if err != nil {
		return nil, err
	}
	return &GetMessageReply{Message: *msg}, nil
}

// InitiateTx creates a new atomic transaction. When the request references a
// bridge message, the message must be finalized first.
func (s *Service) InitiateTx(req *InitiateTx) (*InitiateTxReply, error) {
	if len(req.MessageID) > 0 {
		if _, err := s.coordinator.RequireFinalized(req.MessageID); err != nil {
			return nil, err
		}
	}
	timeout := time.Duration(req.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	tx, err := s.storage.Transactions.Initiate(req.Participants, timeout, req.MessageID)
	if err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return &InitiateTxReply{
		TxID:  tx.ID,
		State: tx.State,
	}, nil
}

// PrepareTx records that a participant chain is ready.
func (s *Service) PrepareTx(req *PrepareTx) (*PrepareTxReply, error) {
	state, err := s.storage.Transactions.Prepare(req.TxID, req.Participant)
	if err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return &PrepareTxReply{State: state}, nil
}

// CommitTx finalizes a fully prepared transaction.
func (s *Service) CommitTx(req *CommitTx) (*CommitTxReply, error) {
	state, err := s.storage.Transactions.Commit(req.TxID)
	if err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return &CommitTxReply{State: state}, nil
}

// AbortTx gives up on a transaction that did not commit yet.
func (s *Service) AbortTx(req *AbortTx) (*AbortTxReply, error) {
	state, err := s.storage.Transactions.Abort(req.TxID, req.Reason)
	if err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return &AbortTxReply{State: state}, nil
}

// GetTx fetches an atomic transaction.
func (s *Service) GetTx(req *GetTx) (*GetTxReply, error) {
	tx, err := s.storage.Transactions.Get(req.TxID)
	if err != nil {
		return nil, err
	}
	return &GetTxReply{Transaction: tx}, nil
}

// RequestVerification starts or renews the verification of an identity link.
func (s *Service) RequestVerification(req *RequestVerification) (*RequestVerificationReply, error) {
	link, err := s.storage.Links.Request(req.Stellar, req.ExternalChain, req.ExternalAddress)
	if err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return &RequestVerificationReply{
		LinkID: link.ID(),
		Status: link.Status,
	}, nil
}

// Attest records a validator attestation on an identity link. The signature
// must be the validator's schnorr signature over the link digest.
func (s *Service) Attest(req *Attest) (*AttestReply, error) {
	link, err := s.storage.Links.Get(req.LinkID)
	if err != nil {
		return nil, err
	}
	if err := s.storage.Validators.VerifyAttestation(req.Validator,
		link.Digest(), req.Signature); err != nil {
		return nil, err
	}
	values := s.storage.Config.Snapshot()
	link, err = s.storage.Links.Attest(req.LinkID, req.Validator,
		int(values.MinConfirmations), values.IdentityValiditySec)
	if err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return &AttestReply{
		Status:       link.Status,
		Attestations: uint32(len(link.Attestations)),
	}, nil
}

// ResolveIdentity looks up the link of a Stellar identity on a chain.
func (s *Service) ResolveIdentity(req *ResolveIdentity) (*ResolveIdentityReply, error) {
	link, err := s.storage.Links.Resolve(req.Stellar, req.ExternalChain)
	if err != nil {
		return nil, err
	}
	return &ResolveIdentityReply{Link: link}, nil
}

// GrantAccess creates an access grant.
func (s *Service) GrantAccess(req *GrantAccess) (*GrantAccessReply, error) {
	values := s.storage.Config.Snapshot()
	g, err := s.storage.Grants.Grant(req.Caller, req.Grantor, req.GranteeChain,
		req.GranteeAddress, req.Level, req.Scope,
		time.Duration(req.DurationSec)*time.Second, req.Conditions,
		values.GrantDurationSec)
	if err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return &GrantAccessReply{
		GrantID:   g.ID,
		ExpiresAt: g.ExpiresAt,
	}, nil
}

// RevokeAccess immediately invalidates a grant.
func (s *Service) RevokeAccess(req *RevokeAccess) (*RevokeAccessReply, error) {
	if err := s.storage.Grants.Revoke(req.Caller, req.GrantID); err != nil {
		return nil, err
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return &RevokeAccessReply{}, nil
}

// CheckAccess evaluates an access request. The decision is audited whatever
// the outcome. The record hash is only returned for an allowed request.
func (s *Service) CheckAccess(req *CheckAccess) (*CheckAccessReply, error) {
	allowed := s.storage.Grants.Check(req.Request)
	reply := &CheckAccessReply{Allowed: allowed}
	if allowed && s.records != nil {
		hash, err := s.records.RecordHash(req.Request.RecordID)
		if err != nil {
			return nil, xerrors.Errorf("fetching record hash: %v", err)
		}
		reply.RecordHash = hash
	}
	// A successful check may have consumed a single-use grant.
	if err := s.save(); err != nil {
		return nil, err
	}
	return reply, nil
}

// SearchAudit returns the audit entries of a patient in a time range. A zero
// To means "up to now".
func (s *Service) SearchAudit(req *SearchAudit) (*SearchAuditReply, error) {
	if err := s.verifyAdmin(req.Hash(), req.Signature); err != nil {
		return nil, err
	}
	to := req.To
	if to == 0 {
		to = time.Now().Unix()
	}
	entries, err := s.trail.Search(req.Patient, req.From, to)
	if err != nil {
		return nil, err
	}
	return &SearchAuditReply{Entries: entries}, nil
}

// Status reports a summary of the bridge state.
func (s *Service) Status(req *Status) (*StatusReply, error) {
	counters, err := s.coordinator.Count()
	if err != nil {
		return nil, err
	}
	values := s.storage.Config.Snapshot()
	return &StatusReply{
		Initialized:      s.storage.Config.Admin() != nil,
		ActiveValidators: uint32(s.storage.Validators.ActiveCount()),
		Pending:          uint32(counters.Pending),
		Finalized:        uint32(counters.Finalized),
		Expired:          uint32(counters.Expired),
		MinConfirmations: values.MinConfirmations,
	}, nil
}

// newService receives the context that holds the node. It sets up the bbolt
// buckets for the ledger and the audit trail, loads the stored state and
// registers all API handlers.
func newService(c *onet.Context) (onet.Service, error) {
	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
	}
	if err := s.RegisterHandlers(s.Init, s.AddValidator, s.DeactivateValidator,
		s.AdjustTrust, s.AdjustStake, s.AddChain, s.SetConfig,
		s.SubmitMessage, s.ConfirmMessage, s.GetMessage,
		s.InitiateTx, s.PrepareTx, s.CommitTx, s.AbortTx, s.GetTx,
		s.RequestVerification, s.Attest, s.ResolveIdentity,
		s.GrantAccess, s.RevokeAccess, s.CheckAccess, s.SearchAudit,
		s.Status); err != nil {
		return nil, xerrors.New("couldn't register messages")
	}

	if err := s.tryLoad(); err != nil {
		log.Error(err)
		return nil, err
	}

	db, ledgerBucket := s.GetAdditionalBucket([]byte("medbridge-ledger"))
	s.ledger = bridge.NewLedger(db, ledgerBucket)
	s.coordinator = bridge.NewCoordinator(s.ledger, s.storage.Validators,
		s.storage.Config)

	_, auditBucket := s.GetAdditionalBucket([]byte("medbridge-audit"))
	s.trail = access.NewTrail(db, auditBucket)
	s.storage.Grants.SetCollaborators(nil, s.trail)

	return s, nil
}
