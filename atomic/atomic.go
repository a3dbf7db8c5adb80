// Package atomic runs the two-phase-commit state machine for operations that
// must be applied on several chains or not at all. The manager only
// guarantees agreement on the outcome: there is no true cross-chain rollback,
// so each participant chain's side effect has to be independently idempotent
// or compensable. Abort guarantees that the coordinator will never report
// success, nothing more.
package atomic

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/medchain/medbridge/bridge"
	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// State is the lifecycle state of an atomic transaction. Transitions are
// monotonic: once Committed, Aborted or Expired, a transaction never moves
// again.
type State uint32

// Initiated -> Prepared -> Committed or Aborted; Expired is reached lazily
// from Initiated or Prepared when the timeout elapses first.
const (
	Initiated State = iota
	Prepared
	Committed
	Aborted
	Expired
)

func (s State) String() string {
	switch s {
	case Initiated:
		return "initiated"
	case Prepared:
		return "prepared"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	case Expired:
		return "expired"
	}
	return "invalid"
}

var (
	// ErrEmptyParticipantSet is returned when initiating a transaction
	// without participants.
	ErrEmptyParticipantSet = xerrors.New("empty participant set")
	// ErrUnknownParticipant is returned when a chain that is not part of
	// the transaction reports ready.
	ErrUnknownParticipant = xerrors.New("unknown participant")
	// ErrTransactionExpired is returned when a transaction is touched after
	// its timeout elapsed without reaching Committed.
	ErrTransactionExpired = xerrors.New("transaction expired")
	// ErrNotReady is returned when commit is attempted before every
	// participant prepared.
	ErrNotReady = xerrors.New("transaction not prepared")
	// ErrTxNotFound is returned for lookups of unknown transaction IDs.
	ErrTxNotFound = xerrors.New("transaction not found")
	// ErrTxFinal is returned when trying to abort a committed transaction.
	ErrTxFinal = xerrors.New("transaction already committed")
)

var timeNow = time.Now

// Transaction is one multi-chain operation tracked by the manager.
type Transaction struct {
	ID           []byte
	Participants []bridge.ChainID
	// Ready lists the participants that prepared so far. It grows by
	// set-union, so prepare calls commute and are safe to retry.
	Ready      []bridge.ChainID
	State      State
	CreatedAt  int64
	TimeoutSec int64
	// Reason is set when the transaction is aborted.
	Reason string
	// Message optionally links the transaction to the finalized bridge
	// message that triggered it.
	Message []byte
}

func (tx *Transaction) ready(p bridge.ChainID) bool {
	for _, r := range tx.Ready {
		if r == p {
			return true
		}
	}
	return false
}

func (tx *Transaction) participant(p bridge.ChainID) bool {
	for _, c := range tx.Participants {
		if c == p {
			return true
		}
	}
	return false
}

// lazyExpire applies the timeout if the transaction did not reach a terminal
// state in time. It returns true if the transaction is expired.
func (tx *Transaction) lazyExpire(now int64) bool {
	switch tx.State {
	case Initiated, Prepared:
		if now > tx.CreatedAt+tx.TimeoutSec {
			tx.State = Expired
		}
	}
	return tx.State == Expired
}

// Manager holds all atomic transactions. It is stored as part of the bridge
// service storage, so the map is exported.
type Manager struct {
	Transactions map[string]*Transaction

	sync.Mutex
}

// NewManager returns an empty transaction manager.
func NewManager() *Manager {
	return &Manager{
		Transactions: make(map[string]*Transaction),
	}
}

// Initiate creates a new transaction over the given participants.
func (m *Manager) Initiate(participants []bridge.ChainID, timeout time.Duration,
	msgID []byte) (*Transaction, error) {
	if len(participants) == 0 {
		return nil, ErrEmptyParticipantSet
	}

	// Dedupe, so a participant listed twice cannot lower the quorum.
	seen := make(map[bridge.ChainID]bool)
	var parts []bridge.ChainID
	for _, p := range participants {
		if !seen[p] {
			seen[p] = true
			parts = append(parts, p)
		}
	}

	id := make([]byte, 32)
	random.Bytes(id, random.New())

	tx := &Transaction{
		ID:           id,
		Participants: parts,
		State:        Initiated,
		CreatedAt:    timeNow().Unix(),
		TimeoutSec:   int64(timeout / time.Second),
		Message:      msgID,
	}

	m.Lock()
	defer m.Unlock()
	m.Transactions[hex.EncodeToString(id)] = tx
	log.Lvlf3("initiated transaction %x with %d participants", id, len(parts))
	return tx, nil
}

// Prepare records that a participant is ready. When the last participant
// reports ready the transaction transitions to Prepared. Preparing twice is
// a no-op.
func (m *Manager) Prepare(id []byte, p bridge.ChainID) (State, error) {
	m.Lock()
	defer m.Unlock()

	tx, ok := m.Transactions[hex.EncodeToString(id)]
	if !ok {
		return 0, ErrTxNotFound
	}
	if tx.lazyExpire(timeNow().Unix()) {
		return Expired, ErrTransactionExpired
	}
	switch tx.State {
	case Committed, Aborted:
		return tx.State, ErrNotReady
	}
	if !tx.participant(p) {
		return tx.State, ErrUnknownParticipant
	}
	if !tx.ready(p) {
		tx.Ready = append(tx.Ready, p)
	}
	if len(tx.Ready) == len(tx.Participants) {
		tx.State = Prepared
	}
	return tx.State, nil
}

// Commit finalizes a fully prepared transaction. This is the point after
// which the multi-chain side effect is durable and reportable to all chains.
func (m *Manager) Commit(id []byte) (State, error) {
	m.Lock()
	defer m.Unlock()

	tx, ok := m.Transactions[hex.EncodeToString(id)]
	if !ok {
		return 0, ErrTxNotFound
	}
	if tx.lazyExpire(timeNow().Unix()) {
		return Expired, ErrTransactionExpired
	}
	if tx.State != Prepared {
		return tx.State, ErrNotReady
	}
	tx.State = Committed
	log.Lvlf2("transaction %x committed", id)
	return tx.State, nil
}

// Abort gives up on a transaction that did not commit yet. Aborting an
// already aborted transaction is a no-op; aborting a committed one fails,
// commit is final.
func (m *Manager) Abort(id []byte, reason string) (State, error) {
	m.Lock()
	defer m.Unlock()

	tx, ok := m.Transactions[hex.EncodeToString(id)]
	if !ok {
		return 0, ErrTxNotFound
	}
	switch tx.State {
	case Committed:
		return tx.State, ErrTxFinal
	case Aborted:
		return tx.State, nil
	}
	if tx.lazyExpire(timeNow().Unix()) {
		return Expired, ErrTransactionExpired
	}
	tx.State = Aborted
	tx.Reason = reason
	log.Lvlf2("transaction %x aborted: %v", id, reason)
	return tx.State, nil
}

// Get returns a copy of the transaction, applying the timeout first so that
// reads never report a stale Initiated or Prepared state.
func (m *Manager) Get(id []byte) (Transaction, error) {
	m.Lock()
	defer m.Unlock()

	tx, ok := m.Transactions[hex.EncodeToString(id)]
	if !ok {
		return Transaction{}, ErrTxNotFound
	}
	tx.lazyExpire(timeNow().Unix())
	return *tx, nil
}
