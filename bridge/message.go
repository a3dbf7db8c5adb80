package bridge

import (
	"crypto/sha256"
	"encoding/binary"
)

// MessageState is the lifecycle state of a cross-chain message. Finalized and
// Expired are terminal: a message in one of these states is never mutated
// again.
type MessageState uint32

// The message lifecycle: Pending -> Finalized once enough confirmations
// arrived, or Pending -> Expired if the quorum was not reached in time.
const (
	Pending MessageState = iota
	Finalized
	Expired
)

func (s MessageState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Finalized:
		return "finalized"
	case Expired:
		return "expired"
	}
	return "invalid"
}

// Message is one cross-chain message tracked by the ledger. The pair
// (SourceChain, Nonce) is unique for the lifetime of the ledger, which is the
// replay-protection primitive: a resubmission of an observed message is
// rejected at submission time.
type Message struct {
	SourceChain ChainID
	Nonce       uint64
	Type        MessageType
	PayloadHash []byte
	// CreatedAt and ExpiresAt are unix seconds.
	CreatedAt int64
	ExpiresAt int64
	// Confirmations holds the addresses of the validators that confirmed
	// this message. It grows by set-union, so confirmations arriving in any
	// order or more than once converge to the same set.
	Confirmations []string
	State         MessageState
}

// MessageID returns the identifier of the message for a given source chain
// and nonce. Deriving the ID from the unique pair means the duplicate-nonce
// check is a single key lookup.
func MessageID(chain ChainID, nonce uint64) []byte {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(chain))
	binary.BigEndian.PutUint64(buf[4:12], nonce)
	h := sha256.Sum256(buf[:])
	return h[:]
}

// ID returns the ledger identifier of this message.
func (m *Message) ID() []byte {
	return MessageID(m.SourceChain, m.Nonce)
}

// Confirmed returns true if the given validator already confirmed this
// message.
func (m *Message) Confirmed(validator string) bool {
	for _, c := range m.Confirmations {
		if c == validator {
			return true
		}
	}
	return false
}

// Digest returns the digest a validator signs to confirm this message. It
// covers the immutable fields only, so that the signature does not depend on
// the order confirmations arrive in.
func (m *Message) Digest() []byte {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(m.SourceChain))
	h.Write(buf[:4])
	binary.BigEndian.PutUint64(buf[:], m.Nonce)
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:4], uint32(m.Type))
	h.Write(buf[:4])
	h.Write(m.PayloadHash)
	binary.BigEndian.PutUint64(buf[:], uint64(m.CreatedAt))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(m.ExpiresAt))
	h.Write(buf[:])
	return h.Sum(nil)
}
