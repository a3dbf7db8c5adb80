package bridge

import (
	"go.dedis.ch/protobuf"
	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var (
	// ErrDuplicateNonce is returned when a (source chain, nonce) pair is
	// submitted a second time. The first message wins, whatever the payload
	// of the second one.
	ErrDuplicateNonce = xerrors.New("duplicate nonce for source chain")
	// ErrMessageNotFound is returned for lookups of unknown message IDs.
	ErrMessageNotFound = xerrors.New("message not found")
)

// Ledger is the durable store of cross-chain messages. Messages are kept
// under their MessageID, which is derived from the unique (source chain,
// nonce) pair, so the replay check and the lookup are the same bbolt Get.
// The ledger never deletes: expired messages stay around as evidence of the
// attempt.
type Ledger struct {
	db     *bbolt.DB
	bucket []byte
}

// NewLedger returns a ledger storing its messages in the given bucket. The
// bucket comes from onet's GetAdditionalBucket, which guarantees it exists.
func NewLedger(db *bbolt.DB, bucket []byte) *Ledger {
	return &Ledger{
		db:     db,
		bucket: bucket,
	}
}

// Store writes a new message to the ledger. It fails with ErrDuplicateNonce
// if the (source chain, nonce) pair is already recorded. The check and the
// write happen in the same bbolt transaction, so two near-simultaneous
// submissions cannot both succeed.
func (l *Ledger) Store(msg *Message) error {
	id := msg.ID()
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(l.bucket)
		if b == nil {
			return xerrors.New("missing ledger bucket")
		}
		if b.Get(id) != nil {
			return ErrDuplicateNonce
		}
		buf, err := protobuf.Encode(msg)
		if err != nil {
			return xerrors.Errorf("encoding message: %v", err)
		}
		return b.Put(id, buf)
	})
	if err != nil {
		return err
	}
	return nil
}

// Get returns the message with the given ID.
func (l *Ledger) Get(id []byte) (*Message, error) {
	var msg *Message
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(l.bucket)
		if b == nil {
			return xerrors.New("missing ledger bucket")
		}
		buf := b.Get(id)
		if buf == nil {
			return ErrMessageNotFound
		}
		msg = &Message{}
		return protobuf.Decode(buf, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Update loads the message with the given ID, applies fn to it and writes it
// back, all in one bbolt transaction. If fn returns an error nothing is
// written.
func (l *Ledger) Update(id []byte, fn func(*Message) error) (*Message, error) {
	var msg *Message
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(l.bucket)
		if b == nil {
			return xerrors.New("missing ledger bucket")
		}
		buf := b.Get(id)
		if buf == nil {
			return ErrMessageNotFound
		}
		msg = &Message{}
		if err := protobuf.Decode(buf, msg); err != nil {
			return xerrors.Errorf("decoding message: %v", err)
		}
		if err := fn(msg); err != nil {
			return err
		}
		buf, err := protobuf.Encode(msg)
		if err != nil {
			return xerrors.Errorf("encoding message: %v", err)
		}
		return b.Put(id, buf)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Counters is a small summary of the ledger contents, used by the status
// handler.
type Counters struct {
	Pending   int
	Finalized int
	Expired   int
}

// Count walks the ledger and counts messages per state.
func (l *Ledger) Count() (Counters, error) {
	var c Counters
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(l.bucket)
		if b == nil {
			return xerrors.New("missing ledger bucket")
		}
		return b.ForEach(func(_, buf []byte) error {
			msg := &Message{}
			if err := protobuf.Decode(buf, msg); err != nil {
				return err
			}
			switch msg.State {
			case Pending:
				c.Pending++
			case Finalized:
				c.Finalized++
			case Expired:
				c.Expired++
			}
			return nil
		})
	})
	if err != nil {
		return Counters{}, err
	}
	return c, nil
}
