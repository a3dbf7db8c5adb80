package access

import (
	"encoding/binary"

	"go.dedis.ch/protobuf"
	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// Trail is the bbolt-backed audit sink. Entries are append-only: nothing in
// this type mutates or deletes an entry once written. Keys are the entry
// timestamp followed by a sequence number, so a time-range search is a
// cursor scan.
type Trail struct {
	db     *bbolt.DB
	bucket []byte
}

// NewTrail returns a trail storing its entries in the given bucket. The
// bucket comes from onet's GetAdditionalBucket, which guarantees it exists.
func NewTrail(db *bbolt.DB, bucket []byte) *Trail {
	return &Trail{
		db:     db,
		bucket: bucket,
	}
}

func auditKey(ts int64, seq uint64) []byte {
	var key [16]byte
	binary.BigEndian.PutUint64(key[:8], uint64(ts))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key[:]
}

// Append writes one entry to the trail.
func (t *Trail) Append(e Entry) error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(t.bucket)
		if b == nil {
			return xerrors.New("missing audit bucket")
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		buf, err := protobuf.Encode(&e)
		if err != nil {
			return xerrors.Errorf("encoding audit entry: %v", err)
		}
		return b.Put(auditKey(e.Timestamp, seq), buf)
	})
}

// Search returns the entries for a patient with from <= Timestamp <= to.
// An empty patient matches all entries.
func (t *Trail) Search(patient string, from, to int64) ([]Entry, error) {
	var entries []Entry
	err := t.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(t.bucket)
		if b == nil {
			return xerrors.New("missing audit bucket")
		}
		c := b.Cursor()
		for k, v := c.Seek(auditKey(from, 0)); k != nil; k, v = c.Next() {
			e := Entry{}
			if err := protobuf.Decode(v, &e); err != nil {
				return xerrors.Errorf("decoding audit entry: %v", err)
			}
			if e.Timestamp > to {
				break
			}
			if patient == "" || e.Patient == patient {
				entries = append(entries, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
