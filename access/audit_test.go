package access

import (
	"path/filepath"
	"testing"

	"github.com/medchain/medbridge/bridge"
	"github.com/stretchr/testify/require"
	bbolt "go.etcd.io/bbolt"
)

var testBucket = []byte("test-audit")

func newTestTrail(t *testing.T) *Trail {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "audit.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(testBucket)
		return err
	})
	require.NoError(t, err)
	return NewTrail(db, testBucket)
}

func TestTrail_AppendSearch(t *testing.T) {
	trail := newTestTrail(t)

	for i, e := range []Entry{
		{Patient: "patientA", RecordID: 7, Action: View, Timestamp: 100, Success: true},
		{Patient: "patientB", RecordID: 8, Action: Download, Timestamp: 150, Success: false},
		{Patient: "patientA", RecordID: 7, Action: Export, Timestamp: 200, Success: true},
		{Patient: "patientA", RecordID: 9, Action: Emergency, Timestamp: 300, Success: true},
	} {
		e.AccessorChain = bridge.Ethereum
		e.AccessorAddress = "0xabc"
		require.NoError(t, trail.Append(e), "entry %d", i)
	}

	// All entries of patientA in [100, 200].
	entries, err := trail.Search("patientA", 100, 200)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, View, entries[0].Action)
	require.Equal(t, Export, entries[1].Action)

	// Empty patient matches everything.
	entries, err = trail.Search("", 0, 1000)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// Range with no entries.
	entries, err = trail.Search("patientA", 400, 500)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestTrail_SameTimestamp(t *testing.T) {
	trail := newTestTrail(t)

	// Entries sharing a timestamp must not overwrite each other.
	for i := 0; i < 3; i++ {
		require.NoError(t, trail.Append(Entry{
			Patient:   "patientA",
			RecordID:  uint64(i),
			Timestamp: 100,
		}))
	}
	entries, err := trail.Search("patientA", 100, 100)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}
