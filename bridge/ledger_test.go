package bridge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

var testBucket = []byte("test-messages")

func newTestLedger(t *testing.T) *Ledger {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "ledger.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(testBucket)
		return err
	})
	require.NoError(t, err)
	return NewLedger(db, testBucket)
}

func testMessage(chain ChainID, nonce uint64) *Message {
	return &Message{
		SourceChain: chain,
		Nonce:       nonce,
		Type:        RecordRequest,
		PayloadHash: make([]byte, 32),
		CreatedAt:   1000,
		ExpiresAt:   2000,
		State:       Pending,
	}
}

func TestLedger_Store(t *testing.T) {
	l := newTestLedger(t)

	msg := testMessage(Ethereum, 42)
	require.NoError(t, l.Store(msg))

	got, err := l.Get(msg.ID())
	require.NoError(t, err)
	require.Equal(t, Ethereum, got.SourceChain)
	require.Equal(t, uint64(42), got.Nonce)
	require.Equal(t, Pending, got.State)
}

func TestLedger_DuplicateNonce(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Store(testMessage(Ethereum, 42)))

	// Same pair with a different payload is still a replay.
	dup := testMessage(Ethereum, 42)
	dup.PayloadHash = []byte("something completely different........")
	err := l.Store(dup)
	require.True(t, xerrors.Is(err, ErrDuplicateNonce))

	// Same nonce on another chain is fine.
	require.NoError(t, l.Store(testMessage(Stellar, 42)))
	// Another nonce on the same chain as well.
	require.NoError(t, l.Store(testMessage(Ethereum, 43)))
}

func TestLedger_GetUnknown(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Get(MessageID(Ethereum, 1))
	require.True(t, xerrors.Is(err, ErrMessageNotFound))
}

func TestLedger_Update(t *testing.T) {
	l := newTestLedger(t)
	msg := testMessage(Ethereum, 7)
	require.NoError(t, l.Store(msg))

	updated, err := l.Update(msg.ID(), func(m *Message) error {
		m.Confirmations = append(m.Confirmations, "val-1")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"val-1"}, updated.Confirmations)

	// A failing update must not write anything.
	_, err = l.Update(msg.ID(), func(m *Message) error {
		m.Confirmations = append(m.Confirmations, "val-2")
		return xerrors.New("rejected")
	})
	require.Error(t, err)

	got, err := l.Get(msg.ID())
	require.NoError(t, err)
	require.Equal(t, []string{"val-1"}, got.Confirmations)
}

func TestLedger_Count(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Store(testMessage(Ethereum, 1)))
	require.NoError(t, l.Store(testMessage(Ethereum, 2)))

	fin := testMessage(Ethereum, 3)
	fin.State = Finalized
	require.NoError(t, l.Store(fin))

	c, err := l.Count()
	require.NoError(t, err)
	require.Equal(t, 2, c.Pending)
	require.Equal(t, 1, c.Finalized)
	require.Equal(t, 0, c.Expired)
}
