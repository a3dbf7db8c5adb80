package atomic

import (
	"testing"
	"time"

	"github.com/medchain/medbridge/bridge"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func TestManager_Initiate(t *testing.T) {
	m := NewManager()

	tx, err := m.Initiate([]bridge.ChainID{bridge.Stellar, bridge.Ethereum},
		10*time.Minute, nil)
	require.NoError(t, err)
	require.Equal(t, Initiated, tx.State)
	require.Len(t, tx.ID, 32)

	_, err = m.Initiate(nil, time.Minute, nil)
	require.True(t, xerrors.Is(err, ErrEmptyParticipantSet))

	// Duplicated participants count once.
	tx, err = m.Initiate([]bridge.ChainID{bridge.Stellar, bridge.Stellar},
		time.Minute, nil)
	require.NoError(t, err)
	require.Len(t, tx.Participants, 1)
}

func TestManager_TwoPhaseCommit(t *testing.T) {
	m := NewManager()
	tx, err := m.Initiate([]bridge.ChainID{bridge.Stellar, bridge.Ethereum},
		10*time.Minute, nil)
	require.NoError(t, err)

	// Commit before anyone prepared: NotReady.
	_, err = m.Commit(tx.ID)
	require.True(t, xerrors.Is(err, ErrNotReady))

	state, err := m.Prepare(tx.ID, bridge.Stellar)
	require.NoError(t, err)
	require.Equal(t, Initiated, state)

	// Commit with a missing participant: still NotReady.
	_, err = m.Commit(tx.ID)
	require.True(t, xerrors.Is(err, ErrNotReady))

	state, err = m.Prepare(tx.ID, bridge.Ethereum)
	require.NoError(t, err)
	require.Equal(t, Prepared, state)

	state, err = m.Commit(tx.ID)
	require.NoError(t, err)
	require.Equal(t, Committed, state)

	// Monotonic: no way back.
	_, err = m.Prepare(tx.ID, bridge.Stellar)
	require.True(t, xerrors.Is(err, ErrNotReady))
	got, err := m.Get(tx.ID)
	require.NoError(t, err)
	require.Equal(t, Committed, got.State)
}

func TestManager_PrepareIdempotent(t *testing.T) {
	m := NewManager()
	tx, err := m.Initiate([]bridge.ChainID{bridge.Stellar, bridge.Ethereum},
		10*time.Minute, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		state, err := m.Prepare(tx.ID, bridge.Stellar)
		require.NoError(t, err)
		require.Equal(t, Initiated, state)
	}
	got, err := m.Get(tx.ID)
	require.NoError(t, err)
	require.Len(t, got.Ready, 1)
}

func TestManager_UnknownParticipant(t *testing.T) {
	m := NewManager()
	tx, err := m.Initiate([]bridge.ChainID{bridge.Stellar}, time.Minute, nil)
	require.NoError(t, err)

	_, err = m.Prepare(tx.ID, bridge.Polygon)
	require.True(t, xerrors.Is(err, ErrUnknownParticipant))

	// An outsider reporting ready must never produce a committed
	// transaction with a missing participant.
	_, err = m.Commit(tx.ID)
	require.True(t, xerrors.Is(err, ErrNotReady))
}

func TestManager_Abort(t *testing.T) {
	m := NewManager()
	tx, err := m.Initiate([]bridge.ChainID{bridge.Stellar, bridge.Ethereum},
		time.Minute, nil)
	require.NoError(t, err)

	_, err = m.Prepare(tx.ID, bridge.Stellar)
	require.NoError(t, err)

	state, err := m.Abort(tx.ID, "source chain unavailable")
	require.NoError(t, err)
	require.Equal(t, Aborted, state)

	got, err := m.Get(tx.ID)
	require.NoError(t, err)
	require.Equal(t, "source chain unavailable", got.Reason)

	// Aborting again is a no-op.
	state, err = m.Abort(tx.ID, "again")
	require.NoError(t, err)
	require.Equal(t, Aborted, state)
	got, err = m.Get(tx.ID)
	require.NoError(t, err)
	require.Equal(t, "source chain unavailable", got.Reason)

	// No commit after abort.
	_, err = m.Commit(tx.ID)
	require.True(t, xerrors.Is(err, ErrNotReady))
}

func TestManager_AbortAfterCommit(t *testing.T) {
	m := NewManager()
	tx, err := m.Initiate([]bridge.ChainID{bridge.Stellar}, time.Minute, nil)
	require.NoError(t, err)

	_, err = m.Prepare(tx.ID, bridge.Stellar)
	require.NoError(t, err)
	_, err = m.Commit(tx.ID)
	require.NoError(t, err)

	_, err = m.Abort(tx.ID, "too late")
	require.True(t, xerrors.Is(err, ErrTxFinal))
}

func TestManager_Timeout(t *testing.T) {
	m := NewManager()
	tx, err := m.Initiate([]bridge.ChainID{bridge.Stellar, bridge.Ethereum},
		10*time.Minute, nil)
	require.NoError(t, err)
	_, err = m.Prepare(tx.ID, bridge.Stellar)
	require.NoError(t, err)

	defer func() { timeNow = time.Now }()
	timeNow = func() time.Time {
		return time.Unix(tx.CreatedAt+tx.TimeoutSec+1, 0)
	}

	// Reads report Expired...
	got, err := m.Get(tx.ID)
	require.NoError(t, err)
	require.Equal(t, Expired, got.State)

	// ... and prepare/commit are blocked.
	_, err = m.Prepare(tx.ID, bridge.Ethereum)
	require.True(t, xerrors.Is(err, ErrTransactionExpired))
	_, err = m.Commit(tx.ID)
	require.True(t, xerrors.Is(err, ErrTransactionExpired))
	_, err = m.Abort(tx.ID, "cleanup")
	require.True(t, xerrors.Is(err, ErrTransactionExpired))
}

func TestManager_GetUnknown(t *testing.T) {
	m := NewManager()
	_, err := m.Get([]byte("nope"))
	require.True(t, xerrors.Is(err, ErrTxNotFound))
}
