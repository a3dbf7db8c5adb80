package bridge

import (
	"testing"
	"time"

	"github.com/medchain/medbridge"
	"github.com/medchain/medbridge/validator"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
	"golang.org/x/xerrors"
)

type testVal struct {
	addr string
	kp   *key.Pair
}

func (v testVal) confirm(t *testing.T, co *Coordinator, msg *Message) (*Message, error) {
	sig, err := schnorr.Sign(medbridge.Suite, v.kp.Private, msg.Digest())
	require.NoError(t, err)
	return co.Confirm(msg.ID(), v.addr, sig)
}

func newTestCoordinator(t *testing.T, nbrVals int) (*Coordinator, []testVal) {
	reg := validator.NewRegistry()
	vals := make([]testVal, nbrVals)
	for i := range vals {
		vals[i] = testVal{
			addr: "val-" + string(rune('a'+i)),
			kp:   key.NewKeyPair(medbridge.Suite),
		}
		require.NoError(t, reg.Add(vals[i].addr, vals[i].kp.Public, 1000))
	}
	co := NewCoordinator(newTestLedger(t), reg, NewConfig())
	return co, vals
}

func TestCoordinator_Submit(t *testing.T) {
	co, _ := newTestCoordinator(t, 0)

	msg, err := co.Submit(Ethereum, 42, RecordRequest, make([]byte, 32), time.Hour)
	require.NoError(t, err)
	require.Equal(t, Pending, msg.State)
	require.Equal(t, msg.CreatedAt+3600, msg.ExpiresAt)

	// Replay of the pair fails, regardless of the payload.
	_, err = co.Submit(Ethereum, 42, RecordSync, []byte("other payload hash..............."), time.Hour)
	require.True(t, xerrors.Is(err, ErrDuplicateNonce))

	// Custom chains are not supported until the admin adds them.
	_, err = co.Submit(CustomChain(7), 1, RecordRequest, make([]byte, 32), time.Hour)
	require.True(t, xerrors.Is(err, ErrInvalidChain))

	co.Config().AddChain(CustomChain(7))
	_, err = co.Submit(CustomChain(7), 1, RecordRequest, make([]byte, 32), time.Hour)
	require.NoError(t, err)

	_, err = co.Submit(Ethereum, 43, MessageType(99), make([]byte, 32), time.Hour)
	require.True(t, xerrors.Is(err, ErrInvalidMessageType))
}

func TestCoordinator_SubmitTTLCap(t *testing.T) {
	co, _ := newTestCoordinator(t, 0)

	msg, err := co.Submit(Ethereum, 1, RecordRequest, make([]byte, 32), 100*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, co.Config().Snapshot().MaxMessageTTLSec, msg.ExpiresAt-msg.CreatedAt)
}

func TestCoordinator_Quorum(t *testing.T) {
	co, vals := newTestCoordinator(t, 3)

	msg, err := co.Submit(Ethereum, 42, RecordRequest, make([]byte, 32), time.Hour)
	require.NoError(t, err)

	m, err := vals[0].confirm(t, co, msg)
	require.NoError(t, err)
	require.Equal(t, Pending, m.State)
	require.Len(t, m.Confirmations, 1)

	// Second distinct validator reaches the default quorum of 2.
	m, err = vals[1].confirm(t, co, msg)
	require.NoError(t, err)
	require.Equal(t, Finalized, m.State)
	require.Len(t, m.Confirmations, 2)

	// A third confirmation does not change the terminal state.
	m, err = vals[2].confirm(t, co, msg)
	require.NoError(t, err)
	require.Equal(t, Finalized, m.State)
	require.Len(t, m.Confirmations, 2)
}

func TestCoordinator_QuorumPermutation(t *testing.T) {
	// Whatever order the confirmations arrive in, the message finalizes
	// exactly once with the same confirmation set size.
	perms := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}}
	for _, perm := range perms {
		co, vals := newTestCoordinator(t, 3)
		co.Config().SetValues(ConfigValues{MinConfirmations: 3})

		msg, err := co.Submit(Ethereum, 42, RecordRequest, make([]byte, 32), time.Hour)
		require.NoError(t, err)

		var final *Message
		for _, i := range perm {
			final, err = vals[i].confirm(t, co, msg)
			require.NoError(t, err)
		}
		require.Equal(t, Finalized, final.State)
		require.Len(t, final.Confirmations, 3)
	}
}

func TestCoordinator_IdempotentConfirm(t *testing.T) {
	co, vals := newTestCoordinator(t, 2)
	co.Config().SetValues(ConfigValues{MinConfirmations: 2})

	msg, err := co.Submit(Ethereum, 42, RecordRequest, make([]byte, 32), time.Hour)
	require.NoError(t, err)

	m, err := vals[0].confirm(t, co, msg)
	require.NoError(t, err)
	require.Len(t, m.Confirmations, 1)

	// Retrying the same confirmation is a no-op, not an error.
	m, err = vals[0].confirm(t, co, msg)
	require.NoError(t, err)
	require.Len(t, m.Confirmations, 1)
	require.Equal(t, Pending, m.State)
}

func TestCoordinator_ConfirmAuthorization(t *testing.T) {
	co, vals := newTestCoordinator(t, 2)

	msg, err := co.Submit(Ethereum, 42, RecordRequest, make([]byte, 32), time.Hour)
	require.NoError(t, err)

	// Unknown validator.
	_, err = co.Confirm(msg.ID(), "nobody", []byte("sig"))
	require.True(t, xerrors.Is(err, validator.ErrNotAuthorized))

	// Valid signature by a non-registered key.
	rogue := key.NewKeyPair(medbridge.Suite)
	sig, err := schnorr.Sign(medbridge.Suite, rogue.Private, msg.Digest())
	require.NoError(t, err)
	_, err = co.Confirm(msg.ID(), vals[0].addr, sig)
	require.Error(t, err)

	// A deactivated validator cannot contribute anymore.
	_, err = vals[0].confirm(t, co, msg)
	require.NoError(t, err)
	require.NoError(t, co.validators.Deactivate(vals[1].addr))
	_, err = vals[1].confirm(t, co, msg)
	require.True(t, xerrors.Is(err, validator.ErrNotAuthorized))

	// But the confirmation of vals[0] given before any deactivation stays.
	m, err := co.Get(msg.ID())
	require.NoError(t, err)
	require.Len(t, m.Confirmations, 1)
}

func TestCoordinator_Expiry(t *testing.T) {
	co, vals := newTestCoordinator(t, 2)

	msg, err := co.Submit(Ethereum, 42, RecordRequest, make([]byte, 32), time.Hour)
	require.NoError(t, err)

	// Move the clock past the expiry.
	defer func() { timeNow = time.Now }()
	timeNow = func() time.Time { return time.Unix(msg.ExpiresAt+1, 0) }

	_, err = vals[0].confirm(t, co, msg)
	require.True(t, xerrors.Is(err, ErrMessageExpired))

	// The lazy transition is persistent.
	m, err := co.Get(msg.ID())
	require.NoError(t, err)
	require.Equal(t, Expired, m.State)

	// And terminal: confirmations past expiry keep failing even if the
	// clock was somehow turned back.
	timeNow = time.Now
	_, err = vals[1].confirm(t, co, msg)
	require.True(t, xerrors.Is(err, ErrMessageExpired))
}

func TestCoordinator_GetLazyExpiry(t *testing.T) {
	co, _ := newTestCoordinator(t, 0)

	msg, err := co.Submit(Ethereum, 42, RecordRequest, make([]byte, 32), time.Hour)
	require.NoError(t, err)

	defer func() { timeNow = time.Now }()
	timeNow = func() time.Time { return time.Unix(msg.ExpiresAt+1, 0) }

	m, err := co.Get(msg.ID())
	require.NoError(t, err)
	require.Equal(t, Expired, m.State)
}

func TestCoordinator_RequireFinalized(t *testing.T) {
	co, vals := newTestCoordinator(t, 2)

	msg, err := co.Submit(Ethereum, 42, RecordRequest, make([]byte, 32), time.Hour)
	require.NoError(t, err)

	_, err = co.RequireFinalized(msg.ID())
	require.True(t, xerrors.Is(err, ErrInsufficientConfirmations))

	_, err = vals[0].confirm(t, co, msg)
	require.NoError(t, err)
	_, err = vals[1].confirm(t, co, msg)
	require.NoError(t, err)

	m, err := co.RequireFinalized(msg.ID())
	require.NoError(t, err)
	require.Equal(t, Finalized, m.State)
}
