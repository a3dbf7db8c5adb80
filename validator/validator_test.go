package validator

import (
	"testing"

	"github.com/medchain/medbridge"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func TestRegistry_Add(t *testing.T) {
	r := NewRegistry()
	kp := key.NewKeyPair(medbridge.Suite)

	require.NoError(t, r.Add("val-1", kp.Public, 1000))
	require.True(t, r.IsValidator("val-1"))

	v, err := r.Get("val-1")
	require.NoError(t, err)
	require.Equal(t, uint32(InitialTrustScore), v.TrustScore)
	require.Equal(t, uint64(1000), v.Stake)

	// Same address again, even with another key, is rejected.
	kp2 := key.NewKeyPair(medbridge.Suite)
	err = r.Add("val-1", kp2.Public, 500)
	require.True(t, xerrors.Is(err, ErrAlreadyExists))
}

func TestRegistry_Deactivate(t *testing.T) {
	r := NewRegistry()
	kp := key.NewKeyPair(medbridge.Suite)
	require.NoError(t, r.Add("val-1", kp.Public, 0))

	require.NoError(t, r.Deactivate("val-1"))
	require.False(t, r.IsValidator("val-1"))

	// The entry is not removed, only marked inactive.
	v, err := r.Get("val-1")
	require.NoError(t, err)
	require.False(t, v.Active)

	// A deactivated address cannot be re-added.
	err = r.Add("val-1", kp.Public, 0)
	require.True(t, xerrors.Is(err, ErrAlreadyExists))

	err = r.Deactivate("nobody")
	require.True(t, xerrors.Is(err, ErrNotFound))
}

func TestRegistry_AdjustTrust(t *testing.T) {
	r := NewRegistry()
	kp := key.NewKeyPair(medbridge.Suite)
	require.NoError(t, r.Add("val-1", kp.Public, 0))

	score, err := r.AdjustTrust("val-1", 30)
	require.NoError(t, err)
	require.Equal(t, uint32(80), score)

	// Clamp at the top...
	score, err = r.AdjustTrust("val-1", 1000)
	require.NoError(t, err)
	require.Equal(t, uint32(MaxTrustScore), score)

	// ... and at the bottom.
	score, err = r.AdjustTrust("val-1", -1000)
	require.NoError(t, err)
	require.Equal(t, uint32(0), score)

	_, err = r.AdjustTrust("nobody", 1)
	require.True(t, xerrors.Is(err, ErrNotFound))
}

func TestRegistry_ActiveCount(t *testing.T) {
	r := NewRegistry()
	for _, addr := range []string{"a", "b", "c"} {
		kp := key.NewKeyPair(medbridge.Suite)
		require.NoError(t, r.Add(addr, kp.Public, 0))
	}
	require.Equal(t, 3, r.ActiveCount())

	require.NoError(t, r.Deactivate("b"))
	require.Equal(t, 2, r.ActiveCount())
}

func TestRegistry_VerifyAttestation(t *testing.T) {
	r := NewRegistry()
	kp := key.NewKeyPair(medbridge.Suite)
	require.NoError(t, r.Add("val-1", kp.Public, 0))

	msg := []byte("message digest")
	sig, err := schnorr.Sign(medbridge.Suite, kp.Private, msg)
	require.NoError(t, err)

	require.NoError(t, r.VerifyAttestation("val-1", msg, sig))

	// Wrong message fails.
	require.Error(t, r.VerifyAttestation("val-1", []byte("other"), sig))

	// Unknown validators look exactly like deactivated ones.
	err = r.VerifyAttestation("nobody", msg, sig)
	require.True(t, xerrors.Is(err, ErrNotAuthorized))

	require.NoError(t, r.Deactivate("val-1"))
	err = r.VerifyAttestation("val-1", msg, sig)
	require.True(t, xerrors.Is(err, ErrNotAuthorized))
}
