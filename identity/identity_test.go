package identity

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

const validity = int64(30 * 24 * 3600)

func TestRegistry_Request(t *testing.T) {
	r := NewRegistry()

	l, err := r.Request("alice", bridge.Ethereum, "0xdef")
	require.NoError(t, err)
	require.Equal(t, Pending, l.Status)
	require.Empty(t, l.Attestations)

	// Requesting again returns the existing link unchanged.
	again, err := r.Request("alice", bridge.Ethereum, "0xdef")
	require.NoError(t, err)
	require.Equal(t, l, again)

	// The same identity can link to several chains.
	l2, err := r.Request("alice", bridge.Polygon, "0xabc")
	require.NoError(t, err)
	require.NotEqual(t, l.ID(), l2.ID())
}

func TestRegistry_Attest(t *testing.T) {
	r := NewRegistry()
	l, err := r.Request("alice", bridge.Ethereum, "0xdef")
	require.NoError(t, err)

	got, err := r.Attest(l.ID(), "val-a", 2, validity)
	require.NoError(t, err)
	require.Equal(t, Pending, got.Status)

	// Double voting is rejected.
	_, err = r.Attest(l.ID(), "val-a", 2, validity)
	require.True(t, xerrors.Is(err, ErrDuplicateAttestation))

	got, err = r.Attest(l.ID(), "val-b", 2, validity)
	require.NoError(t, err)
	require.Equal(t, Verified, got.Status)
	require.Equal(t, got.VerifiedAt+validity, got.ExpiresAt)

	// An extra attestation on a verified link is a harmless retry.
	got, err = r.Attest(l.ID(), "val-c", 2, validity)
	require.NoError(t, err)
	require.Equal(t, Verified, got.Status)

	_, err = r.Attest([]byte("unknown"), "val-a", 2, validity)
	require.True(t, xerrors.Is(err, ErrLinkNotFound))
}

func TestRegistry_ResolvePending(t *testing.T) {
	r := NewRegistry()
	l, err := r.Request("alice", bridge.Ethereum, "0xdef")
	require.NoError(t, err)

	// One attestation with a minimum of two: still pending, and resolve
	// reports that without an error.
	_, err = r.Attest(l.ID(), "val-a", 2, validity)
	require.NoError(t, err)

	got, err := r.Resolve("alice", bridge.Ethereum)
	require.NoError(t, err)
	require.Equal(t, Pending, got.Status)

	_, err = r.Resolve("bob", bridge.Ethereum)
	require.True(t, xerrors.Is(err, ErrLinkNotFound))
}

func TestRegistry_Expiry(t *testing.T) {
	r := NewRegistry()
	l, err := r.Request("alice", bridge.Ethereum, "0xdef")
	require.NoError(t, err)
	_, err = r.Attest(l.ID(), "val-a", 1, validity)
	require.NoError(t, err)

	got, err := r.Resolve("alice", bridge.Ethereum)
	require.NoError(t, err)
	require.Equal(t, Verified, got.Status)

	defer func() { timeNow = time.Now }()
	timeNow = func() time.Time { return time.Unix(got.ExpiresAt+1, 0) }

	// The stored status still says Verified, resolve corrects it lazily.
	_, err = r.Resolve("alice", bridge.Ethereum)
	require.True(t, xerrors.Is(err, ErrIdentityExpired))

	// Attesting an expired link fails too.
	_, err = r.Attest(l.ID(), "val-b", 1, validity)
	require.True(t, xerrors.Is(err, ErrIdentityExpired))
}

func TestRegistry_Renewal(t *testing.T) {
	r := NewRegistry()
	l, err := r.Request("alice", bridge.Ethereum, "0xdef")
	require.NoError(t, err)
	_, err = r.Attest(l.ID(), "val-a", 1, validity)
	require.NoError(t, err)

	got, err := r.Resolve("alice", bridge.Ethereum)
	require.NoError(t, err)

	defer func() { timeNow = time.Now }()
	timeNow = func() time.Time { return time.Unix(got.ExpiresAt+1, 0) }

	// Renewal re-enters Pending with a cleared attestation set.
	renewed, err := r.Request("alice", bridge.Ethereum, "0xdef")
	require.NoError(t, err)
	require.Equal(t, Pending, renewed.Status)
	require.Empty(t, renewed.Attestations)

	// The old attestor may attest again after renewal.
	after, err := r.Attest(l.ID(), "val-a", 1, validity)
	require.NoError(t, err)
	require.Equal(t, Verified, after.Status)
}
