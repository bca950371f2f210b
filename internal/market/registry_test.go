package market

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saulteafarmer/orangemart/internal/domain"
)

func TestRegistryRemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	inv := &domain.Invoice{PaymentHash: "abc123", Participant: domain.Participant{ID: "p1"}}

	r.Add(inv)
	require.Equal(t, 1, r.Len())

	require.True(t, r.Remove(inv), "first removal reports presence")
	require.False(t, r.Remove(inv), "second removal is a no-op")
	require.Equal(t, 0, r.Len())
}

func TestRegistryCaseInsensitiveHash(t *testing.T) {
	r := NewRegistry()
	inv := &domain.Invoice{PaymentHash: "ABC123DEF"}
	r.Add(inv)

	require.Same(t, inv, r.FindByPaymentHash("abc123def"))
	require.Same(t, inv, r.FindByPaymentHash("ABC123DEF"))
	require.True(t, r.Remove(&domain.Invoice{PaymentHash: "abc123DEF"}))
}

func TestRegistryCountForPlayer(t *testing.T) {
	r := NewRegistry()
	r.Add(&domain.Invoice{PaymentHash: "h1", Participant: domain.Participant{ID: "p1"}})
	r.Add(&domain.Invoice{PaymentHash: "h2", Participant: domain.Participant{ID: "p1"}})
	r.Add(&domain.Invoice{PaymentHash: "h3", Participant: domain.Participant{ID: "p2"}})

	require.Equal(t, 2, r.CountForPlayer("p1"))
	require.Equal(t, 1, r.CountForPlayer("p2"))
	require.Equal(t, 0, r.CountForPlayer("p3"))
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	inv := &domain.Invoice{PaymentHash: "h1"}
	r.Add(inv)

	snap := r.Snapshot()
	require.Len(t, snap, 1)

	r.Remove(inv)
	require.Len(t, snap, 1, "snapshot unaffected by later mutation")
	require.Equal(t, 0, r.Len())
}
