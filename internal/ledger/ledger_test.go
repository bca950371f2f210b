package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saulteafarmer/orangemart/internal/domain"
)

func TestRecordAndUpdateBuy(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	txID, err := store.RecordBuyInitiated(domain.BuyEntry{
		PlayerID:   "76561198000000001",
		AmountSats: 500,
		Units:      500,
	})
	require.NoError(t, err)
	require.NotEmpty(t, txID)

	buys := store.Buys()
	require.Len(t, buys, 1)
	require.Equal(t, domain.StatusInitiated, buys[0].Status)
	require.False(t, buys[0].CreatedAt.IsZero())

	err = store.UpdateBuy(txID, func(e *domain.BuyEntry) {
		e.PaymentHash = "ABCDEF"
		e.Status = domain.StatusProcessing
	})
	require.NoError(t, err)

	buys = store.Buys()
	require.Len(t, buys, 1, "update must mutate in place, not append")
	require.Equal(t, "ABCDEF", buys[0].PaymentHash)
	require.Equal(t, domain.StatusProcessing, buys[0].Status)
	require.True(t, buys[0].UpdatedAt.After(buys[0].CreatedAt) || buys[0].UpdatedAt.Equal(buys[0].CreatedAt))
}

func TestUpdateUnknownTransaction(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	err = store.UpdateBuy("nope", func(e *domain.BuyEntry) {})
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)

	err = store.UpdateSell("nope", func(e *domain.SellEntry) {})
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestOpenEntriesExcludeTerminal(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	open, err := store.RecordSellInitiated(domain.SellEntry{PlayerID: "p1", Units: 10})
	require.NoError(t, err)
	closed, err := store.RecordSellInitiated(domain.SellEntry{PlayerID: "p2", Units: 20})
	require.NoError(t, err)

	require.NoError(t, store.UpdateSell(closed, func(e *domain.SellEntry) {
		e.Status = domain.StatusFailed
	}))

	remaining := store.OpenSells()
	require.Len(t, remaining, 1)
	require.Equal(t, open, remaining[0].TransactionID)
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, buyFile), []byte("{not json"), 0o644))

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.Empty(t, store.Buys())

	// Writes still work after a corrupt read.
	_, err = store.RecordBuyInitiated(domain.BuyEntry{PlayerID: "p1", Units: 1, AmountSats: 1})
	require.NoError(t, err)
	require.Len(t, store.Buys(), 1)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	txID, err := store.RecordBuyInitiated(domain.BuyEntry{PlayerID: "p1", Units: 5, AmountSats: 5})
	require.NoError(t, err)

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	buys := reopened.Buys()
	require.Len(t, buys, 1)
	require.Equal(t, txID, buys[0].TransactionID)

	// No temp file left behind.
	_, err = os.Stat(filepath.Join(dir, buyFile+".tmp"))
	require.True(t, os.IsNotExist(err))
}
