package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"rotor/internal/domain"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "ledger/tracker.csv", []byte("Date,Cash\n")))

	data, err := store.Download(ctx, "ledger/tracker.csv")
	require.NoError(t, err)
	require.Equal(t, []byte("Date,Cash\n"), data)
}

func TestLocalStoreMissingKey(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Download(context.Background(), "absent.csv")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
