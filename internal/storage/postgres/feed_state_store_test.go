package postgres

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redemption-feed/internal/storage"
)

func TestFeedStateStore_SaveAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewFeedStateStore(pool)

	// Larger than int64 to exercise the NUMERIC column.
	price, _ := new(big.Int).SetString("999999999874279187558202799", 10)
	state := &storage.FeedState{
		Feed:      "Rai-0xabc",
		Price:     price,
		Decimals:  9,
		UpdatedAt: 1700000000,
	}
	require.NoError(t, store.Save(ctx, state))

	got, err := store.Get(ctx, "Rai-0xabc")
	require.NoError(t, err)
	assert.Equal(t, state.Feed, got.Feed)
	assert.Equal(t, price.String(), got.Price.String())
	assert.Equal(t, 9, got.Decimals)
	assert.Equal(t, int64(1700000000), got.UpdatedAt)
}

func TestFeedStateStore_Upsert(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewFeedStateStore(pool)

	require.NoError(t, store.Save(ctx, &storage.FeedState{Feed: "a", Price: big.NewInt(874279), Decimals: 9, UpdatedAt: 0}))
	require.NoError(t, store.Save(ctx, &storage.FeedState{Feed: "a", Price: big.NewInt(-674279), Decimals: 9, UpdatedAt: 60}))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "-674279", got.Price.String())
	assert.Equal(t, int64(60), got.UpdatedAt)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFeedStateStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewFeedStateStore(pool).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFeedStateStore_List(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewFeedStateStore(pool)

	for i, feed := range []string{"Rai-0xc", "Rai-0xa", "Rai-0xb"} {
		require.NoError(t, store.Save(ctx, &storage.FeedState{Feed: feed, Price: big.NewInt(int64(i)), Decimals: 9}))
	}

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Rai-0xa", all[0].Feed)
	assert.Equal(t, "Rai-0xc", all[2].Feed)
}

func TestFeedStateStore_SaveInvalid(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	err := NewFeedStateStore(pool).Save(context.Background(), &storage.FeedState{Feed: "a"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
