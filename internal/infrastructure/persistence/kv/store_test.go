package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/application/port"
	"github.com/garyjia/evoucher/pkg/database"
)

func runStoreContract(t *testing.T, store port.DocumentStore) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "evoucher:missing")
		assert.ErrorIs(t, err, port.ErrKeyNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "evoucher:ev-1", []byte(`{"id":"ev-1"}`)))
		v, err := store.Get(ctx, "evoucher:ev-1")
		require.NoError(t, err)
		assert.Equal(t, `{"id":"ev-1"}`, string(v))
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "evoucher:ev-2", []byte("a")))
		require.NoError(t, store.Set(ctx, "evoucher:ev-2", []byte("b")))
		v, err := store.Get(ctx, "evoucher:ev-2")
		require.NoError(t, err)
		assert.Equal(t, "b", string(v))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "evoucher:ev-3", []byte("x")))
		require.NoError(t, store.Delete(ctx, "evoucher:ev-3"))
		_, err := store.Get(ctx, "evoucher:ev-3")
		assert.ErrorIs(t, err, port.ErrKeyNotFound)
		assert.NoError(t, store.Delete(ctx, "evoucher:ev-3"))
	})

	t.Run("scan prefix ordered", func(t *testing.T) {
		for _, k := range []string{
			"evoucher_history:ev-9:0000000002",
			"evoucher_history:ev-9:0000000001",
			"evoucher_history:ev-9:0000000010",
			"evoucher_history:ev-90:0000000001",
			"EVOUCHER_HISTORY:ev-9:0000000003",
		} {
			require.NoError(t, store.Set(ctx, k, []byte(k)))
		}

		entries, err := store.ScanPrefix(ctx, "evoucher_history:ev-9:")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "evoucher_history:ev-9:0000000001", entries[0].Key)
		assert.Equal(t, "evoucher_history:ev-9:0000000002", entries[1].Key)
		assert.Equal(t, "evoucher_history:ev-9:0000000010", entries[2].Key)
		assert.Equal(t, entries[0].Key, string(entries[0].Value))
	})

	t.Run("scan treats wildcards literally", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "ledger:exp_ense:1", []byte("1")))
		require.NoError(t, store.Set(ctx, "ledger:expXense:1", []byte("2")))

		entries, err := store.ScanPrefix(ctx, "ledger:exp_ense:")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "ledger:exp_ense:1", entries[0].Key)
	})

	t.Run("scan empty", func(t *testing.T) {
		entries, err := store.ScanPrefix(ctx, "nothing-here:")
		require.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	value := []byte("original")
	require.NoError(t, store.Set(ctx, "k", value))
	value[0] = 'X'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func TestSQLiteStore(t *testing.T) {
	logger := zap.NewNop()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "kv.db")}, logger)
	require.NoError(t, err)
	defer db.Close()

	store, err := NewSQLiteStore(db, logger)
	require.NoError(t, err)
	runStoreContract(t, store)

	// reopening runs migrations again without error
	_, err = NewSQLiteStore(db, logger)
	require.NoError(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	namespace := "evtest:" + t.Name() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, escapeGlob(namespace)+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})

	runStoreContract(t, NewRedisStore(client, namespace))
}

func TestEscapeHelpers(t *testing.T) {
	assert.Equal(t, `a\_b\%c\\`, escapeLike(`a_b%c\`))
	assert.Equal(t, `a\*b\?\[c\]`, escapeGlob(`a*b?[c]`))
}
