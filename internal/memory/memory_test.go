package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/service"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client, time.Hour), mr
}

func TestSessionMemoryContract(t *testing.T) {
	stores := map[string]func(t *testing.T) service.SessionMemory{
		"memory": func(t *testing.T) service.SessionMemory {
			s := NewMemoryStore(time.Hour)
			t.Cleanup(s.Stop)
			return s
		},
		"redis": func(t *testing.T) service.SessionMemory {
			s, _ := newRedisStore(t)
			return s
		},
	}

	for name, factory := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			alice := model.Scope{TenantID: 1, SessionID: "same"}
			bob := model.Scope{TenantID: 2, SessionID: "same"}

			empty, err := store.Get(ctx, alice)
			require.NoError(t, err, "absent memory is not an error")
			assert.Equal(t, model.Memory{}, empty)

			mem := model.Memory{}
			mem.Remember(42)
			amount := int64(300)
			mem.SetPending([]int64{7, 9}, &model.Patch{Amount: &amount})
			require.NoError(t, store.Put(ctx, alice, mem))

			got, err := store.Get(ctx, alice)
			require.NoError(t, err)
			assert.Equal(t, int64(42), got.LastReference)
			assert.Equal(t, []model.Candidate{{Index: 1, ID: 7}, {Index: 2, ID: 9}}, got.Pending)
			require.NotNil(t, got.PendingChange)
			assert.Equal(t, int64(300), *got.PendingChange.Amount)

			other, err := store.Get(ctx, bob)
			require.NoError(t, err)
			assert.Equal(t, model.Memory{}, other, "tenants never share memory")

			require.NoError(t, store.Delete(ctx, alice))
			got, err = store.Get(ctx, alice)
			require.NoError(t, err)
			assert.Equal(t, model.Memory{}, got)

			_, err = store.Get(ctx, model.Scope{SessionID: "x"})
			require.ErrorIs(t, err, common.ErrScopeViolation)
			err = store.Put(ctx, model.Scope{TenantID: 1}, model.Memory{})
			require.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestMemoryStore_CopiesOnReadAndWrite(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Stop()
	ctx := context.Background()
	scope := model.Scope{TenantID: 1, SessionID: "s"}

	mem := model.Memory{}
	mem.SetPending([]int64{1}, nil)
	require.NoError(t, store.Put(ctx, scope, mem))
	mem.Pending[0].ID = 99

	got, err := store.Get(ctx, scope)
	require.NoError(t, err)
	got.Pending[0].ID = 100

	again, err := store.Get(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Pending[0].ID)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Stop()
	ctx := context.Background()
	scope := model.Scope{TenantID: 1, SessionID: "s"}

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	store.mu.Lock()
	store.now = func() time.Time { return now }
	store.mu.Unlock()

	require.NoError(t, store.Put(ctx, scope, model.Memory{LastReference: 5}))
	got, err := store.Get(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.LastReference)

	now = now.Add(2 * time.Minute)
	got, err = store.Get(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, model.Memory{}, got, "expired memory reads as empty")

	store.cleanup()
	assert.Zero(t, store.Len())

	store.Stop()
	store.Stop()
}

func TestRedisStore_TTLAndCorruptEntries(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	scope := model.Scope{TenantID: 3, SessionID: "abc"}

	require.NoError(t, store.Put(ctx, scope, model.Memory{LastReference: 11}))
	assert.True(t, mr.Exists("dompet:memory:3:abc"))
	assert.Equal(t, time.Hour, mr.TTL("dompet:memory:3:abc"))

	mr.FastForward(2 * time.Hour)
	got, err := store.Get(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, model.Memory{}, got)

	require.NoError(t, mr.Set("dompet:memory:3:abc", "{not json"))
	got, err = store.Get(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, model.Memory{}, got)
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, err := store.Get(context.Background(), model.Scope{TenantID: 1, SessionID: "s"})
	require.ErrorIs(t, err, common.ErrStorage)

	_, err = NewRedisStore(context.Background(), RedisOptions{})
	require.ErrorIs(t, err, common.ErrMissingConfig)
}
