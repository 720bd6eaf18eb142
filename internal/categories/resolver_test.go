package categories

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
)

type stubSource struct {
	cats  []models.Category
	err   error
	calls atomic.Int32
}

func (s *stubSource) LoadCategories(ctx context.Context) ([]models.Category, error) {
	s.calls.Add(1)
	return s.cats, s.err
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func intPtr(v int) *int { return &v }

func TestResolver_KnownIDReloadsOnce(t *testing.T) {
	mr, client := setupTestRedis(t)
	src := &stubSource{cats: []models.Category{{ID: 1, Name: "clothing"}}}
	r := NewResolver(client, src, DefaultOptions(), nil)

	id, name := r.Resolve(context.Background(), intPtr(1))
	assert.Equal(t, 1, id)
	assert.Equal(t, "clothing", name)
	assert.Equal(t, int32(1), src.calls.Load())

	assert.Equal(t, "clothing", mr.HGet(DefaultCacheKey, "1"))
	assert.Equal(t, time.Hour, mr.TTL(DefaultCacheKey))

	// served from cache now
	id, name = r.Resolve(context.Background(), intPtr(1))
	assert.Equal(t, 1, id)
	assert.Equal(t, "clothing", name)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestResolver_UnknownIDFallsBackToDefault(t *testing.T) {
	_, client := setupTestRedis(t)
	src := &stubSource{cats: []models.Category{{ID: 1, Name: "clothing"}}}
	r := NewResolver(client, src, DefaultOptions(), nil)

	id, name := r.Resolve(context.Background(), intPtr(99))
	assert.Equal(t, 3, id)
	assert.Equal(t, "other", name)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestResolver_AbsentIDUsesCachedDefault(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.HSet(DefaultCacheKey, "3", "other")

	src := &stubSource{cats: []models.Category{{ID: 1, Name: "clothing"}}}
	r := NewResolver(client, src, DefaultOptions(), nil)

	id, name := r.Resolve(context.Background(), nil)
	assert.Equal(t, 3, id)
	assert.Equal(t, "other", name)
	assert.Equal(t, int32(0), src.calls.Load(), "table must not be consulted")
}

func TestResolver_ExpiredHashReloads(t *testing.T) {
	mr, client := setupTestRedis(t)
	src := &stubSource{cats: []models.Category{{ID: 1, Name: "clothing"}, {ID: 2, Name: "electronics"}}}
	r := NewResolver(client, src, DefaultOptions(), nil)

	_, _ = r.Resolve(context.Background(), intPtr(2))
	require.Equal(t, int32(1), src.calls.Load())

	mr.FastForward(time.Hour + time.Second)
	assert.False(t, mr.Exists(DefaultCacheKey))

	id, name := r.Resolve(context.Background(), intPtr(2))
	assert.Equal(t, 2, id)
	assert.Equal(t, "electronics", name)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestResolver_SourceFailure(t *testing.T) {
	_, client := setupTestRedis(t)
	src := &stubSource{err: errors.New("db down")}
	r := NewResolver(client, src, DefaultOptions(), nil)

	id, name := r.Resolve(context.Background(), intPtr(1))
	assert.Equal(t, 3, id)
	assert.Equal(t, "other", name)
}

func TestResolver_RedisDownAnswersFromReload(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()

	src := &stubSource{cats: []models.Category{{ID: 1, Name: "clothing"}, {ID: 2, Name: "electronics"}}}
	r := NewResolver(client, src, DefaultOptions(), nil)

	id, name := r.Resolve(context.Background(), intPtr(2))
	assert.Equal(t, 2, id)
	assert.Equal(t, "electronics", name)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestResolver_CustomDefault(t *testing.T) {
	_, client := setupTestRedis(t)
	src := &stubSource{}
	opts := DefaultOptions()
	opts.DefaultID = 7
	opts.DefaultName = "misc"
	r := NewResolver(client, src, opts, nil)

	id, name := r.Resolve(context.Background(), nil)
	assert.Equal(t, 7, id)
	assert.Equal(t, "misc", name)
}
