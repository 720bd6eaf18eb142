package rates

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	rate  float64
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (s *stubSource) FetchRate(ctx context.Context) (float64, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.rate, s.err
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.WaitInitial = 10 * time.Millisecond
	opts.FetchTimeout = time.Second
	return opts
}

func TestResolver_CacheHit(t *testing.T) {
	mr, client := setupTestRedis(t)
	require.NoError(t, mr.Set(DefaultCacheKey, "90,5"))

	src := &stubSource{rate: 100}
	r := NewResolver(client, src, testOptions(), nil)

	rate, ok := r.Rate(context.Background())
	require.True(t, ok)
	assert.Equal(t, 90.5, rate)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestResolver_MissFetchesAndCaches(t *testing.T) {
	mr, client := setupTestRedis(t)
	src := &stubSource{rate: 91.25}
	r := NewResolver(client, src, testOptions(), nil)

	rate, ok := r.Rate(context.Background())
	require.True(t, ok)
	assert.Equal(t, 91.25, rate)
	assert.Equal(t, int32(1), src.calls.Load())

	cached, err := mr.Get(DefaultCacheKey)
	require.NoError(t, err)
	assert.Equal(t, "91.25", cached)
	assert.Equal(t, time.Hour, mr.TTL(DefaultCacheKey))
	assert.False(t, mr.Exists(DefaultLockKey), "lock should be released")

	rate, ok = r.Rate(context.Background())
	require.True(t, ok)
	assert.Equal(t, 91.25, rate)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestResolver_ConcurrentCallersFetchOnce(t *testing.T) {
	_, client := setupTestRedis(t)
	src := &stubSource{rate: 90.5, delay: 50 * time.Millisecond}
	r := NewResolver(client, src, testOptions(), nil)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]float64, callers)
	oks := make([]bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], oks[i] = r.Rate(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for i := 0; i < callers; i++ {
		assert.True(t, oks[i], "caller %d got unknown", i)
		assert.Equal(t, 90.5, results[i], "caller %d", i)
	}
}

func TestResolver_LockHeldCacheNeverFills(t *testing.T) {
	mr, client := setupTestRedis(t)
	require.NoError(t, mr.Set(DefaultLockKey, "someone-else"))

	src := &stubSource{rate: 90}
	r := NewResolver(client, src, testOptions(), nil)

	start := time.Now()
	_, ok := r.Rate(context.Background())
	assert.False(t, ok)
	assert.Equal(t, int32(0), src.calls.Load())
	// 10+20+40+80+160ms
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	holder, err := mr.Get(DefaultLockKey)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", holder, "waiter must not release a lock it does not hold")
}

func TestResolver_LockHeldCacheFilledWhileWaiting(t *testing.T) {
	mr, client := setupTestRedis(t)
	require.NoError(t, mr.Set(DefaultLockKey, "someone-else"))

	go func() {
		time.Sleep(25 * time.Millisecond)
		_ = mr.Set(DefaultCacheKey, "88.8")
	}()

	src := &stubSource{rate: 90}
	r := NewResolver(client, src, testOptions(), nil)

	rate, ok := r.Rate(context.Background())
	require.True(t, ok)
	assert.Equal(t, 88.8, rate)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestResolver_SourceFailure(t *testing.T) {
	mr, client := setupTestRedis(t)
	src := &stubSource{err: errors.New("upstream down")}
	r := NewResolver(client, src, testOptions(), nil)

	_, ok := r.Rate(context.Background())
	assert.False(t, ok)
	assert.False(t, mr.Exists(DefaultCacheKey))
	assert.False(t, mr.Exists(DefaultLockKey), "lock should be released after failure")
}

func TestResolver_RedisDownFetchesDirectly(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()

	src := &stubSource{rate: 92}
	r := NewResolver(client, src, testOptions(), nil)

	rate, ok := r.Rate(context.Background())
	require.True(t, ok)
	assert.Equal(t, 92.0, rate)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestResolver_RedisDownFetchesOncePerTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()

	src := &stubSource{rate: 92}
	r := NewResolver(client, src, testOptions(), nil)

	for i := 0; i < 10; i++ {
		rate, ok := r.Rate(context.Background())
		require.True(t, ok)
		assert.Equal(t, 92.0, rate)
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestResolver_RedisDownConcurrentCallersShareFetch(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()

	src := &stubSource{rate: 93, delay: 50 * time.Millisecond}
	r := NewResolver(client, src, testOptions(), nil)

	var wg sync.WaitGroup
	results := make([]float64, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rate, ok := r.Rate(context.Background())
			if ok {
				results[i] = rate
			}
		}(i)
	}
	wg.Wait()

	for _, rate := range results {
		assert.Equal(t, 93.0, rate)
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestResolver_RedisDownLocalRateExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()

	opts := testOptions()
	opts.CacheTTL = 20 * time.Millisecond
	src := &stubSource{rate: 94}
	r := NewResolver(client, src, opts, nil)

	_, ok := r.Rate(context.Background())
	require.True(t, ok)
	time.Sleep(40 * time.Millisecond)
	_, ok = r.Rate(context.Background())
	require.True(t, ok)

	assert.Equal(t, int32(2), src.calls.Load())
}

func TestResolver_RedisDownAndSourceDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()

	src := &stubSource{err: errors.New("upstream down")}
	r := NewResolver(client, src, testOptions(), nil)

	_, ok := r.Rate(context.Background())
	assert.False(t, ok)
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "90.5", want: 90.5},
		{in: "90,5", want: 90.5},
		{in: `"81,2345"`, want: 81.2345},
		{in: " 77 ", want: 77},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseRate(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}
