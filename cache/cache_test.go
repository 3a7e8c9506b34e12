package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store, err := NewRedisStore(context.Background(), rdb, "test:")
	require.NoError(t, err)
	return store, mr
}

func TestReadPath(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	writer := New(store, Options{DefaultTTL: time.Minute}, zap.NewNop())
	require.NoError(t, writer.Set(ctx, NamespaceAnnotation, "hgnc:PKD1", []byte(`{"a":1}`)))

	v, ok := writer.Get(ctx, NamespaceAnnotation, "hgnc:PKD1")
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(v))

	// zweiter Prozess: Stufe 1 leer, Stufe 2 trifft und füllt Stufe 1
	reader := New(store, Options{DefaultTTL: time.Minute}, zap.NewNop())
	v, ok = reader.Get(ctx, NamespaceAnnotation, "hgnc:PKD1")
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(v))
	_, ok = reader.tier1(NamespaceAnnotation).Get("hgnc:PKD1")
	assert.True(t, ok, "tier-2 hit must populate tier-1")

	_, ok = reader.Get(ctx, NamespaceAnnotation, "hgnc:UNKNOWN")
	assert.False(t, ok)
}

func TestSingleFlight(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)
	c := New(store, Options{DefaultTTL: time.Minute}, zap.NewNop())

	var computes int32
	release := make(chan struct{})
	compute := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&computes, 1)
		<-release
		return []byte("value"), nil
	}

	const callers = 50
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(ctx, NamespaceEvidence, "gene:1", compute)
			results[i], errs[i] = string(v), err
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&computes))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "value", results[i])
	}
}

func TestComputeErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	c := New(nil, Options{}, zap.NewNop())
	boom := errors.New("boom")

	_, err := c.GetOrCompute(ctx, NamespaceAnnotation, "k", func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrCompute(ctx, NamespaceAnnotation, "k", func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(v))
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)
	c := New(store, Options{TTLs: map[string]time.Duration{NamespacePercentile: 50 * time.Millisecond}}, zap.NewNop())

	require.NoError(t, c.Set(ctx, NamespacePercentile, "pubmed:publication_count", []byte("x")))
	assert.Equal(t, 50*time.Millisecond, c.TTL(NamespacePercentile))
	assert.Equal(t, time.Hour, c.TTL(NamespaceEvidence))

	time.Sleep(100 * time.Millisecond)
	mr.FastForward(time.Second)

	_, ok := c.Get(ctx, NamespacePercentile, "pubmed:publication_count")
	assert.False(t, ok, "expired entries must not be returned")
}

func TestDeletePattern(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)
	c := New(store, Options{DefaultTTL: time.Minute}, zap.NewNop())

	require.NoError(t, c.Set(ctx, NamespaceAnnotation, "hgnc:PKD1", []byte("1")))
	require.NoError(t, c.Set(ctx, NamespaceAnnotation, "pubmed:PKD1", []byte("2")))
	require.NoError(t, c.Set(ctx, NamespaceAnnotation, "pubmed:NPHS1", []byte("3")))

	require.NoError(t, c.Delete(ctx, NamespaceAnnotation, "*:PKD1"))

	_, ok := c.Get(ctx, NamespaceAnnotation, "hgnc:PKD1")
	assert.False(t, ok)
	_, ok = c.Get(ctx, NamespaceAnnotation, "pubmed:PKD1")
	assert.False(t, ok)
	_, ok = c.Get(ctx, NamespaceAnnotation, "pubmed:NPHS1")
	assert.True(t, ok)
	assert.False(t, mr.Exists("test:annotation:hgnc:PKD1"))
	assert.True(t, mr.Exists("test:annotation:pubmed:NPHS1"))
}

func TestGetOrComputeJSON(t *testing.T) {
	type score struct {
		Score float64 `json:"score"`
	}
	c := New(nil, Options{}, zap.NewNop())
	calls := 0
	for i := 0; i < 3; i++ {
		v, err := GetOrComputeJSON(context.Background(), c, NamespaceEvidence, "score:7", func(ctx context.Context) (score, error) {
			calls++
			return score{Score: 42}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42.0, v.Score)
	}
	assert.Equal(t, 1, calls)
}
