// Package cache implementiert den zweistufigen Cache (prozesslokal + Redis)
// mit Single-Flight-Schutz gegen parallele Fehlzugriffe auf denselben Schlüssel.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Namespaces der Anwendung.
const (
	NamespaceAnnotation = "annotation"
	NamespaceEvidence   = "evidence"
	NamespacePercentile = "percentile"
)

var lookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by namespace and result (l1_hit, l2_hit, miss).",
	},
	[]string{"namespace", "result"},
)

func init() {
	prometheus.MustRegister(lookups)
}

// Options konfigurieren den Cache.
type Options struct {
	// TTLs pro Namespace; DefaultTTL für alle anderen.
	TTLs       map[string]time.Duration
	DefaultTTL time.Duration
	L1Size     int
}

// Cache ist der zweistufige Schlüssel-Wert-Cache.
type Cache struct {
	opts   Options
	l2     Store
	logger *zap.Logger

	mu sync.Mutex
	l1 map[string]*expirable.LRU[string, []byte]

	flight singleflight.Group
}

// New erstellt einen Cache. l2 darf nil sein (nur prozesslokal).
func New(l2 Store, opts Options, logger *zap.Logger) *Cache {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = time.Hour
	}
	if opts.L1Size <= 0 {
		opts.L1Size = 10000
	}
	return &Cache{
		opts:   opts,
		l2:     l2,
		logger: logger.With(zap.String("component", "cache")),
		l1:     make(map[string]*expirable.LRU[string, []byte]),
	}
}

// TTL liefert die Lebensdauer eines Namespaces.
func (c *Cache) TTL(ns string) time.Duration {
	if ttl, ok := c.opts.TTLs[ns]; ok && ttl > 0 {
		return ttl
	}
	return c.opts.DefaultTTL
}

func (c *Cache) tier1(ns string) *expirable.LRU[string, []byte] {
	c.mu.Lock()
	defer c.mu.Unlock()
	lru, ok := c.l1[ns]
	if !ok {
		lru = expirable.NewLRU[string, []byte](c.opts.L1Size, nil, c.TTL(ns))
		c.l1[ns] = lru
	}
	return lru
}

func fullKey(ns, key string) string { return ns + ":" + key }

// Get liest zuerst Stufe 1, dann Stufe 2 (und füllt dabei Stufe 1).
func (c *Cache) Get(ctx context.Context, ns, key string) ([]byte, bool) {
	if v, ok := c.tier1(ns).Get(key); ok {
		lookups.WithLabelValues(ns, "l1_hit").Inc()
		return v, true
	}
	if c.l2 != nil {
		v, ok, err := c.l2.Get(ctx, fullKey(ns, key))
		if err != nil {
			c.logger.Warn("tier-2 read failed, treating as miss", zap.String("namespace", ns), zap.String("key", key), zap.Error(err))
		} else if ok {
			c.tier1(ns).Add(key, v)
			lookups.WithLabelValues(ns, "l2_hit").Inc()
			return v, true
		}
	}
	lookups.WithLabelValues(ns, "miss").Inc()
	return nil, false
}

// Set schreibt in beide Stufen. Wiederholtes Schreiben desselben Werts ist idempotent.
func (c *Cache) Set(ctx context.Context, ns, key string, value []byte) error {
	c.tier1(ns).Add(key, value)
	if c.l2 == nil {
		return nil
	}
	if err := c.l2.Set(ctx, fullKey(ns, key), value, c.TTL(ns)); err != nil {
		c.logger.Warn("tier-2 write failed", zap.String("namespace", ns), zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// GetOrCompute liefert den gecachten Wert oder berechnet ihn genau einmal, auch wenn
// mehrere Aufrufer gleichzeitig denselben Schlüssel anfragen. Fehler werden nicht gecacht.
func (c *Cache) GetOrCompute(ctx context.Context, ns, key string, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := c.Get(ctx, ns, key); ok {
		return v, nil
	}
	computeCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(fullKey(ns, key), func() (any, error) {
		// erneut prüfen: ein vorheriger Flight kann den Wert inzwischen geschrieben haben
		if v, ok := c.tier1(ns).Get(key); ok {
			return v, nil
		}
		v, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}
		_ = c.Set(computeCtx, ns, key, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Delete invalidiert alle Schlüssel eines Namespaces, die auf das Glob-Muster passen.
func (c *Cache) Delete(ctx context.Context, ns, pattern string) error {
	lru := c.tier1(ns)
	for _, k := range lru.Keys() {
		if ok, _ := path.Match(pattern, k); ok {
			lru.Remove(k)
		}
	}
	if c.l2 == nil {
		return nil
	}
	if _, err := c.l2.DeletePattern(ctx, fullKey(ns, pattern)); err != nil {
		return fmt.Errorf("tier-2 delete %s:%s: %w", ns, pattern, err)
	}
	return nil
}

// GetOrComputeJSON ist die typisierte Variante von GetOrCompute.
func GetOrComputeJSON[T any](ctx context.Context, c *Cache, ns, key string, compute func(ctx context.Context) (T, error)) (T, error) {
	var out T
	raw, err := c.GetOrCompute(ctx, ns, key, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode cached %s:%s: %w", ns, key, err)
	}
	return out, nil
}
