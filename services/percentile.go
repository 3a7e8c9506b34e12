package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/berntpopp/kidney-genetics-db-sub000/cache"
	"github.com/berntpopp/kidney-genetics-db-sub000/evidence"
	"github.com/berntpopp/kidney-genetics-db-sub000/models"
	"github.com/berntpopp/kidney-genetics-db-sub000/workerpool"
)

// PercentileSnapshot ist das zuletzt berechnete Ranking einer (Quelle, Kennzahl).
type PercentileSnapshot struct {
	Source     string           `json:"source"`
	Metric     string           `json:"metric"`
	ComputedAt time.Time        `json:"computed_at"`
	Ranks      map[uint]float64 `json:"ranks"`
}

// PercentileService berechnet globale Perzentil-Ränge und liefert nie einen Fehler:
// bei Timeout oder Fehler gilt der letzte Snapshot, sonst eine leere Map.
type PercentileService struct {
	store       *EvidenceStore
	cache       *cache.Cache
	pool        *workerpool.Pool
	logger      *zap.Logger
	timeout     time.Duration
	minInterval time.Duration
	now         func() time.Time

	// compute ist austauschbar, damit Tests langsame Berechnungen simulieren können.
	compute func(ctx context.Context, source, metric string) (map[uint]float64, error)

	mu        sync.RWMutex
	snapshots map[string]*PercentileSnapshot
	flight    singleflight.Group
}

// NewPercentileService erstellt einen PercentileService.
func NewPercentileService(store *EvidenceStore, c *cache.Cache, pool *workerpool.Pool, timeout, minInterval time.Duration, logger *zap.Logger) *PercentileService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if minInterval <= 0 {
		minInterval = 5 * time.Minute
	}
	s := &PercentileService{
		store:       store,
		cache:       c,
		pool:        pool,
		logger:      logger.With(zap.String("component", "percentile")),
		timeout:     timeout,
		minInterval: minInterval,
		now:         time.Now,
		snapshots:   make(map[string]*PercentileSnapshot),
	}
	s.compute = s.computeRanks
	return s
}

func snapshotKey(source, metric string) string { return source + ":" + metric }

// GetPercentiles liefert geneID -> Rang in [0,1]. Gene ohne Eintrag sind "noch nicht gerankt".
// Ein veralteter Snapshot wird sofort geliefert, die Neuberechnung läuft im Hintergrund.
// Nur ohne Snapshot wartet der Aufrufer, höchstens bis zum Timeout.
func (s *PercentileService) GetPercentiles(ctx context.Context, source, metric string) map[uint]float64 {
	key := snapshotKey(source, metric)
	prev := s.snapshot(ctx, key)
	if prev != nil && s.now().Sub(prev.ComputedAt) < s.minInterval {
		return copyRanks(prev.Ranks)
	}

	ch := s.rebuild(ctx, key, source, metric)
	if prev != nil {
		return copyRanks(prev.Ranks)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.Err == nil {
			return copyRanks(res.Val.(*PercentileSnapshot).Ranks)
		}
	case <-timer.C:
		s.logger.Warn("percentile calculation exceeded timeout, no snapshot yet",
			zap.String("source", source), zap.String("metric", metric),
			zap.Duration("timeout", s.timeout), zap.Error(ErrCalculationTimeout))
	case <-ctx.Done():
	}
	return map[uint]float64{}
}

// rebuild startet höchstens eine Berechnung pro Schlüssel. Sie läuft unabhängig vom
// Aufrufer weiter und installiert den Snapshot auch nach dessen Timeout.
func (s *PercentileService) rebuild(ctx context.Context, key, source, metric string) <-chan singleflight.Result {
	return s.flight.DoChan(key, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		var ranks map[uint]float64
		err := s.pool.Do(ctx, func(ctx context.Context) error {
			var err error
			ranks, err = s.compute(ctx, source, metric)
			return err
		})
		if err != nil {
			s.logger.Warn("percentile calculation failed, keeping previous snapshot",
				zap.String("source", source), zap.String("metric", metric), zap.Error(err))
			return nil, err
		}
		snap := &PercentileSnapshot{Source: source, Metric: metric, ComputedAt: s.now(), Ranks: ranks}
		s.install(ctx, key, snap)
		return snap, nil
	})
}

// Snapshot liefert den aktuellen Snapshot ohne Neuberechnung.
func (s *PercentileService) Snapshot(source, metric string) (*PercentileSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotKey(source, metric)]
	return snap, ok
}

// snapshot liest zuerst den prozesslokalen Snapshot, dann den Cache (Snapshots anderer Prozesse).
func (s *PercentileService) snapshot(ctx context.Context, key string) *PercentileSnapshot {
	s.mu.RLock()
	snap := s.snapshots[key]
	s.mu.RUnlock()
	if snap != nil || s.cache == nil {
		return snap
	}
	raw, ok := s.cache.Get(ctx, cache.NamespacePercentile, key)
	if !ok {
		return nil
	}
	var cached PercentileSnapshot
	if err := json.Unmarshal(raw, &cached); err != nil {
		s.logger.Warn("discarding unreadable cached snapshot", zap.String("key", key), zap.Error(err))
		return nil
	}
	s.mu.Lock()
	if s.snapshots[key] == nil {
		s.snapshots[key] = &cached
	}
	snap = s.snapshots[key]
	s.mu.Unlock()
	return snap
}

func (s *PercentileService) install(ctx context.Context, key string, snap *PercentileSnapshot) {
	s.mu.Lock()
	s.snapshots[key] = snap
	s.mu.Unlock()
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, cache.NamespacePercentile, key, raw)
}

// computeRanks lädt die Population (kuratierte Einträge der Quelle mit endlichem,
// von null verschiedenem Wert der Kennzahl) und rankt sie.
func (s *PercentileService) computeRanks(ctx context.Context, source, metric string) (map[uint]float64, error) {
	if !evidence.Known(source) {
		return nil, fmt.Errorf("%w: %s", evidence.ErrUnknownSource, source)
	}
	records, err := s.store.RecordsForSource(ctx, nil, source, models.StageCurated)
	if err != nil {
		return nil, err
	}
	values := make(map[uint]float64, len(records))
	for _, rec := range records {
		p, err := evidence.Decode(rec.SourceName, rec.Payload)
		if err != nil {
			continue
		}
		v, ok := p.Metrics()[metric]
		if !ok || v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if prev, seen := values[rec.GeneID]; !seen || v > prev {
			values[rec.GeneID] = v
		}
	}
	return PercentRank(values), nil
}

// PercentRank rankt Werte nach PERCENT_RANK-Semantik: (r-1)/(n-1), gleiche Werte teilen den
// niedrigsten Rang. Ein einzelner Wert erhält 0.5, eine leere Population eine leere Map.
func PercentRank(values map[uint]float64) map[uint]float64 {
	out := make(map[uint]float64, len(values))
	n := len(values)
	switch n {
	case 0:
		return out
	case 1:
		for id := range values {
			out[id] = 0.5
		}
		return out
	}
	sorted := make([]float64, 0, n)
	for _, v := range values {
		sorted = append(sorted, v)
	}
	sort.Float64s(sorted)
	for id, v := range values {
		below := sort.SearchFloat64s(sorted, v) // Anzahl strikt kleinerer Werte
		out[id] = float64(below) / float64(n-1)
	}
	return out
}

func copyRanks(in map[uint]float64) map[uint]float64 {
	out := make(map[uint]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
