package services

import (
	"context"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub000/cache"
	"github.com/berntpopp/kidney-genetics-db-sub000/config"
	"github.com/berntpopp/kidney-genetics-db-sub000/evidence"
	"github.com/berntpopp/kidney-genetics-db-sub000/models"
	"github.com/berntpopp/kidney-genetics-db-sub000/workerpool"
)

// Aggregator validiert Evidenz (staging -> curated) und berechnet den gewichteten Gen-Score.
type Aggregator struct {
	store   *EvidenceStore
	weights *config.Weights
	cache   *cache.Cache
	pool    *workerpool.Pool
	logger  *zap.Logger
}

// NewAggregator erstellt einen neuen Aggregator.
func NewAggregator(store *EvidenceStore, weights *config.Weights, c *cache.Cache, pool *workerpool.Pool, logger *zap.Logger) *Aggregator {
	if weights == nil {
		weights = config.DefaultWeights()
	}
	return &Aggregator{
		store:   store,
		weights: weights,
		cache:   c,
		pool:    pool,
		logger:  logger.With(zap.String("component", "aggregator")),
	}
}

// Weights gibt die aktive Gewichtstabelle zurück.
func (a *Aggregator) Weights() *config.Weights { return a.weights }

// Curate prüft alle staging-Einträge eines Gens gegen ihre Variante. Gültige werden
// curated, ungültige bleiben staging und werden mit Grund geloggt.
func (a *Aggregator) Curate(ctx context.Context, geneID uint) (int, error) {
	var curated int
	err := a.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		curated, err = a.curate(ctx, geneID)
		return err
	})
	return curated, err
}

func (a *Aggregator) curate(ctx context.Context, geneID uint) (int, error) {
	records, err := a.store.RecordsForGene(ctx, nil, geneID, models.StageStaging)
	if err != nil {
		return 0, err
	}
	curated := 0
	for _, rec := range records {
		p, err := evidence.Decode(rec.SourceName, rec.Payload)
		if err != nil {
			a.logger.Warn("Evidenz bleibt in staging",
				zap.Uint("gene_id", geneID),
				zap.String("source", rec.SourceName),
				zap.Uint("record_id", rec.ID),
				zap.Error(err))
			continue
		}
		var sub *float64
		if v, ok := p.SubScore(); ok {
			sub = &v
		}
		if err := a.store.Promote(ctx, nil, rec.ID, p.Version(), sub); err != nil {
			return curated, err
		}
		curated++
	}
	return curated, nil
}

// Recompute berechnet den Score eines Gens neu und speichert ihn.
func (a *Aggregator) Recompute(ctx context.Context, geneID uint) (models.GeneScore, error) {
	var score models.GeneScore
	err := a.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		score, err = a.recompute(ctx, geneID)
		return err
	})
	return score, err
}

// CurateAndRecompute kuratiert und berechnet den Score in einem Pool-Slot.
func (a *Aggregator) CurateAndRecompute(ctx context.Context, geneID uint) (models.GeneScore, error) {
	var score models.GeneScore
	err := a.pool.Do(ctx, func(ctx context.Context) error {
		if _, err := a.curate(ctx, geneID); err != nil {
			return err
		}
		var err error
		score, err = a.recompute(ctx, geneID)
		return err
	})
	if err == nil {
		a.Invalidate(ctx, geneID)
	}
	return score, err
}

func (a *Aggregator) recompute(ctx context.Context, geneID uint) (models.GeneScore, error) {
	records, err := a.store.RecordsForGene(ctx, nil, geneID, models.StageCurated)
	if err != nil {
		return models.GeneScore{}, err
	}
	score := a.Score(geneID, records)
	if err := a.store.SaveScore(ctx, nil, &score); err != nil {
		return models.GeneScore{}, err
	}
	return score, nil
}

// Score berechnet 100 × Σ(w·sub) / Σ(alle konfigurierten Gewichte). Einträge ohne Sub-Score
// oder ohne Gewicht tragen nichts bei, ohne die übrigen zu entwerten. Hat eine Quelle
// mehrere Einträge, zählt der höchste Sub-Score.
func (a *Aggregator) Score(geneID uint, curated []models.EvidenceRecord) models.GeneScore {
	best := make(map[string]float64)
	for _, rec := range curated {
		if rec.Stage != models.StageCurated || rec.SubScore == nil {
			continue
		}
		sub := *rec.SubScore
		if math.IsNaN(sub) || sub < 0 {
			continue
		}
		if sub > 1 {
			sub = 1
		}
		if a.weights.Weight(rec.SourceName) <= 0 {
			continue
		}
		if prev, ok := best[rec.SourceName]; !ok || sub > prev {
			best[rec.SourceName] = sub
		}
	}

	var weighted float64
	for src, sub := range best {
		weighted += a.weights.Weight(src) * sub
	}
	total := a.weights.Total()
	value := 0.0
	if total > 0 && len(best) > 0 {
		value = 100 * weighted / total
	}
	return models.GeneScore{
		GeneID:      geneID,
		Score:       value,
		Tier:        a.weights.TierFor(value),
		SourceCount: len(best),
		UpdatedAt:   time.Now().UTC(),
	}
}

// GetScore liefert den gespeicherten Score und berechnet ihn bei Bedarf.
func (a *Aggregator) GetScore(ctx context.Context, geneID uint) (models.GeneScore, error) {
	if _, err := a.store.GetGene(ctx, nil, geneID); err != nil {
		return models.GeneScore{}, err
	}
	stored, err := a.store.GetScore(ctx, nil, geneID)
	if err != nil {
		return models.GeneScore{}, err
	}
	if stored != nil {
		return *stored, nil
	}
	return a.Recompute(ctx, geneID)
}

// GeneEvidence ist die Antwort von GetEvidence.
type GeneEvidence struct {
	Gene    models.Gene             `json:"gene"`
	Records []models.EvidenceRecord `json:"records"`
}

// GetEvidence liefert alle Evidenz-Einträge eines Gens, gecacht im Namespace "evidence".
func (a *Aggregator) GetEvidence(ctx context.Context, geneID uint) (*GeneEvidence, error) {
	return cache.GetOrComputeJSON(ctx, a.cache, cache.NamespaceEvidence, evidenceKey(geneID), func(ctx context.Context) (*GeneEvidence, error) {
		gene, err := a.store.GetGene(ctx, nil, geneID)
		if err != nil {
			return nil, err
		}
		records, err := a.store.RecordsForGene(ctx, nil, geneID, "")
		if err != nil {
			return nil, err
		}
		return &GeneEvidence{Gene: *gene, Records: records}, nil
	})
}

// Invalidate verwirft gecachte Evidenz der Gene. Fehler werden nur geloggt.
func (a *Aggregator) Invalidate(ctx context.Context, geneIDs ...uint) {
	for _, id := range geneIDs {
		if err := a.cache.Delete(ctx, cache.NamespaceEvidence, evidenceKey(id)); err != nil {
			a.logger.Warn("cache invalidation failed", zap.Uint("gene_id", id), zap.Error(err))
		}
	}
}

func evidenceKey(geneID uint) string { return "gene:" + strconv.FormatUint(uint64(geneID), 10) }
