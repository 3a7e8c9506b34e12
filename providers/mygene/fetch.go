package mygene

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub000/config"
	"github.com/berntpopp/kidney-genetics-db-sub000/evidence"
	"github.com/berntpopp/kidney-genetics-db-sub000/models"
	"github.com/berntpopp/kidney-genetics-db-sub000/providers"
)

// DefaultBatchSize ist das Limit von MyGene.info für POST /query.
const DefaultBatchSize = 1000

const fields = "entrezgene,ensembl.gene,type_of_gene,summary"

// Fetcher implementiert Adapter und BatchAdapter für MyGene.info.
type Fetcher struct {
	Config    *config.Config
	Logger    *zap.Logger
	client    *providers.Client
	base      string
	batchSize int
}

// NewFetcher erstellt einen neuen MyGene-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	sc := cfg.Source(evidence.SourceMyGene)
	size := sc.MaxBatchSize
	if size <= 1 || size > DefaultBatchSize {
		size = DefaultBatchSize
	}
	return &Fetcher{
		Config:    cfg,
		Logger:    logger.With(zap.String("provider", evidence.SourceMyGene)),
		client:    providers.NewClient(evidence.SourceMyGene, sc.Timeout),
		base:      strings.TrimRight(sc.BaseURL, "/"),
		batchSize: size,
	}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string { return evidence.SourceMyGene }

// MaxBatchSize gibt die maximale Anzahl Symbole pro Anfrage zurück.
func (f *Fetcher) MaxBatchSize() int { return f.batchSize }

// Fetch ist ein Batch der Größe 1.
func (f *Fetcher) Fetch(ctx context.Context, gene models.Gene) (evidence.Payload, error) {
	out, err := f.FetchBatch(ctx, []models.Gene{gene})
	if err != nil {
		return nil, err
	}
	p, ok := out[gene.ID]
	if !ok {
		return nil, fmt.Errorf("mygene %s: %w", gene.Symbol, providers.ErrNotFound)
	}
	return p, nil
}

// FetchBatch fragt bis zu MaxBatchSize Symbole mit einem POST ab.
func (f *Fetcher) FetchBatch(ctx context.Context, genes []models.Gene) (map[uint]evidence.Payload, error) {
	out := make(map[uint]evidence.Payload, len(genes))
	if len(genes) == 0 {
		return out, nil
	}
	if len(genes) > f.batchSize {
		return nil, fmt.Errorf("mygene batch of %d exceeds limit %d", len(genes), f.batchSize)
	}

	symbols := make([]string, 0, len(genes))
	for _, g := range genes {
		symbols = append(symbols, g.Symbol)
	}
	form := url.Values{}
	form.Set("q", strings.Join(symbols, ","))
	form.Set("scopes", "symbol")
	form.Set("species", "human")
	form.Set("fields", fields)

	var hits []Hit
	if err := f.client.PostForm(ctx, f.base+"/query", form, &hits); err != nil {
		return nil, err
	}

	bySymbol := providers.BySymbol(genes)
	best := make(map[uint]float64, len(genes))
	for _, h := range hits {
		if h.NotFound || h.EntrezGene == "" {
			continue
		}
		g, ok := bySymbol[strings.ToUpper(h.Query)]
		if !ok {
			continue
		}
		// mehrere Treffer pro Symbol: der mit dem höchsten Score gewinnt
		if prev, seen := best[g.ID]; seen && prev >= h.Score {
			continue
		}
		best[g.ID] = h.Score
		out[g.ID] = &evidence.MyGene{
			SchemaVersion: evidence.MyGeneVersion,
			EntrezID:      string(h.EntrezGene),
			EnsemblID:     h.EnsemblGene(),
			TypeOfGene:    h.TypeOfGene,
			Summary:       h.Summary,
		}
	}
	f.Logger.Debug("MyGene-Batch aufgelöst", zap.Int("requested", len(genes)), zap.Int("found", len(out)))
	return out, nil
}
