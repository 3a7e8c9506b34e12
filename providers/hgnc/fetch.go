package hgnc

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

// DefaultBatchSize ist die Anzahl OR-Bedingungen, die HGNC pro Suche zuverlässig verarbeitet.
const DefaultBatchSize = 100

// Fetcher implementiert Adapter und BatchAdapter für HGNC.
type Fetcher struct {
	Config    *config.Config
	Logger    *zap.Logger
	client    *providers.Client
	base      string
	batchSize int
}

// NewFetcher erstellt einen neuen HGNC-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	sc := cfg.Source(evidence.SourceHGNC)
	size := sc.MaxBatchSize
	if size <= 1 || size > DefaultBatchSize {
		size = DefaultBatchSize
	}
	return &Fetcher{
		Config:    cfg,
		Logger:    logger.With(zap.String("provider", evidence.SourceHGNC)),
		client:    providers.NewClient(evidence.SourceHGNC, sc.Timeout),
		base:      strings.TrimRight(sc.BaseURL, "/"),
		batchSize: size,
	}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string { return evidence.SourceHGNC }

// MaxBatchSize gibt die maximale Anzahl OR-Bedingungen pro Anfrage zurück.
func (f *Fetcher) MaxBatchSize() int { return f.batchSize }

// Fetch holt den vollständigen Eintrag eines Gens.
func (f *Fetcher) Fetch(ctx context.Context, gene models.Gene) (evidence.Payload, error) {
	var resp Response
	if err := f.client.GetJSON(ctx, f.base+"/fetch/symbol/"+url.PathEscape(gene.Symbol), &resp); err != nil {
		return nil, err
	}
	for _, doc := range resp.Response.Docs {
		if strings.EqualFold(doc.Symbol, gene.Symbol) {
			return toPayload(doc), nil
		}
	}
	return nil, fmt.Errorf("hgnc %s: %w", gene.Symbol, providers.ErrNotFound)
}

// FetchBatch löst bis zu MaxBatchSize Symbole mit einer OR-Suche auf.
func (f *Fetcher) FetchBatch(ctx context.Context, genes []models.Gene) (map[uint]evidence.Payload, error) {
	out := make(map[uint]evidence.Payload, len(genes))
	if len(genes) == 0 {
		return out, nil
	}
	if len(genes) > f.batchSize {
		return nil, fmt.Errorf("hgnc batch of %d exceeds limit %d", len(genes), f.batchSize)
	}

	conditions := make([]string, 0, len(genes))
	for _, g := range genes {
		conditions = append(conditions, "symbol:"+g.Symbol)
	}
	// HGNC erwartet alle Bedingungen in einem Pfadabschnitt, verbunden mit OR
	searchURL := f.base + "/search/" + url.PathEscape(strings.Join(conditions, " OR "))

	var resp Response
	if err := f.client.GetJSON(ctx, searchURL, &resp); err != nil {
		return nil, err
	}
	bySymbol := providers.BySymbol(genes)
	for _, doc := range resp.Response.Docs {
		g, ok := bySymbol[strings.ToUpper(doc.Symbol)]
		if !ok {
			continue
		}
		out[g.ID] = toPayload(doc)
	}
	f.Logger.Debug("HGNC-Batch aufgelöst", zap.Int("requested", len(genes)), zap.Int("found", len(out)))
	return out, nil
}

func toPayload(doc Doc) *evidence.HGNC {
	return &evidence.HGNC{
		SchemaVersion: evidence.HGNCVersion,
		HGNCID:        doc.HGNCID,
		Symbol:        strings.ToUpper(doc.Symbol),
		Name:          doc.Name,
		LocusGroup:    doc.LocusGroup,
		Aliases:       doc.AliasSymbol,
	}
}
