package europepmc

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
	"github.com/berntpopp/kidney-genetics-db-sub000/resilience"
)

// Fetcher implementiert das Adapter-Interface für Europe PMC.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	client *providers.Client
	base   string
}

// NewFetcher erstellt einen neuen Europe PMC Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	sc := cfg.Source(evidence.SourceEuropePMC)
	return &Fetcher{
		Config: cfg,
		Logger: logger.With(zap.String("provider", evidence.SourceEuropePMC)),
		client: providers.NewClient(evidence.SourceEuropePMC, sc.Timeout),
		base:   strings.TrimRight(sc.BaseURL, "/"),
	}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return evidence.SourceEuropePMC
}

// Query baut die Europe-PMC-Suche für ein Gen.
func Query(symbol string) string {
	return fmt.Sprintf(`"%s" AND ORGANISM:"Homo sapiens"`, symbol)
}

// Fetch liefert die Trefferzahl. Ein leerer Ergebnis-Umschlag gilt als ErrNotFound.
func (f *Fetcher) Fetch(ctx context.Context, gene models.Gene) (evidence.Payload, error) {
	query := Query(gene.Symbol)
	searchURL := fmt.Sprintf("%s/search?query=%s&format=json&resultType=idlist&pageSize=1", f.base, url.QueryEscape(query))

	var resp SearchResponse
	if err := f.client.GetJSON(ctx, searchURL, &resp); err != nil {
		return nil, err
	}
	if resp.HitCount == nil {
		return nil, &resilience.ValidationError{Source: f.Name(), Detail: "response has no hitCount"}
	}
	if *resp.HitCount == 0 || resp.ResultList == nil || len(resp.ResultList.Result) == 0 {
		f.Logger.Debug("Keine Treffer auf Europe PMC", zap.String("symbol", gene.Symbol))
		return nil, fmt.Errorf("europepmc %s: %w", gene.Symbol, providers.ErrNotFound)
	}
	return &evidence.EuropePMC{SchemaVersion: evidence.EuropePMCVersion, Query: query, HitCount: *resp.HitCount}, nil
}
