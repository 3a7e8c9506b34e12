// Package clinvar zählt ClinVar-Varianten eines Gens über NCBI E-utilities.
package clinvar

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub000/config"
	"github.com/berntpopp/kidney-genetics-db-sub000/evidence"
	"github.com/berntpopp/kidney-genetics-db-sub000/models"
	"github.com/berntpopp/kidney-genetics-db-sub000/providers"
	"github.com/berntpopp/kidney-genetics-db-sub000/providers/pubmed"
	"github.com/berntpopp/kidney-genetics-db-sub000/resilience"
)

// Fetcher implementiert das Adapter-Interface für ClinVar.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	client *providers.Client
	base   string
}

// NewFetcher erstellt einen neuen ClinVar-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	sc := cfg.Source(evidence.SourceClinVar)
	return &Fetcher{
		Config: cfg,
		Logger: logger.With(zap.String("provider", evidence.SourceClinVar)),
		client: providers.NewClient(evidence.SourceClinVar, sc.Timeout),
		base:   strings.TrimRight(sc.BaseURL, "/"),
	}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string { return evidence.SourceClinVar }

// Fetch ermittelt Gesamtzahl und Anzahl pathogener Varianten. Ohne Varianten: ErrNotFound.
func (f *Fetcher) Fetch(ctx context.Context, gene models.Gene) (evidence.Payload, error) {
	total, err := f.count(ctx, fmt.Sprintf("%s[gene] AND human[orgn]", gene.Symbol))
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, fmt.Errorf("clinvar %s: %w", gene.Symbol, providers.ErrNotFound)
	}
	pathogenic, err := f.count(ctx, fmt.Sprintf("%s[gene] AND human[orgn] AND (clnsig_pathogenic[prop] OR clnsig_likely_pathogenic[prop])", gene.Symbol))
	if err != nil {
		return nil, err
	}
	if pathogenic > total {
		pathogenic = total
	}
	return &evidence.ClinVar{SchemaVersion: evidence.ClinVarVersion, VariantCount: total, PathogenicCount: pathogenic}, nil
}

func (f *Fetcher) count(ctx context.Context, term string) (int, error) {
	var resp pubmed.ESearchResponse
	if err := f.client.GetJSON(ctx, pubmed.BuildEsearchURL(f.base, f.Config, "clinvar", term), &resp); err != nil {
		return 0, err
	}
	if resp.ESearchResult.Error != "" {
		return 0, &resilience.ValidationError{Source: f.Name(), Detail: resp.ESearchResult.Error}
	}
	n, err := strconv.Atoi(strings.TrimSpace(resp.ESearchResult.Count))
	if err != nil {
		return 0, &resilience.ValidationError{Source: f.Name(), Detail: "count is not a number", Err: err}
	}
	return n, nil
}
