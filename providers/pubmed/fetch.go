package pubmed

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub000/config"
	"github.com/berntpopp/kidney-genetics-db-sub000/evidence"
	"github.com/berntpopp/kidney-genetics-db-sub000/models"
	"github.com/berntpopp/kidney-genetics-db-sub000/providers"
	"github.com/berntpopp/kidney-genetics-db-sub000/resilience"
)

// Fetcher ist eine Struktur, die die Logik zur Interaktion mit PubMed kapselt.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	client *providers.Client
	base   string
}

// NewFetcher erstellt eine neue Instanz des PubMed-Fetchers.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	sc := cfg.Source(evidence.SourcePubMed)
	return &Fetcher{
		Config: cfg,
		Logger: logger.With(zap.String("provider", evidence.SourcePubMed)),
		client: providers.NewClient(evidence.SourcePubMed, sc.Timeout),
		base:   strings.TrimRight(sc.BaseURL, "/"),
	}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return evidence.SourcePubMed
}

// Query baut den Suchterm für ein Gen.
func Query(symbol string) string {
	return fmt.Sprintf("%s[Gene] AND human[Organism]", symbol)
}

// Fetch zählt die PubMed-Treffer für ein Gen. Null Treffer sind ein gültiges Ergebnis (count 0).
func (f *Fetcher) Fetch(ctx context.Context, gene models.Gene) (evidence.Payload, error) {
	term := Query(gene.Symbol)
	var resp ESearchResponse
	if err := f.client.GetJSON(ctx, f.buildEsearchURL("pubmed", term), &resp); err != nil {
		return nil, err
	}
	if resp.ESearchResult.Error != "" {
		return nil, &resilience.ValidationError{Source: f.Name(), Detail: resp.ESearchResult.Error}
	}

	payload := &evidence.PubMed{SchemaVersion: evidence.PubMedVersion, Query: term}
	raw := strings.TrimSpace(resp.ESearchResult.Count)
	switch {
	case raw != "":
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &resilience.ValidationError{Source: f.Name(), Detail: "count is not a number", Err: err}
		}
		payload.Count = &n
	case resp.ESearchResult.IdList != nil:
		n := len(resp.ESearchResult.IdList)
		payload.Count = &n
	}
	f.Logger.Debug("PubMed ESearch abgeschlossen", zap.String("symbol", gene.Symbol), zap.String("count", raw))
	return payload, nil
}

// buildEsearchURL erzeugt die ESearch-URL inklusive API-Key, Tool und E-Mail.
func (f *Fetcher) buildEsearchURL(db, term string) string {
	return BuildEsearchURL(f.base, f.Config, db, term)
}

// BuildEsearchURL wird auch vom ClinVar-Adapter genutzt, der dieselbe E-utilities-Instanz abfragt.
func BuildEsearchURL(base string, cfg *config.Config, db, term string) string {
	params := url.Values{}
	params.Set("db", db)
	params.Set("term", term)
	params.Set("retmode", "json")
	params.Set("retmax", "0")
	if cfg.PubMedAPIKey != "" {
		params.Set("api_key", cfg.PubMedAPIKey)
	}
	if cfg.PubMedTool != "" {
		params.Set("tool", cfg.PubMedTool)
	}
	if cfg.PubMedEmail != "" {
		params.Set("email", cfg.PubMedEmail)
	}
	return base + "/esearch.fcgi?" + params.Encode()
}
