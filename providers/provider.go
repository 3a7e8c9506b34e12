// Package providers definiert den Vertrag der Quellen-Adapter und gemeinsame HTTP-Helfer.
package providers

import (
	"context"

	"github.com/berntpopp/kidney-genetics-db-sub000/evidence"
	"github.com/berntpopp/kidney-genetics-db-sub000/models"
	"github.com/berntpopp/kidney-genetics-db-sub000/resilience"
)

// ErrNotFound ist ein gültiges leeres Ergebnis (z.B. leere Trefferliste), kein Fehler der Quelle.
var ErrNotFound = resilience.ErrNotFound

// Adapter ist das Interface, das jede externe Quelle implementieren muss.
// Adapter sind reine Übersetzer: Rohantwort rein, normalisiertes Payload raus.
type Adapter interface {
	// Name gibt den eindeutigen Quellennamen zurück (z.B. "pubmed").
	Name() string

	// Fetch holt die Annotation für ein einzelnes Gen. Kein Treffer: ErrNotFound.
	Fetch(ctx context.Context, gene models.Gene) (evidence.Payload, error)
}

// BatchAdapter wird von Quellen mit Bulk-Endpunkt implementiert.
type BatchAdapter interface {
	Adapter

	// MaxBatchSize ist die maximale Anzahl Gene pro Anfrage.
	MaxBatchSize() int

	// FetchBatch holt bis zu MaxBatchSize Gene. Gene ohne Treffer fehlen in der Map.
	FetchBatch(ctx context.Context, genes []models.Gene) (map[uint]evidence.Payload, error)
}

// Chunk teilt genes in Stücke von höchstens size Elementen.
func Chunk(genes []models.Gene, size int) [][]models.Gene {
	if size < 1 {
		size = 1
	}
	var out [][]models.Gene
	for start := 0; start < len(genes); start += size {
		end := start + size
		if end > len(genes) {
			end = len(genes)
		}
		out = append(out, genes[start:end])
	}
	return out
}

// BySymbol indiziert Gene nach ihrem Symbol.
func BySymbol(genes []models.Gene) map[string]models.Gene {
	out := make(map[string]models.Gene, len(genes))
	for _, g := range genes {
		out[g.Symbol] = g
	}
	return out
}
