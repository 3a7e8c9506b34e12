// Package workerpool begrenzt blockierende Arbeit (DB-Schreibzugriffe, Aggregation,
// Perzentil-Berechnung) auf eine feste Anzahl gleichzeitiger Ausführungen.
package workerpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool ist ein gewichteter Semaphor mit fester Größe.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// New erstellt einen Pool. Größen unter 1 werden auf 1 gesetzt.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size gibt die Anzahl der Slots zurück.
func (p *Pool) Size() int { return p.size }

// Do wartet auf einen freien Slot und führt fn synchron aus.
// Wird ctx vor Erhalt des Slots abgebrochen, läuft fn nicht.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
