// Package progress verteilt Fortschritts-Events der Pipeline an Beobachter.
// Die Zustellung ist best-effort: ein fehlerhafter Sink hält die Pipeline nie auf.
package progress

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event beschreibt den Stand eines Laufs nach einem Chunk.
type Event struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	JobName   string    `json:"job_name"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	LastError string    `json:"last_error,omitempty"`
	Done      bool      `json:"done"`
	At        time.Time `json:"at"`
}

// Sink empfängt Events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// LogSink schreibt Events ins Log.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Publish(_ context.Context, ev Event) error {
	s.Logger.Info("Pipeline-Fortschritt",
		zap.String("job_id", ev.JobID),
		zap.String("job_name", ev.JobName),
		zap.Int("processed", ev.Processed),
		zap.Int("total", ev.Total),
		zap.String("last_error", ev.LastError),
		zap.Bool("done", ev.Done))
	return nil
}

// Publisher verteilt Events an alle Sinks. Fehler werden geloggt und verworfen.
type Publisher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
}

// NewPublisher erstellt einen Publisher. nil-Sinks werden ignoriert.
func NewPublisher(logger *zap.Logger, sinks ...Sink) *Publisher {
	p := &Publisher{timeout: 2 * time.Second, logger: logger.With(zap.String("component", "progress"))}
	for _, s := range sinks {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
	return p
}

// Publish stellt ev an alle Sinks zu. Kehrt spätestens nach dem Timeout pro Sink zurück.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for _, s := range p.sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		if err := s.Publish(sctx, ev); err != nil {
			p.logger.Warn("progress event dropped", zap.String("job_id", ev.JobID), zap.Error(err))
		}
		cancel()
	}
}
