package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/berntpopp/kidney-genetics-db-sub000/cache"
	"github.com/berntpopp/kidney-genetics-db-sub000/config"
	"github.com/berntpopp/kidney-genetics-db-sub000/evidence"
	"github.com/berntpopp/kidney-genetics-db-sub000/models"
	"github.com/berntpopp/kidney-genetics-db-sub000/progress"
	"github.com/berntpopp/kidney-genetics-db-sub000/providers"
	"github.com/berntpopp/kidney-genetics-db-sub000/resilience"
	"github.com/berntpopp/kidney-genetics-db-sub000/workerpool"
)

// Strategy bestimmt die Gen-Auswahl eines Laufs.
type Strategy string

const (
	StrategyFull        Strategy = "full"        // alle Gene × angefragte Quellen
	StrategyIncremental Strategy = "incremental" // seit dem letzten Lauf geänderte oder unvollständige Gene
	StrategySelective   Strategy = "selective"   // genau die genannten Gene × genau die genannten Quellen
)

// FetchRequest beschreibt einen Orchestrator-Lauf.
type FetchRequest struct {
	JobName  string   `json:"job_name"`
	GeneIDs  []uint   `json:"gene_ids,omitempty"`
	Sources  []string `json:"sources,omitempty"`
	Strategy Strategy `json:"strategy"`
}

// SourceStats zählt die Ergebnisse einer Quelle.
type SourceStats struct {
	Succeeded   int    `json:"succeeded"`
	NotFound    int    `json:"not_found"`
	Failed      int    `json:"failed"`
	Unavailable int    `json:"unavailable"`
	Cached      int    `json:"cached"`
	LastError   string `json:"last_error,omitempty"`
}

// RunResult ist das Ergebnis eines Laufs.
type RunResult struct {
	JobID      string                  `json:"job_id"`
	JobName    string                  `json:"job_name"`
	Strategy   Strategy                `json:"strategy"`
	Total      int                     `json:"total"`
	Processed  int                     `json:"processed"`
	Paused     bool                    `json:"paused"`
	Sources    map[string]*SourceStats `json:"sources"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	LastError  string                  `json:"last_error,omitempty"`

	// Annotations enthält pro Gen die in diesem Lauf gespeicherten Payloads je Quelle.
	Annotations map[uint]map[string]json.RawMessage `json:"annotations,omitempty"`

	mu sync.Mutex
}

func (r *RunResult) record(source string, gene models.Gene, err error, cached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.Sources[source]
	if st == nil {
		st = &SourceStats{}
		r.Sources[source] = st
	}
	switch resilience.Classify(err) {
	case resilience.KindNone:
		st.Succeeded++
		if cached {
			st.Cached++
		}
		return
	case resilience.KindNotFound:
		st.NotFound++
		return
	case resilience.KindUnavailable:
		st.Unavailable++
	default:
		st.Failed++
	}
	msg := fmt.Sprintf("%s/%s: %v", source, gene.Symbol, err)
	st.LastError = msg
	r.LastError = msg
}

// stored zählt einen Erfolg und übernimmt das Payload in das Bündel des Gens.
func (r *RunResult) stored(source string, gene models.Gene, raw []byte, cached bool) {
	r.record(source, gene, nil, cached)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Annotations == nil {
		r.Annotations = make(map[uint]map[string]json.RawMessage)
	}
	bundle := r.Annotations[gene.ID]
	if bundle == nil {
		bundle = make(map[string]json.RawMessage)
		r.Annotations[gene.ID] = bundle
	}
	bundle[source] = json.RawMessage(raw)
}

// FetchDeps bündelt die Kollaborateure des FetchService.
type FetchDeps struct {
	Store       *EvidenceStore
	Adapters    []providers.Adapter
	Controllers map[string]*resilience.Controller
	Cache       *cache.Cache
	Pool        *workerpool.Pool
	Aggregator  *Aggregator
	Progress    *progress.Publisher
}

// FetchService kümmert sich um die Orchestrierung des gesamten Fetch-Prozesses.
type FetchService struct {
	Config      *config.Config
	Logger      *zap.Logger
	store       *EvidenceStore
	adapters    map[string]providers.Adapter
	order       []string
	controllers map[string]*resilience.Controller
	cache       *cache.Cache
	pool        *workerpool.Pool
	aggregator  *Aggregator
	progress    *progress.Publisher
	chunkSize   int

	mu      sync.Mutex
	running map[string]bool
}

// NewFetchService erstellt eine neue Instanz des FetchService. Fehlende Controller
// werden aus der Quellen-Konfiguration erzeugt.
func NewFetchService(cfg *config.Config, logger *zap.Logger, deps FetchDeps) *FetchService {
	f := &FetchService{
		Config:      cfg,
		Logger:      logger.With(zap.String("component", "orchestrator")),
		store:       deps.Store,
		adapters:    make(map[string]providers.Adapter, len(deps.Adapters)),
		controllers: make(map[string]*resilience.Controller, len(deps.Adapters)),
		cache:       deps.Cache,
		pool:        deps.Pool,
		aggregator:  deps.Aggregator,
		progress:    deps.Progress,
		chunkSize:   cfg.CheckpointChunkSize,
		running:     make(map[string]bool),
	}
	if f.chunkSize <= 0 {
		f.chunkSize = 200
	}
	for _, a := range deps.Adapters {
		name := a.Name()
		f.adapters[name] = a
		f.order = append(f.order, name)
		if c, ok := deps.Controllers[name]; ok {
			f.controllers[name] = c
		} else {
			f.controllers[name] = NewSourceController(cfg, name, logger)
		}
	}
	return f
}

// NewSourceController baut den Resilienz-Controller einer Quelle aus der Konfiguration.
func NewSourceController(cfg *config.Config, name string, logger *zap.Logger) *resilience.Controller {
	sc := cfg.Source(name)
	policy := resilience.DefaultPolicy()
	policy.MaxRetries = cfg.RetryMaxAttempts
	if cfg.RetryBaseDelay > 0 {
		policy.BaseDelay = cfg.RetryBaseDelay
	}
	if cfg.RetryMaxDelay > 0 {
		policy.MaxDelay = cfg.RetryMaxDelay
	}
	return resilience.NewController(name, resilience.Settings{
		RPS:              sc.RPS,
		Burst:            sc.Burst,
		Timeout:          sc.Timeout,
		Policy:           policy,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerWindow:    cfg.BreakerWindow,
		BreakerCooldown:  cfg.BreakerCooldown,
	}, logger)
}

// Sources gibt die registrierten Quellen in Registrierungsreihenfolge zurück.
func (f *FetchService) Sources() []string { return append([]string(nil), f.order...) }

// Controller gibt den Controller einer Quelle zurück.
func (f *FetchService) Controller(source string) *resilience.Controller { return f.controllers[source] }

// Pause markiert einen Job als pausiert. Der Lauf stoppt an der nächsten Chunk-Grenze.
func (f *FetchService) Pause(ctx context.Context, jobName string) error {
	if jobName == "" {
		return fmt.Errorf("%w: job name required", ErrInvalidRequest)
	}
	if err := f.store.SetPaused(ctx, nil, jobName, true); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	f.Logger.Info("Job pausiert", zap.String("job_name", jobName))
	return nil
}

// Checkpoint liefert den persistierten Stand eines Jobs (nil, wenn nie gelaufen).
func (f *FetchService) Checkpoint(ctx context.Context, jobName string) (*models.PipelineCheckpoint, error) {
	return f.store.GetCheckpoint(ctx, nil, jobName)
}

func (f *FetchService) resolveSources(req FetchRequest) ([]string, error) {
	if len(req.Sources) == 0 {
		if req.Strategy == StrategySelective {
			return nil, fmt.Errorf("%w: selective run requires explicit sources", ErrInvalidRequest)
		}
		return f.Sources(), nil
	}
	seen := make(map[string]bool, len(req.Sources))
	var out []string
	for _, s := range req.Sources {
		if _, ok := f.adapters[s]; !ok {
			return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidRequest, s)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *FetchService) resolveGenes(ctx context.Context, req FetchRequest, sources []string, cp *models.PipelineCheckpoint) ([]models.Gene, error) {
	var (
		genes []models.Gene
		err   error
	)
	switch req.Strategy {
	case StrategySelective:
		genes, err = f.store.GenesByIDs(ctx, nil, req.GeneIDs)
	case StrategyIncremental:
		var since *time.Time
		if cp != nil {
			since = cp.LastCompletedAt
		}
		genes, err = f.store.GenesNeedingUpdate(ctx, nil, since, sources)
	default:
		genes, err = f.store.AllGenes(ctx, nil)
	}
	if err != nil {
		return nil, err
	}
	if req.Strategy != StrategySelective && len(req.GeneIDs) > 0 {
		wanted := make(map[uint]bool, len(req.GeneIDs))
		for _, id := range req.GeneIDs {
			wanted[id] = true
		}
		filtered := genes[:0]
		for _, g := range genes {
			if wanted[g.ID] {
				filtered = append(filtered, g)
			}
		}
		genes = filtered
	}
	sort.Slice(genes, func(i, j int) bool { return genes[i].ID < genes[j].ID })
	return genes, nil
}

// FetchBatch führt einen Lauf aus. Fehler einzelner Gene oder Quellen werden in den
// Statistiken gesammelt; nur Speicherfehler brechen den Lauf ab (ErrStorageUnavailable).
func (f *FetchService) FetchBatch(ctx context.Context, req FetchRequest) (*RunResult, error) {
	if req.Strategy == "" {
		req.Strategy = StrategyFull
	}
	switch req.Strategy {
	case StrategyFull, StrategyIncremental, StrategySelective:
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidRequest, req.Strategy)
	}
	if req.Strategy == StrategySelective && len(req.GeneIDs) == 0 {
		return nil, fmt.Errorf("%w: selective run requires gene ids", ErrInvalidRequest)
	}
	if req.JobName == "" {
		req.JobName = string(req.Strategy)
	}
	sources, err := f.resolveSources(req)
	if err != nil {
		return nil, err
	}

	if !f.acquire(req.JobName) {
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, req.JobName)
	}
	defer f.release(req.JobName)

	result := &RunResult{
		JobID:       uuid.NewString(),
		JobName:     req.JobName,
		Strategy:    req.Strategy,
		Sources:     make(map[string]*SourceStats, len(sources)),
		StartedAt:   time.Now().UTC(),
		Annotations: make(map[uint]map[string]json.RawMessage),
	}
	for _, s := range sources {
		result.Sources[s] = &SourceStats{}
	}
	log := f.Logger.With(zap.String("job_id", result.JobID), zap.String("job_name", req.JobName), zap.String("strategy", string(req.Strategy)))

	cp, err := f.store.GetCheckpoint(ctx, nil, req.JobName)
	if err != nil {
		return nil, fmt.Errorf("%w: load checkpoint: %v", ErrStorageUnavailable, err)
	}
	genes, err := f.resolveGenes(ctx, req, sources, cp)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve genes: %v", ErrStorageUnavailable, err)
	}
	result.Total = len(genes)

	if cp == nil {
		cp = &models.PipelineCheckpoint{JobName: req.JobName}
	}
	// Wiederaufnahme: alles bis einschließlich LastGeneID ist bereits verarbeitet
	start := 0
	if cp.LastGeneID > 0 && cp.Strategy == string(req.Strategy) {
		start = sort.Search(len(genes), func(i int) bool { return genes[i].ID > cp.LastGeneID })
		result.Processed = cp.Offset
		log.Info("Setze pausierten Lauf fort", zap.Uint("after_gene_id", cp.LastGeneID), zap.Int("offset", cp.Offset))
	} else {
		cp.Offset, cp.LastGeneID = 0, 0
	}
	cp.JobID = result.JobID
	cp.Strategy = string(req.Strategy)
	cp.Total = result.Total
	cp.Paused = false
	cp.Running = true
	cp.LastError = ""
	if err := f.store.SaveCheckpoint(ctx, nil, cp); err != nil {
		return nil, fmt.Errorf("%w: save checkpoint: %v", ErrStorageUnavailable, err)
	}
	log.Info("Starte Orchestrator-Lauf", zap.Int("genes", len(genes)-start), zap.Strings("sources", sources))

	remaining := genes[start:]
	for _, chunk := range providers.Chunk(remaining, f.chunkSize) {
		if paused, err := f.isPaused(ctx, req.JobName); err != nil {
			return f.abort(ctx, cp, result, err)
		} else if paused {
			result.Paused = true
			cp.Paused, cp.Running = true, false
			cp.LastError = result.LastError
			if err := f.store.SaveCheckpoint(ctx, nil, cp); err != nil {
				return f.abort(ctx, cp, result, err)
			}
			result.FinishedAt = time.Now().UTC()
			log.Info("Lauf pausiert", zap.Int("offset", cp.Offset), zap.Uint("last_gene_id", cp.LastGeneID))
			f.publish(ctx, result, false)
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			return f.abort(ctx, cp, result, err)
		}

		if err := f.processChunk(ctx, chunk, sources, result); err != nil {
			return f.abort(ctx, cp, result, err)
		}

		result.Processed += len(chunk)
		cp.Offset = result.Processed
		cp.LastGeneID = chunk[len(chunk)-1].ID
		cp.LastError = result.LastError
		if err := f.store.SaveProgress(ctx, nil, cp); err != nil {
			return f.abort(ctx, cp, result, err)
		}
		f.publish(ctx, result, false)
	}

	now := time.Now().UTC()
	cp.Offset, cp.LastGeneID = 0, 0
	cp.Running, cp.Paused = false, false
	cp.LastCompletedAt = &result.StartedAt
	if err := f.store.SaveCheckpoint(ctx, nil, cp); err != nil {
		return f.abort(ctx, cp, result, err)
	}
	result.FinishedAt = now
	f.publish(ctx, result, true)
	log.Info("Orchestrator-Lauf abgeschlossen", zap.Int("processed", result.Processed), zap.Duration("duration", now.Sub(result.StartedAt)))
	return result, nil
}

func (f *FetchService) acquire(jobName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[jobName] {
		return false
	}
	f.running[jobName] = true
	return true
}

func (f *FetchService) release(jobName string) {
	f.mu.Lock()
	delete(f.running, jobName)
	f.mu.Unlock()
}

func (f *FetchService) isPaused(ctx context.Context, jobName string) (bool, error) {
	cp, err := f.store.GetCheckpoint(ctx, nil, jobName)
	if err != nil {
		return false, err
	}
	return cp != nil && cp.Paused, nil
}

// abort beendet den Lauf nach einem Speicher- oder Kontextfehler. Der Checkpoint behält
// den letzten vollständigen Chunk, ein späterer Lauf setzt dort fort.
func (f *FetchService) abort(ctx context.Context, cp *models.PipelineCheckpoint, result *RunResult, cause error) (*RunResult, error) {
	result.FinishedAt = time.Now().UTC()
	if result.LastError == "" {
		result.LastError = cause.Error()
	}
	cp.Running = false
	cp.LastError = cause.Error()
	if err := f.store.SaveProgress(context.WithoutCancel(ctx), nil, cp); err != nil {
		f.Logger.Error("Checkpoint konnte nach Abbruch nicht gespeichert werden", zap.String("job_name", cp.JobName), zap.Error(err))
	}
	f.publish(ctx, result, true)
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return result, cause
	}
	if errors.Is(cause, ErrStorageUnavailable) {
		return result, cause
	}
	return result, fmt.Errorf("%w: %v", ErrStorageUnavailable, cause)
}

func (f *FetchService) publish(ctx context.Context, result *RunResult, done bool) {
	result.mu.Lock()
	ev := progress.Event{
		JobID:     result.JobID,
		JobName:   result.JobName,
		Processed: result.Processed,
		Total:     result.Total,
		LastError: result.LastError,
		Done:      done,
	}
	result.mu.Unlock()
	f.progress.Publish(ctx, ev)
}

// processChunk holt alle Quellen parallel und kuratiert danach jedes Gen.
func (f *FetchService) processChunk(ctx context.Context, chunk []models.Gene, sources []string, result *RunResult) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, source := range sources {
		g.Go(func() error {
			if ba, ok := f.adapters[source].(providers.BatchAdapter); ok {
				return f.fetchBatched(gctx, ba, chunk, result)
			}
			return f.fetchEach(gctx, f.adapters[source], chunk, result)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, gene := range chunk {
		if _, err := f.aggregator.CurateAndRecompute(ctx, gene.ID); err != nil {
			return fmt.Errorf("%w: aggregate gene %d: %v", ErrStorageUnavailable, gene.ID, err)
		}
	}
	return nil
}

func annotationKey(source, symbol string) string { return source + ":" + symbol }

// encodeAnnotation validiert das Payload eines Adapters. Ungültige Payloads werden weder
// gecacht noch gespeichert, ein vorhandener Eintrag der Quelle bleibt unverändert.
func encodeAnnotation(source string, p evidence.Payload) ([]byte, error) {
	if p == nil {
		return nil, &resilience.ValidationError{Source: source, Detail: "empty payload"}
	}
	if p.Source() != source {
		return nil, &resilience.ValidationError{Source: source, Detail: "payload of source " + p.Source()}
	}
	raw, err := evidence.Encode(p)
	if err != nil {
		return nil, &resilience.ValidationError{Source: source, Detail: "invalid payload", Err: err}
	}
	return raw, nil
}

// checkCached prüft einen Cache-Treffer (z.B. aus Redis, geschrieben von einer älteren Version).
func checkCached(source string, raw []byte) error {
	if _, err := evidence.Decode(source, raw); err != nil {
		return &resilience.ValidationError{Source: source, Detail: "invalid cached payload", Err: err}
	}
	return nil
}

// fetchEach ruft einen Einzel-Adapter pro Gen auf, begrenzt durch den Token-Bucket der Quelle.
func (f *FetchService) fetchEach(ctx context.Context, adapter providers.Adapter, genes []models.Gene, result *RunResult) error {
	source := adapter.Name()
	ctrl := f.controllers[source]
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, gene := range genes {
		g.Go(func() error {
			cached := true
			raw, err := f.cache.GetOrCompute(gctx, cache.NamespaceAnnotation, annotationKey(source, gene.Symbol), func(ctx context.Context) ([]byte, error) {
				cached = false
				p, err := resilience.Do(ctx, ctrl, func(ctx context.Context) (evidence.Payload, error) {
					return adapter.Fetch(ctx, gene)
				})
				if err != nil {
					return nil, err
				}
				return encodeAnnotation(source, p)
			})
			if err == nil && cached {
				err = checkCached(source, raw)
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				result.record(source, gene, err, false)
				return nil
			}
			if err := f.storeStaging(gctx, gene, source, raw); err != nil {
				return err
			}
			result.stored(source, gene, raw, cached)
			return nil
		})
	}
	return g.Wait()
}

// fetchBatched nutzt den Bulk-Endpunkt, aufgeteilt in Stücke von MaxBatchSize.
// Bereits gecachte Gene werden nicht erneut angefragt.
func (f *FetchService) fetchBatched(ctx context.Context, adapter providers.BatchAdapter, genes []models.Gene, result *RunResult) error {
	source := adapter.Name()
	ctrl := f.controllers[source]

	var missing []models.Gene
	for _, gene := range genes {
		if raw, ok := f.cache.Get(ctx, cache.NamespaceAnnotation, annotationKey(source, gene.Symbol)); ok {
			if err := checkCached(source, raw); err != nil {
				result.record(source, gene, err, false)
				continue
			}
			if err := f.storeStaging(ctx, gene, source, raw); err != nil {
				return err
			}
			result.stored(source, gene, raw, true)
			continue
		}
		missing = append(missing, gene)
	}

	for _, batch := range providers.Chunk(missing, adapter.MaxBatchSize()) {
		found, err := resilience.Do(ctx, ctrl, func(ctx context.Context) (map[uint]evidence.Payload, error) {
			return adapter.FetchBatch(ctx, batch)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			for _, gene := range batch {
				result.record(source, gene, err, false)
			}
			continue
		}
		for _, gene := range batch {
			p, ok := found[gene.ID]
			if !ok {
				result.record(source, gene, fmt.Errorf("%s %s: %w", source, gene.Symbol, providers.ErrNotFound), false)
				continue
			}
			raw, err := encodeAnnotation(source, p)
			if err != nil {
				result.record(source, gene, err, false)
				continue
			}
			_ = f.cache.Set(ctx, cache.NamespaceAnnotation, annotationKey(source, gene.Symbol), raw)
			if err := f.storeStaging(ctx, gene, source, raw); err != nil {
				return err
			}
			result.stored(source, gene, raw, false)
		}
	}
	return nil
}

// storeStaging schreibt das Roh-Payload auf dem Worker-Pool. Fehler sind Speicherfehler.
func (f *FetchService) storeStaging(ctx context.Context, gene models.Gene, source string, raw []byte) error {
	version := 0
	var header struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &header); err == nil {
		version = header.SchemaVersion
	}
	err := f.pool.Do(ctx, func(ctx context.Context) error {
		return f.store.UpsertStaging(ctx, nil, gene.ID, source, "", version, raw)
	})
	if err != nil {
		return fmt.Errorf("%w: store %s/%s: %v", ErrStorageUnavailable, source, gene.Symbol, err)
	}
	return nil
}
