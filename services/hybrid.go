package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/berntpopp/kidney-genetics-db-sub000/evidence"
	"github.com/berntpopp/kidney-genetics-db-sub000/models"
	"github.com/berntpopp/kidney-genetics-db-sub000/resilience"
	"github.com/berntpopp/kidney-genetics-db-sub000/storage"
)

// UploadMode bestimmt, wie ein Upload mit vorhandener Evidenz verrechnet wird.
type UploadMode string

const (
	// ModeMerge vereinigt die Identifier jedes Gens mit den vorhandenen.
	ModeMerge UploadMode = "merge"
	// ModeReplace ersetzt alle Vorkommen eines Identifiers atomar durch die Gene des Uploads.
	ModeReplace UploadMode = "replace"
)

// UploadRequest beschreibt eine hochgeladene Datei.
type UploadRequest struct {
	Source     string
	Filename   string
	Content    []byte
	Mode       UploadMode
	Identifier string
	Uploader   string
}

// UploadResult enthält die Zählwerte eines Uploads.
type UploadResult struct {
	UploadID  uint                `json:"upload_id"`
	Status    models.UploadStatus `json:"status"`
	GeneCount int                 `json:"gene_count"`
	Created   int                 `json:"created"`
	Merged    int                 `json:"merged"`
	Failed    int                 `json:"failed"`
	Filtered  int                 `json:"filtered"`
	Duplicate bool                `json:"duplicate"`
	Error     string              `json:"error,omitempty"`
}

// DeleteResult ist das Ergebnis von DeleteIdentifier.
type DeleteResult struct {
	Source        string `json:"source"`
	Identifier    string `json:"identifier"`
	GenesAffected int    `json:"genes_affected"`
	Updated       int    `json:"updated"`
	Deleted       int    `json:"deleted"`
}

// GeneChange ist die Netto-Änderung der Identifier eines Gens durch eine Mutation.
type GeneChange struct {
	GeneID  uint     `json:"gene_id"`
	Symbol  string   `json:"symbol,omitempty"`
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Deleted bool     `json:"deleted,omitempty"`
}

// AuditDetails ist das JSON im Details-Feld eines Audit-Eintrags.
type AuditDetails struct {
	Identifier     string       `json:"identifier,omitempty"`
	Mode           string       `json:"mode,omitempty"`
	Filename       string       `json:"filename,omitempty"`
	GenesAffected  int          `json:"genes_affected"`
	Changes        []GeneChange `json:"changes,omitempty"`
	PreviousStatus string       `json:"previous_status,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// HybridService verwaltet manuell kuratierte Quellen (Panels, Literatur).
type HybridService struct {
	store      *EvidenceStore
	aggregator *Aggregator
	archive    storage.Archive
	logger     *zap.Logger
	conflicts  resilience.Policy
}

// NewHybridService erstellt einen HybridService. archive darf nil sein.
func NewHybridService(store *EvidenceStore, aggregator *Aggregator, archive storage.Archive, logger *zap.Logger) *HybridService {
	return &HybridService{
		store:      store,
		aggregator: aggregator,
		archive:    archive,
		logger:     logger.With(zap.String("component", "hybrid")),
		conflicts: resilience.Policy{
			MaxRetries:  3,
			BaseDelay:   50 * time.Millisecond,
			MaxDelay:    time.Second,
			Jitter:      0.5,
			ShouldRetry: isConflict,
		},
	}
}

func checkHybrid(source string) error {
	if !evidence.IsHybrid(source) {
		return fmt.Errorf("%w: %q is not a hybrid source", ErrInvalidRequest, source)
	}
	return nil
}

// transact führt fn in einer Transaktion aus und wiederholt sie bei Konflikten.
func (s *HybridService) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	_, err := resilience.Retry(s.conflicts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.DB().WithContext(ctx).Transaction(fn)
	})(ctx)
	if isConflict(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// Upload verarbeitet eine Kuratoren-Datei. Der Batch wird zuerst als processing
// festgeschrieben und am Ende als completed oder failed abgeschlossen.
func (s *HybridService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := checkHybrid(req.Source); err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = ModeMerge
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	switch req.Mode {
	case ModeMerge:
	case ModeReplace:
		if req.Identifier == "" {
			return nil, fmt.Errorf("%w: replace requires an identifier", ErrInvalidRequest)
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	rows, err := parseUpload(req.Filename, req.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	sum := sha256.Sum256(req.Content)
	hash := hex.EncodeToString(sum[:])
	if prev, err := s.store.CompletedUpload(ctx, nil, req.Source, hash, string(req.Mode), req.Identifier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	} else if prev != nil {
		s.logger.Info("Upload bereits verarbeitet",
			zap.String("source", req.Source), zap.Uint("upload_id", prev.ID), zap.String("hash", hash))
		res := resultFromBatch(prev)
		res.Duplicate = true
		return res, nil
	}

	norm := normalizeRows(rows, req.Mode, req.Identifier)
	batch := &models.UploadBatch{
		SourceName:  req.Source,
		ContentHash: hash,
		Filename:    req.Filename,
		Mode:        string(req.Mode),
		Identifier:  req.Identifier,
		Status:      models.UploadProcessing,
		Uploader:    req.Uploader,
		GeneCount:   len(norm.Symbols),
		Filtered:    norm.Filtered,
	}
	batch.ArchiveKey = s.archiveUpload(ctx, req, hash)
	if err := s.store.CreateUpload(ctx, nil, batch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	var changes []GeneChange
	err = s.transact(ctx, func(tx *gorm.DB) error {
		b := *batch
		var err error
		if req.Mode == ModeReplace {
			changes, err = s.applyReplace(ctx, tx, &b, req, norm)
		} else {
			changes, err = s.applyMerge(ctx, tx, &b, req, norm)
		}
		if err != nil {
			return err
		}
		*batch = b
		return nil
	})
	if err != nil {
		s.markFailed(ctx, batch, err)
		return resultFromBatch(batch), fmt.Errorf("%w: upload %d: %w", ErrUploadFailed, batch.ID, err)
	}
	if batch.Status == models.UploadFailed {
		return resultFromBatch(batch), fmt.Errorf("%w: upload %d: %s", ErrUploadFailed, batch.ID, batch.Error)
	}

	s.logger.Info("Upload verarbeitet",
		zap.String("source", req.Source),
		zap.Uint("upload_id", batch.ID),
		zap.String("mode", string(req.Mode)),
		zap.Int("genes", batch.GeneCount),
		zap.Int("created", batch.Created),
		zap.Int("merged", batch.Merged),
		zap.Int("failed", batch.Failed),
		zap.Int("filtered", batch.Filtered))
	s.refresh(ctx, changes)
	return resultFromBatch(batch), nil
}

// applyMerge schreibt jedes Gen in einem eigenen Savepoint; ein fehlerhaftes Gen
// wird zurückgerollt und gezählt, ohne die übrigen zu verwerfen.
func (s *HybridService) applyMerge(ctx context.Context, tx *gorm.DB, b *models.UploadBatch, req UploadRequest, norm normalizedUpload) ([]GeneChange, error) {
	genes, err := s.store.EnsureGenes(ctx, tx, norm.Symbols)
	if err != nil {
		return nil, err
	}
	b.Created, b.Merged, b.Failed = 0, 0, 0
	var changes []GeneChange
	for i, sym := range norm.Symbols {
		gene, ok := genes[sym]
		if !ok {
			b.Failed++
			continue
		}
		sp := fmt.Sprintf("merge_%d_%d", b.ID, i)
		if err := tx.SavePoint(sp).Error; err != nil {
			return nil, err
		}
		change, created, err := s.mergeGene(ctx, tx, gene, req.Source, norm.Identifiers[sym])
		if err != nil {
			if isConflict(err) {
				return nil, err
			}
			if rbErr := tx.RollbackTo(sp).Error; rbErr != nil {
				return nil, rbErr
			}
			s.logger.Warn("Gen konnte nicht übernommen werden",
				zap.String("source", req.Source), zap.String("symbol", sym), zap.Error(err))
			b.Failed++
			continue
		}
		if created {
			b.Created++
		} else {
			b.Merged++
		}
		if change != nil {
			changes = append(changes, *change)
		}
	}

	details := AuditDetails{Identifier: req.Identifier, Mode: string(ModeMerge), Filename: req.Filename, GenesAffected: len(changes), Changes: changes}
	if err := s.finish(ctx, tx, b, models.ActionUploadMerge, details); err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *HybridService) mergeGene(ctx context.Context, tx *gorm.DB, gene models.Gene, source string, ids []string) (*GeneChange, bool, error) {
	rec, err := s.store.HybridRecord(ctx, tx, gene.ID, source)
	if err != nil {
		return nil, false, err
	}
	var before []string
	if rec != nil {
		if set, err := decodeIdentifiers(*rec); err == nil {
			before = set.Identifiers()
		} else {
			s.logger.Warn("ungültiges Hybrid-Payload wird überschrieben", zap.Uint("record_id", rec.ID), zap.Error(err))
		}
	}
	after := evidence.Union(before, ids)
	set, err := evidence.NewIdentifierSet(source, after)
	if err != nil {
		return nil, false, err
	}
	payload, err := evidence.Encode(set)
	if err != nil {
		return nil, false, err
	}
	change := diffIdentifiers(gene, before, after)
	if rec == nil {
		return change, true, s.store.UpsertStaging(ctx, tx, gene.ID, source, "", set.Version(), payload)
	}
	if change == nil {
		return nil, false, nil
	}
	return change, false, s.store.UpdatePayload(ctx, tx, rec.ID, payload)
}

// applyReplace entfernt den Identifier aus allen Einträgen der Quelle und setzt ihn für
// die Gene des Uploads neu. Schlägt ein Schritt fehl, wird auf den Savepoint zurückgerollt
// und der Batch als failed abgeschlossen; der Evidenzbestand bleibt unverändert.
func (s *HybridService) applyReplace(ctx context.Context, tx *gorm.DB, b *models.UploadBatch, req UploadRequest, norm normalizedUpload) ([]GeneChange, error) {
	sp := fmt.Sprintf("replace_%d", b.ID)
	if err := tx.SavePoint(sp).Error; err != nil {
		return nil, err
	}
	changes, err := s.replaceIdentifier(ctx, tx, b, req, norm)
	if err == nil {
		details := AuditDetails{Identifier: req.Identifier, Mode: string(ModeReplace), Filename: req.Filename, GenesAffected: len(changes), Changes: changes}
		return changes, s.finish(ctx, tx, b, models.ActionUploadReplace, details)
	}
	if isConflict(err) {
		return nil, err
	}
	if rbErr := tx.RollbackTo(sp).Error; rbErr != nil {
		return nil, rbErr
	}
	s.logger.Error("Replace-Upload zurückgerollt",
		zap.String("source", req.Source), zap.Uint("upload_id", b.ID),
		zap.String("identifier", req.Identifier), zap.Error(err))

	b.Created, b.Merged, b.Failed = 0, 0, b.GeneCount
	b.Status = models.UploadFailed
	b.Error = err.Error()
	details := AuditDetails{Identifier: req.Identifier, Mode: string(ModeReplace), Filename: req.Filename, Error: err.Error()}
	return nil, s.saveWithAudit(ctx, tx, b, models.ActionUploadFailed, details)
}

func (s *HybridService) replaceIdentifier(ctx context.Context, tx *gorm.DB, b *models.UploadBatch, req UploadRequest, norm normalizedUpload) ([]GeneChange, error) {
	genes, err := s.store.EnsureGenes(ctx, tx, norm.Symbols)
	if err != nil {
		return nil, err
	}
	target := make(map[uint]models.Gene, len(genes))
	for _, g := range genes {
		target[g.ID] = g
	}

	existing, err := s.store.RecordsForSource(ctx, tx, req.Source, "")
	if err != nil {
		return nil, err
	}
	var ids []uint
	for _, rec := range existing {
		if rec.SourceDetail == "" {
			ids = append(ids, rec.ID)
		}
	}
	locked, err := s.store.LockRecords(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	b.Created, b.Merged, b.Failed = 0, 0, 0
	var changes []GeneChange
	seen := make(map[uint]bool, len(locked))
	for _, rec := range locked {
		seen[rec.GeneID] = true
		var before []string
		if set, err := decodeIdentifiers(rec); err == nil {
			before = set.Identifiers()
		}
		_, wanted := target[rec.GeneID]
		if !wanted && !evidence.Contains(before, req.Identifier) {
			continue
		}
		after := evidence.Without(before, req.Identifier)
		if wanted {
			after = evidence.Union(after, []string{req.Identifier})
			b.Merged++
		}
		gene := target[rec.GeneID]
		gene.ID = rec.GeneID
		change := diffIdentifiers(gene, before, after)
		if change == nil {
			continue
		}
		if len(after) == 0 {
			if err := s.store.DeleteRecord(ctx, tx, rec.ID); err != nil {
				return nil, err
			}
			change.Deleted = true
		} else if err := s.writeSet(ctx, tx, rec.ID, rec.GeneID, req.Source, after); err != nil {
			return nil, err
		}
		changes = append(changes, *change)
	}

	for _, sym := range norm.Symbols {
		gene, ok := genes[sym]
		if !ok || seen[gene.ID] {
			continue
		}
		if err := s.writeSet(ctx, tx, 0, gene.ID, req.Source, []string{req.Identifier}); err != nil {
			return nil, err
		}
		b.Created++
		changes = append(changes, *diffIdentifiers(gene, nil, []string{req.Identifier}))
	}
	return changes, nil
}

// writeSet aktualisiert einen vorhandenen Eintrag (recordID > 0) oder legt ihn an.
func (s *HybridService) writeSet(ctx context.Context, tx *gorm.DB, recordID, geneID uint, source string, ids []string) error {
	set, err := evidence.NewIdentifierSet(source, ids)
	if err != nil {
		return err
	}
	payload, err := evidence.Encode(set)
	if err != nil {
		return err
	}
	if recordID > 0 {
		return s.store.UpdatePayload(ctx, tx, recordID, payload)
	}
	return s.store.UpsertStaging(ctx, tx, geneID, source, "", set.Version(), payload)
}

func (s *HybridService) finish(ctx context.Context, tx *gorm.DB, b *models.UploadBatch, action string, details AuditDetails) error {
	now := time.Now().UTC()
	b.Status = models.UploadCompleted
	b.CompletedAt = &now
	return s.saveWithAudit(ctx, tx, b, action, details)
}

func (s *HybridService) saveWithAudit(ctx context.Context, tx *gorm.DB, b *models.UploadBatch, action string, details AuditDetails) error {
	if err := s.store.SaveUpload(ctx, tx, b); err != nil {
		return err
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	id := b.ID
	return s.store.AppendAudit(ctx, tx, &models.AuditEntry{
		SourceName:  b.SourceName,
		UploadID:    &id,
		Action:      action,
		Details:     datatypes.JSON(raw),
		PerformedBy: b.Uploader,
	})
}

// markFailed schließt einen Batch nach einem Transaktionsfehler ab.
func (s *HybridService) markFailed(ctx context.Context, b *models.UploadBatch, cause error) {
	ctx = context.WithoutCancel(ctx)
	b.Status = models.UploadFailed
	b.Error = cause.Error()
	b.Created, b.Merged = 0, 0
	details := AuditDetails{Identifier: b.Identifier, Mode: b.Mode, Filename: b.Filename, Error: cause.Error()}
	err := s.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.saveWithAudit(ctx, tx, b, models.ActionUploadFailed, details)
	})
	if err != nil {
		s.logger.Error("Upload-Status konnte nicht gespeichert werden",
			zap.Uint("upload_id", b.ID), zap.NamedError("cause", cause), zap.Error(err))
	}
}

func (s *HybridService) archiveUpload(ctx context.Context, req UploadRequest, hash string) string {
	if s.archive == nil {
		return ""
	}
	key := storage.UploadKey(req.Source, hash, req.Filename)
	if _, err := s.archive.Put(ctx, key, req.Content, http.DetectContentType(req.Content)); err != nil {
		s.logger.Warn("Archivierung fehlgeschlagen", zap.String("key", key), zap.Error(err))
		return ""
	}
	return key
}

// DeleteIdentifier entfernt einen Identifier aus allen Einträgen der Quelle. Leere Einträge
// werden gelöscht. Kandidaten werden ohne Sperre gesucht, dann in ID-Reihenfolge gesperrt
// und erneut geprüft.
func (s *HybridService) DeleteIdentifier(ctx context.Context, source, identifier, actor string) (*DeleteResult, error) {
	if err := checkHybrid(source); err != nil {
		return nil, err
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier must not be empty", ErrInvalidRequest)
	}
	res := &DeleteResult{Source: source, Identifier: identifier}

	records, err := s.store.RecordsForSource(ctx, nil, source, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	var candidates []uint
	for _, rec := range records {
		set, err := decodeIdentifiers(rec)
		if err == nil && evidence.Contains(set.Identifiers(), identifier) {
			candidates = append(candidates, rec.ID)
		}
	}
	if len(candidates) == 0 {
		return res, nil
	}

	var changes []GeneChange
	err = s.transact(ctx, func(tx *gorm.DB) error {
		*res = DeleteResult{Source: source, Identifier: identifier}
		changes = nil
		locked, err := s.store.LockRecords(ctx, tx, candidates)
		if err != nil {
			return err
		}
		for _, rec := range locked {
			set, err := decodeIdentifiers(rec)
			if err != nil || !evidence.Contains(set.Identifiers(), identifier) {
				continue
			}
			before := set.Identifiers()
			after := evidence.Without(before, identifier)
			change := diffIdentifiers(models.Gene{ID: rec.GeneID}, before, after)
			if len(after) == 0 {
				if err := s.store.DeleteRecord(ctx, tx, rec.ID); err != nil {
					return err
				}
				change.Deleted = true
				res.Deleted++
			} else {
				if err := s.writeSet(ctx, tx, rec.ID, rec.GeneID, source, after); err != nil {
					return err
				}
				res.Updated++
			}
			changes = append(changes, *change)
		}
		res.GenesAffected = len(changes)
		if len(changes) == 0 {
			return nil
		}
		raw, err := json.Marshal(AuditDetails{Identifier: identifier, GenesAffected: len(changes), Changes: changes})
		if err != nil {
			return err
		}
		return s.store.AppendAudit(ctx, tx, &models.AuditEntry{
			SourceName:  source,
			Action:      models.ActionDeleteIdentifier,
			Details:     datatypes.JSON(raw),
			PerformedBy: actor,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Identifier entfernt",
		zap.String("source", source), zap.String("identifier", identifier),
		zap.Int("updated", res.Updated), zap.Int("deleted", res.Deleted))
	s.refresh(ctx, changes)
	return res, nil
}

// SoftDeleteUpload markiert einen abgeschlossenen Upload als gelöscht. Die Evidenz bleibt.
func (s *HybridService) SoftDeleteUpload(ctx context.Context, uploadID uint, actor string) (*models.UploadBatch, error) {
	var batch *models.UploadBatch
	err := s.transact(ctx, func(tx *gorm.DB) error {
		b, err := s.store.LockUpload(ctx, tx, uploadID)
		if err != nil {
			return err
		}
		if !b.Status.CanTransition(models.UploadDeleted) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, models.UploadDeleted)
		}
		prev := b.Status
		now := time.Now().UTC()
		b.Status = models.UploadDeleted
		b.DeletedAt = &now
		if err := s.store.SaveUpload(ctx, tx, b); err != nil {
			return err
		}
		raw, err := json.Marshal(AuditDetails{Identifier: b.Identifier, Mode: b.Mode, Filename: b.Filename, PreviousStatus: string(prev)})
		if err != nil {
			return err
		}
		id := b.ID
		if err := s.store.AppendAudit(ctx, tx, &models.AuditEntry{
			SourceName:  b.SourceName,
			UploadID:    &id,
			Action:      models.ActionSoftDeleteUpload,
			Details:     datatypes.JSON(raw),
			PerformedBy: actor,
		}); err != nil {
			return err
		}
		batch = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// ListUploads liefert die Uploads einer Quelle, neueste zuerst.
func (s *HybridService) ListUploads(ctx context.Context, source string) ([]models.UploadBatch, error) {
	if err := checkHybrid(source); err != nil {
		return nil, err
	}
	return s.store.ListUploads(ctx, nil, source)
}

// ListAuditTrail liefert den Audit-Trail einer Quelle in chronologischer Reihenfolge.
func (s *HybridService) ListAuditTrail(ctx context.Context, source string) ([]models.AuditEntry, error) {
	if err := checkHybrid(source); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, nil, source)
}

// Identifiers liefert die aktuellen Identifier-Mengen einer Quelle pro Gen.
func (s *HybridService) Identifiers(ctx context.Context, source string) (map[uint][]string, error) {
	if err := checkHybrid(source); err != nil {
		return nil, err
	}
	records, err := s.store.RecordsForSource(ctx, nil, source, "")
	if err != nil {
		return nil, err
	}
	out := make(map[uint][]string, len(records))
	for _, rec := range records {
		set, err := decodeIdentifiers(rec)
		if err != nil {
			continue
		}
		out[rec.GeneID] = evidence.Union(out[rec.GeneID], set.Identifiers())
	}
	return out, nil
}

// ReplayIdentifiers baut die Identifier-Mengen allein aus dem Audit-Trail nach.
func ReplayIdentifiers(entries []models.AuditEntry) (map[uint][]string, error) {
	sorted := append([]models.AuditEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	state := make(map[uint][]string)
	for _, e := range sorted {
		if len(e.Details) == 0 {
			continue
		}
		var d AuditDetails
		if err := json.Unmarshal(e.Details, &d); err != nil {
			return nil, fmt.Errorf("audit entry %d: %w", e.ID, err)
		}
		for _, c := range d.Changes {
			ids := evidence.Union(state[c.GeneID], c.Added)
			for _, r := range c.Removed {
				ids = evidence.Without(ids, r)
			}
			if c.Deleted || len(ids) == 0 {
				delete(state, c.GeneID)
				continue
			}
			state[c.GeneID] = ids
		}
	}
	return state, nil
}

// refresh kuratiert und bewertet alle betroffenen Gene neu. Fehler werden nur geloggt;
// die Mutation selbst ist bereits festgeschrieben.
func (s *HybridService) refresh(ctx context.Context, changes []GeneChange) {
	if s.aggregator == nil {
		return
	}
	for _, c := range changes {
		if _, err := s.aggregator.CurateAndRecompute(ctx, c.GeneID); err != nil {
			s.logger.Warn("Neuberechnung fehlgeschlagen", zap.Uint("gene_id", c.GeneID), zap.Error(err))
		}
	}
}

// diffIdentifiers liefert die Netto-Änderung oder nil, wenn sich nichts ändert.
func diffIdentifiers(gene models.Gene, before, after []string) *GeneChange {
	c := GeneChange{GeneID: gene.ID, Symbol: gene.Symbol}
	for _, id := range after {
		if !evidence.Contains(before, id) {
			c.Added = append(c.Added, id)
		}
	}
	for _, id := range before {
		if !evidence.Contains(after, id) {
			c.Removed = append(c.Removed, id)
		}
	}
	if len(c.Added) == 0 && len(c.Removed) == 0 {
		return nil
	}
	return &c
}

func resultFromBatch(b *models.UploadBatch) *UploadResult {
	return &UploadResult{
		UploadID:  b.ID,
		Status:    b.Status,
		GeneCount: b.GeneCount,
		Created:   b.Created,
		Merged:    b.Merged,
		Failed:    b.Failed,
		Filtered:  b.Filtered,
		Error:     b.Error,
	}
}

// IsClientError meldet Fehler, die auf eine fehlerhafte Anfrage zurückgehen.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrInvalidTransition)
}
