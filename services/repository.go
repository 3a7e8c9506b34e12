package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/berntpopp/kidney-genetics-db-sub000/evidence"
	"github.com/berntpopp/kidney-genetics-db-sub000/models"
)

// EvidenceStore kapselt alle Datenbankzugriffe auf Gene, Evidenz, Scores, Uploads,
// Audit-Einträge und Checkpoints. Jede Methode nimmt optional eine laufende Transaktion.
type EvidenceStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewEvidenceStore erstellt einen neuen EvidenceStore.
func NewEvidenceStore(db *gorm.DB, logger *zap.Logger) *EvidenceStore {
	return &EvidenceStore{db: db, logger: logger.With(zap.String("component", "evidence_store"))}
}

// DB gibt die zugrunde liegende Verbindung zurück.
func (r *EvidenceStore) DB() *gorm.DB { return r.db }

func (r *EvidenceStore) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx)
}

// --- Gene ---

// GetGene lädt ein Gen; ErrGeneNotFound, wenn es nicht existiert.
func (r *EvidenceStore) GetGene(ctx context.Context, tx *gorm.DB, id uint) (*models.Gene, error) {
	var g models.Gene
	err := r.conn(ctx, tx).First(&g, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGeneNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GenesByIDs lädt Gene sortiert nach ID. Unbekannte IDs fehlen im Ergebnis.
func (r *EvidenceStore) GenesByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]models.Gene, error) {
	var out []models.Gene
	if len(ids) == 0 {
		return out, nil
	}
	err := r.conn(ctx, tx).Where("id IN ?", ids).Order("id").Find(&out).Error
	return out, err
}

// AllGenes lädt alle Gene sortiert nach ID.
func (r *EvidenceStore) AllGenes(ctx context.Context, tx *gorm.DB) ([]models.Gene, error) {
	var out []models.Gene
	err := r.conn(ctx, tx).Order("id").Find(&out).Error
	return out, err
}

// GenesNeedingUpdate liefert Gene, die seit since geändert wurden oder denen Evidenz
// mindestens einer der Quellen fehlt. since == nil liefert alle Gene.
func (r *EvidenceStore) GenesNeedingUpdate(ctx context.Context, tx *gorm.DB, since *time.Time, sources []string) ([]models.Gene, error) {
	if since == nil {
		return r.AllGenes(ctx, tx)
	}
	db := r.conn(ctx, tx)
	complete := db.Session(&gorm.Session{NewDB: true}).
		Model(&models.EvidenceRecord{}).
		Select("gene_id").
		Where("source_name IN ?", sources).
		Group("gene_id").
		Having("COUNT(DISTINCT source_name) = ?", len(sources))

	var out []models.Gene
	err := db.Where("updated_at > ? OR id NOT IN (?)", *since, complete).Order("id").Find(&out).Error
	return out, err
}

// EnsureGenes legt fehlende Gene an und liefert alle Gene zu den (bereits normalisierten) Symbolen.
func (r *EvidenceStore) EnsureGenes(ctx context.Context, tx *gorm.DB, symbols []string) (map[string]models.Gene, error) {
	out := make(map[string]models.Gene, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	db := r.conn(ctx, tx)
	rows := make([]models.Gene, 0, len(symbols))
	for _, s := range symbols {
		rows = append(rows, models.Gene{Symbol: s})
	}
	if err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "symbol"}}, DoNothing: true}).
		CreateInBatches(&rows, 500).Error; err != nil {
		return nil, err
	}
	var genes []models.Gene
	if err := db.Where("symbol IN ?", symbols).Find(&genes).Error; err != nil {
		return nil, err
	}
	for _, g := range genes {
		out[g.Symbol] = g
	}
	return out, nil
}

// --- Evidenz ---

// UpsertStaging schreibt einen Eintrag als staging. Ein vorhandener Eintrag derselben
// (gene, source, detail)-Kombination wird überschrieben und muss neu kuratiert werden.
func (r *EvidenceStore) UpsertStaging(ctx context.Context, tx *gorm.DB, geneID uint, source, detail string, version int, payload []byte) error {
	rec := models.EvidenceRecord{
		GeneID:        geneID,
		SourceName:    source,
		SourceDetail:  detail,
		Stage:         models.StageStaging,
		SchemaVersion: version,
		Payload:       datatypes.JSON(payload),
	}
	return r.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "gene_id"}, {Name: "source_name"}, {Name: "source_detail"}},
		DoUpdates: clause.Assignments(map[string]any{
			"payload":        rec.Payload,
			"schema_version": version,
			"stage":          models.StageStaging,
			"sub_score":      nil,
			"updated_at":     time.Now().UTC(),
		}),
	}).Create(&rec).Error
}

// RecordsForGene lädt alle Einträge eines Gens, optional gefiltert nach Stage.
func (r *EvidenceStore) RecordsForGene(ctx context.Context, tx *gorm.DB, geneID uint, stage models.Stage) ([]models.EvidenceRecord, error) {
	q := r.conn(ctx, tx).Where("gene_id = ?", geneID)
	if stage != "" {
		q = q.Where("stage = ?", stage)
	}
	var out []models.EvidenceRecord
	err := q.Order("source_name, source_detail").Find(&out).Error
	return out, err
}

// RecordsForSource lädt alle Einträge einer Quelle, optional gefiltert nach Stage.
func (r *EvidenceStore) RecordsForSource(ctx context.Context, tx *gorm.DB, source string, stage models.Stage) ([]models.EvidenceRecord, error) {
	q := r.conn(ctx, tx).Where("source_name = ?", source)
	if stage != "" {
		q = q.Where("stage = ?", stage)
	}
	var out []models.EvidenceRecord
	err := q.Order("id").Find(&out).Error
	return out, err
}

// HybridRecord lädt den (einzigen) Eintrag einer Hybrid-Quelle für ein Gen, gesperrt.
func (r *EvidenceStore) HybridRecord(ctx context.Context, tx *gorm.DB, geneID uint, source string) (*models.EvidenceRecord, error) {
	var rec models.EvidenceRecord
	err := r.conn(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("gene_id = ? AND source_name = ? AND source_detail = ?", geneID, source, "").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LockRecords sperrt Einträge in aufsteigender ID-Reihenfolge (SELECT ... FOR UPDATE).
func (r *EvidenceStore) LockRecords(ctx context.Context, tx *gorm.DB, ids []uint) ([]models.EvidenceRecord, error) {
	var out []models.EvidenceRecord
	if len(ids) == 0 {
		return out, nil
	}
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	err := r.conn(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", sorted).
		Order("id").
		Find(&out).Error
	return out, err
}

// UpdatePayload ersetzt das Payload eines Eintrags und setzt ihn zurück auf staging.
func (r *EvidenceStore) UpdatePayload(ctx context.Context, tx *gorm.DB, id uint, payload []byte) error {
	return r.conn(ctx, tx).Model(&models.EvidenceRecord{}).Where("id = ?", id).Updates(map[string]any{
		"payload":    datatypes.JSON(payload),
		"stage":      models.StageStaging,
		"sub_score":  nil,
		"updated_at": time.Now().UTC(),
	}).Error
}

// DeleteRecord entfernt einen Eintrag.
func (r *EvidenceStore) DeleteRecord(ctx context.Context, tx *gorm.DB, id uint) error {
	return r.conn(ctx, tx).Delete(&models.EvidenceRecord{}, id).Error
}

// Promote setzt einen Eintrag auf curated und speichert seinen Sub-Score.
func (r *EvidenceStore) Promote(ctx context.Context, tx *gorm.DB, id uint, version int, subScore *float64) error {
	return r.conn(ctx, tx).Model(&models.EvidenceRecord{}).Where("id = ?", id).Updates(map[string]any{
		"stage":          models.StageCurated,
		"schema_version": version,
		"sub_score":      subScore,
	}).Error
}

// --- Scores ---

// SaveScore schreibt den Score eines Gens (Upsert).
func (r *EvidenceStore) SaveScore(ctx context.Context, tx *gorm.DB, s *models.GeneScore) error {
	return r.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gene_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "tier", "source_count", "updated_at"}),
	}).Create(s).Error
}

// GetScore lädt den gespeicherten Score; nil ohne Fehler, wenn keiner existiert.
func (r *EvidenceStore) GetScore(ctx context.Context, tx *gorm.DB, geneID uint) (*models.GeneScore, error) {
	var s models.GeneScore
	err := r.conn(ctx, tx).Where("gene_id = ?", geneID).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// --- Uploads & Audit ---

// CompletedUpload findet einen abgeschlossenen Upload mit identischem Inhalt, Modus und Identifier.
func (r *EvidenceStore) CompletedUpload(ctx context.Context, tx *gorm.DB, source, hash, mode, identifier string) (*models.UploadBatch, error) {
	var b models.UploadBatch
	err := r.conn(ctx, tx).
		Where("source_name = ? AND content_hash = ? AND status = ?", source, hash, models.UploadCompleted).
		Where("mode = ? AND identifier = ?", mode, identifier).
		Order("id").
		Take(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateUpload legt einen Upload-Batch an.
func (r *EvidenceStore) CreateUpload(ctx context.Context, tx *gorm.DB, b *models.UploadBatch) error {
	return r.conn(ctx, tx).Create(b).Error
}

// SaveUpload schreibt alle Felder eines Upload-Batches.
func (r *EvidenceStore) SaveUpload(ctx context.Context, tx *gorm.DB, b *models.UploadBatch) error {
	return r.conn(ctx, tx).Save(b).Error
}

// LockUpload lädt einen Upload-Batch gesperrt.
func (r *EvidenceStore) LockUpload(ctx context.Context, tx *gorm.DB, id uint) (*models.UploadBatch, error) {
	var b models.UploadBatch
	err := r.conn(ctx, tx).Clauses(clause.Locking{Strength: "UPDATE"}).Take(&b, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListUploads liefert die Uploads einer Quelle, neueste zuerst.
func (r *EvidenceStore) ListUploads(ctx context.Context, tx *gorm.DB, source string) ([]models.UploadBatch, error) {
	var out []models.UploadBatch
	err := r.conn(ctx, tx).Where("source_name = ?", source).Order("id DESC").Find(&out).Error
	return out, err
}

// AppendAudit hängt einen Audit-Eintrag an. Es gibt bewusst keine Update- oder Delete-Methode.
func (r *EvidenceStore) AppendAudit(ctx context.Context, tx *gorm.DB, e *models.AuditEntry) error {
	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now().UTC()
	}
	return r.conn(ctx, tx).Create(e).Error
}

// ListAudit liefert den Audit-Trail einer Quelle in chronologischer Reihenfolge.
func (r *EvidenceStore) ListAudit(ctx context.Context, tx *gorm.DB, source string) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	err := r.conn(ctx, tx).Where("source_name = ?", source).Order("id").Find(&out).Error
	return out, err
}

// --- Checkpoints ---

// GetCheckpoint lädt den Checkpoint eines Jobs; nil ohne Fehler, wenn keiner existiert.
func (r *EvidenceStore) GetCheckpoint(ctx context.Context, tx *gorm.DB, jobName string) (*models.PipelineCheckpoint, error) {
	var cp models.PipelineCheckpoint
	err := r.conn(ctx, tx).Where("job_name = ?", jobName).Take(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// SaveCheckpoint schreibt einen Checkpoint (Upsert).
func (r *EvidenceStore) SaveCheckpoint(ctx context.Context, tx *gorm.DB, cp *models.PipelineCheckpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	return r.conn(ctx, tx).Save(cp).Error
}

// SaveProgress schreibt den Fortschritt eines laufenden Jobs, ohne das Pause-Flag anzufassen,
// damit ein parallel gesetztes Pause nicht überschrieben wird.
func (r *EvidenceStore) SaveProgress(ctx context.Context, tx *gorm.DB, cp *models.PipelineCheckpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	return r.conn(ctx, tx).Model(&models.PipelineCheckpoint{}).Where("job_name = ?", cp.JobName).Updates(map[string]any{
		"job_id":       cp.JobID,
		"offset":       cp.Offset,
		"last_gene_id": cp.LastGeneID,
		"total":        cp.Total,
		"running":      cp.Running,
		"last_error":   cp.LastError,
		"updated_at":   cp.UpdatedAt,
	}).Error
}

// SetPaused setzt das Pause-Flag eines Jobs, legt den Checkpoint bei Bedarf an.
func (r *EvidenceStore) SetPaused(ctx context.Context, tx *gorm.DB, jobName string, paused bool) error {
	cp := models.PipelineCheckpoint{JobName: jobName, Paused: paused, UpdatedAt: time.Now().UTC()}
	return r.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"paused", "updated_at"}),
	}).Create(&cp).Error
}

// decodeIdentifiers dekodiert das Payload eines Hybrid-Eintrags.
func decodeIdentifiers(rec models.EvidenceRecord) (evidence.IdentifierSet, error) {
	p, err := evidence.Decode(rec.SourceName, rec.Payload)
	if err != nil {
		return nil, err
	}
	set, ok := p.(evidence.IdentifierSet)
	if !ok {
		return nil, evidence.ErrUnknownSource
	}
	return set, nil
}
