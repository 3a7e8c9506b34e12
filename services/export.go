package services

import (
	"context"
	"encoding/json"
	"io"

	"gorm.io/gorm"

	"github.com/berntpopp/kidney-genetics-db-sub000/models"
)

// ExportStats zählt die exportierten Zeilen.
type ExportStats struct {
	Audit    int `json:"audit"`
	Evidence int `json:"evidence"`
	Uploads  int `json:"uploads"`
}

// exportLine ist eine Zeile des JSON-Lines-Exports.
type exportLine struct {
	Kind     string                 `json:"kind"`
	Audit    *models.AuditEntry     `json:"audit,omitempty"`
	Evidence *models.EvidenceRecord `json:"evidence,omitempty"`
	Upload   *models.UploadBatch    `json:"upload,omitempty"`
}

const exportBatchSize = 500

// ExportJSONL schreibt Upload-Batches, Audit-Trail und Evidenz als JSON Lines nach w.
func (r *EvidenceStore) ExportJSONL(ctx context.Context, w io.Writer) (ExportStats, error) {
	var stats ExportStats
	enc := json.NewEncoder(w)
	db := r.conn(ctx, nil)

	var uploads []models.UploadBatch
	err := db.FindInBatches(&uploads, exportBatchSize, func(_ *gorm.DB, _ int) error {
		for i := range uploads {
			if err := enc.Encode(exportLine{Kind: "upload", Upload: &uploads[i]}); err != nil {
				return err
			}
			stats.Uploads++
		}
		return nil
	}).Error
	if err != nil {
		return stats, err
	}

	var audit []models.AuditEntry
	err = db.FindInBatches(&audit, exportBatchSize, func(_ *gorm.DB, _ int) error {
		for i := range audit {
			if err := enc.Encode(exportLine{Kind: "audit", Audit: &audit[i]}); err != nil {
				return err
			}
			stats.Audit++
		}
		return nil
	}).Error
	if err != nil {
		return stats, err
	}

	var records []models.EvidenceRecord
	err = db.FindInBatches(&records, exportBatchSize, func(_ *gorm.DB, _ int) error {
		for i := range records {
			if err := enc.Encode(exportLine{Kind: "evidence", Evidence: &records[i]}); err != nil {
				return err
			}
			stats.Evidence++
		}
		return nil
	}).Error
	return stats, err
}
