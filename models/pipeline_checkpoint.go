package models

import "time"

// PipelineCheckpoint hält den Fortschritt eines Orchestrator-Laufs fest.
type PipelineCheckpoint struct {
	JobName   string `json:"job_name" gorm:"primaryKey;size:128"`
	JobID     string `json:"job_id" gorm:"size:64"`
	Strategy  string `json:"strategy" gorm:"size:16"`
	Offset    int    `json:"offset"`
	Total     int    `json:"total"`
	Paused    bool   `json:"paused"`
	Running   bool   `json:"running"`
	LastError string `json:"last_error,omitempty" gorm:"type:text"`

	// höchste vollständig verarbeitete Gen-ID; Wiederaufnahme setzt danach fort
	LastGeneID uint      `json:"last_gene_id"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Abschluss des letzten vollständigen Laufs, Basis für inkrementelle Läufe
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (PipelineCheckpoint) TableName() string {
	return "pipeline_checkpoints"
}

// All listet alle Modelle für die Auto-Migration.
func All() []any {
	return []any{
		&Gene{}, &EvidenceRecord{}, &GeneScore{}, &UploadBatch{}, &AuditEntry{}, &PipelineCheckpoint{},
	}
}
