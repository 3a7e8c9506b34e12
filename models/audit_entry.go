package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit-Aktionen der Hybrid-Quellen.
const (
	ActionUploadMerge      = "upload_merge"
	ActionUploadReplace    = "upload_replace"
	ActionUploadFailed     = "upload_failed"
	ActionDeleteIdentifier = "delete_identifier"
	ActionSoftDeleteUpload = "soft_delete_upload"
)

// AuditEntry protokolliert eine Mutation. Einträge werden nur angehängt, nie geändert.
type AuditEntry struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	SourceName  string         `json:"source_name" gorm:"size:64;index;not null"`
	UploadID    *uint          `json:"upload_id,omitempty" gorm:"index"`
	Action      string         `json:"action" gorm:"size:32;not null"`
	Details     datatypes.JSON `json:"details" gorm:"type:jsonb"`
	PerformedBy string         `json:"performed_by"`
	PerformedAt time.Time      `json:"performed_at" gorm:"index"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (AuditEntry) TableName() string {
	return "audit_entries"
}
