package models

import "time"

// UploadStatus ist der Zustand eines Upload-Batches.
type UploadStatus string

const (
	UploadProcessing UploadStatus = "processing"
	UploadCompleted  UploadStatus = "completed"
	UploadFailed     UploadStatus = "failed"
	UploadDeleted    UploadStatus = "deleted"
)

// CanTransition prüft die erlaubten (monotonen) Zustandsübergänge.
func (s UploadStatus) CanTransition(to UploadStatus) bool {
	switch s {
	case UploadProcessing:
		return to == UploadCompleted || to == UploadFailed
	case UploadCompleted:
		return to == UploadDeleted
	}
	return false
}

// UploadBatch ist eine von einem Kurator hochgeladene Datei.
type UploadBatch struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SourceName  string       `json:"source_name" gorm:"size:64;index:idx_upload_hash,priority:1;not null"`
	ContentHash string       `json:"content_hash" gorm:"size:64;index:idx_upload_hash,priority:2;not null"`
	Filename    string       `json:"filename,omitempty"`
	Mode        string       `json:"mode" gorm:"size:16"`
	Identifier  string       `json:"identifier,omitempty"`
	Status      UploadStatus `json:"status" gorm:"size:16;index;default:'processing'"`
	Uploader    string       `json:"uploader"`
	ArchiveKey  string       `json:"archive_key,omitempty"`
	Error       string       `json:"error,omitempty" gorm:"type:text"`

	GeneCount int `json:"gene_count"`
	Created   int `json:"created"`
	Merged    int `json:"merged"`
	Failed    int `json:"failed"`
	Filtered  int `json:"filtered"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (UploadBatch) TableName() string {
	return "upload_batches"
}
