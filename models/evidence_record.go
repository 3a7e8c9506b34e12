package models

import (
	"time"

	"gorm.io/datatypes"
)

// Stage ist die Lebenszyklus-Phase eines Evidenz-Eintrags.
type Stage string

const (
	StageStaging Stage = "staging" // roh übernommen, noch nicht validiert
	StageCurated Stage = "curated" // validiert, fließt in den Score ein
)

// EvidenceRecord ist der Beitrag einer Quelle zu einem Gen.
type EvidenceRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GeneID       uint   `json:"gene_id" gorm:"not null;uniqueIndex:idx_evidence_unique,priority:1"`
	SourceName   string `json:"source_name" gorm:"size:64;not null;uniqueIndex:idx_evidence_unique,priority:2;index"`
	SourceDetail string `json:"source_detail" gorm:"size:255;not null;default:'';uniqueIndex:idx_evidence_unique,priority:3"`

	Stage         Stage          `json:"stage" gorm:"size:16;index;default:'staging'"`
	SchemaVersion int            `json:"schema_version"`
	Payload       datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	SubScore      *float64       `json:"sub_score,omitempty"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (EvidenceRecord) TableName() string {
	return "evidence_records"
}
