package models

import "time"

// GeneScore speichert den zusammengesetzten Score eines Gens.
type GeneScore struct {
	GeneID      uint      `json:"gene_id" gorm:"primaryKey;autoIncrement:false"`
	Score       float64   `json:"score"`
	Tier        string    `json:"tier" gorm:"index"`
	SourceCount int       `json:"source_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (GeneScore) TableName() string {
	return "gene_scores"
}
