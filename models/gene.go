package models

import "time"

// Gene repräsentiert ein Gen mit seinem kanonischen HGNC-Symbol.
type Gene struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`

	Symbol string `json:"symbol" gorm:"uniqueIndex;not null"` // z.B. "PKD1"
	HGNCID string `json:"hgnc_id,omitempty" gorm:"column:hgnc_id;index"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Gene) TableName() string {
	return "genes"
}
