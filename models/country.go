package models

import "time"

// Country is static reference data identifying a nation by its ISO 3166-1 alpha-2 code.
// Rows are written once by the bootstrap loader and treated as read-only afterwards.
type Country struct {
	Code      string    `gorm:"primaryKey;size:2" json:"code"`
	CreatedAt time.Time `json:"created_at"`

	Name      string  `gorm:"size:100;not null" json:"name"`
	Latitude  float64 `gorm:"not null" json:"latitude"`
	Longitude float64 `gorm:"not null" json:"longitude"`
	Region    *string `gorm:"size:100" json:"region"`
	Subregion *string `gorm:"size:100" json:"subregion"`
}

// TableName specifies the table name
func (Country) TableName() string {
	return "countries"
}
