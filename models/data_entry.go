package models

import "time"

// DataEntry is one country-year observation of economic and demographic indicators.
// Every indicator is nullable: a nil pointer means the value is unknown, which is
// never the same thing as zero.
type DataEntry struct {
	CountryCode string    `gorm:"primaryKey;size:2;not null" json:"country_code"`
	Year        int       `gorm:"primaryKey;autoIncrement:false;not null" json:"year"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Country *Country `gorm:"foreignKey:CountryCode;references:Code;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"country,omitempty"`

	GDP             *float64 `gorm:"column:gdp;check:chk_data_entries_gdp,gdp >= 0" json:"gdp"`
	Population      *int64   `gorm:"check:chk_data_entries_population,population >= 0" json:"population"`
	LifeExpectancy  *float64 `json:"life_expectancy"`
	Migration       *int64   `json:"migration"` // net migration, may be negative
	Internet        *float64 `json:"internet"`  // % of population using the internet
	HCI             *float64 `gorm:"column:hci" json:"hci"`
	Enrollment      *float64 `json:"enrollment"` // secondary school enrollment GPI
	UrbanPop        *float64 `json:"urban_pop"`
	InfantMortality *float64 `json:"infant_mortality"` // per 1,000 live births
	Female          *float64 `json:"female"`
	Male            *float64 `json:"male"`
}

// TableName specifies the table name
func (DataEntry) TableName() string {
	return "data_entries"
}
