package models

import "time"

// WatermarkModel stores one label to value marker, e.g. last_full_import_at.
type WatermarkModel struct {
	Label     string    `gorm:"type:varchar(64);primaryKey"`
	Value     string    `gorm:"type:varchar(64);not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (WatermarkModel) TableName() string {
	return "sync_watermarks"
}

// All returns every model managed by AutoMigrate.
func All() []any {
	return []any{
		&CachedCustomerModel{},
		&WatermarkModel{},
	}
}
