package model

import "time"

// EventRecord is the persisted log entry of one accepted webhook event.
type EventRecord struct {
	ID         int64     `gorm:"autoIncrement;primaryKey"`
	Bridge     string    `gorm:"size:128;not null;index"`
	DeviceID   string    `gorm:"size:64;not null;index"`
	ZoneNumber int       `gorm:"not null"` // 0 for device-scoped events
	Kind       string    `gorm:"size:32;not null"`
	SubType    string    `gorm:"size:64"`
	Summary    string    `gorm:"size:512"`
	CreatedAt  time.Time `gorm:"not null;index"`
}
