// Package eventlog persists accepted webhook events so the history survives
// restarts and can be queried from the REST surface.
package eventlog

import (
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/markus7017/rachio-bridge/internal/model"
)

// Log writes accepted events to the database. It implements the bridge's
// event sink interface.
type Log struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Log {
	return &Log{db: db}
}

// RecordEvent appends one event to the log. Failures are logged and
// swallowed; the event log is best effort and must never fail a webhook
// delivery.
func (l *Log) RecordEvent(bridge string, ev model.WebhookEvent) {
	rec := model.EventRecord{
		Bridge:    bridge,
		DeviceID:  ev.DeviceID,
		Kind:      ev.Kind.String(),
		SubType:   ev.SubType,
		Summary:   ev.Summary,
		CreatedAt: time.Now(),
	}
	if ev.Zone != nil {
		rec.ZoneNumber = ev.Zone.Number
	}
	if err := l.db.Create(&rec).Error; err != nil {
		log.Printf("eventlog: recording event %s: %v", ev.EventID, err)
	}
}

// Recent returns the newest events, optionally filtered by device id.
func (l *Log) Recent(deviceID string, limit int) ([]model.EventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := l.db.Order("created_at DESC").Limit(limit)
	if deviceID != "" {
		q = q.Where("device_id = ?", deviceID)
	}
	var recs []model.EventRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
