// Package api exposes the local REST surface: mirrored state, controller
// commands, push subscriptions and the event history.
package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"github.com/markus7017/rachio-bridge/internal/bridge"
	"github.com/markus7017/rachio-bridge/internal/eventlog"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	manager *bridge.Manager
	db      *gorm.DB
	events  *eventlog.Log
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(m *bridge.Manager, db *gorm.DB, events *eventlog.Log, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		manager: m,
		db:      db,
		events:  events,
		webpush: webpushOptions,
	}
}
