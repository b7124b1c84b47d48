package model

import "time"

// PushSubscription holds the information for a browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey;size:512"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Devices []SubscriptionDevice `gorm:"foreignKey:Endpoint;references:Endpoint;constraint:OnDelete:CASCADE"`
}

// SubscriptionDevice maps a push subscription to one mirrored device id.
type SubscriptionDevice struct {
	Endpoint string `gorm:"primaryKey;size:512"`
	DeviceID string `gorm:"primaryKey;size:64;index"`
}
