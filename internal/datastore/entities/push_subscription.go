package entities

import "time"

// PushSubscription is the browser-held push subscription for one origin.
// Keys are stored base64url encoded.
type PushSubscription struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	Scope                string    `gorm:"size:255;not null;uniqueIndex" json:"scope"`
	EndpointID           string    `gorm:"size:36;not null;uniqueIndex" json:"endpoint_id"`
	Endpoint             string    `gorm:"type:text;not null" json:"endpoint"`
	P256dh               string    `gorm:"type:text;not null" json:"p256dh"`
	Auth                 string    `gorm:"size:64;not null" json:"auth"`
	PrivateKey           string    `gorm:"type:text;not null" json:"-"`
	ApplicationServerKey string    `gorm:"type:text" json:"application_server_key"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (PushSubscription) TableName() string {
	return "push_subscriptions"
}
