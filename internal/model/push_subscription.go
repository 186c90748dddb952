package model

import "time"

// PushSubscription holds a browser push subscription registered for an assignee contact.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey" json:"endpoint"`
	P256DH    string    `gorm:"column:p256dh;not null" json:"p256dh"`
	Auth      string    `gorm:"not null" json:"auth"`
	Contact   string    `gorm:"size:256;not null;index" json:"contact"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}
