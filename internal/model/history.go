package model

import "time"

// Reservation outcomes recorded in the history table.
const (
	OutcomePickedUp = "picked_up"
	OutcomeReleased = "released"
)

// ReservationHistory is the archived record of a finished reservation.
type ReservationHistory struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LockerID        int       `gorm:"not null;index" json:"lockerId"`
	AssigneeContact string    `gorm:"size:256;not null" json:"assigneeContact"`
	PickupCode      string    `gorm:"size:64;not null" json:"pickupCode"`
	Outcome         string    `gorm:"size:32;not null" json:"outcome"`
	PeriodStart     time.Time `gorm:"not null" json:"periodStart"`
	PeriodEnd       time.Time `gorm:"not null;index" json:"periodEnd"`
}
