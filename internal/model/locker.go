package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// HardwareState is the physical lock state reported by the controller.
type HardwareState string

const (
	HardwareLocked   HardwareState = "LOCKED"
	HardwareUnlocked HardwareState = "UNLOCKED"
	HardwareUnknown  HardwareState = "UNKNOWN"
)

// ParseHardwareState maps a controller status string to a HardwareState.
func ParseHardwareState(s string) (HardwareState, bool) {
	switch HardwareState(strings.ToUpper(strings.TrimSpace(s))) {
	case HardwareLocked:
		return HardwareLocked, true
	case HardwareUnlocked:
		return HardwareUnlocked, true
	case HardwareUnknown:
		return HardwareUnknown, true
	}
	return HardwareUnknown, false
}

// ErrInvalidRecord is returned when a record breaks the occupancy invariant.
var ErrInvalidRecord = errors.New("invalid locker record")

// LockerRecord is the software-side reservation intent for one locker.
// Contact, code and reservation time are set iff the locker is occupied.
type LockerRecord struct {
	ID              int        `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Occupied        bool       `gorm:"not null" json:"occupied"`
	AssigneeContact *string    `gorm:"size:256" json:"assigneeContact"`
	PickupCode      *string    `gorm:"size:64;index" json:"pickupCode"`
	ReservedAt      *time.Time `json:"reservedAt,omitempty"`
}

// NewVacantRecord returns an unoccupied record for the given locker.
func NewVacantRecord(id int) LockerRecord {
	return LockerRecord{ID: id}
}

// NewOccupiedRecord returns an occupied record. Contact and code must be non-empty.
func NewOccupiedRecord(id int, contact, code string, reservedAt time.Time) (LockerRecord, error) {
	if contact == "" || code == "" {
		return LockerRecord{}, fmt.Errorf("%w: locker %d occupied without contact or code", ErrInvalidRecord, id)
	}
	return LockerRecord{
		ID:              id,
		Occupied:        true,
		AssigneeContact: &contact,
		PickupCode:      &code,
		ReservedAt:      &reservedAt,
	}, nil
}

// Validate checks the occupancy invariant.
func (r LockerRecord) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("%w: non-positive id %d", ErrInvalidRecord, r.ID)
	}
	if r.Occupied {
		if r.AssigneeContact == nil || *r.AssigneeContact == "" || r.PickupCode == nil || *r.PickupCode == "" {
			return fmt.Errorf("%w: locker %d occupied without contact or code", ErrInvalidRecord, r.ID)
		}
		return nil
	}
	if r.AssigneeContact != nil || r.PickupCode != nil {
		return fmt.Errorf("%w: locker %d vacant but carries assignee data", ErrInvalidRecord, r.ID)
	}
	return nil
}

// Contact returns the assignee contact or "".
func (r LockerRecord) Contact() string {
	if r.AssigneeContact == nil {
		return ""
	}
	return *r.AssigneeContact
}

// Code returns the pickup code or "".
func (r LockerRecord) Code() string {
	if r.PickupCode == nil {
		return ""
	}
	return *r.PickupCode
}

// Clone returns a deep copy so callers never share optional fields.
func (r LockerRecord) Clone() LockerRecord {
	out := LockerRecord{ID: r.ID, Occupied: r.Occupied}
	if r.AssigneeContact != nil {
		c := *r.AssigneeContact
		out.AssigneeContact = &c
	}
	if r.PickupCode != nil {
		c := *r.PickupCode
		out.PickupCode = &c
	}
	if r.ReservedAt != nil {
		t := *r.ReservedAt
		out.ReservedAt = &t
	}
	return out
}

// ValidateSet checks every record plus the set-level rules: unique ids and
// pickup codes unique among occupied lockers.
func ValidateSet(records []LockerRecord) error {
	ids := make(map[int]struct{}, len(records))
	codes := make(map[string]int, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := ids[r.ID]; dup {
			return fmt.Errorf("%w: duplicate locker id %d", ErrInvalidRecord, r.ID)
		}
		ids[r.ID] = struct{}{}
		if r.Occupied {
			if other, dup := codes[r.Code()]; dup {
				return fmt.Errorf("%w: pickup code shared by lockers %d and %d", ErrInvalidRecord, other, r.ID)
			}
			codes[r.Code()] = r.ID
		}
	}
	return nil
}
