package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"locker-kiosk-backend/internal/model"
)

var (
	// ErrStorageCorrupt is logged when persisted data cannot be trusted.
	// Load degrades to an empty record set instead of returning it.
	ErrStorageCorrupt = errors.New("stored locker state is corrupt")
	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("not found")
)

// Store defines the persistence operations for locker records and their
// supporting data. Only software intent is ever written; hardware state is
// never part of a LockerRecord.
type Store interface {
	// Load returns the saved records ordered by id. Missing or corrupt data
	// yields an empty set; only backend I/O failures are returned as errors.
	Load(ctx context.Context) ([]model.LockerRecord, error)
	// Save persists exactly the given record set.
	Save(ctx context.Context, records []model.LockerRecord) error
	// ReplaceAll atomically replaces every stored record (used by import).
	ReplaceAll(ctx context.Context, records []model.LockerRecord) error

	AppendHistory(ctx context.Context, entry model.ReservationHistory) error
	ListHistory(ctx context.Context, limit int) ([]model.ReservationHistory, error)

	PutSubscription(ctx context.Context, sub model.PushSubscription) error
	GetSubscription(ctx context.Context, endpoint string) (model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForContact(ctx context.Context, contact string) ([]model.PushSubscription, error)

	Close() error
}

// checkLoaded validates a freshly loaded record set and degrades to an
// empty set when it breaks any record or set invariant.
func checkLoaded(records []model.LockerRecord, logger zerolog.Logger) []model.LockerRecord {
	if err := model.ValidateSet(records); err != nil {
		logger.Error().Err(fmt.Errorf("%w: %w", ErrStorageCorrupt, err)).
			Int("records", len(records)).
			Msg("discarding stored locker state")
		return []model.LockerRecord{}
	}
	if records == nil {
		return []model.LockerRecord{}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

func cloneRecords(records []model.LockerRecord) []model.LockerRecord {
	out := make([]model.LockerRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
