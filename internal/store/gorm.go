package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"locker-kiosk-backend/internal/logging"
	"locker-kiosk-backend/internal/model"
)

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db, logger: logging.WithComponent("store")}
}

func (s *gormStore) Load(ctx context.Context) ([]model.LockerRecord, error) {
	var records []model.LockerRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load locker records: %w", err)
	}
	return checkLoaded(records, s.logger), nil
}

// Save upserts the given records and deletes every stored record whose id
// is not in the set, in one transaction.
func (s *gormStore) Save(ctx context.Context, records []model.LockerRecord) error {
	if err := model.ValidateSet(records); err != nil {
		return fmt.Errorf("refusing to save locker records: %w", err)
	}
	rows := cloneRecords(records)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]int, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}

		stale := tx.Where("1 = 1")
		if len(ids) > 0 {
			stale = tx.Where("id NOT IN ?", ids)
		}
		if err := stale.Delete(&model.LockerRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete stale locker records: %w", err)
		}

		if len(rows) == 0 {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"occupied", "assignee_contact", "pickup_code", "reserved_at"}),
		}).Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to upsert locker records: %w", err)
		}
		return nil
	})
}

func (s *gormStore) ReplaceAll(ctx context.Context, records []model.LockerRecord) error {
	if err := model.ValidateSet(records); err != nil {
		return fmt.Errorf("refusing to import locker records: %w", err)
	}
	rows := cloneRecords(records)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.LockerRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear locker records: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to insert locker records: %w", err)
		}
		return nil
	})
}

func (s *gormStore) AppendHistory(ctx context.Context, entry model.ReservationHistory) error {
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to archive reservation for locker %d: %w", entry.LockerID, err)
	}
	return nil
}

func (s *gormStore) ListHistory(ctx context.Context, limit int) ([]model.ReservationHistory, error) {
	var entries []model.ReservationHistory
	q := s.db.WithContext(ctx).Order("period_end DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list reservation history: %w", err)
	}
	return entries, nil
}

func (s *gormStore) PutSubscription(ctx context.Context, sub model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "contact"}),
	}).Create(&sub).Error
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sub, ErrNotFound
	}
	return sub, err
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

func (s *gormStore) SubscriptionsForContact(ctx context.Context, contact string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("contact = ?", contact).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions: %w", err)
	}
	return subs, nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
