package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"locker-kiosk-backend/internal/logging"
	"locker-kiosk-backend/internal/model"
)

var (
	bucketKiosk         = []byte("kiosk")
	bucketHistory       = []byte("history")
	bucketSubscriptions = []byte("subscriptions")
)

// BoltStore keeps the whole locker record set as one JSON value under a
// fixed application key, so every save is a single atomic write.
type BoltStore struct {
	db     *bolt.DB
	key    []byte
	logger zerolog.Logger
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path, key string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketKiosk, bucketHistory, bucketSubscriptions} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, key: []byte(key), logger: logging.WithComponent("store")}, nil
}

func (s *BoltStore) Load(ctx context.Context) ([]model.LockerRecord, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketKiosk).Get(s.key); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read locker state: %w", err)
	}
	if data == nil {
		return []model.LockerRecord{}, nil
	}

	var records []model.LockerRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Error().Err(fmt.Errorf("%w: %w", ErrStorageCorrupt, err)).Msg("discarding stored locker state")
		return []model.LockerRecord{}, nil
	}
	return checkLoaded(records, s.logger), nil
}

func (s *BoltStore) Save(ctx context.Context, records []model.LockerRecord) error {
	if err := model.ValidateSet(records); err != nil {
		return fmt.Errorf("refusing to save locker records: %w", err)
	}
	return s.put(records)
}

// ReplaceAll is the same single-slot write as Save.
func (s *BoltStore) ReplaceAll(ctx context.Context, records []model.LockerRecord) error {
	if err := model.ValidateSet(records); err != nil {
		return fmt.Errorf("refusing to import locker records: %w", err)
	}
	return s.put(records)
}

func (s *BoltStore) put(records []model.LockerRecord) error {
	if records == nil {
		records = []model.LockerRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode locker state: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKiosk).Put(s.key, data)
	})
}

func (s *BoltStore) AppendHistory(ctx context.Context, entry model.ReservationHistory) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.ID = int64(seq)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// ListHistory returns the newest entries first.
func (s *BoltStore) ListHistory(ctx context.Context, limit int) ([]model.ReservationHistory, error) {
	entries := []model.ReservationHistory{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry model.ReservationHistory
			if err := json.Unmarshal(v, &entry); err != nil {
				s.logger.Warn().Err(err).Msg("skipping unreadable history entry")
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) PutSubscription(ctx context.Context, sub model.PushSubscription) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscriptions)
		if existing := b.Get([]byte(sub.Endpoint)); existing != nil {
			var prev model.PushSubscription
			if json.Unmarshal(existing, &prev) == nil {
				sub.CreatedAt = prev.CreatedAt
			}
		}
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = time.Now().UTC()
		}
		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		return b.Put([]byte(sub.Endpoint), data)
	})
}

func (s *BoltStore) GetSubscription(ctx context.Context, endpoint string) (model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSubscriptions).Get([]byte(endpoint))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &sub)
	})
	return sub, err
}

func (s *BoltStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).Delete([]byte(endpoint))
	})
}

func (s *BoltStore) SubscriptionsForContact(ctx context.Context, contact string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).ForEach(func(k, v []byte) error {
			var sub model.PushSubscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return nil
			}
			if sub.Contact == contact {
				subs = append(subs, sub)
			}
			return nil
		})
	})
	return subs, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
