package store

import (
	"locker-kiosk-backend/config"
	"locker-kiosk-backend/internal/db"
)

// Open returns the Store backend selected by cfg.Driver.
func Open(cfg config.StorageConfig) (Store, error) {
	if cfg.Driver == config.DriverBolt {
		return NewBoltStore(cfg.Path, cfg.Key)
	}
	gormDB, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	return NewGormStore(gormDB), nil
}
