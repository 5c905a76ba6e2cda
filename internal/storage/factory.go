package storage

import (
	"context"
	"fmt"

	"github.com/softwareproject/portal/internal/common"
	"github.com/softwareproject/portal/internal/config"
	"github.com/softwareproject/portal/internal/interfaces"
	"github.com/softwareproject/portal/internal/storage/badger"
	"github.com/softwareproject/portal/internal/storage/memory"
	"github.com/softwareproject/portal/internal/storage/redis"
)

// NewStorageManager creates the storage manager selected by cfg.Storage.Backend.
func NewStorageManager(ctx context.Context, logger *common.Logger, cfg *config.Config) (interfaces.StorageManager, error) {
	switch cfg.Storage.Backend {
	case "", "badger":
		m, err := badger.NewManager(logger, &cfg.Storage.Badger)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "redis":
		m, err := redis.NewManager(ctx, logger, &cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "memory":
		return memory.NewManager(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
