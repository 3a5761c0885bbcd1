package commands

import (
	"context"
	"fmt"

	"github.com/tillsync/tillsync/config"
	"github.com/tillsync/tillsync/entity"
	"github.com/tillsync/tillsync/storage/sqlite"
)

// RunStatus prints the outbox depth and, when a scope is given, the cached
// collection sizes per entity kind. It only touches the local store.
func RunStatus(ctx context.Context, configPath, scopeID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := sqlite.Open(&sqlite.Config{
		DataSourceName: cfg.Database.Path,
		EnableWAL:      cfg.Database.EnableWAL,
	})
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer store.Close()

	pending, err := store.Outbox().Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("pending mutations: %d\n", pending)

	if scopeID == "" {
		return nil
	}

	cache := store.Cache()
	for _, kind := range entity.Kinds() {
		entities, err := cache.Get(ctx, kind, scopeID)
		if err != nil {
			return err
		}
		fmt.Printf("cached %ss (%s): %d\n", kind, scopeID, len(entities))
	}
	return nil
}
