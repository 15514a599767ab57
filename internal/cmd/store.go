package cmd

import (
	"context"

	"github.com/deskops/requesterctl/internal/config"
	"github.com/deskops/requesterctl/internal/core/store"
)

func openJournal(ctx context.Context, cfg config.JournalConfig) (*store.Store, error) {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
