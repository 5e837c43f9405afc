package main

import (
	"context"
	"fmt"

	"github.com/banshee-data/racelog/internal/api"
	"github.com/banshee-data/racelog/internal/config"
	"github.com/banshee-data/racelog/internal/db"
	"github.com/banshee-data/racelog/internal/fsutil"
	"github.com/banshee-data/racelog/internal/racefs"
	"github.com/banshee-data/racelog/internal/session"
)

// archive is what the commands need from a race store. Both the SQLite
// database and the file store provide it.
type archive interface {
	session.Archive
	api.RecordReader
	DeleteRace(ctx context.Context, startTime int64) error
}

var (
	_ archive = (*db.DB)(nil)
	_ archive = (*racefs.Store)(nil)
)

// openArchive opens the configured store. close releases it.
func openArchive(cfg *config.Config) (store archive, close func() error, err error) {
	switch cfg.GetStore() {
	case config.StoreFiles:
		s, err := racefs.Open(fsutil.OSFileSystem{}, cfg.GetRacesDir())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open race directory: %w", err)
		}
		return s, func() error { return nil }, nil
	default:
		d, err := db.NewDB(cfg.GetDBPath())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return d, d.Close, nil
	}
}
