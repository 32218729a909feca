package store

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations
var migrationsFS embed.FS

func runMigrations(ctx context.Context, dialect goose.Dialect, db *sql.DB, dir string) error {
	fsys, err := fs.Sub(migrationsFS, "migrations/"+dir)
	if err != nil {
		return eris.Wrapf(err, "%s: migrations fs", dir)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return eris.Wrapf(err, "%s: goose provider", dir)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return eris.Wrapf(err, "%s: migrate", dir)
	}
	for _, r := range results {
		zap.L().Info("migration applied",
			zap.String("driver", dir),
			zap.String("source", r.Source.Path),
			zap.Duration("duration", r.Duration),
		)
	}
	return nil
}

// Open builds the store selected by driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "postgres", "":
		return NewPostgres(ctx, dsn, poolCfg)
	case "sqlite":
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
