package store

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/pkg/errors"
)

// Migration System Overview:
//
// A fresh database is initialized from store/migration/{driver}/LATEST.sql.
// An already initialized database is left untouched; schema changes ship as
// a new LATEST.sql together with the release that needs them.

//go:embed migration
var migrationFS embed.FS

const (
	// LatestSchemaFileName is the name of the latest schema file.
	LatestSchemaFileName = "LATEST.sql"
)

// Migrate initializes the database schema when the database is empty.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.driver.GetDB()
	if db == nil {
		// In-memory drivers have no schema.
		return nil
	}

	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if initialized {
		slog.Debug("database already initialized, skipping schema creation")
		return nil
	}

	schema, err := s.latestSchema()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to execute latest schema")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	slog.Info("database schema initialized", "driver", s.profile.Driver)
	return nil
}

func (s *Store) latestSchema() (string, error) {
	filePath := filepath.ToSlash(filepath.Join("migration", s.profile.Driver, LatestSchemaFileName))
	buf, err := fs.ReadFile(migrationFS, filePath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read latest schema file %s", filePath)
	}
	return string(buf), nil
}
