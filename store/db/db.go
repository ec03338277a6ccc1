package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/querylab/internal/profile"
	"github.com/hrygo/querylab/store"
	"github.com/hrygo/querylab/store/db/memory"
	"github.com/hrygo/querylab/store/db/postgres"
	"github.com/hrygo/querylab/store/db/sqlite"
)

// ============================================================================
// DATABASE SUPPORT POLICY
// ============================================================================
// PostgreSQL: Full support for production use.
// SQLite: Single-node deployments, development and tests.
// Memory: Demo mode and unit tests; nothing survives a restart.
//
// When adding new features:
// - Implement for all three drivers; the experiment lifecycle relies on
//   guarded updates and atomic usage increments in every one of them.
// ============================================================================

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	case "memory":
		driver = memory.NewDB()
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres', 'sqlite' and 'memory' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
