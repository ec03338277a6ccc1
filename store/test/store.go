package test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/hrygo/querylab/internal/profile"
	"github.com/hrygo/querylab/store"
	"github.com/hrygo/querylab/store/db"
)

var sqliteSeq atomic.Int64

// NewTestingStore creates a migrated store for tests. The driver comes from
// the DRIVER environment variable and defaults to an in-memory SQLite database.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()

	profile := getTestingProfile(t)
	dbDriver, err := db.NewDBDriver(profile)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	s := store.New(dbDriver, profile)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func getTestingProfile(t *testing.T) *profile.Profile {
	driver := getDriverFromEnv()
	p := &profile.Profile{
		Mode:    "dev",
		Data:    t.TempDir(),
		Driver:  driver,
		Version: "test",
	}

	switch driver {
	case "postgres":
		p.DSN = GetPostgresDSN(t)
	case "sqlite":
		// Named shared-cache databases keep parallel tests apart.
		p.DSN = fmt.Sprintf("file:querylab_test_%d?mode=memory&cache=shared", sqliteSeq.Add(1))
	}
	return p
}

func getDriverFromEnv() string {
	driver := os.Getenv("DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	return driver
}
