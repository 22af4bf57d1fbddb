// Package storetest provides an in-memory SQLite store for tests.
package storetest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"wasch-booking-backend/config"
	"wasch-booking-backend/internal/db"
	"wasch-booking-backend/internal/store"
)

// Open returns a migrated in-memory database private to t.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := db.Open(&config.DatabaseConfig{
		DSN:      fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return gormDB
}

// New returns a Store over Open(t).
func New(t testing.TB) store.Store {
	t.Helper()
	return store.NewGormStore(Open(t))
}
