// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/database"
)

type schemaLevel int

const (
	schemaEmpty schemaLevel = iota
	schemaMigrated
	schemaSeeded
)

// Option raises the schema state of a database opened by MustOpenTestDB.
type Option func(*schemaLevel)

// WithAutoMigrate creates the tables without seed rows.
func WithAutoMigrate() Option {
	return raiseTo(schemaMigrated)
}

// WithSeedData creates the tables and seeds roles, settings and anonymity
// defaults.
func WithSeedData() Option {
	return raiseTo(schemaSeeded)
}

func raiseTo(level schemaLevel) Option {
	return func(current *schemaLevel) {
		if level > *current {
			*current = level
		}
	}
}

// MustOpenTestDB opens a private in-memory SQLite database that is closed
// when the test ends. Every call gets a fresh name, so parallel tests never
// share rows.
func MustOpenTestDB(t *testing.T, opts ...Option) *gorm.DB {
	t.Helper()

	level := schemaEmpty
	for _, opt := range opts {
		opt(&level)
	}

	db, err := database.Open(database.Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:candor-%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	switch level {
	case schemaSeeded:
		require.NoError(t, database.AutoMigrateAndSeed(db))
	case schemaMigrated:
		require.NoError(t, database.AutoMigrate(db))
	}
	return db
}
