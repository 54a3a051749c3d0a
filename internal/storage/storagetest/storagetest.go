// Package storagetest opens throwaway in-memory stores for tests.
package storagetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/shelfscan/internal/storage"
)

// New returns a migrated in-memory SQLite store that is closed when the test ends.
func New(t testing.TB) *storage.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := storage.Open(storage.Options{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test store: %v", err)
	}
	return store
}
