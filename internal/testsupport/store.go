package testsupport

import (
	"testing"
	"time"

	"loom/internal/config"
	"loom/internal/coordination"
)

// MustOpenStore opens a coordination store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *coordination.SQLiteStore {
	t.Helper()

	store, err := coordination.Open(coordination.Options{
		Path:         cfg.Coordination.DBPath,
		PollInterval: time.Duration(cfg.Coordination.PollIntervalMS) * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("coordination.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
