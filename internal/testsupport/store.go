package testsupport

import (
	"context"
	"testing"

	"tsumugi/internal/catalog"
	"tsumugi/internal/config"
)

// MustOpenStore opens a catalog.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewCharacter creates a catalog character for tests using the provided store.
func NewCharacter(t testing.TB, store *catalog.Store, name, series string) *catalog.Character {
	t.Helper()

	character, err := store.AddCharacter(context.Background(), name, series, "")
	if err != nil {
		t.Fatalf("store.AddCharacter: %v", err)
	}
	return character
}
