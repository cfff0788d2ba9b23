package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tsumugi/internal/catalog"
	"tsumugi/internal/testsupport"
)

func TestCharactersAddListShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"characters", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("characters list: %v", err)
	}
	requireContains(t, out, "Catalog is empty")

	out, _, err = runCLI(t, []string{
		"characters", "add", "Spike Spiegel",
		"--series", "Cowboy Bebop",
		"--description", "Bounty hunter aboard the Bebop",
	}, env.configPath)
	if err != nil {
		t.Fatalf("characters add: %v", err)
	}
	requireContains(t, out, `Added "Spike Spiegel"`)

	out, _, err = runCLI(t, []string{"characters", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("characters list: %v", err)
	}
	requireContains(t, out, "Spike Spiegel")
	requireContains(t, out, "Cowboy Bebop")
	requireContains(t, out, "pending")

	out, _, err = runCLI(t, []string{"characters", "show", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("characters show: %v", err)
	}
	requireContains(t, out, "Spike Spiegel (Cowboy Bebop)")
	requireContains(t, out, "Description: Bounty hunter aboard the Bebop")
	requireContains(t, out, "Status:      pending")
}

func TestCharactersListSeriesFilter(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.NewCharacter(t, env.store, "Spike Spiegel", "Cowboy Bebop")
	testsupport.NewCharacter(t, env.store, "Motoko Kusanagi", "Ghost in the Shell")

	out, _, err := runCLI(t, []string{"characters", "list", "--series", "cowboy bebop"}, env.configPath)
	if err != nil {
		t.Fatalf("characters list --series: %v", err)
	}
	requireContains(t, out, "Spike Spiegel")
	if strings.Contains(out, "Motoko Kusanagi") {
		t.Fatalf("expected series filter to drop other shows, got %q", out)
	}
}

func TestCharactersListJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.NewCharacter(t, env.store, "Spike Spiegel", "Cowboy Bebop")

	out, _, err := runCLI(t, []string{"characters", "list", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("characters list --json: %v", err)
	}

	var characters []map[string]any
	if err := json.Unmarshal([]byte(out), &characters); err != nil {
		t.Fatalf("invalid JSON: %v\noutput: %s", err, out)
	}
	if len(characters) != 1 {
		t.Fatalf("expected 1 character, got %d", len(characters))
	}
	if characters[0]["name"] != "Spike Spiegel" {
		t.Fatalf("unexpected name %v", characters[0]["name"])
	}
	if characters[0]["status"] != "pending" {
		t.Fatalf("unexpected status %v", characters[0]["status"])
	}
}

func TestCharactersImport(t *testing.T) {
	env := setupCLITestEnv(t)

	importPath := filepath.Join(env.baseDir, "characters.json")
	payload := `[
  {"name": "rei ayanami", "series": "Neon Genesis Evangelion", "description": "First Child"},
  {"name": "Asuka Langley Soryu", "series": "Neon Genesis Evangelion"}
]`
	if err := os.WriteFile(importPath, []byte(payload), 0o644); err != nil {
		t.Fatalf("write import file: %v", err)
	}

	out, _, err := runCLI(t, []string{"characters", "import", importPath}, env.configPath)
	if err != nil {
		t.Fatalf("characters import: %v", err)
	}
	requireContains(t, out, "Imported 2 characters (0 duplicates skipped)")

	out, _, err = runCLI(t, []string{"characters", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("characters list: %v", err)
	}
	requireContains(t, out, "Rei Ayanami")
	requireContains(t, out, "Asuka Langley Soryu")

	out, _, err = runCLI(t, []string{"characters", "import", importPath}, env.configPath)
	if err != nil {
		t.Fatalf("characters re-import: %v", err)
	}
	requireContains(t, out, "Imported 0 characters (2 duplicates skipped)")
}

func TestCharactersImportRejectsBadFile(t *testing.T) {
	env := setupCLITestEnv(t)

	badPath := filepath.Join(env.baseDir, "broken.json")
	if err := os.WriteFile(badPath, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write bad file: %v", err)
	}

	_, _, err := runCLI(t, []string{"characters", "import", badPath}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "parse import file") {
		t.Fatalf("expected parse error, got %v", err)
	}

	_, _, err = runCLI(t, []string{"characters", "import", filepath.Join(env.baseDir, "missing.json")}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "read import file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestCharactersProtectFlow(t *testing.T) {
	env := setupCLITestEnv(t)
	character := testsupport.NewCharacter(t, env.store, "Motoko Kusanagi", "Ghost in the Shell")
	id := fmt.Sprintf("%d", character.ID)

	out, _, err := runCLI(t, []string{"characters", "protect", id, "--note", "hand-tuned bio"}, env.configPath)
	if err != nil {
		t.Fatalf("characters protect: %v", err)
	}
	requireContains(t, out, `Protected "Motoko Kusanagi"`)
	requireContains(t, out, "Note: hand-tuned bio")

	out, _, err = runCLI(t, []string{"enrich", id}, env.configPath)
	if err != nil {
		t.Fatalf("enrich protected: %v", err)
	}
	requireContains(t, out, "Skipped")
	requireContains(t, out, "record is curator protected")

	out, _, err = runCLI(t, []string{"characters", "unprotect", id}, env.configPath)
	if err != nil {
		t.Fatalf("characters unprotect: %v", err)
	}
	requireContains(t, out, `Unprotected "Motoko Kusanagi"`)

	out, _, err = runCLI(t, []string{"enrich", id}, env.configPath)
	if err != nil {
		t.Fatalf("enrich after unprotect: %v", err)
	}
	requireContains(t, out, "Enriched")
}

func TestCharactersRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	character := testsupport.NewCharacter(t, env.store, "Shinji Ikari", "Neon Genesis Evangelion")

	record, err := env.store.EnsureRecord(ctx, character.ID)
	if err != nil {
		t.Fatalf("ensure record: %v", err)
	}
	record.Status = catalog.StatusFailed
	record.LastError = "provider exploded"
	if err := env.store.SaveRecord(ctx, record); err != nil {
		t.Fatalf("save failed record: %v", err)
	}

	out, _, err := runCLI(t, []string{"characters", "retry"}, env.configPath)
	if err != nil {
		t.Fatalf("characters retry: %v", err)
	}
	requireContains(t, out, "Reset 1 failed records to pending")

	updated, err := env.store.GetRecord(ctx, character.ID)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if updated.Status != catalog.StatusPending {
		t.Fatalf("expected pending after retry, got %s", updated.Status)
	}
}

func TestCharactersRemove(t *testing.T) {
	env := setupCLITestEnv(t)
	character := testsupport.NewCharacter(t, env.store, "Spike Spiegel", "Cowboy Bebop")

	out, _, err := runCLI(t, []string{"characters", "remove", fmt.Sprintf("%d", character.ID)}, env.configPath)
	if err != nil {
		t.Fatalf("characters remove: %v", err)
	}
	requireContains(t, out, fmt.Sprintf("Removed character %d", character.ID))

	out, _, err = runCLI(t, []string{"characters", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("characters list: %v", err)
	}
	requireContains(t, out, "Catalog is empty")

	_, _, err = runCLI(t, []string{"characters", "remove", "9001"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestCharactersStats(t *testing.T) {
	env := setupCLITestEnv(t)
	character := testsupport.NewCharacter(t, env.store, "Spike Spiegel", "Cowboy Bebop")

	if _, _, err := runCLI(t, []string{"enrich", fmt.Sprintf("%d", character.ID)}, env.configPath); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	out, _, err := runCLI(t, []string{"characters", "stats"}, env.configPath)
	if err != nil {
		t.Fatalf("characters stats: %v", err)
	}
	requireContains(t, out, "Characters")
	requireContains(t, out, "Succeeded")
}
