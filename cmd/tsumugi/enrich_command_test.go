package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"tsumugi/internal/testsupport"
)

func TestEnrichCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	character := testsupport.NewCharacter(t, env.store, "Spike Spiegel", "Cowboy Bebop")

	out, _, err := runCLI(t, []string{"enrich", fmt.Sprintf("%d", character.ID)}, env.configPath)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	requireContains(t, out, "Enriched")
	requireContains(t, out, "Model calls: 1")
	if got := env.aiCalls.Load(); got != 1 {
		t.Fatalf("expected 1 provider call, got %d", got)
	}

	out, _, err = runCLI(t, []string{"enrich", fmt.Sprintf("%d", character.ID)}, env.configPath)
	if err != nil {
		t.Fatalf("second enrich: %v", err)
	}
	requireContains(t, out, "Unchanged")
	requireContains(t, out, "record already enriched")
	if got := env.aiCalls.Load(); got != 1 {
		t.Fatalf("expected no extra provider calls, got %d", got)
	}

	out, _, err = runCLI(t, []string{"enrich", fmt.Sprintf("%d", character.ID), "--force"}, env.configPath)
	if err != nil {
		t.Fatalf("forced enrich: %v", err)
	}
	requireContains(t, out, "Enriched")
	if got := env.aiCalls.Load(); got != 2 {
		t.Fatalf("expected forced run to call the provider, got %d calls", got)
	}
}

func TestEnrichCommandJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	character := testsupport.NewCharacter(t, env.store, "Faye Valentine", "Cowboy Bebop")

	out, _, err := runCLI(t, []string{"enrich", fmt.Sprintf("%d", character.ID), "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("enrich --json: %v", err)
	}

	var outcome map[string]any
	if err := json.Unmarshal([]byte(out), &outcome); err != nil {
		t.Fatalf("invalid JSON: %v\noutput: %s", err, out)
	}
	if outcome["disposition"] != "enriched" {
		t.Fatalf("expected disposition enriched, got %v", outcome["disposition"])
	}
	if outcome["category"] != "character_profile" {
		t.Fatalf("expected default category, got %v", outcome["category"])
	}
	characterDTO, ok := outcome["character"].(map[string]any)
	if !ok {
		t.Fatalf("missing character object in %v", outcome)
	}
	if characterDTO["status"] != "success" {
		t.Fatalf("expected success status, got %v", characterDTO["status"])
	}
}

func TestEnrichCommandInvalidID(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"enrich", "abc"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "invalid character id") {
		t.Fatalf("expected invalid id error, got %v", err)
	}
}

func TestEnrichCommandUnknownCategory(t *testing.T) {
	env := setupCLITestEnv(t)
	character := testsupport.NewCharacter(t, env.store, "Ed", "Cowboy Bebop")

	_, _, err := runCLI(t, []string{"enrich", fmt.Sprintf("%d", character.ID), "--category", "vibes"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unknown category") {
		t.Fatalf("expected unknown category error, got %v", err)
	}
}

func TestEnrichCommandProtectionFlag(t *testing.T) {
	env := setupCLITestEnv(t)
	character := testsupport.NewCharacter(t, env.store, "Jet Black", "Cowboy Bebop")

	_, _, err := runCLI(t, []string{"enrich", fmt.Sprintf("%d", character.ID), "--protection", "sideways"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "use keep or release") {
		t.Fatalf("expected protection flag error, got %v", err)
	}

	if _, _, err := runCLI(t, []string{"characters", "protect", fmt.Sprintf("%d", character.ID)}, env.configPath); err != nil {
		t.Fatalf("protect: %v", err)
	}

	out, _, err := runCLI(t, []string{"enrich", fmt.Sprintf("%d", character.ID)}, env.configPath)
	if err != nil {
		t.Fatalf("enrich protected: %v", err)
	}
	requireContains(t, out, "Skipped")
	requireContains(t, out, "record is curator protected")

	_, _, err = runCLI(t, []string{"enrich", fmt.Sprintf("%d", character.ID), "--force"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "explicit protection decision") {
		t.Fatalf("expected protection conflict, got %v", err)
	}

	out, _, err = runCLI(t, []string{"enrich", fmt.Sprintf("%d", character.ID), "--force", "--protection", "release"}, env.configPath)
	if err != nil {
		t.Fatalf("forced enrich with decision: %v", err)
	}
	requireContains(t, out, "Enriched")

	record, err := env.store.GetRecord(context.Background(), character.ID)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.Protected {
		t.Fatal("expected release decision to clear protection")
	}
}
