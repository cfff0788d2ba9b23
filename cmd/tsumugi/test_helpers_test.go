package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"tsumugi/internal/catalog"
	"tsumugi/internal/config"
	"tsumugi/internal/testsupport"
)

const cliProfilePayload = `{"personality": "Stoic swordsman with a soft spot for strays", "backstory": "Wandering ronin from the Edo period", "quotes": ["A sword is a tool. The hand that holds it decides."]}`

type cliTestEnv struct {
	cfg        *config.Config
	store      *catalog.Store
	configPath string
	baseDir    string
	aiCalls    *atomic.Int64
}

// setupCLITestEnv builds a sandboxed home, a config file pointing the AI
// provider at a local stub server, and an open store for seeding fixtures.
// Commands run through runCLI open their own store connection against the
// same database.
func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg := testsupport.NewConfig(t, opts...)

	calls := &atomic.Int64{}
	aiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		// Health pings ask for {"ok":true}; everything else is enrichment.
		if strings.Contains(string(body), `{\"ok\":true}`) {
			fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`)
			return
		}
		calls.Add(1)
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, cliProfilePayload)
	}))
	t.Cleanup(aiServer.Close)
	cfg.AI.BaseURL = aiServer.URL
	cfg.AI.TimeoutSeconds = 5

	configPath := filepath.Join(homeDir, ".config", "tsumugi", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		configPath: configPath,
		baseDir:    base,
		aiCalls:    calls,
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
api_bind = %q

[ai]
provider = "openrouter"
api_key = %q
base_url = %q
model = "test-model"
timeout_seconds = %d

[cache]
enabled = %t
path = %q

[batch]
concurrency = 2

[notifications]
ntfy_topic = %q

[logging]
format = "json"
level = "error"
`,
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.APIBind,
		cfg.AI.APIKey,
		cfg.AI.BaseURL,
		cfg.AI.TimeoutSeconds,
		cfg.Cache.Enabled,
		cfg.Cache.Path,
		cfg.Notifications.NtfyTopic,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
