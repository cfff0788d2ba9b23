package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"tsumugi/internal/catalog"
	"tsumugi/internal/config"
	"tsumugi/internal/enrich"
)

// minFreeBytes is the least free space the data disk may have before
// enrichment writes are considered at risk.
const minFreeBytes = 100 << 20

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckProvider verifies that the configured AI provider is reachable and the
// key is valid. It uses a 30-second timeout and a single attempt (no retries).
func CheckProvider(ctx context.Context, cfg *config.Config) Result {
	const name = "AI provider"

	ai := cfg.GetAI()
	if ai.APIKey == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	invoker, err := enrich.NewInvoker(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	checker, ok := invoker.(healthChecker)
	if !ok {
		return Result{Name: name, Passed: true, Detail: "no health probe available"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := checker.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeProviderError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable (%s)", ai.Provider, invoker.Model())}
}

// CheckDatabase verifies the catalog database opens and passes its integrity
// check.
func CheckDatabase(ctx context.Context, store *catalog.Store) Result {
	const name = "Catalog database"

	if store == nil {
		return Result{Name: name, Detail: "not open"}
	}
	health, err := store.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if health.Error != "" {
		return Result{Name: name, Detail: health.Error}
	}
	if len(health.MissingTables) > 0 {
		return Result{Name: name, Detail: fmt.Sprintf("missing tables: %s", strings.Join(health.MissingTables, ", "))}
	}
	if !health.IntegrityCheck {
		return Result{Name: name, Detail: "integrity check failed"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d characters)", health.DBPath, health.TotalCharacters)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDiskSpace verifies the filesystem holding path has headroom for
// database and cache writes.
func CheckDiskSpace(name, path string) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < minFreeBytes {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%d MiB free, need %d MiB)", path, free>>20, minFreeBytes>>20)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d MiB free)", path, free>>20)}
}

// summarizeProviderError produces a short summary for provider health check failures.
func summarizeProviderError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (provider unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (provider unreachable)"
	}
	return err.Error()
}
