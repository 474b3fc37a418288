package preflight

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"curator/internal/archive"
	"curator/internal/classify"
	"curator/internal/config"
	"curator/internal/ledger"
	"curator/internal/registry"
)

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

// freeSpaceFloor is the minimum free-space ratio on the staging filesystem
// before intake copies risk failing mid-drop.
const freeSpaceFloor = 0.05

// CheckFreeSpace verifies the staging filesystem is not close to full.
func CheckFreeSpace(path string) Result {
	const name = "Staging free space"
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	total := stat.Blocks * uint64(stat.Bsize)
	if total == 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: filesystem reports zero size)", path)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	ratio := float64(free) / float64(total)
	gib := float64(free) / (1 << 30)
	if ratio < freeSpaceFloor {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: only %.1f GiB free, %.0f%% of filesystem)", path, gib, ratio*100)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%.1f GiB free)", path, gib)}
}

// CheckTemplates verifies the template directory holds at least one decodable
// classification template.
func CheckTemplates(dir string) Result {
	const name = "Classification templates"
	templates, err := classify.LoadTemplates(dir)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d template(s) in %s", len(templates), dir)}
}

// CheckLedger verifies the run ledger opens and reports its run counts.
func CheckLedger(cfg *config.Config) Result {
	const name = "Run ledger"
	store, err := ledger.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer store.Close()

	health, err := store.Health(context.Background())
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health query failed: %v", err)}
	}
	detail := fmt.Sprintf("%d run(s), %d active", health.Total, health.Active)
	if health.Stuck > 0 {
		detail += fmt.Sprintf(", %d awaiting reconcile", health.Stuck)
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckArchive verifies the archive backend accepts a login. Uses a
// 10-second timeout and a single attempt (no retries).
func CheckArchive(ctx context.Context, client archive.Client) Result {
	const name = "Archive"
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Login(checkCtx); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s backend reachable", client.Driver())}
}

// CheckRegistryDocument verifies the shared registry document fetches, parses,
// and passes its integrity checks.
func CheckRegistryDocument(ctx context.Context, client archive.Client, key string) Result {
	const name = "Registry document"
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	data, _, err := client.Fetch(checkCtx, key)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s: %v", key, err)}
	}
	doc, err := registry.ParseDocument(data)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s: %v", key, err)}
	}
	if err := doc.Validate(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s: %v", key, err)}
	}
	subjects := len(doc.Tables[registry.TableSubjects])
	hashes := len(doc.Tables[registry.TableHashes])
	return Result{Name: name, Passed: true,
		Detail: fmt.Sprintf("%s (%d subject(s), %d registered image(s))", key, subjects, hashes)}
}
