package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"curator/internal/config"
	"curator/internal/services"
)

// Driver names for the supported archive backends.
const (
	DriverFS     = "fs"
	DriverS3     = "s3"
	DriverMemory = "memory"
)

// Entry describes one stored object.
type Entry struct {
	Path       string
	Size       int64
	Marker     string
	ModifiedAt time.Time
}

// Client is the transport boundary to the imaging archive. Paths are
// slash-separated keys relative to the archive root. Markers are opaque
// revision strings: two reads of the same path yield equal markers only
// when the content did not change between them.
type Client interface {
	// Login verifies the backend is reachable before a run starts.
	Login(ctx context.Context) error
	// Fetch returns the object content and its current revision marker.
	Fetch(ctx context.Context, path string) ([]byte, string, error)
	// Put writes the object, replacing any previous content, and returns
	// the new revision marker.
	Put(ctx context.Context, path string, data []byte) (string, error)
	// Delete removes the object, reporting whether it existed.
	Delete(ctx context.Context, path string) (bool, error)
	// Stat returns object metadata without fetching content.
	Stat(ctx context.Context, path string) (Entry, error)
	// List returns every object under prefix in ascending path order.
	List(ctx context.Context, prefix string) ([]Entry, error)
	// Driver reports which backend the client talks to.
	Driver() string
}

// Open constructs the archive client selected by cfg.Archive.Driver.
func Open(ctx context.Context, cfg *config.Config) (Client, error) {
	switch cfg.Archive.Driver {
	case DriverFS:
		return NewFS(cfg.Archive.Root)
	case DriverS3:
		return NewS3(ctx, cfg)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "archive", "open",
			fmt.Sprintf("unknown driver %q", cfg.Archive.Driver), nil)
	}
}

// sanitizePath rejects keys that would escape the archive root.
func sanitizePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.Contains(p, "..") {
		return "", fmt.Errorf("path %q contains '..'", p)
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute path %q", p)
	}
	return filepath.ToSlash(filepath.Clean(p)), nil
}

func joinKey(prefix, clean string) string {
	if prefix == "" {
		return clean
	}
	return prefix + "/" + clean
}

func stripKeyPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, prefix+"/")
}
