package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"curator/internal/services"
)

// fsClient stores objects as plain files under a root directory, so the
// archive tree stays directly browsable by the operator. Writes stream to a
// temp file in the destination directory and rename into place.
type fsClient struct {
	root string
}

// NewFS returns a filesystem-backed client rooted at root, creating the
// directory if needed.
func NewFS(root string) (Client, error) {
	if strings.TrimSpace(root) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "archive", "open", "fs driver requires archive.root", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransport, "archive", "open", "create archive root", err)
	}
	return &fsClient{root: root}, nil
}

func (c *fsClient) Driver() string { return DriverFS }

func (c *fsClient) Login(_ context.Context) error {
	info, err := os.Stat(c.root)
	if err != nil {
		return services.Wrap(services.ErrTransport, "archive", "login", "archive root unavailable", err)
	}
	if !info.IsDir() {
		return services.Wrap(services.ErrConfiguration, "archive", "login",
			fmt.Sprintf("archive root %q is not a directory", c.root), nil)
	}
	return nil
}

func (c *fsClient) abs(path string) (string, error) {
	clean, err := sanitizePath(path)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "archive", "path", err.Error(), nil)
	}
	return filepath.Join(c.root, filepath.FromSlash(clean)), nil
}

func (c *fsClient) Fetch(_ context.Context, path string) ([]byte, string, error) {
	full, err := c.abs(path)
	if err != nil {
		return nil, "", err
	}
	file, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", services.Wrap(services.ErrNotFound, "archive", "fetch", path, nil)
	}
	if err != nil {
		return nil, "", services.Wrap(services.ErrTransport, "archive", "fetch", path, err)
	}
	defer file.Close()

	// Stat through the open handle so the marker matches the bytes read
	// even if the file is replaced concurrently.
	info, err := file.Stat()
	if err != nil {
		return nil, "", services.Wrap(services.ErrTransport, "archive", "fetch", path, err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", services.Wrap(services.ErrTransport, "archive", "fetch", path, err)
	}
	return data, fileMarker(info), nil
}

func (c *fsClient) Put(_ context.Context, path string, data []byte) (string, error) {
	full, err := c.abs(path)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransport, "archive", "put", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".curator-*")
	if err != nil {
		return "", services.Wrap(services.ErrTransport, "archive", "put", path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", services.Wrap(services.ErrTransport, "archive", "put", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", services.Wrap(services.ErrTransport, "archive", "put", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", services.Wrap(services.ErrTransport, "archive", "put", path, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return "", services.Wrap(services.ErrTransport, "archive", "put", path, err)
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", services.Wrap(services.ErrTransport, "archive", "put", path, err)
	}
	return fileMarker(info), nil
}

func (c *fsClient) Delete(_ context.Context, path string) (bool, error) {
	full, err := c.abs(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.Remove(full); err != nil {
		return false, services.Wrap(services.ErrTransport, "archive", "delete", path, err)
	}
	return true, nil
}

func (c *fsClient) Stat(_ context.Context, path string) (Entry, error) {
	full, err := c.abs(path)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, services.Wrap(services.ErrNotFound, "archive", "stat", path, nil)
	}
	if err != nil {
		return Entry{}, services.Wrap(services.ErrTransport, "archive", "stat", path, err)
	}
	if info.IsDir() {
		return Entry{}, services.Wrap(services.ErrNotFound, "archive", "stat", path, nil)
	}
	clean, _ := sanitizePath(path)
	return Entry{Path: clean, Size: info.Size(), Marker: fileMarker(info), ModifiedAt: info.ModTime().UTC()}, nil
}

func (c *fsClient) List(_ context.Context, prefix string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Path:       key,
			Size:       info.Size(),
			Marker:     fileMarker(info),
			ModifiedAt: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransport, "archive", "list", prefix, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// fileMarker derives a revision marker from file metadata. Rename-into-place
// updates the modification time, so any successful Put changes the marker.
func fileMarker(info fs.FileInfo) string {
	return fmt.Sprintf("%x-%x", info.ModTime().UnixNano(), info.Size())
}
