package archive

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"curator/internal/services"
)

type memoryObject struct {
	data       []byte
	marker     string
	modifiedAt time.Time
}

// Memory is an in-process archive client for tests. Each Put bumps a per-path
// revision counter that serves as the marker, and failures can be queued per
// operation to exercise error paths.
type Memory struct {
	mu       sync.Mutex
	objects  map[string]memoryObject
	revs     map[string]int
	failures map[string][]error
}

// NewMemory returns an empty in-memory archive client.
func NewMemory() *Memory {
	return &Memory{
		objects:  make(map[string]memoryObject),
		revs:     make(map[string]int),
		failures: make(map[string][]error),
	}
}

// FailNext queues err to be returned by the next call of the named operation
// (login, fetch, put, delete, stat, or list). Queued failures are consumed in
// order.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

func (m *Memory) popFailure(op string) error {
	queue := m.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.failures[op] = queue[1:]
	return err
}

func (m *Memory) Driver() string { return DriverMemory }

func (m *Memory) Login(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("login"); err != nil {
		return services.Wrap(services.ErrTransport, "archive", "login", "injected failure", err)
	}
	return nil
}

func (m *Memory) Fetch(_ context.Context, path string) ([]byte, string, error) {
	clean, err := sanitizePath(path)
	if err != nil {
		return nil, "", services.Wrap(services.ErrValidation, "archive", "path", err.Error(), nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("fetch"); err != nil {
		return nil, "", services.Wrap(services.ErrTransport, "archive", "fetch", path, err)
	}
	obj, ok := m.objects[clean]
	if !ok {
		return nil, "", services.Wrap(services.ErrNotFound, "archive", "fetch", path, nil)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, obj.marker, nil
}

func (m *Memory) Put(_ context.Context, path string, data []byte) (string, error) {
	clean, err := sanitizePath(path)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "archive", "path", err.Error(), nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("put"); err != nil {
		return "", services.Wrap(services.ErrTransport, "archive", "put", path, err)
	}
	m.revs[clean]++
	stored := make([]byte, len(data))
	copy(stored, data)
	obj := memoryObject{
		data:       stored,
		marker:     fmt.Sprintf("rev-%d", m.revs[clean]),
		modifiedAt: time.Now().UTC(),
	}
	m.objects[clean] = obj
	return obj.marker, nil
}

func (m *Memory) Delete(_ context.Context, path string) (bool, error) {
	clean, err := sanitizePath(path)
	if err != nil {
		return false, services.Wrap(services.ErrValidation, "archive", "path", err.Error(), nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("delete"); err != nil {
		return false, services.Wrap(services.ErrTransport, "archive", "delete", path, err)
	}
	_, ok := m.objects[clean]
	delete(m.objects, clean)
	return ok, nil
}

func (m *Memory) Stat(_ context.Context, path string) (Entry, error) {
	clean, err := sanitizePath(path)
	if err != nil {
		return Entry{}, services.Wrap(services.ErrValidation, "archive", "path", err.Error(), nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("stat"); err != nil {
		return Entry{}, services.Wrap(services.ErrTransport, "archive", "stat", path, err)
	}
	obj, ok := m.objects[clean]
	if !ok {
		return Entry{}, services.Wrap(services.ErrNotFound, "archive", "stat", path, nil)
	}
	return Entry{Path: clean, Size: int64(len(obj.data)), Marker: obj.marker, ModifiedAt: obj.modifiedAt}, nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("list"); err != nil {
		return nil, services.Wrap(services.ErrTransport, "archive", "list", prefix, err)
	}
	entries := make([]Entry, 0, len(m.objects))
	for key, obj := range m.objects {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		entries = append(entries, Entry{Path: key, Size: int64(len(obj.data)), Marker: obj.marker, ModifiedAt: obj.modifiedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
