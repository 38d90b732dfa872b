package persistence

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/meshbridge/internal/infrastructure/store"
)

// Volume errors are the io/fs sentinels.
var (
	ErrNotExist = fs.ErrNotExist
	ErrInvalid  = fs.ErrInvalid
)

// FileInfo describes one volume entry.
type FileInfo struct {
	Path    string
	Size    int
	Mode    uint32
	ModTime time.Time
}

type entry struct {
	mode    uint32
	data    []byte
	modTime time.Time
}

// Volume is the in-memory filesystem mounted into the embedded process.
// Durable state only changes through Sync.
type Volume struct {
	durable Durable
	store   string

	mu      sync.RWMutex
	files   map[string]*entry
	changes uint64 // bumped on every mutation
	synced  uint64 // value of changes at the last successful write sync

	syncMu sync.Mutex
}

func newVolume(durable Durable, storeName string) *Volume {
	return &Volume{
		durable: durable,
		store:   storeName,
		files:   make(map[string]*entry),
	}
}

// Store returns the name of the durable image backing the volume.
func (v *Volume) Store() string { return v.store }

// Sync moves state between memory and durable storage. With startup set,
// memory is replaced by the durable image. Otherwise memory is written
// out, skipping the write when nothing changed since the last sync.
func (v *Volume) Sync(ctx context.Context, startup bool) error {
	v.syncMu.Lock()
	defer v.syncMu.Unlock()

	if startup {
		image, err := v.durable.LoadImage(ctx, v.store)
		if err != nil {
			return fmt.Errorf("load %s: %w", v.store, err)
		}
		now := time.Now()
		files := make(map[string]*entry, len(image))
		for p, f := range image {
			files[p] = &entry{mode: f.Mode, data: f.Data, modTime: now}
		}

		v.mu.Lock()
		v.files = files
		v.synced = v.changes
		v.mu.Unlock()
		return nil
	}

	v.mu.RLock()
	if v.changes == v.synced {
		v.mu.RUnlock()
		return nil
	}
	seen := v.changes
	image := make(map[string]store.File, len(v.files))
	for p, e := range v.files {
		image[p] = store.File{Mode: e.mode, Data: e.data}
	}
	v.mu.RUnlock()

	if err := v.durable.SaveImage(ctx, v.store, image); err != nil {
		return fmt.Errorf("save %s: %w", v.store, err)
	}

	v.mu.Lock()
	v.synced = seen
	v.mu.Unlock()
	return nil
}

// Dirty reports whether memory holds changes not yet written out.
func (v *Volume) Dirty() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.changes != v.synced
}

// ReadFile returns a copy of the file contents.
func (v *Volume) ReadFile(name string) ([]byte, error) {
	p, err := clean(name)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	e, ok := v.files[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	return append([]byte(nil), e.data...), nil
}

// WriteFile replaces the file contents.
func (v *Volume) WriteFile(name string, data []byte, mode uint32) error {
	p, err := clean(name)
	if err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.files[p] = &entry{mode: mode, data: append([]byte(nil), data...), modTime: time.Now()}
	v.changes++
	return nil
}

// Remove deletes a file.
func (v *Volume) Remove(name string) error {
	p, err := clean(name)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.files[p]; !ok {
		return fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	delete(v.files, p)
	v.changes++
	return nil
}

// Stat describes a file.
func (v *Volume) Stat(name string) (FileInfo, error) {
	p, err := clean(name)
	if err != nil {
		return FileInfo{}, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	e, ok := v.files[p]
	if !ok {
		return FileInfo{}, fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	return FileInfo{Path: p, Size: len(e.data), Mode: e.mode, ModTime: e.modTime}, nil
}

// Exists reports whether name is a file in the volume.
func (v *Volume) Exists(name string) bool {
	p, err := clean(name)
	if err != nil {
		return false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.files[p]
	return ok
}

// List returns the sorted paths below dir.
func (v *Volume) List(dir string) ([]string, error) {
	p, err := clean(dir)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(p, "/") + "/"

	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []string
	for name := range v.files {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func clean(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("path %q: %w", name, ErrInvalid)
	}
	return path.Clean("/" + name), nil
}
