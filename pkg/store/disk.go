package store

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const metaSuffix = ".meta"

// DiskStore stores transfers as files in one directory, each with a JSON
// sidecar holding its Meta.
type DiskStore struct {
	dir     string
	maxSize int64

	mu sync.Mutex
}

// NewDiskStore creates dir if needed. maxSize of 0 means no limit.
func NewDiskStore(dir string, maxSize int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DiskStore{dir: dir, maxSize: maxSize}, nil
}

// Dir returns the storage directory.
func (s *DiskStore) Dir() string {
	return s.dir
}

// Save implements Store.
func (s *DiskStore) Save(ctx context.Context, meta Meta, r io.Reader) error {
	if err := validID(meta.ID); err != nil {
		return err
	}
	if s.maxSize > 0 && meta.Size > s.maxSize {
		return ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(s.dir, meta.ID)
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	reader := r
	if s.maxSize > 0 {
		reader = io.LimitReader(r, s.maxSize+1)
	}
	written, err := io.Copy(f, reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if s.maxSize > 0 && written > s.maxSize {
		os.Remove(tmp)
		return ErrTooLarge
	}

	meta.Size = written
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return s.saveMeta(meta)
}

// Open implements Store.
func (s *DiskStore) Open(ctx context.Context, id string) (*Object, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	meta, err := s.loadMeta(id)
	s.mu.Unlock()
	if err != nil {
		return nil, ErrNotFound
	}

	path := filepath.Join(s.dir, id)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Object{Meta: *meta, Path: path, Reader: f}, nil
}

// Delete implements Store.
func (s *DiskStore) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, id))
	os.Remove(s.metaPath(id))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// Cleanup implements Store.
func (s *DiskStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, metaSuffix)
		meta, err := s.loadMeta(id)
		if err != nil || meta.CreatedAt.After(cutoff) {
			continue
		}
		os.Remove(filepath.Join(s.dir, id))
		os.Remove(s.metaPath(id))
		removed++
	}
	return removed, nil
}

func (s *DiskStore) metaPath(id string) string {
	return filepath.Join(s.dir, id+metaSuffix)
}

func (s *DiskStore) saveMeta(meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(s.metaPath(meta.ID), data, 0644)
}

func (s *DiskStore) loadMeta(id string) (*Meta, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

var _ Store = (*DiskStore)(nil)
