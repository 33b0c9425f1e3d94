package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File keeps every key in one JSON document. Writes go to a temp file that
// is renamed over the original, so a crash never leaves a torn document.
type File struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// OpenFile loads path, creating parent directories as needed. A missing
// file starts empty.
func OpenFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	f := &File{path: path, data: make(map[string]string)}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("read storage file: %w", err)
	}
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f.data); err != nil {
		return nil, fmt.Errorf("decode storage file %s: %w", path, err)
	}
	return f, nil
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.data[key]
	f.data[key] = value
	if err := f.flush(); err != nil {
		if had {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

func (f *File) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.data[key]
	if !had {
		return nil
	}
	delete(f.data, key)
	if err := f.flush(); err != nil {
		f.data[key] = prev
		return err
	}
	return nil
}

// flush must be called with mu held.
func (f *File) flush() error {
	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storage: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".storage-*.json")
	if err != nil {
		return fmt.Errorf("create temp storage file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod storage: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace storage file: %w", err)
	}
	return nil
}
