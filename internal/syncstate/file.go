/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package syncstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultFilePath is where FileStore keeps state when no path is configured.
const DefaultFilePath = "temp/report_cache_state.json"

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileStore keeps every report's state in one JSON document. The document is
// rewritten whole through a temp file and rename on each update.
type FileStore struct {
	path string
	log  *zap.SugaredLogger
	now  func() time.Time

	mu sync.Mutex
}

// NewFileStore creates a store at path. The parent directory is created on
// first write.
func NewFileStore(path string, log *zap.SugaredLogger) *FileStore {
	if path == "" {
		path = DefaultFilePath
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FileStore{path: path, log: log, now: time.Now}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// load reads the whole document. A missing file is an empty document; an
// unreadable one is reported as ErrCorrupt alongside an empty document.
func (s *FileStore) load() (map[string]State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]State{}, nil
	}
	if err != nil {
		return map[string]State{}, fmt.Errorf("%w: read %s: %v", ErrCorrupt, s.path, err)
	}
	states := map[string]State{}
	if len(data) == 0 {
		return states, nil
	}
	if err := json.Unmarshal(data, &states); err != nil {
		return map[string]State{}, fmt.Errorf("%w: decode %s: %v", ErrCorrupt, s.path, err)
	}
	return states, nil
}

func (s *FileStore) loadOrWarn() map[string]State {
	states, err := s.load()
	if err != nil {
		s.log.Warnw("sync state unreadable, treating all reports as first run",
			"path", s.path, "error", err)
	}
	return states
}

func (s *FileStore) save(states map[string]State) error {
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sync state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, report string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.loadOrWarn()[report]; ok {
		return st, nil
	}
	return Default(), nil
}

// Set implements Store.
func (s *FileStore) Set(_ context.Context, report string, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := s.loadOrWarn()
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now().UTC()
	}
	states[report] = st
	return s.save(states)
}

// Reset implements Store.
func (s *FileStore) Reset(ctx context.Context, report string) error {
	return s.Set(ctx, report, Default())
}

// All implements Store.
func (s *FileStore) All(_ context.Context) (map[string]State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOrWarn(), nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
