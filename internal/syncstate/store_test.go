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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, time.May, 2, 9, 0, 0, 0, time.UTC)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s := NewFileStore(filepath.Join(t.TempDir(), "nested", "state.json"), zap.NewNop().Sugar())
	s.now = func() time.Time { return fixedNow }
	return s
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStoreFromClient(client, "", nil)
	s.now = func() time.Time { return fixedNow }
	return s, mr
}

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	st, err := s.Get(ctx, "general_ledger")
	require.NoError(t, err)
	assert.Equal(t, Default(), st, "absent report defaults to first run")

	done := State{IsFirstRun: false, LastFrom: "02/01/2024", LastTo: "05/02/2024"}
	require.NoError(t, s.Set(ctx, "general_ledger", done))
	require.NoError(t, s.Set(ctx, "rent_roll", State{IsFirstRun: false}))

	st, err = s.Get(ctx, "general_ledger")
	require.NoError(t, err)
	assert.False(t, st.IsFirstRun)
	assert.Equal(t, "02/01/2024", st.LastFrom)
	assert.Equal(t, "05/02/2024", st.LastTo)
	assert.True(t, st.UpdatedAt.Equal(fixedNow))

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Reset(ctx, "general_ledger"))
	st, err = s.Get(ctx, "general_ledger")
	require.NoError(t, err)
	assert.True(t, st.IsFirstRun)
	assert.Empty(t, st.LastFrom)

	rr, err := s.Get(ctx, "rent_roll")
	require.NoError(t, err)
	assert.False(t, rr.IsFirstRun, "reset must not touch other reports")

	require.NoError(t, s.Close())
}

func TestFileStoreContract(t *testing.T) {
	storeContract(t, newFileStore(t))
}

func TestRedisStoreContract(t *testing.T) {
	s, _ := newRedisStore(t)
	storeContract(t, s)
}

func TestFileStoreWritesCompatibleDocument(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, s.Set(context.Background(), "general_ledger",
		State{IsFirstRun: false, LastFrom: "01/01/2024", LastTo: "01/31/2024"}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, false, doc["general_ledger"]["isFirstRun"])
	assert.Equal(t, "01/01/2024", doc["general_ledger"]["from"])
	assert.Equal(t, "01/31/2024", doc["general_ledger"]["to"])
}

func TestFileStoreReadsLegacyDocument(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(),
		[]byte(`{"rent_roll":{"isFirstRun":false,"from":"","to":""}}`), 0o644))

	st, err := s.Get(context.Background(), "rent_roll")
	require.NoError(t, err)
	assert.False(t, st.IsFirstRun)
}

func TestFileStoreCorruptFileTreatedAsFirstRun(t *testing.T) {
	s := newFileStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{not json`), 0o644))

	st, err := s.Get(context.Background(), "general_ledger")
	require.NoError(t, err)
	assert.True(t, st.IsFirstRun)

	_, err = s.load()
	assert.ErrorIs(t, err, ErrCorrupt)

	// A write after corruption produces a readable document again.
	require.NoError(t, s.Set(context.Background(), "general_ledger", State{IsFirstRun: false}))
	_, err = s.load()
	assert.NoError(t, err)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	s := newFileStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Set(context.Background(), "r", State{}))
	}
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestFileStoreConcurrentWriters(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	names := []string{"a", "b", "c", "d", "e", "f"}

	var wg sync.WaitGroup
	for _, n := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			assert.NoError(t, s.Set(ctx, name, State{IsFirstRun: false}))
		}(n)
	}
	wg.Wait()

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(names))
}

func TestRedisStoreCorruptValue(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.HSet("reportsync:state", "rent_roll", "garbage")

	st, err := s.Get(context.Background(), "rent_roll")
	require.NoError(t, err)
	assert.True(t, st.IsFirstRun)

	all, err := s.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{}, nil)
	assert.ErrorContains(t, err, "at least one address")
}

func TestNewRedisStoreConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), RedisConfig{Addrs: []string{mr.Addr()}, KeyPrefix: "t:"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "x", Default()))
	assert.True(t, mr.Exists("t:state"))
	require.NoError(t, s.Close())
}
