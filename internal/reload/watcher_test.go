package reload

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/artbot/config"
)

func TestUniquePathsFiltersDuplicatesAndEmptyValues(t *testing.T) {
	paths := []string{"", "/tmp/a", "/tmp/b", "/tmp/a", "/tmp/c", "/tmp/b"}
	got := uniquePaths(paths)
	want := []string{"/tmp/a", "/tmp/b", "/tmp/c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("uniquePaths() = %v, want %v", got, want)
	}
}

func TestWatcherUpdateIncludesExistingFilesAndRoot(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	racksFile := filepath.Join(dir, "racks.yaml")
	rootFile := filepath.Join(dir, "artbot.yaml")

	writeFile(t, configFile, "config")
	writeFile(t, racksFile, "racks")
	writeFile(t, rootFile, "root")

	cfg := &config.Config{
		Source:   config.ModuleReference{File: configFile},
		TipRacks: []config.TipRackConfig{{Source: config.ModuleReference{File: racksFile}}},
	}

	var watcher Watcher
	if err := watcher.Update(rootFile, cfg); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if len(watcher.files) != 3 {
		t.Fatalf("expected 3 tracked files, got %d", len(watcher.files))
	}
	for _, path := range []string{configFile, racksFile, rootFile} {
		if _, ok := watcher.files[path]; !ok {
			t.Fatalf("file %s not tracked", path)
		}
	}
	require.Len(t, watcher.Files(), 3)
}

func TestWatcherUpdateSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")

	cfg := &config.Config{
		Source: config.ModuleReference{File: missing},
	}

	var watcher Watcher
	if err := watcher.Update("", cfg); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if len(watcher.files) != 0 {
		t.Fatalf("expected 0 tracked files, got %d", len(watcher.files))
	}
}

func TestWatcherCheckDetectsChangesAndRemovals(t *testing.T) {
	dir := t.TempDir()
	fileA := filepath.Join(dir, "a.yaml")
	fileB := filepath.Join(dir, "b.yaml")
	writeFile(t, fileA, "first")
	writeFile(t, fileB, "second")

	cfg := &config.Config{
		Source:   config.ModuleReference{File: fileA},
		Reagents: []config.ReagentConfig{{Source: config.ModuleReference{File: fileB}}},
	}

	watcher, err := NewWatcher("", cfg)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	if changed, err := watcher.Check(); err != nil {
		t.Fatalf("Check() error = %v", err)
	} else if len(changed) != 0 {
		t.Fatalf("expected no changes on first check, got %v", changed)
	}

	writeFile(t, fileA, "first but longer")
	if err := os.Remove(fileB); err != nil {
		t.Fatalf("Remove(%s) error = %v", fileB, err)
	}

	changed, err := watcher.Check()
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	require.Equal(t, []string{fileA, fileB}, changed)
}

func TestWatchReloadsUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "art.yaml")
	writeFile(t, file, "one")

	cfg := &config.Config{Source: config.ModuleReference{File: file}}
	watcher, err := NewWatcher("", cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	var seen atomic.Value
	done := make(chan error, 1)
	go func() {
		done <- watcher.Watch(ctx, "", 5*time.Millisecond, func(changed []string) *config.Config {
			seen.Store(changed)
			calls.Add(1)
			cancel()
			return cfg
		})
	}()

	writeFile(t, file, "two, longer")

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, []string{file}, seen.Load())
}

func TestWatcherHandlesNilReceiver(t *testing.T) {
	var watcher *Watcher
	if err := watcher.Update("", &config.Config{}); err != nil {
		t.Fatalf("nil watcher Update() error = %v", err)
	}
	if changed, err := watcher.Check(); err != nil {
		t.Fatalf("nil watcher Check() error = %v", err)
	} else if changed != nil {
		t.Fatalf("expected nil slice from nil watcher, got %v", changed)
	}
	require.Nil(t, watcher.Files())
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}
