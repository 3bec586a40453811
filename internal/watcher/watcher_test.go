package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	fw, err := NewFileWatcher(100 * time.Millisecond)
	require.NoError(t, err)
	defer fw.Stop()

	assert.NotNil(t, fw.watcher)
	assert.NotNil(t, fw.debouncer)
}

func TestFileWatcherStopIdempotent(t *testing.T) {
	fw, err := NewFileWatcher(100 * time.Millisecond)
	require.NoError(t, err)

	assert.NoError(t, fw.Stop())
	assert.NoError(t, fw.Stop())
}

func TestExtensionFilter(t *testing.T) {
	filter := ExtensionFilter([]string{"js", "jsx"})

	assert.True(t, filter("pages/a.js"))
	assert.True(t, filter("pages/a.jsx"))
	assert.False(t, filter("pages/a.css"))
	assert.False(t, filter("pages/a"))
}

func TestExtensionFilterLeadingDot(t *testing.T) {
	filter := ExtensionFilter([]string{".ts"})
	assert.True(t, filter("pages/a.ts"))
}

func TestNoHiddenFilter(t *testing.T) {
	assert.True(t, NoHiddenFilter("pages/a.js"))
	assert.False(t, NoHiddenFilter("pages/.hidden.js"))
	assert.False(t, NoHiddenFilter("pages/.git/a.js"))
	assert.True(t, NoHiddenFilter("./pages/a.js"))
}

func TestNoTestFilter(t *testing.T) {
	assert.True(t, NoTestFilter("pages/a.js"))
	assert.False(t, NoTestFilter("pages/a_test.js"))
}

func TestFileWatcherDebouncesBatch(t *testing.T) {
	tempDir := t.TempDir()

	fw, err := NewFileWatcher(50 * time.Millisecond)
	require.NoError(t, err)
	defer fw.Stop()

	fw.AddFilter(ExtensionFilter([]string{"js"}))

	var mu sync.Mutex
	var batches [][]ChangeEvent
	fw.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, events)
		return nil
	})

	require.NoError(t, fw.AddRecursive(tempDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))

	// Rapid writes to the same file coalesce into one batch entry.
	target := filepath.Join(tempDir, "page.js")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(target, []byte("content"), 0644))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, batches[0], 1)
	assert.Equal(t, target, batches[0][0].Path)
}

func TestFileWatcherIgnoresFilteredFiles(t *testing.T) {
	tempDir := t.TempDir()

	fw, err := NewFileWatcher(30 * time.Millisecond)
	require.NoError(t, err)
	defer fw.Stop()

	fw.AddFilter(ExtensionFilter([]string{"js"}))

	var mu sync.Mutex
	seen := 0
	fw.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seen += len(events)
		return nil
	})

	require.NoError(t, fw.AddRecursive(tempDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "style.css"), []byte("x"), 0644))
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, seen)
}
