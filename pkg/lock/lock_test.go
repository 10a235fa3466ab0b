package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "scheduler.pid")

	first := NewFileLock(path)
	require.NoError(t, first.TryLock())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	// flock is per open file description, so a second open conflicts even in-process
	second := NewFileLock(path)
	assert.Error(t, second.TryLock())

	require.NoError(t, first.Unlock())
	assert.NoFileExists(t, path)

	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())
	assert.NoError(t, second.Unlock())
}

func TestAppendWriterConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task_runner.err")

	writers := make([]*AppendWriter, 3)
	for i := range writers {
		w, err := OpenAppend(path)
		require.NoError(t, err)
		writers[i] = w
	}

	line := strings.Repeat("x", 200) + "\n"
	var wg sync.WaitGroup
	for _, w := range writers {
		wg.Add(1)
		go func(w *AppendWriter) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := w.Write([]byte(line))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	for _, w := range writers {
		require.NoError(t, w.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	assert.Len(t, lines, 150)
	for _, l := range lines {
		assert.Equal(t, strings.TrimSuffix(line, "\n"), l)
	}
}

func TestAppendWriterClosed(t *testing.T) {
	w, err := OpenAppend(filepath.Join(t.TempDir(), "x.log"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
