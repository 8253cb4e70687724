package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestFileLogger_ErrorFieldsAreStrings(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "mrisync.log")
	logger, err := NewFileLogger(FileLoggerConfig{FilePath: logPath, Level: INFO})
	require.NoError(t, err)

	logger.Error("Subtree failed, continuing with the rest",
		F("path", "hlp17umm00002_00001/"),
		F("error", errors.New("backend unavailable")),
	)
	require.NoError(t, logger.Close())

	entries := readEntries(t, logPath)
	require.Len(t, entries, 1)
	assert.Equal(t, "backend unavailable", entries[0].Fields["error"])
	assert.Equal(t, "UTC", entries[0].Timestamp.Location().String())
}

func TestFileLogger_AppendsAcrossRuns(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "mrisync.log")

	for _, runID := range []string{"run-1", "run-2"} {
		logger, err := NewFileLogger(FileLoggerConfig{FilePath: logPath, Level: INFO})
		require.NoError(t, err)
		logger.WithTraceID(runID).Info("Sync finished")
		require.NoError(t, logger.Close())
	}

	entries := readEntries(t, logPath)
	require.Len(t, entries, 2)
	assert.Equal(t, "run-1", entries[0].TraceID)
	assert.Equal(t, "run-2", entries[1].TraceID)
}

func TestFileLogger_RotatesAtMaxSize(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "mrisync.log")
	logger, err := NewFileLogger(FileLoggerConfig{
		FilePath:      logPath,
		Level:         INFO,
		MaxFileSize:   256,
		RotateEnabled: true,
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		logger.Info("Transfer complete", F("path", fmt.Sprintf("hlp17umm00001_00001/s00012/i%d.MRDC", i)))
	}
	require.NoError(t, logger.Close())

	rotated, err := filepath.Glob(logPath + ".*")
	require.NoError(t, err)
	assert.NotEmpty(t, rotated)

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(512))
}

func TestFileLogger_DerivedLoggersShareFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "mrisync.log")
	logger, err := NewFileLogger(FileLoggerConfig{FilePath: logPath, Level: INFO})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			traced := logger.WithTraceID(fmt.Sprintf("worker-%d", w))
			for i := 0; i < 25; i++ {
				traced.Info("Transfer complete", F("n", i))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, logger.Close())

	assert.Len(t, readEntries(t, logPath), 100)

	// Writes after Close are dropped
	logger.Info("late")
	assert.Len(t, readEntries(t, logPath), 100)
}
