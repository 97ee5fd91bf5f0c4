package artifacts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRun_CreatesDateAndRunDirectories(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	run, err := NewRun(root, now, 1000)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "2026-07-31", "run_1000"), run.Dir)

	info, err := os.Stat(run.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCleanupOlderThan_RemovesOnlyStaleDateDirectories(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "2026-07-01"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2026-07-30"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-date"), 0o755))

	removed, err := CleanupOlderThan(root, now, 7)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"2026-07-01"}, removed)

	_, err = os.Stat(filepath.Join(root, "2026-07-30"))
	assert.NoError(t, err, "recent date directory survives")
	_, err = os.Stat(filepath.Join(root, "not-a-date"))
	assert.NoError(t, err, "unparseable directory name is left alone")
}

func TestCleanupOlderThan_MissingRootIsNotAnError(t *testing.T) {
	removed, err := CleanupOlderThan(filepath.Join(t.TempDir(), "missing"), time.Now(), 7)
	require.NoError(t, err)
	assert.Empty(t, removed)
}
