package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLogWriteAndPrune(t *testing.T) {
	st := &Store{StateDir: t.TempDir(), LogRetention: 2}
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		path, err := st.WriteRunLog("job-1", base.Add(time.Duration(i)*time.Minute), "run "+string(rune('a'+i))+"\n")
		require.NoError(t, err)
		assert.FileExists(t, path)
	}

	latest, err := st.LatestRunLog("job-1")
	require.NoError(t, err)
	assert.Equal(t, "run d\n", latest)

	removed, err := st.PruneRunLogs("job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	paths, err := st.ListRunLogs("job-1")
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, st.RunLogPath("job-1", base.Add(3*time.Minute)), paths[0])
	assert.Equal(t, st.RunLogPath("job-1", base.Add(2*time.Minute)), paths[1])
}

func TestPruneAllRunLogs(t *testing.T) {
	st := &Store{StateDir: t.TempDir(), LogRetention: 1}
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b"} {
		for i := 0; i < 3; i++ {
			_, err := st.WriteRunLog(id, base.Add(time.Duration(i)*time.Second), "x")
			require.NoError(t, err)
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(st.StateDir, "runs", "stray.txt"), []byte("x"), 0o644))

	removed, err := st.PruneAllRunLogs()
	require.NoError(t, err)
	assert.Equal(t, 4, removed)
}

func TestRunLogMissing(t *testing.T) {
	st := &Store{StateDir: t.TempDir(), LogRetention: 1}

	_, err := st.LatestRunLog("job-1")
	require.ErrorIs(t, err, ErrRunLogNotFound)

	removed, err := st.PruneAllRunLogs()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRunLogRejectsPathTraversal(t *testing.T) {
	st := &Store{StateDir: t.TempDir(), LogRetention: 1}
	for _, id := range []string{"", ".", "..", "../etc", "a/b"} {
		_, err := st.WriteRunLog(id, time.Now(), "x")
		require.ErrorIs(t, err, ErrInvalidJobID, id)
		_, err = st.LatestRunLog(id)
		require.ErrorIs(t, err, ErrInvalidJobID, id)
	}
}

func TestTailLines(t *testing.T) {
	content := "one\ntwo\nthree\n"
	assert.Equal(t, content, TailLines(content, 0))
	assert.Equal(t, "two\nthree\n", TailLines(content, 2))
	assert.Equal(t, "one\ntwo\nthree\n", TailLines(content, 10))
}
