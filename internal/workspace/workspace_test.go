package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "nested", "tmp")
	dir, release, err := Acquire(parent, "")
	require.NoError(t, err)
	assert.Equal(t, parent, filepath.Dir(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trace.json"), []byte("[]"), 0o644))

	require.NoError(t, release())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	// 重复释放无副作用
	require.NoError(t, release())
}

// 并发获取的工作区互不重叠
func TestAcquireDistinct(t *testing.T) {
	parent := t.TempDir()
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		dir, release, err := Acquire(parent, "t-")
		require.NoError(t, err)
		defer release()
		assert.False(t, seen[dir])
		seen[dir] = true
	}
}

func TestPurge(t *testing.T) {
	root := t.TempDir()
	mk := func(rel string) {
		require.NoError(t, os.MkdirAll(filepath.Join(root, rel), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, rel, "x"), []byte("x"), 0o644))
	}
	mk("__pycache__")
	mk(".pytest_cache/v/cache")
	mk("src/pkg/__pycache__")
	mk("src/pkg/keep")

	n, err := Purge(root)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, gone := range []string{"__pycache__", ".pytest_cache", "src/pkg/__pycache__"} {
		_, err := os.Stat(filepath.Join(root, gone))
		assert.True(t, os.IsNotExist(err), gone)
	}
	_, err = os.Stat(filepath.Join(root, "src/pkg/keep/x"))
	assert.NoError(t, err)
}

func TestPurgeMissingRoot(t *testing.T) {
	_, err := Purge(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
