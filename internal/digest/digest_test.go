package digest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	d1, err := File(path)
	require.NoError(t, err)
	assert.Len(t, d1, 64)
	assert.Equal(t, Bytes([]byte("hello")), d1)

	// Same content, same digest
	d2, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	// Changed content, changed digest
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))
	d3, err := File(path)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestFile_Missing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
