package identity

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestPrefix_Shape(t *testing.T) {
	p := New()
	p.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 30, 45, 870000000, time.UTC)
	}

	prefix := p.Prefix()
	assert.Equal(t, "2025060112304587", prefix)
	assert.Regexp(t, `^\d{16}$`, prefix)
}

func TestPrefix_SortsByTime(t *testing.T) {
	p := New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	p.now = func() time.Time { return base }
	a := p.Prefix()
	p.now = func() time.Time { return base.Add(10 * time.Millisecond) }
	b := p.Prefix()
	p.now = func() time.Time { return base.Add(time.Hour) }
	c := p.Prefix()

	assert.True(t, a < b && b < c, "prefixes must sort lexicographically by time: %s %s %s", a, b, c)
}

func TestAssignPrefix(t *testing.T) {
	t.Run("renames unprefixed file", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "mod.py", "print()")

		newPath, err := New().AssignPrefix(path)
		require.NoError(t, err)
		assert.Regexp(t, `^\d{16}_mod\.py$`, filepath.Base(newPath))
		assert.NoFileExists(t, path)
		assert.FileExists(t, newPath)
	})

	t.Run("no-op on prefixed file", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "2025060112304587_mod.py", "print()")

		newPath, err := New().AssignPrefix(path)
		require.NoError(t, err)
		assert.Equal(t, path, newPath)
	})

	t.Run("collision fails loudly without overwrite", func(t *testing.T) {
		dir := t.TempDir()
		p := New()
		p.now = func() time.Time {
			return time.Date(2025, 6, 1, 12, 30, 45, 870000000, time.UTC)
		}

		path := writeFile(t, dir, "mod.py", "new content")
		existing := writeFile(t, dir, "2025060112304587_mod.py", "old content")

		_, err := p.AssignPrefix(path)
		var collision *CollisionError
		require.ErrorAs(t, err, &collision)
		assert.Equal(t, existing, collision.Target)

		// Neither file was touched
		data, readErr := os.ReadFile(existing)
		require.NoError(t, readErr)
		assert.Equal(t, "old content", string(data))
		assert.FileExists(t, path)
	})
}

func TestAssignIdentifier(t *testing.T) {
	t.Run("python gets hash comment", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "mod.py", "print()\n")

		added, err := New().AssignIdentifier(path, "DOC-X-001")
		require.NoError(t, err)
		assert.True(t, added)

		data, _ := os.ReadFile(path)
		assert.True(t, strings.HasPrefix(string(data), "# REPO-ID: DOC-X-001\n"))
	})

	t.Run("go gets line comment", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "mod.go", "package mod\n")

		_, err := New().AssignIdentifier(path, "DOC-X-002")
		require.NoError(t, err)

		data, _ := os.ReadFile(path)
		assert.True(t, strings.HasPrefix(string(data), "// REPO-ID: DOC-X-002\n"))
	})

	t.Run("markdown gets markup comment", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "notes.md", "# Notes\n")

		_, err := New().AssignIdentifier(path, "DOC-X-003")
		require.NoError(t, err)

		data, _ := os.ReadFile(path)
		assert.True(t, strings.HasPrefix(string(data), "<!-- REPO-ID: DOC-X-003 -->\n"))
		assert.Equal(t, "DOC-X-003", HeaderIdentifier(data))
	})

	t.Run("shebang stays first", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "run.sh", "#!/bin/bash\necho hi\n")

		_, err := New().AssignIdentifier(path, "DOC-X-004")
		require.NoError(t, err)

		data, _ := os.ReadFile(path)
		lines := strings.SplitN(string(data), "\n", 3)
		assert.Equal(t, "#!/bin/bash", lines[0])
		assert.Equal(t, "# REPO-ID: DOC-X-004", lines[1])
	})

	t.Run("idempotent", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "mod.py", "print()\n")

		added, err := New().AssignIdentifier(path, "DOC-X-005")
		require.NoError(t, err)
		assert.True(t, added)

		before, _ := os.ReadFile(path)
		added, err = New().AssignIdentifier(path, "DOC-X-005")
		require.NoError(t, err)
		assert.False(t, added)

		after, _ := os.ReadFile(path)
		assert.Equal(t, before, after)
	})

	t.Run("existing identity is never rewritten", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "mod.py", "# REPO-ID: DOC-OLD-001\nprint()\n")

		added, err := New().AssignIdentifier(path, "DOC-NEW-002")
		require.NoError(t, err)
		assert.False(t, added)

		data, _ := os.ReadFile(path)
		assert.Equal(t, "DOC-OLD-001", HeaderIdentifier(data))
	})
}

func TestProcessFile(t *testing.T) {
	t.Run("assigns both prefix and header", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "mod.py", "print()\n")

		res, err := New().ProcessFile(path, "DOC-X-001")
		require.NoError(t, err)

		assert.True(t, res.Renamed)
		assert.True(t, res.HeaderAdded)
		assert.Regexp(t, regexp.MustCompile(`^\d{16}_mod\.py$`), filepath.Base(res.FinalPath))

		data, _ := os.ReadFile(res.FinalPath)
		assert.True(t, strings.HasPrefix(string(data), "# REPO-ID: DOC-X-001"))
	})

	t.Run("idempotent end to end", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "mod.py", "print()\n")
		p := New()

		first, err := p.ProcessFile(path, "DOC-X-001")
		require.NoError(t, err)
		before, _ := os.ReadFile(first.FinalPath)

		second, err := p.ProcessFile(first.FinalPath, "DOC-X-001")
		require.NoError(t, err)

		assert.False(t, second.Renamed)
		assert.False(t, second.HeaderAdded)
		assert.Equal(t, first.FinalPath, second.FinalPath)

		after, _ := os.ReadFile(second.FinalPath)
		assert.Equal(t, before, after, "second run must not mutate the file")
	})

	t.Run("derives identifier when none given", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "my_module.py", "print()\n")

		res, err := New().ProcessFile(path, "")
		require.NoError(t, err)
		assert.Equal(t, "FILE-MY-MODULE", res.Identifier)

		data, _ := os.ReadFile(res.FinalPath)
		assert.Equal(t, "FILE-MY-MODULE", HeaderIdentifier(data))
	})
}

func TestHasIdentity(t *testing.T) {
	dir := t.TempDir()
	p := New()

	plain := writeFile(t, dir, "plain.py", "print()\n")
	ok, err := p.HasIdentity(plain)
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := p.ProcessFile(plain, "DOC-X-001")
	require.NoError(t, err)

	ok, err = p.HasIdentity(res.FinalPath)
	require.NoError(t, err)
	assert.True(t, ok)

	// Prefix alone is not an identity
	prefixOnly := writeFile(t, dir, "2025060112304587_bare.py", "print()\n")
	ok, err = p.HasIdentity(prefixOnly)
	require.NoError(t, err)
	assert.False(t, ok)
}
