package studio

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, body := range entries {
		out, err := w.Create(name)
		require.NoError(t, err)
		_, err = out.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtractZip(t *testing.T) {
	src := writeZip(t, map[string]string{
		"index.html":      "<html></html>",
		"src/App.tsx":     "export default 1",
		"src/components/": "",
		"metadata.json":   `{"name":"demo"}`,
		"assets/logo.svg": "<svg/>",
	})
	dest := filepath.Join(t.TempDir(), "deployments", "p-1")

	n, err := ExtractZip(src, dest)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	data, err := os.ReadFile(filepath.Join(dest, "src", "App.tsx"))
	require.NoError(t, err)
	assert.Equal(t, "export default 1", string(data))
	info, err := os.Stat(filepath.Join(dest, "src", "components"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	for _, name := range []string{"../evil.sh", "src/../../evil.sh", "/etc/passwd"} {
		src := writeZip(t, map[string]string{"ok.txt": "ok", name: "x"})
		dest := filepath.Join(t.TempDir(), "out")

		_, err := ExtractZip(src, dest)
		assert.ErrorIs(t, err, ErrUnsafePath, name)
		_, statErr := os.Stat(filepath.Join(dest, "ok.txt"))
		assert.True(t, os.IsNotExist(statErr), "nothing is written for %s", name)
	}
}

func TestExtractZipNotAZip(t *testing.T) {
	src := filepath.Join(t.TempDir(), "app.zip")
	require.NoError(t, os.WriteFile(src, []byte("not a zip"), 0644))
	_, err := ExtractZip(src, t.TempDir())
	assert.Error(t, err)
}

func TestSafePath(t *testing.T) {
	base := t.TempDir()

	p, err := SafePath(base, "project-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "project-1"), p)

	p, err = SafePath(base, "a/./b/../c")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "a", "c"), p)

	for _, bad := range []string{"..", "../x", "/abs", "a/../../x"} {
		_, err := SafePath(base, bad)
		assert.ErrorIs(t, err, ErrUnsafePath, bad)
	}
}
