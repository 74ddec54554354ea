package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeTarball builds a gzipped tarball in memory. Entries with a
// trailing slash become directories; mode 0 defaults to 0644.
func makeTarball(t *testing.T, entries map[string]string, modes map[string]int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		if name[len(name)-1] == '/' {
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeDir, Mode: 0o755}))
			continue
		}
		mode := int64(0o644)
		if m, ok := modes[name]; ok {
			mode = m
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Typeflag: tar.TypeReg, Mode: mode, Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtractFlatArchive(t *testing.T) {
	data := makeTarball(t, map[string]string{
		"model.params": "alpha",
		"README":       "hello",
	}, nil)

	dir := t.TempDir()
	require.NoError(t, ExtractToStaging(bytes.NewReader(data), dir))

	content, err := os.ReadFile(filepath.Join(dir, "model.params"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(content))
}

func TestExtractFlattensSingleWrappingDir(t *testing.T) {
	data := makeTarball(t, map[string]string{
		"item/":             "",
		"item/model.params": "alpha",
		"item/README":       "hello",
	}, nil)

	dir := t.TempDir()
	require.NoError(t, ExtractToStaging(bytes.NewReader(data), dir))

	_, err := os.Stat(filepath.Join(dir, "model.params"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "item"))
	assert.True(t, os.IsNotExist(err), "wrapping directory should be removed")
}

func TestExtractKeepsMultipleTopLevelEntries(t *testing.T) {
	data := makeTarball(t, map[string]string{
		"a/":    "",
		"a/f":   "1",
		"other": "2",
	}, nil)

	dir := t.TempDir()
	require.NoError(t, ExtractToStaging(bytes.NewReader(data), dir))
	_, err := os.Stat(filepath.Join(dir, "a", "f"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "other"))
	assert.NoError(t, err)
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	data := makeTarball(t, map[string]string{"../escape": "bad"}, nil)
	err := ExtractToStaging(bytes.NewReader(data), t.TempDir())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func TestDetectExecutables(t *testing.T) {
	data := makeTarball(t, map[string]string{
		"build.sh":     "#!/bin/sh",
		"run":          "#!/bin/sh",
		"model.params": "alpha",
	}, map[string]int64{"build.sh": 0o755, "run": 0o750})

	dir := t.TempDir()
	require.NoError(t, ExtractToStaging(bytes.NewReader(data), dir))

	executables, err := DetectExecutables(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"build.sh", "run"}, executables)
}

func TestCreateTarballRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "model.params"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "nested"), []byte("beta"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, CreateTarball(src, &buf, "Foo__MD_000000000001_000"))

	dst := t.TempDir()
	require.NoError(t, ExtractToStaging(bytes.NewReader(buf.Bytes()), dst))

	// The arcname wrapper is flattened away on extraction.
	content, err := os.ReadFile(filepath.Join(dst, "model.params"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(content))
	content, err = os.ReadFile(filepath.Join(dst, "sub", "nested"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(content))
}
