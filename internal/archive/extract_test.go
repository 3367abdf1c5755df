package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liangyou/devkit/pkg/models"
)

type tarEntry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func writeTarGz(t *testing.T, entries []tarEntry) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "download.tmp")
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o755, Typeflag: e.typeflag, Linkname: e.linkname}
		if e.typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return p
}

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "download.tmp")
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return p
}

func TestExtractTarGzWithWrapperDir(t *testing.T) {
	t.Parallel()

	archivePath := writeTarGz(t, []tarEntry{
		{name: "jdk-21.0.1/", typeflag: tar.TypeDir},
		{name: "jdk-21.0.1/bin/", typeflag: tar.TypeDir},
		{name: "jdk-21.0.1/bin/java", body: "#!/bin/sh\n", typeflag: tar.TypeReg},
		{name: "jdk-21.0.1/bin/jre", typeflag: tar.TypeSymlink, linkname: "java"},
	})
	dest := filepath.Join(t.TempDir(), "staging")

	require.NoError(t, NewUnpacker().Extract(context.Background(), archivePath, dest))

	root, err := SingleRoot(dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "jdk-21.0.1"), root)

	data, err := os.ReadFile(filepath.Join(root, "bin", "java"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))

	link, err := os.Readlink(filepath.Join(root, "bin", "jre"))
	require.NoError(t, err)
	assert.Equal(t, "java", link)
}

func TestExtractZipFlatLayout(t *testing.T) {
	t.Parallel()

	archivePath := writeZip(t, map[string]string{
		"bin/gradle": "run",
		"lib/a.jar":  "jar",
	})
	dest := filepath.Join(t.TempDir(), "staging")

	require.NoError(t, NewUnpacker().Extract(context.Background(), archivePath, dest))

	root, err := SingleRoot(dest)
	require.NoError(t, err)
	assert.Equal(t, dest, root, "multiple top-level entries keep the staging dir as root")
	assert.FileExists(t, filepath.Join(root, "bin", "gradle"))
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	archivePath := writeTarGz(t, []tarEntry{
		{name: "../../evil", body: "x", typeflag: tar.TypeReg},
	})
	dest := filepath.Join(t.TempDir(), "staging")

	err := NewUnpacker().Extract(context.Background(), archivePath, dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCorruptArchive)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "evil"))
}

func TestExtractRejectsEscapingSymlink(t *testing.T) {
	t.Parallel()

	archivePath := writeTarGz(t, []tarEntry{
		{name: "pkg/", typeflag: tar.TypeDir},
		{name: "pkg/passwd", typeflag: tar.TypeSymlink, linkname: "../../../etc/passwd"},
	})

	err := NewUnpacker().Extract(context.Background(), archivePath, filepath.Join(t.TempDir(), "staging"))
	assert.ErrorIs(t, err, models.ErrCorruptArchive)
}

func TestExtractUnknownFormat(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "download.tmp")
	require.NoError(t, os.WriteFile(p, []byte("<html>404</html>"), 0o644))

	err := NewUnpacker().Extract(context.Background(), p, filepath.Join(t.TempDir(), "staging"))
	assert.ErrorIs(t, err, models.ErrCorruptArchive)
}

func TestExtractTruncatedGzip(t *testing.T) {
	t.Parallel()

	good := writeTarGz(t, []tarEntry{{name: "bin/tool", body: "0123456789abcdef", typeflag: tar.TypeReg}})
	data, err := os.ReadFile(good)
	require.NoError(t, err)
	bad := filepath.Join(t.TempDir(), "truncated.tmp")
	require.NoError(t, os.WriteFile(bad, data[:len(data)/2], 0o644))

	err = NewUnpacker().Extract(context.Background(), bad, filepath.Join(t.TempDir(), "staging"))
	assert.ErrorIs(t, err, models.ErrCorruptArchive)
}

func TestExtractHonoursCancellation(t *testing.T) {
	t.Parallel()

	archivePath := writeTarGz(t, []tarEntry{{name: "bin/tool", body: "x", typeflag: tar.TypeReg}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewUnpacker().Extract(ctx, archivePath, filepath.Join(t.TempDir(), "staging"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, models.ErrCorruptArchive)
}

func TestSingleRootEmpty(t *testing.T) {
	t.Parallel()

	_, err := SingleRoot(t.TempDir())
	assert.ErrorIs(t, err, models.ErrCorruptArchive)
}
