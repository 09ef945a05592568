package backup

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func TestWriteListRestore(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "files", "service"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "service.xlsx"), []byte("workbook"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(src, "files", "service", "id.png"), []byte("png-bytes"), 0o600))

	var buf bytes.Buffer
	written, err := Write(&buf, src)
	require.NoError(t, err)

	want := []Entry{
		{Name: "files/service/id.png", Size: 9},
		{Name: "service.xlsx", Size: 8},
	}
	assert.Equal(t, want, written)

	listed, err := List(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, want, listed)

	dst := t.TempDir()
	restored, err := Restore(bytes.NewReader(buf.Bytes()), dst)
	require.NoError(t, err)
	assert.Equal(t, want, restored)

	data, err := os.ReadFile(filepath.Join(dst, "files", "service", "id.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestWriteRequiresDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err := Write(&bytes.Buffer{}, file)
	assert.Error(t, err)

	_, err = Write(&bytes.Buffer{}, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestRestoreRejectsEscapingEntries(t *testing.T) {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(xw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil.txt", Mode: 0o600, Size: 1, Typeflag: tar.TypeReg}))
	_, err = tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, xw.Close())

	_, err = Restore(&buf, t.TempDir())
	assert.Error(t, err)
}

func TestListRejectsGarbage(t *testing.T) {
	_, err := List(bytes.NewReader([]byte("not xz")))
	assert.Error(t, err)
}
