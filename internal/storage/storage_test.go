package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic_WritesReadableFile(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "Customers", "ACME", "Ticket-1.pdf")

	require.NoError(t, WriteAtomic(root, target, []byte("hello world")))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DefaultFileMode), info.Mode().Perm())
}

func TestWriteAtomic_NoTempFileLeftBehindOnSuccess(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "Ticket-1.pdf")
	require.NoError(t, WriteAtomic(root, target, []byte("data")))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Ticket-1.pdf", entries[0].Name())
}

func TestWriteAtomic_RejectsEscapeFromRoot(t *testing.T) {
	root := t.TempDir()
	escaped := filepath.Join(root, "..", "escaped.pdf")
	err := WriteAtomic(root, escaped, []byte("x"))
	require.Error(t, err)
}

func TestWriteAtomic_OverwriteIsAtomicAndClean(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "Ticket-1.pdf")
	require.NoError(t, WriteAtomic(root, target, []byte("first")))
	require.NoError(t, WriteAtomic(root, target, []byte("second, and longer")))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "second, and longer", string(data))
}

func TestWriteDirect_WritesReadableFile(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "audit", "Ticket-1.json")
	require.NoError(t, WriteDirect(root, target, []byte(`{"ok":true}`)))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
}

func TestMoveWithinRoot(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "staging", "Ticket-1.pdf")
	dst := filepath.Join(root, "Customers", "ACME", "Ticket-1.pdf")
	require.NoError(t, WriteAtomic(root, src, []byte("payload")))
	require.NoError(t, MoveWithinRoot(root, src, dst))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestMoveWithinRoot_RejectsDestinationEscape(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "Ticket-1.pdf")
	require.NoError(t, WriteAtomic(root, src, []byte("payload")))

	dst := filepath.Join(root, "..", "outside.pdf")
	err := MoveWithinRoot(root, src, dst)
	require.Error(t, err)
}

func TestEnsureWithinRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureWithinRoot(root, filepath.Join(root, "a", "b")))
	require.Error(t, EnsureWithinRoot(root, filepath.Join(root, "..", "b")))
}
