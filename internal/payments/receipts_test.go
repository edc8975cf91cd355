package payments

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileReceiptsSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "receipts")
	receipts := NewFileReceipts(dir)

	path, err := receipts.Save(context.Background(), "pay_1", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pay_1.pdf"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestFileReceiptsOverwrite(t *testing.T) {
	receipts := NewFileReceipts(t.TempDir())

	_, err := receipts.Save(context.Background(), "pay_1", []byte("old"))
	require.NoError(t, err)
	path, err := receipts.Save(context.Background(), "pay_1", []byte("new"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestFileReceiptsStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	path, err := NewFileReceipts(dir).Save(context.Background(), "../../escape", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.pdf"), path)
}
