package payments

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileReceipts stores receipts as files under a directory
type FileReceipts struct {
	dir string
}

// NewFileReceipts creates a receipt store rooted at dir
func NewFileReceipts(dir string) *FileReceipts {
	return &FileReceipts{dir: dir}
}

// Save implements ReceiptStore. The file is written under a temporary name
// and renamed, so a reader never sees a partial receipt.
func (f *FileReceipts) Save(_ context.Context, paymentID string, data []byte) (string, error) {
	if err := os.MkdirAll(f.dir, 0o750); err != nil {
		return "", fmt.Errorf("creating receipt dir: %w", err)
	}

	path := filepath.Join(f.dir, filepath.Base(paymentID)+".pdf")
	tmp, err := os.CreateTemp(f.dir, ".receipt-*")
	if err != nil {
		return "", fmt.Errorf("creating receipt file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing receipt: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("writing receipt: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("storing receipt: %w", err)
	}
	return path, nil
}
