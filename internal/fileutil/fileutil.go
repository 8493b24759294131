// Package fileutil provides filesystem helpers for moving episode artifacts
// between local trees.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// CopyVerified copies src to dst and confirms what actually reached disk:
// after the copy is synced, dst is reopened and re-hashed, and its digest
// must match the source stream's. Any failure or mismatch removes dst.
// Parent directories must already exist.
func CopyVerified(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	srcHash := sha256.New()
	written, err := io.Copy(out, io.TeeReader(in, srcHash))
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
		return err
	}

	// Hash the destination from a fresh open so the comparison covers the
	// bytes on disk, not the buffers handed to the kernel.
	dstSum, dstSize, err := hashFile(dst)
	if err != nil {
		os.Remove(dst)
		return err
	}
	if dstSize != written {
		os.Remove(dst)
		return fmt.Errorf("copy size mismatch: wrote %d bytes, read back %d", written, dstSize)
	}
	if !bytes.Equal(srcHash.Sum(nil), dstSum) {
		os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: %s corrupted in transit", dst)
	}
	return nil
}

func hashFile(path string) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, 0, err
	}
	return h.Sum(nil), n, nil
}
