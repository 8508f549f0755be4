package fileutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// ErrMismatch reports that a copied file does not match its source.
var ErrMismatch = errors.New("copy mismatch")

// CopyResult describes a completed verified copy.
type CopyResult struct {
	Bytes  int64
	SHA256 string
}

// CopyVerified streams src to a newly created dst, fsyncs it, and checks the
// byte count against expectedSize (skipped when negative) and the source's
// current size. When verifyDigest is set, dst is re-read from disk and its
// SHA256 compared with the digest of the source stream. dst is removed on any
// failure.
func CopyVerified(src, dst string, expectedSize int64, verifyDigest bool) (result CopyResult, err error) {
	in, err := os.Open(src)
	if err != nil {
		return result, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return result, fmt.Errorf("create destination: %w", err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(dst)
		}
	}()

	srcHasher := sha256.New()
	written, err := io.Copy(out, io.TeeReader(in, srcHasher))
	if err != nil {
		return result, fmt.Errorf("copy: %w", err)
	}
	if err = out.Sync(); err != nil {
		return result, fmt.Errorf("sync destination: %w", err)
	}
	if err = out.Close(); err != nil {
		return result, fmt.Errorf("close destination: %w", err)
	}

	info, err := in.Stat()
	if err != nil {
		return result, fmt.Errorf("stat source: %w", err)
	}
	if written != info.Size() {
		err = fmt.Errorf("%w: source has %d bytes, copied %d", ErrMismatch, info.Size(), written)
		return result, err
	}
	if expectedSize >= 0 && written != expectedSize {
		err = fmt.Errorf("%w: expected %d bytes, copied %d", ErrMismatch, expectedSize, written)
		return result, err
	}

	sum := srcHasher.Sum(nil)
	if verifyDigest {
		var onDisk []byte
		onDisk, err = hashPath(dst)
		if err != nil {
			return result, fmt.Errorf("re-read destination: %w", err)
		}
		if !bytes.Equal(sum, onDisk) {
			err = fmt.Errorf("%w: sha256 differs after copy", ErrMismatch)
			return result, err
		}
	}

	return CopyResult{Bytes: written, SHA256: hex.EncodeToString(sum)}, nil
}

// HashFile returns the hex SHA256 of the file at path.
func HashFile(path string) (string, error) {
	sum, err := hashPath(path)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

func hashPath(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// RenameDurable renames src to dst and fsyncs the destination directory so
// the new name survives a crash.
func RenameDurable(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	return SyncDir(filepath.Dir(dst))
}

// WriteFileAtomic writes data to a temporary sibling of path and renames it
// into place, so readers only ever observe the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := RenameDurable(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// SyncDir fsyncs a directory. Filesystems that do not support directory sync
// are tolerated.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTSUP) {
		return err
	}
	return nil
}
