package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/attachment-store/interfaces"
)

// validateKey rejects keys that could escape a backend's root.
func validateKey(key interfaces.StorageKey) error {
	if len(key) == 0 {
		return fmt.Errorf("empty storage key")
	}
	for _, segment := range key {
		if segment == "" || segment == "." || segment == ".." || strings.ContainsAny(segment, `/\`) {
			return fmt.Errorf("invalid storage key segment %q", segment)
		}
	}
	return nil
}

// copyBlocks copies src to dst in chunks of blockSize, checking ctx between
// chunks.
func copyBlocks(ctx context.Context, dst io.Writer, src io.Reader, blockSize int) (int64, error) {
	buf := make([]byte, blockSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if wn != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// copyToLocalFile writes src to a new temporary file named after filename's
// extension and rewinds it for reading.
func copyToLocalFile(src io.Reader, filename string) (*os.File, error) {
	tmp, err := os.CreateTemp("", "tmpf-*"+filepath.Ext(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := io.Copy(tmp, src); err != nil {
		interfaces.ReleaseLocalCopy(tmp)
		return nil, fmt.Errorf("failed to copy to temporary file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		interfaces.ReleaseLocalCopy(tmp)
		return nil, fmt.Errorf("failed to rewind temporary file: %w", err)
	}
	return tmp, nil
}
