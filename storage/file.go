package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/attachment-store/interfaces"
)

// DefaultBlockSize is the chunk size FileBackend streams sources in.
const DefaultBlockSize = 1024

// FileBackend implements a storage backend using the local file system.
// Objects live at {root}/{major}/{minor}/{filename} and are served from
// {publicBase}/{major}/{minor}/{filename}.
type FileBackend struct {
	root        string
	publicBase  string
	blockSize   int
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file storage backend rooted at root.
func NewFileBackend(root, publicBase string, log *slog.Logger) (*FileBackend, error) {
	if root == "" {
		return nil, errors.New("file backend root is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	return &FileBackend{
		root:        root,
		publicBase:  strings.TrimSuffix(publicBase, "/"),
		blockSize:   DefaultBlockSize,
		log:         log,
		locationURI: fmt.Sprintf("file://%s?public=%s", root, publicBase),
	}, nil
}

// WithBlockSize overrides the streaming chunk size.
func (b *FileBackend) WithBlockSize(size int) *FileBackend {
	if size > 0 {
		b.blockSize = size
	}
	return b
}

// Store streams data to the file for key, creating shard directories as
// needed. The object is written to a temporary file and renamed into place,
// so an existing object is replaced atomically.
func (b *FileBackend) Store(ctx context.Context, key interfaces.StorageKey, data io.Reader, opts interfaces.StoreOptions) error {
	filePath, err := b.filenameFor(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".store-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	written, err := copyBlocks(ctx, tmp, data, b.blockSize)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	b.log.Debug("Stored content in file",
		slog.String("path", filePath),
		slog.Int64("size", written),
		slog.Bool("public", opts.Public))

	return nil
}

// Destroy removes the file for key. A missing file is not an error.
func (b *FileBackend) Destroy(ctx context.Context, key interfaces.StorageKey) error {
	filePath, err := b.filenameFor(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}

	b.log.Debug("Destroyed content in file", slog.String("path", filePath))
	return nil
}

// FetchLocalCopy copies the stored file to a fresh temporary file that keeps
// the original extension.
func (b *FileBackend) FetchLocalCopy(ctx context.Context, key interfaces.StorageKey) (*os.File, error) {
	filePath, err := b.filenameFor(key)
	if err != nil {
		return nil, err
	}

	src, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	return copyToLocalFile(src, key.Filename())
}

// PublicURLFor joins the public base path with the key segments.
func (b *FileBackend) PublicURLFor(key interfaces.StorageKey, opts interfaces.URLOptions) string {
	return b.publicBase + "/" + key.Join()
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.root)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.root))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) filenameFor(key interfaces.StorageKey) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(append([]string{b.root}, key...)...), nil
}
