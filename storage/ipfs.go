package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/attachment-store/interfaces"
)

// IPFSBackend implements a storage backend on the mutable file system (MFS)
// of an IPFS node. Objects are written to {rootPath}/{major}/{minor}/{filename}
// so the sharded layout survives content updates.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	rootPath    string
	publicBase  string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates a new IPFS storage backend connected to the node API
// at host:port.
func NewIPFSBackend(host, port, rootPath, publicBase string, timeout time.Duration, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	rootPath = "/" + strings.Trim(rootPath, "/")
	uri := fmt.Sprintf("ipfs://%s%s?timeout=%s", apiURL, rootPath, timeout)

	sh := shell.NewShell(apiURL)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}

	return &IPFSBackend{
		shell:       sh,
		host:        host,
		port:        port,
		rootPath:    rootPath,
		publicBase:  strings.TrimSuffix(publicBase, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

// Store writes data to the MFS path for key, creating parent directories
// and truncating any previous content.
func (b *IPFSBackend) Store(ctx context.Context, key interfaces.StorageKey, data io.Reader, opts interfaces.StoreOptions) error {
	mfsPath, err := b.mfsPath(key)
	if err != nil {
		return err
	}

	if !b.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	err = b.shell.FilesWrite(ctx, mfsPath, data,
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return fmt.Errorf("failed to write data to IPFS: %w", err)
	}

	b.log.Debug("Stored content in IPFS",
		slog.String("path", mfsPath),
		slog.String("contentType", opts.ContentType))
	return nil
}

// Destroy removes the MFS path for key. A missing path is not an error.
func (b *IPFSBackend) Destroy(ctx context.Context, key interfaces.StorageKey) error {
	mfsPath, err := b.mfsPath(key)
	if err != nil {
		return err
	}

	if !b.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	if err := b.shell.FilesRm(ctx, mfsPath, true); err != nil && !isIPFSNotFound(err) {
		return fmt.Errorf("failed to remove data from IPFS: %w", err)
	}

	b.log.Debug("Destroyed content in IPFS", slog.String("path", mfsPath))
	return nil
}

// FetchLocalCopy reads the MFS path for key into a temporary file.
func (b *IPFSBackend) FetchLocalCopy(ctx context.Context, key interfaces.StorageKey) (*os.File, error) {
	start := time.Now()
	mfsPath, err := b.mfsPath(key)
	if err != nil {
		return nil, err
	}

	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.FilesRead(ctx, mfsPath)
	if err != nil {
		if isIPFSNotFound(err) {
			b.log.Debug("Content not found in IPFS",
				slog.String("path", mfsPath),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrContentNotFound
		}

		b.log.Error("Failed to fetch data from IPFS",
			slog.String("path", mfsPath),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	defer reader.Close()

	f, err := copyToLocalFile(reader, key.Filename())
	if err != nil {
		return nil, err
	}

	b.log.Debug("Fetched content from IPFS",
		slog.String("path", mfsPath),
		slog.Duration("duration", time.Since(start)))
	return f, nil
}

// PublicURLFor returns {publicBase}/{key}. The public base is expected to be
// a gateway or proxy that resolves the backend's MFS root.
func (b *IPFSBackend) PublicURLFor(key interfaces.StorageKey, opts interfaces.URLOptions) string {
	return b.publicBase + "/" + key.Join()
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) mfsPath(key interfaces.StorageKey) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return path.Join(append([]string{b.rootPath}, key...)...), nil
}

func isIPFSNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "file does not exist") || strings.Contains(msg, "no link named")
}
