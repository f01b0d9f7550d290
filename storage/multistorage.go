package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ruteri/attachment-store/interfaces"
)

// MultiStorageBackend mirrors objects across several backends. Stores and
// destroys fan out to every available backend; fetches fall back through the
// list in order; public URLs come from the first backend.
type MultiStorageBackend struct {
	backends []interfaces.StorageBackend
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new mirrored storage backend.
func NewMultiStorageBackend(backends []interfaces.StorageBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Store writes data to every available backend. The source is spooled to a
// local file first unless it can be rewound. It succeeds when at least one
// backend accepted the object.
func (m *MultiStorageBackend) Store(ctx context.Context, key interfaces.StorageKey, data io.Reader, opts interfaces.StoreOptions) error {
	start := time.Now()

	source, release, err := rewindable(data, key.Filename())
	if err != nil {
		return err
	}
	defer release()

	var success bool
	var errs []error
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		if _, err := source.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind source: %w", err)
		}

		if err := backend.Store(ctx, key, source, opts); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Debug("Failed to store to backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}
		success = true
	}

	if !success {
		m.log.Error("All backends failed to store data",
			slog.String("key", key.Join()),
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("all backends failed to store %s: %w", key.Join(), errors.Join(errs...))
	}

	m.log.Info("Successfully stored content",
		slog.String("key", key.Join()),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Destroy removes the object from every backend. Any failure is reported.
func (m *MultiStorageBackend) Destroy(ctx context.Context, key interfaces.StorageKey) error {
	var errs []error
	for _, backend := range m.backends {
		if err := backend.Destroy(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// FetchLocalCopy returns the copy from the first backend that has the object.
func (m *MultiStorageBackend) FetchLocalCopy(ctx context.Context, key interfaces.StorageKey) (*os.File, error) {
	start := time.Now()
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("key", key.Join()))
			continue
		}

		f, err := backend.FetchLocalCopy(ctx, key)
		if err == nil {
			m.log.Debug("Successfully fetched content",
				slog.String("backend_name", backend.Name()),
				slog.String("key", key.Join()),
				slog.Duration("duration", time.Since(start)))
			return f, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("key", key.Join()),
			"err", err)
	}

	m.log.Error("All backends failed to fetch content",
		slog.String("key", key.Join()),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	if len(errs) == 0 {
		return nil, interfaces.ErrBackendUnavailable
	}
	return nil, fmt.Errorf("all backends failed to fetch %s: %w", key.Join(), errors.Join(errs...))
}

// PublicURLFor returns the URL of the first backend.
func (m *MultiStorageBackend) PublicURLFor(key interfaces.StorageKey, opts interfaces.URLOptions) string {
	if len(m.backends) == 0 {
		return ""
	}
	return m.backends[0].PublicURLFor(key, opts)
}

// Available checks if any backend is available
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns the URI of this backend
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}

func rewindable(data io.Reader, filename string) (io.ReadSeeker, func(), error) {
	if rs, ok := data.(io.ReadSeeker); ok {
		return rs, func() {}, nil
	}
	f, err := copyToLocalFile(data, filename)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { interfaces.ReleaseLocalCopy(f) }, nil
}
