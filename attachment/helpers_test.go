package attachment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ruteri/attachment-store/interfaces"
	"github.com/ruteri/attachment-store/metadata"
	"github.com/ruteri/attachment-store/registry"
	"github.com/ruteri/attachment-store/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingBackend wraps a file backend and records mutating calls.
type recordingBackend struct {
	*storage.FileBackend
	root string

	mu         sync.Mutex
	stored     []string
	destroyed  []string
	storeErr   error
	destroyErr error
}

func newRecordingBackend(t *testing.T, publicBase string) *recordingBackend {
	t.Helper()
	root := t.TempDir()
	fb, err := storage.NewFileBackend(root, publicBase, discardLogger())
	require.NoError(t, err)
	return &recordingBackend{FileBackend: fb, root: root}
}

func (b *recordingBackend) Store(ctx context.Context, key interfaces.StorageKey, data io.Reader, opts interfaces.StoreOptions) error {
	b.mu.Lock()
	b.stored = append(b.stored, key.Join())
	err := b.storeErr
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.FileBackend.Store(ctx, key, data, opts)
}

func (b *recordingBackend) Destroy(ctx context.Context, key interfaces.StorageKey) error {
	b.mu.Lock()
	b.destroyed = append(b.destroyed, key.Join())
	err := b.destroyErr
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.FileBackend.Destroy(ctx, key)
}

func (b *recordingBackend) path(key ...string) string {
	return filepath.Join(append([]string{b.root}, key...)...)
}

func (b *recordingBackend) read(t *testing.T, key ...string) string {
	t.Helper()
	data, err := os.ReadFile(b.path(key...))
	require.NoError(t, err)
	return string(data)
}

// copyHandler produces a representation by copying the original file.
type copyHandler struct {
	calls atomic.Int64
	err   error
	none  bool
}

func (h *copyHandler) CreateRepresentation(ctx context.Context, att *interfaces.Attachment, backend interfaces.StorageBackend, rtype, ext string, opts interfaces.RepresentationOptions) (*os.File, error) {
	h.calls.Inc()
	if h.err != nil {
		return nil, h.err
	}
	if h.none {
		return nil, nil
	}
	key, err := att.StorageKey()
	if err != nil {
		return nil, err
	}
	src, err := backend.FetchLocalCopy(ctx, key)
	if err != nil {
		return nil, nil
	}
	defer interfaces.ReleaseLocalCopy(src)

	dst, err := os.CreateTemp("", "repr-*."+ext)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		interfaces.ReleaseLocalCopy(dst)
		return nil, err
	}
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		interfaces.ReleaseLocalCopy(dst)
		return nil, err
	}
	return dst, nil
}

var errHandlerBroken = errors.New("handler misconfigured")

type fixture struct {
	svc     *Service
	store   *metadata.MemoryStore
	reg     *registry.Registry
	local   *recordingBackend
	archive *recordingBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	local := newRecordingBackend(t, "/images/attachments")
	archive := newRecordingBackend(t, "https://archive.example.com")
	reg.RegisterStorageBackend("local", local)
	reg.RegisterStorageBackend("archive", archive)

	store := metadata.NewMemoryStore()
	return &fixture{
		svc:     NewService(reg, store, discardLogger(), nil),
		store:   store,
		reg:     reg,
		local:   local,
		archive: archive,
	}
}

func (f *fixture) upload(t *testing.T, name, content string) *interfaces.Attachment {
	t.Helper()
	att, err := f.svc.Attach(context.Background(), interfaces.Owner{Kind: "user", ID: "1"}, "photos",
		NewUpload(strings.NewReader(content), name, "image/png", int64(len(content))), "")
	require.NoError(t, err)
	require.NotNil(t, att)
	return att
}
