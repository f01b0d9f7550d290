package storage

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ruteri/attachment-store/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageBackendFactory_File(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())
	root := filepath.Join(t.TempDir(), "files")

	backend, err := factory.StorageBackendForURI("file://" + root + "?public=/images/attachments&blocksize=4096")
	require.NoError(t, err)

	fb, ok := backend.(*FileBackend)
	require.True(t, ok)
	assert.Equal(t, root, fb.root)
	assert.Equal(t, 4096, fb.blockSize)
	assert.Equal(t, "/images/attachments/0/1/a.txt", fb.PublicURLFor(interfaces.KeyFor(1, "a.txt"), interfaces.URLOptions{}))
}

func TestStorageBackendFactory_S3(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	backend, err := factory.StorageBackendForURI("s3://AKID:SECRET@media-bucket/uploads/?region=eu-west-1")
	require.NoError(t, err)

	s3b, ok := backend.(*S3Backend)
	require.True(t, ok)
	assert.True(t, s3b.hasWriteAccess)
	assert.Equal(t, "uploads", s3b.prefix)
	assert.Equal(t, "s3-media-bucket", s3b.Name())
	assert.Equal(t,
		"https://media-bucket.s3.eu-west-1.amazonaws.com/uploads/1/2345/my_photo.png",
		s3b.PublicURLFor(interfaces.KeyFor(12345, "my_photo.png"), interfaces.URLOptions{}))

	backend, err = factory.StorageBackendForURI("s3://media-bucket?endpoint=http://localhost:9000&public=https://cdn.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/0/5/a.txt", backend.PublicURLFor(interfaces.KeyFor(5, "a.txt"), interfaces.URLOptions{}))
}

func TestStorageBackendFactory_IPFS(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	backend, err := factory.StorageBackendForURI("ipfs://localhost:5001/media?timeout=5s&public=https://gw.example.com/media")
	require.NoError(t, err)

	ib, ok := backend.(*IPFSBackend)
	require.True(t, ok)
	assert.Equal(t, "/media", ib.rootPath)
	assert.Equal(t, "ipfs-localhost-5001", ib.Name())

	path, err := ib.mfsPath(interfaces.KeyFor(12345, "x.png"))
	require.NoError(t, err)
	assert.Equal(t, "/media/1/2345/x.png", path)

	_, err = factory.StorageBackendForURI("ipfs://localhost:5001/?timeout=soon")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestStorageBackendFactory_Vault(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	backend, err := factory.StorageBackendForURI("vault://s.token@vault.example.com:8200/kv/attachments?public=https://files.example.com/private")
	require.NoError(t, err)

	vb, ok := backend.(*VaultBackend)
	require.True(t, ok)
	assert.Equal(t, "kv", vb.mountPath)
	assert.Equal(t, "attachments", vb.dataPath)

	dataPath, err := vb.kvPath("data", interfaces.KeyFor(3, "key.pem"))
	require.NoError(t, err)
	assert.Equal(t, "kv/data/attachments/0/3/key.pem", dataPath)

	metaPath, err := vb.kvPath("metadata", interfaces.KeyFor(3, "key.pem"))
	require.NoError(t, err)
	assert.Equal(t, "kv/metadata/attachments/0/3/key.pem", metaPath)

	assert.Equal(t, "https://files.example.com/private/0/3/key.pem", vb.PublicURLFor(interfaces.KeyFor(3, "key.pem"), interfaces.URLOptions{}))
}

func TestStorageBackendFactory_Unsupported(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	_, err := factory.StorageBackendForURI("github://owner/repo")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.StorageBackendFor(interfaces.StorageBackendLocation{Scheme: "ftp"})
	assert.Error(t, err)
}

func TestStorageBackendFactory_CreateMultiBackend(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	good, err := interfaces.NewStorageBackendLocation("file://" + t.TempDir() + "?public=/a")
	require.NoError(t, err)
	bad, err := interfaces.NewStorageBackendLocation("ipfs:///nohost")
	require.NoError(t, err)

	backend, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{bad, good})
	require.NoError(t, err)
	assert.Equal(t, "/a/0/1/a.txt", backend.PublicURLFor(interfaces.KeyFor(1, "a.txt"), interfaces.URLOptions{}))

	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{bad})
	assert.Error(t, err)
}

func TestStorageBackendFactory_LogsRedactCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	factory := NewStorageBackendFactory(logger)

	_, err := factory.StorageBackendForURI("s3://AKIAEXAMPLE:SUPERSECRET@media-bucket/uploads?region=eu-west-1")
	require.NoError(t, err)

	broken, err := interfaces.NewStorageBackendLocation("vault://VAULTTOKEN@/kv/attachments")
	require.NoError(t, err)
	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{broken})
	require.Error(t, err)

	logs := buf.String()
	assert.Contains(t, logs, "Creating S3 backend")
	assert.Contains(t, logs, "Failed to create storage backend")
	assert.NotContains(t, logs, "SUPERSECRET")
	assert.NotContains(t, logs, "AKIAEXAMPLE")
	assert.NotContains(t, logs, "VAULTTOKEN")
}
