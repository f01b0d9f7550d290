package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/attachment-store/interfaces"
)

// DefaultVaultMaxObjectSize bounds objects written to Vault. KV entries are
// sent in a single request, so large files belong in another backend.
const DefaultVaultMaxObjectSize = 8 << 20

// VaultConfig collects the parameters of a Vault backend.
type VaultConfig struct {
	// Address of the Vault server, e.g. https://vault.example.com:8200
	Address string
	// Token authenticates requests. Ignored when ClientCert is set.
	Token string
	// ClientCert enables TLS client certificate authentication.
	ClientCert *tls.Certificate
	// MountPath of the KV v2 engine, e.g. "secret"
	MountPath string
	// DataPath inside the mount, e.g. "attachments"
	DataPath string
	// PublicBase is the URL of the authenticated proxy that serves objects.
	PublicBase    string
	MaxObjectSize int64
}

// VaultBackend implements a storage backend on a HashiCorp Vault KV v2 engine.
// It is meant for small private attachments; object bytes are stored base64
// encoded next to their content type.
type VaultBackend struct {
	client        *api.Client
	mountPath     string
	dataPath      string
	publicBase    string
	maxObjectSize int64
	log           *slog.Logger
	locationURI   string
}

// NewVaultBackend creates a new Vault storage backend.
func NewVaultBackend(cfg VaultConfig, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = cfg.Address

	if cfg.ClientCert != nil {
		config.HttpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{*cfg.ClientCert},
				},
			},
			Timeout: 30 * time.Second,
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.ClientCert == nil && cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mountPath := strings.Trim(cfg.MountPath, "/")
	if mountPath == "" {
		mountPath = "secret"
	}
	dataPath := strings.Trim(cfg.DataPath, "/")

	maxSize := cfg.MaxObjectSize
	if maxSize <= 0 {
		maxSize = DefaultVaultMaxObjectSize
	}

	return &VaultBackend{
		client:        client,
		mountPath:     mountPath,
		dataPath:      dataPath,
		publicBase:    strings.TrimSuffix(cfg.PublicBase, "/"),
		maxObjectSize: maxSize,
		log:           log,
		locationURI:   fmt.Sprintf("vault://%s/%s/%s", cfg.Address, mountPath, dataPath),
	}, nil
}

// Store writes the object as a new KV version.
func (b *VaultBackend) Store(ctx context.Context, key interfaces.StorageKey, data io.Reader, opts interfaces.StoreOptions) error {
	start := time.Now()
	secretPath, err := b.kvPath("data", key)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(data, b.maxObjectSize+1))
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	if n > b.maxObjectSize {
		return fmt.Errorf("object exceeds Vault size limit of %d bytes", b.maxObjectSize)
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"content":      base64.StdEncoding.EncodeToString(buf.Bytes()),
			"content_type": opts.ContentType,
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, secretPath, secretData); err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", secretPath),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored content in Vault",
		slog.String("path", secretPath),
		slog.Int64("size", n),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Destroy deletes every version of the object by removing its metadata.
// Vault answers 204 for missing paths, so absent objects are not an error.
func (b *VaultBackend) Destroy(ctx context.Context, key interfaces.StorageKey) error {
	metadataPath, err := b.kvPath("metadata", key)
	if err != nil {
		return err
	}

	if _, err := b.client.Logical().DeleteWithContext(ctx, metadataPath); err != nil {
		b.log.Error("Failed to delete from Vault",
			slog.String("path", metadataPath),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Destroyed content in Vault", slog.String("path", metadataPath))
	return nil
}

// FetchLocalCopy reads the latest version of the object into a temporary file.
func (b *VaultBackend) FetchLocalCopy(ctx context.Context, key interfaces.StorageKey) (*os.File, error) {
	secretPath, err := b.kvPath("data", key)
	if err != nil {
		return nil, err
	}

	secret, err := b.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", secretPath),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		b.log.Debug("Content not found in Vault", slog.String("path", secretPath))
		return nil, interfaces.ErrContentNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		// A deleted version carries metadata but no data.
		return nil, interfaces.ErrContentNotFound
	}

	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid content format in Vault data")
	}

	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Vault content: %w", err)
	}

	return copyToLocalFile(bytes.NewReader(raw), key.Filename())
}

// PublicURLFor returns {publicBase}/{key}.
func (b *VaultBackend) PublicURLFor(key interfaces.StorageKey, opts interfaces.URLOptions) string {
	return b.publicBase + "/" + key.Join()
}

// Available checks if the Vault backend is accessible.
// It uses the health endpoint to verify that Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

// kvPath builds a KV v2 path, where kind is "data" or "metadata".
func (b *VaultBackend) kvPath(kind string, key interfaces.StorageKey) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	parts := []string{b.mountPath, kind}
	if b.dataPath != "" {
		parts = append(parts, b.dataPath)
	}
	return strings.Join(append(parts, key...), "/"), nil
}
