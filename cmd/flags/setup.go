package flags

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/attachment-store/attachment"
	"github.com/ruteri/attachment-store/interfaces"
	"github.com/ruteri/attachment-store/metadata"
	"github.com/ruteri/attachment-store/registry"
	"github.com/ruteri/attachment-store/representation"
	"github.com/ruteri/attachment-store/storage"
	"github.com/urfave/cli/v2"
)

const (
	ThumbnailerConvert = "convert"
	ThumbnailerImaging = "imaging"
	ThumbnailerNone    = "none"
)

// StorageConfig is one parsed --storage value.
type StorageConfig struct {
	Name string
	URIs []string
}

// ParseStorageFlag parses "name=uri[|uri...]".
func ParseStorageFlag(raw string) (StorageConfig, error) {
	name, uris, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.TrimSpace(uris) == "" {
		return StorageConfig{}, fmt.Errorf("invalid storage %q, expected name=uri", raw)
	}

	sc := StorageConfig{Name: name}
	for _, uri := range strings.Split(uris, "|") {
		if uri = strings.TrimSpace(uri); uri != "" {
			sc.URIs = append(sc.URIs, uri)
		}
	}
	return sc, nil
}

// RegistryConfig describes the backends and handlers to register.
type RegistryConfig struct {
	Storages       []string
	DefaultStorage string
	UseLocking     bool
	Thumbnailer    string
	ConvertCommand string
	ConvertTimeout time.Duration
}

func RegistryConfigFromCLI(cCtx *cli.Context) RegistryConfig {
	return RegistryConfig{
		Storages:       cCtx.StringSlice(StorageFlag.Name),
		DefaultStorage: cCtx.String(DefaultStorageFlag.Name),
		UseLocking:     cCtx.Bool(UseLockingFlag.Name),
		Thumbnailer:    cCtx.String(ThumbnailerFlag.Name),
		ConvertCommand: cCtx.String(ConvertCommandFlag.Name),
		ConvertTimeout: cCtx.Duration(ConvertTimeoutFlag.Name),
	}
}

// BuildRegistry creates the storage backends and representation handlers
// named by cfg.
func BuildRegistry(cfg RegistryConfig, logger *slog.Logger) (*registry.Registry, error) {
	if len(cfg.Storages) == 0 {
		return nil, fmt.Errorf("at least one --storage is required")
	}

	factory := storage.NewStorageBackendFactory(logger)
	reg := registry.New()

	for _, raw := range cfg.Storages {
		sc, err := ParseStorageFlag(raw)
		if err != nil {
			return nil, err
		}

		backend, err := buildBackend(factory, sc)
		if err != nil {
			return nil, fmt.Errorf("storage %s: %w", sc.Name, err)
		}
		reg.RegisterStorageBackend(sc.Name, backend)
		logger.Info("Registered storage backend",
			slog.String("name", sc.Name),
			slog.String("location", backend.LocationURI()))
	}

	if cfg.DefaultStorage != "" {
		if _, ok := reg.StorageBackend(cfg.DefaultStorage); !ok {
			return nil, fmt.Errorf("default storage %q is not registered", cfg.DefaultStorage)
		}
		reg.SetDefaultStorageName(cfg.DefaultStorage)
	}
	reg.SetUseLocking(cfg.UseLocking)

	switch cfg.Thumbnailer {
	case ThumbnailerConvert, "":
		reg.RegisterRepresentationHandler(attachment.ThumbnailType,
			representation.NewThumbnailHandler(cfg.ConvertCommand, cfg.ConvertTimeout, logger))
	case ThumbnailerImaging:
		reg.RegisterRepresentationHandler(attachment.ThumbnailType, representation.NewImagingHandler(logger))
	case ThumbnailerNone:
	default:
		return nil, fmt.Errorf("unknown thumbnailer %q", cfg.Thumbnailer)
	}

	return reg, nil
}

func buildBackend(factory *storage.StorageBackendFactory, sc StorageConfig) (interfaces.StorageBackend, error) {
	if len(sc.URIs) == 1 {
		return factory.StorageBackendForURI(sc.URIs[0])
	}

	locations := make([]interfaces.StorageBackendLocation, 0, len(sc.URIs))
	for _, uri := range sc.URIs {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}
	return factory.CreateMultiBackend(locations)
}

// OpenMetadataStore returns a Postgres store when --postgres-dsn is set and
// an in-memory store otherwise. The returned close function is never nil.
func OpenMetadataStore(cCtx *cli.Context, logger *slog.Logger) (interfaces.MetadataStore, func(), error) {
	dsn := cCtx.String(PostgresDSNFlag.Name)
	if dsn == "" {
		logger.Warn("No --postgres-dsn given, attachment metadata is kept in memory")
		return metadata.NewMemoryStore(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(cCtx.Context, 30*time.Second)
	defer cancel()

	db, err := metadata.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", "err", err)
		}
	}

	if cCtx.Bool(MigrateFlag.Name) {
		if err := runMigrations(ctx, db, logger); err != nil {
			closeDB()
			return nil, nil, err
		}
	}
	return metadata.NewPostgresStore(db), closeDB, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	start := time.Now()
	if err := metadata.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("Database migrations applied", slog.Duration("duration", time.Since(start)))
	return nil
}
