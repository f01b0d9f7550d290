package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/attachment-store/common"
	"github.com/ruteri/attachment-store/httpserver"
	"github.com/ruteri/attachment-store/representation"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	listenAddr := cCtx.String(ListenAddrFlag.Name)
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             60 * time.Second,
	}
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	Usage:   "log in JSON format",
	EnvVars: []string{"ATTACHMENTS_LOG_JSON"},
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: []string{"ATTACHMENTS_LOG_DEBUG"},
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: []string{"ATTACHMENTS_LISTEN_ADDR"},
}
var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics, empty to disable",
	EnvVars: []string{"ATTACHMENTS_METRICS_ADDR"},
}

var StorageFlag = &cli.StringSliceFlag{
	Name:    "storage",
	Usage:   "storage backend as name=uri; separate several URIs with '|' to mirror them, e.g. local=file:///var/attachments?public=/files",
	EnvVars: []string{"ATTACHMENTS_STORAGE"},
}
var DefaultStorageFlag = &cli.StringFlag{
	Name:    "default-storage",
	Usage:   "name of the default storage backend (first registered if empty)",
	EnvVars: []string{"ATTACHMENTS_DEFAULT_STORAGE"},
}
var UseLockingFlag = &cli.BoolFlag{
	Name:    "use-locking",
	Value:   true,
	Usage:   "serialize representation generation with a lock on the attachment record",
	EnvVars: []string{"ATTACHMENTS_USE_LOCKING"},
}
var PostgresDSNFlag = &cli.StringFlag{
	Name:    "postgres-dsn",
	Usage:   "Postgres connection string for attachment metadata; in-memory store if empty",
	EnvVars: []string{"ATTACHMENTS_POSTGRES_DSN"},
}
var MigrateFlag = &cli.BoolFlag{
	Name:  "migrate",
	Value: true,
	Usage: "apply database migrations on startup",
}
var ThumbnailerFlag = &cli.StringFlag{
	Name:    "thumbnailer",
	Value:   ThumbnailerConvert,
	Usage:   "image representation handler: 'convert', 'imaging' or 'none'",
	EnvVars: []string{"ATTACHMENTS_THUMBNAILER"},
}
var ConvertCommandFlag = &cli.StringFlag{
	Name:    "convert-command",
	Value:   "convert",
	Usage:   "ImageMagick convert executable",
	EnvVars: []string{"ATTACHMENTS_CONVERT_COMMAND"},
}
var ConvertTimeoutFlag = &cli.DurationFlag{
	Name:  "convert-timeout",
	Value: representation.DefaultConvertTimeout,
	Usage: "time limit for a single convert run",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var StoreFlags = []cli.Flag{
	StorageFlag,
	DefaultStorageFlag,
	UseLockingFlag,
	PostgresDSNFlag,
	MigrateFlag,
	ThumbnailerFlag,
	ConvertCommandFlag,
	ConvertTimeoutFlag,
}
