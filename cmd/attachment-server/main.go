package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/attachment-store/attachment"
	"github.com/ruteri/attachment-store/cmd/flags"
	"github.com/ruteri/attachment-store/common"
	"github.com/ruteri/attachment-store/httpserver"
	"github.com/ruteri/attachment-store/metrics"
	"github.com/urfave/cli/v2"
)

func main() {
	appFlags := append([]cli.Flag{}, flags.CommonFlags...)
	appFlags = append(appFlags, flags.LogServiceFlagFn("attachment-server"))
	appFlags = append(appFlags, flags.ServerFlags...)
	appFlags = append(appFlags, flags.StoreFlags...)

	app := &cli.App{
		Name:  "attachment-server",
		Usage: "Serve the attachment API",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			store, closeStore, err := flags.OpenMetadataStore(cCtx, logger)
			if err != nil {
				logger.Error("Failed to open metadata store", "err", err)
				return err
			}
			defer closeStore()

			reg, err := flags.BuildRegistry(flags.RegistryConfigFromCLI(cCtx), logger)
			if err != nil {
				logger.Error("Failed to configure attachment registry", "err", err)
				return err
			}

			cfg := flags.ConfigureServer(cCtx, logger)

			var (
				metricsSrv *metrics.MetricsServer
				recorder   *metrics.Recorder
			)
			if cfg.MetricsAddr != "" {
				metricsSrv, err = metrics.New(cfg.MetricsAddr)
				if err != nil {
					logger.Error("Failed to create metrics server", "err", err)
					return err
				}
				recorder, err = metrics.NewRecorder(common.MetricsNamespace, metricsSrv.Registry())
				if err != nil {
					logger.Error("Failed to register metrics", "err", err)
					return err
				}
			}

			svc := attachment.NewService(reg, store, logger, recorder)
			server, err := httpserver.New(cfg, httpserver.NewHandler(svc, logger), metricsSrv)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server",
				"storages", reg.StorageBackendNames(),
				"defaultStorage", reg.DefaultStorageName(),
				"useLocking", reg.UseLocking())
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
