package main

import (
	"fmt"
	"log"
	"os"

	"github.com/ruteri/attachment-store/attachment"
	"github.com/ruteri/attachment-store/cmd/flags"
	"github.com/urfave/cli/v2"
)

var idFlag = &cli.Int64Flag{
	Name:     "id",
	Required: true,
	Usage:    "attachment id",
}

// withService runs fn against a service built from the global flags.
func withService(fn func(cCtx *cli.Context, svc *attachment.Service) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)

		store, closeStore, err := flags.OpenMetadataStore(cCtx, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		reg, err := flags.BuildRegistry(flags.RegistryConfigFromCLI(cCtx), logger)
		if err != nil {
			return err
		}

		return fn(cCtx, attachment.NewService(reg, store, logger, nil))
	}
}

func main() {
	appFlags := append([]cli.Flag{}, flags.CommonFlags...)
	appFlags = append(appFlags, flags.LogServiceFlagFn("attachment-admin"))
	appFlags = append(appFlags, flags.StoreFlags...)

	app := &cli.App{
		Name:  "attachment-admin",
		Usage: "Maintenance tasks for stored attachments",
		Flags: appFlags,
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Move an attachment's file to another storage backend",
				Flags: []cli.Flag{
					idFlag,
					&cli.StringFlag{Name: "to", Required: true, Usage: "name of the target storage backend"},
				},
				Action: withService(func(cCtx *cli.Context, svc *attachment.Service) error {
					att, err := svc.Get(cCtx.Context, cCtx.Int64(idFlag.Name))
					if err != nil {
						return err
					}
					if err := svc.MigrateStorage(cCtx.Context, att, cCtx.String("to")); err != nil {
						return err
					}
					url, err := svc.PublicURL(att)
					if err != nil {
						return err
					}
					fmt.Printf("attachment %d now on %s: %s\n", att.ID, att.StorageSystemName, url)
					return nil
				}),
			},
			{
				Name:  "clear-representations",
				Usage: "Remove every stored representation of an attachment",
				Flags: []cli.Flag{idFlag},
				Action: withService(func(cCtx *cli.Context, svc *attachment.Service) error {
					att, err := svc.Get(cCtx.Context, cCtx.Int64(idFlag.Name))
					if err != nil {
						return err
					}
					count := len(att.Representations)
					if err := svc.ClearRepresentations(cCtx.Context, att); err != nil {
						return err
					}
					fmt.Printf("cleared %d representations of attachment %d\n", count, att.ID)
					return nil
				}),
			},
			{
				Name:  "clear-all-representations",
				Usage: "Remove the stored representations of every attachment",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page-size", Value: attachment.DefaultClearPageSize, Usage: "attachments loaded per page"},
					&cli.IntFlag{Name: "workers", Value: attachment.DefaultClearWorkers, Usage: "attachments cleared concurrently"},
				},
				Action: withService(func(cCtx *cli.Context, svc *attachment.Service) error {
					cleared, err := svc.ClearAllRepresentations(cCtx.Context, cCtx.Int("page-size"), cCtx.Int("workers"))
					fmt.Printf("cleared representations of %d attachments\n", cleared)
					return err
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
