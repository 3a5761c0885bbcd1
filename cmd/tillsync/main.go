// Package main provides the tillsync command line interface.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tillsync/tillsync/cmd/tillsync/commands"
)

var version = "dev"

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML configuration file",
	}

	cmd := &cli.Command{
		Name:    "tillsync",
		Usage:   "Offline-first sync client for point-of-sale tills",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "devserver",
				Usage: "Run the in-memory development remote",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Aliases: []string{"a"},
						Value:   ":8080",
						Usage:   "Listen address",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunDevServer(ctx, cmd.String("addr"))
				},
			},
			{
				Name:  "sync",
				Usage: "Replay pending outbox entries against the remote",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunSync(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "status",
				Usage: "Show pending mutations and cached collection sizes",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:    "scope",
						Aliases: []string{"s"},
						Usage:   "Tenant scope id to inspect",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunStatus(ctx, cmd.String("config"), cmd.String("scope"))
				},
			},
			{
				Name:  "demo",
				Usage: "Run an offline-sale scenario against an embedded dev server",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunDemo(ctx)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		os.Exit(1)
	}
}
