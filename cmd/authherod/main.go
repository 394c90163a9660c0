package main

import (
	"context"

	"github.com/MrEthical07/authhero/cmd/authherod/internal/commands"
	"github.com/alecthomas/kong"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool                `help:"Enable debug logging." env:"AUTHHERO_DEBUG"`
		Version kong.VersionFlag    `help:"Print the version and exit."`
		Serve   commands.ServeCmd   `cmd:"" help:"Serve the authentication HTTP API."`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply database migrations and exit."`
		Worker  commands.WorkerCmd  `cmd:"" help:"Deliver queued emails."`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("authherod"),
		kong.Description("Credential and session service."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
