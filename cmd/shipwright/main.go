package main

import (
	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/shipwright/cmd/shipwright/commands"
	"git.home.luguber.info/inful/shipwright/internal/version"
)

func main() {
	cli := &commands.CLI{}
	ctx := kong.Parse(cli,
		kong.Name("shipwright"),
		kong.Description("Build and OTA release orchestration for mobile apps"),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	err := ctx.Run(&commands.Global{}, cli)
	ctx.FatalIfErrorf(err)
}
