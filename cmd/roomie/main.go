package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var CLI struct {
	Version kong.VersionFlag

	Serve     ServeCmd     `cmd:"" help:"Run the API server." default:"1"`
	Watch     WatchCmd     `cmd:"" help:"Mirror a household collection and print it on every change."`
	VapidKeys VapidKeysCmd `cmd:"" name:"vapid-keys" help:"Print a fresh VAPID key pair for web push."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("roomie"),
		kong.Description("Household coordination server"),
		kong.UsageOnError(),
		kong.Vars{"version": "v0.1.0"},
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
