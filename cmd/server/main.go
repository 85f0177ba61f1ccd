// The server command is the main entrypoint for running the session
// server. It loads the configuration, brings the server up, and shuts it
// down gracefully on SIGINT/SIGTERM.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:     "eunet-server",
		Usage:    "multiplayer session, relay, and rendezvous server",
		Commands: []*cli.Command{Command()},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
