package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/playg8/EuNet/internal/core"
	"github.com/playg8/EuNet/internal/server"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:        "server",
		Usage:       "run the session server",
		Description: "Runs the session server until interrupted.",
		Action:      run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the directory containing the server config file",
				EnvVars: []string{"EUNET_CONFIG"},
				Value:   "./",
			},
		},
	}
}

func run(ctx *cli.Context) error {
	config := core.LoadConfig(ctx.String("config"))

	logger, err := core.NewLogger(config)
	if err != nil {
		return err
	}

	srv := server.New(config, logger, server.NopEvents{})
	if err := srv.Start(); err != nil {
		return err
	}

	// Ctrl-C or SIGTERM shuts the server down gracefully.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("shutting down gracefully...")
	return srv.Stop()
}
