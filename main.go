package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/messaging-service/internal/cmd/legacy"
	"github.com/chirino/messaging-service/internal/cmd/migrate"
	"github.com/chirino/messaging-service/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "messaging-service",
		Usage: "Real-time direct messaging service",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			legacy.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
