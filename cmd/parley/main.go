package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	// API keys may live in a local .env; a missing file is fine.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := newApp()
	if err := app.Run(ctx, os.Args); err != nil {
		if errors.Is(err, errInvalidHistory) {
			stop()
			os.Exit(1)
		}
		logger.Fatal(err)
	}
}
