package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/signethq/signet/internal/cmd/signetctl"
	"github.com/signethq/signet/internal/platform/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := signetctl.Run(ctx, os.Args[1:], os.Stdout); err != nil {
		config.Exitf("signetctl: %v", err)
	}
}
