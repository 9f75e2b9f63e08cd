package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	signetcmd "github.com/signethq/signet/internal/cmd/signet"
)

func main() {
	cfg, err := signetcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[SIGNET] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := signetcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
