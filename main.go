package main

import (
	"context"
	"os"
	"os/signal"

	"librarian/cli"
	"librarian/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli.Execute(ctx, version, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, config.Environ())
	stop()
	os.Exit(code)
}
