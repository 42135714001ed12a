package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/abworrall/skymodel/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, cli.NewConvertCmd(), os.Args[1:], os.Stderr)
	cancel()
	os.Exit(code)
}
