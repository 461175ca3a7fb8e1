package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/ui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		ui.Error(err.Error())
		stop()
		os.Exit(1)
	}
}
