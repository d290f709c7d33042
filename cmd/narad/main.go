package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"Nara-Wallet/pkg/logger"
)

// main 是 Nara 钱包守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
