// Command pollgate runs the DNS gateway: it parses a Corefile, builds one
// server-block runtime per listen address, and serves until an interrupt
// or terminate signal asks it to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dnsgw/pollgate/internal/reload"
)

const (
	exitOK             = 0
	exitStartupFailure = 1
	exitFatal          = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "./Corefile", "path to the Corefile")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pollgate: failed to build logger: %v\n", err)
		return exitFatal
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := reload.New(*configPath, log)
	if err := ctrl.Load(ctx); err != nil {
		log.Error("startup failed", zap.String("config", *configPath), zap.Error(err))
		return exitStartupFailure
	}
	log.Info("pollgate started", zap.String("config", *configPath))

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Run(ctx)
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownDone := make(chan struct{})
	go func() {
		ctrl.Shutdown(reload.DefaultGraceTimeout)
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
	case <-time.After(reload.DefaultGraceTimeout + 5*time.Second):
		log.Warn("shutdown grace period exceeded, exiting anyway")
	}

	<-done
	log.Info("pollgate stopped")
	return exitOK
}
