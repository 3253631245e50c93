package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/cachew-ci/cachew/cmd"
)

var version = "v0.1.0-dev"

func main() {
	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
	defer func() {
		signal.Stop(c)
		cancel()
	}()
	go func() {
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Last resort barrier: a caching tool must not fail the surrounding run,
	// so anything that escapes the command is downgraded to a warning.
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("unexpected failure: %v", r)
		}
	}()

	cmd.Execute(ctx, version)
}
