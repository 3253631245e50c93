package common

import "context"

// Go runs fn on a new goroutine and downgrades a panic or a returned error to
// a warning on the context logger. Background work spawned through it can
// never take the process down, which matters for I/O that may still be in
// flight after the main pipeline has returned.
func Go(ctx context.Context, fn func() error) {
	logger := Logger(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Warnf("background task panicked: %v", r)
			}
		}()
		if err := fn(); err != nil {
			logger.Warnf("background task failed: %v", err)
		}
	}()
}
