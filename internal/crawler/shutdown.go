package crawler

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// exit is swapped out by tests
var exit = os.Exit

// SetupSignalHandler returns a context that is cancelled on SIGTERM or SIGINT.
// shutdownFunc, if non-nil, runs before the cancel. A second signal forces an
// exit. The returned stop function unregisters the handler.
func SetupSignalHandler(parent context.Context, logger *zap.Logger, shutdownFunc func(context.Context)) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	log := logger.Sugar().Named("signal")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
			cancel()
		})
	}

	go func() {
		select {
		case sig := <-sigCh:
			log.Infow("received signal, shutting down gracefully", "signal", sig.String())
			if shutdownFunc != nil {
				shutdownFunc(ctx)
			}
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			log.Warnw("received second signal, forcing exit", "signal", sig.String())
			exit(1)
		case <-done:
		}
	}()

	return ctx, stop
}
