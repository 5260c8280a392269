// Package graceful coordinates orderly shutdown of the daemon: registered
// stop functions run in reverse-registration order when a SIGTERM/SIGINT
// arrives or a fatal error is reported.
package graceful

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cloudguardian/policyguard/internal/apperrors"
	"github.com/cloudguardian/policyguard/internal/logging"
	"github.com/rs/zerolog"
)

// Handler tracks shutdown hooks and the exit code the process should use.
type Handler struct {
	logger       zerolog.Logger
	shutdownFunc []func() error
	mu           sync.Mutex
	exitCode     int
	isDone       chan struct{}
}

var defaultHandler = &Handler{
	logger: logging.WithComponent("graceful"),
	isDone: make(chan struct{}),
}

// OnShutdown registers fn to run during shutdown. Hooks run in reverse
// registration order, the same convention as deferred cleanup.
func OnShutdown(fn func() error) {
	defaultHandler.mu.Lock()
	defer defaultHandler.mu.Unlock()
	defaultHandler.shutdownFunc = append(defaultHandler.shutdownFunc, fn)
}

// HandleError logs err, sets an exit code derived from its apperrors.Type,
// and calls Shutdown, which runs the hooks and exits the process.
func HandleError(err error, message string) {
	if err == nil {
		return
	}

	defaultHandler.logger.Error().Err(err).Msg(message)

	switch {
	case apperrors.Is(err, apperrors.TypeValidation):
		defaultHandler.exitCode = 2
	case apperrors.Is(err, apperrors.TypeProvider):
		defaultHandler.exitCode = 3
	case apperrors.Is(err, apperrors.TypeState):
		defaultHandler.exitCode = 4
	default:
		defaultHandler.exitCode = 1
	}

	Shutdown()
}

// HandleErrorf is HandleError with a formatted message.
func HandleErrorf(err error, format string, args ...interface{}) {
	HandleError(err, fmt.Sprintf(format, args...))
}

// HandleCritical shuts down immediately on a short timeout and exits the
// process. Use for errors that mean continuing would be unsafe.
func HandleCritical(err error, message string) {
	if err == nil {
		return
	}

	defaultHandler.logger.Error().Err(err).Str("severity", "critical").Msg(message)
	defaultHandler.exitCode = 1

	performShutdown(5 * time.Second)
	os.Exit(defaultHandler.exitCode)
}

// Shutdown runs all registered hooks with a 30s overall timeout and exits.
func Shutdown() {
	performShutdown(30 * time.Second)
	os.Exit(defaultHandler.exitCode)
}

func performShutdown(timeout time.Duration) {
	defaultHandler.logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{}, 1)

	go func() {
		defaultHandler.mu.Lock()
		funcs := defaultHandler.shutdownFunc
		defaultHandler.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				defaultHandler.logger.Error().Err(err).Int("hook", i).Msg("shutdown hook failed")
			}
		}
		done <- struct{}{}
	}()

	select {
	case <-done:
		defaultHandler.logger.Info().Msg("shutdown complete")
	case <-ctx.Done():
		defaultHandler.logger.Warn().Msg("shutdown timed out, forcing exit")
	}

	close(defaultHandler.isDone)
}

// WaitForSignal blocks until SIGINT/SIGTERM arrives, then runs shutdown.
// Intended to be called from main after the daemon's Start has returned
// control to the foreground goroutine.
func WaitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		defaultHandler.logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		Shutdown()
	case <-defaultHandler.isDone:
	}
}
