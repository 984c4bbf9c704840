// Package adapters defines the contract channel adapters implement and the
// supervisor that runs them. Adapters own their transport and polling
// mechanics; they talk to the core only through the comms bus and the
// verifier's read/write contracts.
package adapters

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Adapter is one channel protocol instance.
type Adapter interface {
	Name() string
	// Run blocks until the context ends. Per-tick failures are the
	// adapter's to log and absorb; Run returning an error means the
	// adapter is giving up entirely.
	Run(ctx context.Context) error
}

// RunAll supervises adapters until the context ends. One failing adapter must
// not affect the others or the core loop, so adapter errors are logged and
// contained rather than propagated.
func RunAll(ctx context.Context, logger *slog.Logger, adapters ...Adapter) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(func() error {
			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("adapter stopped", "adapter", a.Name(), "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}
