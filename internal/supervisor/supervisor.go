// Package supervisor is the composition root's process supervisor: it runs
// every long-lived component (adapter receive loops, the egress forwarders,
// the hub) as a goroutine, and tears the whole process down the moment any
// one of them exits. One goroutine per background task, reported via an
// error channel, generalized into a reusable type instead of scattering
// inline, one-off goroutines through main.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// notifyTimeout bounds how long the best-effort shutdown notification is
// allowed to take -- it must never be the reason shutdown hangs.
const notifyTimeout = 5 * time.Second

// Component is one long-lived unit of work the supervisor owns. Run must
// block until ctx is canceled or the component fails; any return -- nil
// error included -- is treated as that component exiting.
type Component struct {
	Name string
	Run  func(ctx context.Context) error
}

// Notify sends a short operator-facing message through whatever channel the
// deployment designates for admin notifications. A nil Notify is replaced
// with a log-only fallback by New.
type Notify func(ctx context.Context, text string) error

// Supervisor runs a fixed set of Components until one of them exits, then
// cancels the rest and returns the exit that triggered shutdown.
type Supervisor struct {
	components []Component
	notify     Notify
	logger     *slog.Logger
}

// New builds a Supervisor. A nil notify or logger is replaced with a
// harmless default so callers in tests don't need to supply either.
func New(logger *slog.Logger, notify Notify, components ...Component) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = func(context.Context, string) error { return nil }
	}
	return &Supervisor{components: components, notify: notify, logger: logger}
}

// componentExit pairs a Component's name with the error it returned (nil on
// a clean exit), so Run's caller can tell which one brought things down.
type componentExit struct {
	name string
	err  error
}

// Run starts every Component and blocks until the first one exits or ctx is
// canceled. On a component exit it cancels every other component, waits for
// them to finish, fires a best-effort notification, and returns an error
// naming the component that exited (wrapping a nil exit as well, since a
// receive loop or the hub returning cleanly before shutdown is itself the
// unexpected condition here -- every component is meant to run for the
// life of the process). A caller-initiated ctx cancellation returns
// ctx.Err() instead, the expected shutdown path.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exits := make(chan componentExit, len(s.components))
	var wg sync.WaitGroup
	for _, c := range s.components {
		wg.Add(1)
		go func(c Component) {
			defer wg.Done()
			err := c.Run(ctx)
			exits <- componentExit{name: c.Name, err: err}
		}(c)
	}

	var result error
	select {
	case <-ctx.Done():
		result = ctx.Err()
	case exit := <-exits:
		result = fmt.Errorf("component %q exited: %w", exit.name, exitError(exit.err))
		s.logger.Error("supervisor: component exited, shutting down", "component", exit.name, "error", exit.err)
		s.notifyBestEffort(result)
	}

	cancel()
	wg.Wait()
	close(exits)
	return result
}

func exitError(err error) error {
	if err != nil {
		return err
	}
	return errClean
}

var errClean = fmt.Errorf("returned with no error")

func (s *Supervisor) notifyBestEffort(cause error) {
	notifyCtx, stop := context.WithTimeout(context.Background(), notifyTimeout)
	defer stop()
	if err := s.notify(notifyCtx, fmt.Sprintf("fishroom: shutting down -- %s", cause)); err != nil {
		s.logger.Warn("supervisor: admin notification failed", "error", err)
	}
}
