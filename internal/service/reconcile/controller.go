// Package reconcile periodically copies runtime state into the store.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/jnoller/racer/internal/service/lifecycle"
)

const iterationTimeout = 30 * time.Second

// Refresher reconciles stored statuses against the runtime.
type Refresher interface {
	RefreshStatus(ctx context.Context) (lifecycle.RefreshResult, error)
}

// Controller drives a Refresher on a fixed interval.
type Controller struct {
	refresher Refresher
	logger    *slog.Logger
	interval  time.Duration
}

// New constructs a controller. It returns nil when interval is not positive,
// which disables reconciliation.
func New(refresher Refresher, logger *slog.Logger, interval time.Duration) *Controller {
	if refresher == nil || interval <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		refresher: refresher,
		logger:    logger.With("component", "reconcile"),
		interval:  interval,
	}
}

// Run executes the reconciliation loop until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	if c == nil {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("reconciler started", "interval", c.interval)
	c.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			c.runIteration(ctx)
		}
	}
}

func (c *Controller) runIteration(parent context.Context) {
	timeout := iterationTimeout
	if c.interval < timeout {
		timeout = c.interval
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	result, err := c.refresher.RefreshStatus(ctx)
	if err != nil {
		c.logger.Warn("status refresh failed", "error", err)
		return
	}
	if result.Updated > 0 {
		c.logger.Info("status refreshed", "checked", result.Checked, "updated", result.Updated)
		return
	}
	c.logger.Debug("status refreshed", "checked", result.Checked)
}
