package app

import (
	"context"
	"log/slog"
	"time"
)

const rollbackTimeout = 30 * time.Second

type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// compensations records the undo step for every side effect performed so far.
type compensations struct {
	steps []compensation
}

func (c *compensations) add(name string, undo func(ctx context.Context) error) {
	c.steps = append(c.steps, compensation{name: name, undo: undo})
}

// run undoes the recorded steps newest first. It ignores cancellation of ctx
// and only logs failures.
func (c *compensations) run(ctx context.Context, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := step.undo(ctx); err != nil {
			log.Error("rollback step failed", "step", step.name, "error", err)
			continue
		}
		log.Debug("rollback step done", "step", step.name)
	}
	c.steps = nil
}
