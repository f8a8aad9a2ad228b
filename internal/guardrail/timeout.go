package guardrail

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when work does not complete by its deadline
var ErrTimeout = errors.New("timeout")

// Deadline returns now+timeout capped by the parent's deadline
func Deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if parent, ok := ctx.Deadline(); ok && parent.Before(d) {
		return parent
	}
	return d
}

// EnforceTimeout runs work under min(now+timeout, parent deadline).
// If the deadline passes first it returns ErrTimeout without waiting for
// work; work observes cancellation through its context.
func EnforceTimeout(ctx context.Context, scope string, timeout time.Duration, work func(ctx context.Context) error) error {
	ctx, cancel := context.WithDeadline(ctx, Deadline(ctx, timeout))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- work(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return fmt.Errorf("%s: %w", scope, ErrTimeout)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", scope, ErrTimeout)
		}
		return fmt.Errorf("%s: %w", scope, ctx.Err())
	}
}

// EnforceTimeout applies the policy's stage timeout
func (g *Guardrail) EnforceTimeout(ctx context.Context, scope string, work func(ctx context.Context) error) error {
	return EnforceTimeout(ctx, scope, g.policy.StageTimeout, work)
}
