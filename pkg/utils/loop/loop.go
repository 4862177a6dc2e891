package loop

import (
	"context"
	"fmt"
	"time"
)

type Next struct {
	// if not nil, breaks with error
	err error

	// if quit == true and err == nil, breaks without error
	quit bool

	// otherwise, continue loop with interval.
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}

	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Continue the loop, sleeping `interval` before the next round.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break the loop. Pass nil if there is no error.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task is one round of a loop.
//
// It receives the value of the previous round and returns the value for
// the next one, with a Next deciding whether to go on.
// Zero value (Next{}) equals Continue(0), that is, "go next ASAP".
type Task[T any] func(context.Context, T) (T, Next)

// Start runs task in a loop until it Breaks or the context is done.
//
// It returns the last value the task returned, and the error which
// stopped the loop (a Break error or ctx.Err()).
func Start[T any](ctx context.Context, initial T, task Task[T]) (T, error) {
	value := initial
	for {
		select {
		case <-ctx.Done():
			return value, ctx.Err()
		default:
		}

		v, next := task(ctx, value)
		value = v
		if next.quit || next.err != nil {
			return value, next.err
		}

		timer := time.NewTimer(next.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}
