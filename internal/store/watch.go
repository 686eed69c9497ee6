package store

import "context"

// watchLoop emits fetch() once, then again each time trigger fires, until ctx
// is done. trigger must be buffered so a change committed while a snapshot is
// being delivered is not lost; bursts coalesce into one re-read.
func watchLoop[T any](ctx context.Context, trigger <-chan struct{}, fetch func(context.Context) T, stop func()) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		defer stop()
		for {
			snap := fetch(ctx)
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}

			select {
			case _, ok := <-trigger:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func signal(trigger chan struct{}) {
	select {
	case trigger <- struct{}{}:
	default:
	}
}
