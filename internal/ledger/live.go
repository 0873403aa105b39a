package ledger

import "context"

// Snapshot is one evaluation of a live query.
type Snapshot[T any] struct {
	Value T
	Err   error
}

// LiveQuery evaluates query once, then again after every committed change
// to the given tables, delivering each result on the returned channel.
// The channel is closed when ctx is done or the store's feed closes.
func LiveQuery[T any](ctx context.Context, store Store, query func(ctx context.Context, tx Tx) (T, error), tables ...Table) <-chan Snapshot[T] {
	changes, detach := store.Watch(tables...)
	out := make(chan Snapshot[T], 1)

	eval := func() Snapshot[T] {
		var snap Snapshot[T]
		snap.Err = store.View(ctx, func(tx Tx) error {
			v, err := query(ctx, tx)
			snap.Value = v
			return err
		})
		return snap
	}

	go func() {
		defer close(out)
		defer detach()

		send := func(s Snapshot[T]) bool {
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(eval()) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				// Coalesce a burst of changes into one evaluation.
				drain(changes)
				if !send(eval()) {
					return
				}
			}
		}
	}()

	return out
}

func drain(ch <-chan Change) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
