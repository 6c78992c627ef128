// Package optimistic names the update protocol used by reconciliation
// callers: apply a change locally, issue the persistence call, keep the
// committed result on success, and on failure discard the local change by
// refetching the authoritative state. Last write wins; there is no locking.
package optimistic

import "context"

// Update describes one optimistic mutation over a state of type T.
type Update[T any] struct {
	// Apply performs the local mutation shown to the caller immediately.
	Apply func(T) T
	// Commit persists the mutation. Its result is authoritative on success.
	Commit func(context.Context, T) (T, error)
	// Refetch reloads the authoritative state after a failed commit.
	Refetch func(context.Context) (T, error)
}

// Run executes the update against the current state. On commit failure it
// returns the refetched authoritative state along with the commit error; if
// the refetch itself fails, the caller keeps the pre-update state.
func Run[T any](ctx context.Context, current T, u Update[T]) (T, error) {
	local := current
	if u.Apply != nil {
		local = u.Apply(local)
	}
	committed, err := u.Commit(ctx, local)
	if err == nil {
		return committed, nil
	}
	if u.Refetch != nil {
		if authoritative, rerr := u.Refetch(ctx); rerr == nil {
			return authoritative, err
		}
	}
	return current, err
}
