// Package reconcile implements last-writer-wins conflict resolution for
// diagram graph elements shared across a LiveShare room.
package reconcile

// Action is the outcome of comparing a local element against a remote one.
type Action string

const (
	// ActionKeepLocal means the local copy is newer and should be kept.
	ActionKeepLocal Action = "keep_local"
	// ActionUpdateFromRemote means the remote copy should replace the local one.
	ActionUpdateFromRemote Action = "update_from_remote"
	// ActionNoAction means both copies are equivalent.
	ActionNoAction Action = "no_action"
)

// Ordered is the (version, timestamp) pair every reconcilable element
// exposes. Pulled out as plain values rather than an interface so callers
// don't need a dedicated wrapper type per snapshot struct.
type Ordered struct {
	Version        uint64
	LastModifiedAt int64
}

// Reconcile orders a local element against a remote update using
// last-writer-wins: higher version wins; on a version tie, higher timestamp
// wins; if both are equal, no action is needed. Deletion is represented as
// a tombstoned element with its own version/timestamp, so it participates
// in ordering exactly like any other update.
func Reconcile(local, remote Ordered) Action {
	if remote.Version > local.Version {
		return ActionUpdateFromRemote
	}
	if remote.Version < local.Version {
		return ActionKeepLocal
	}

	if remote.LastModifiedAt > local.LastModifiedAt {
		return ActionUpdateFromRemote
	}
	if remote.LastModifiedAt < local.LastModifiedAt {
		return ActionKeepLocal
	}

	return ActionNoAction
}

// ReconcileMap folds a list of remote elements into a local id-keyed map.
// Elements absent from the local map are inserted unconditionally (they are
// new); elements present in both are reconciled with Reconcile. Ids present
// locally but absent from the remote list are never removed here -
// deletion must arrive as an explicit tombstoned element. Returns the ids
// that were actually changed by this fold.
func ReconcileMap[K comparable, T any](local map[K]T, remote []T, id func(T) K, ordered func(T) Ordered) []K {
	var changed []K

	for _, r := range remote {
		k := id(r)

		if l, ok := local[k]; ok {
			switch Reconcile(ordered(l), ordered(r)) {
			case ActionUpdateFromRemote:
				local[k] = r
				changed = append(changed, k)
			case ActionKeepLocal, ActionNoAction:
			}
			continue
		}

		local[k] = r
		changed = append(changed, k)
	}

	return changed
}
