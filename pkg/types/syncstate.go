package types

import "fmt"

// SyncState describes where a row or a table's metadata sits in the
// synchronization lifecycle. The string values are the interchange
// labels used with the synchronization collaborator and in storage.
type SyncState string

const (
	// SyncRest means the resource is synchronized and has no pending change.
	SyncRest SyncState = "rest"
	// SyncInserting means the resource was created locally and has never
	// been pushed to the server.
	SyncInserting SyncState = "inserting"
	// SyncUpdating means the resource was edited locally after its last
	// successful push.
	SyncUpdating SyncState = "updating"
	// SyncDeleting means the resource was deleted locally and awaits
	// server confirmation. Rows in this state are logical tombstones and
	// are excluded from ordinary queries.
	SyncDeleting SyncState = "deleting"
	// SyncConflicting means the server detected a version mismatch. The
	// conflicting server copy is stored alongside the local row until the
	// conflict is resolved.
	SyncConflicting SyncState = "conflicting"
)

// syncStates is the closed set of recognized states.
var syncStates = map[SyncState]bool{
	SyncRest:        true,
	SyncInserting:   true,
	SyncUpdating:    true,
	SyncDeleting:    true,
	SyncConflicting: true,
}

// Valid reports whether s is one of the recognized states.
func (s SyncState) Valid() bool {
	return syncStates[s]
}

// Pending reports whether s represents an unpushed local change.
func (s SyncState) Pending() bool {
	return s != SyncRest && s.Valid()
}

// CanTransition reports whether a table-level transition from s to
// target is honored. A transition is allowed only when the current or
// the target state is rest, so a table carries at most one kind of
// pending metadata change at a time.
func (s SyncState) CanTransition(target SyncState) bool {
	if !s.Valid() || !target.Valid() {
		return false
	}
	return s == SyncRest || target == SyncRest
}

// ParseSyncState converts an interchange label into a SyncState.
// Returns ErrInvalidState wrapped with the offending label.
func ParseSyncState(label string) (SyncState, error) {
	s := SyncState(label)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, label)
	}
	return s, nil
}
