package types

import (
	"errors"
	"testing"
)

func TestSyncStateValid(t *testing.T) {
	for _, state := range []SyncState{SyncRest, SyncInserting, SyncUpdating, SyncDeleting, SyncConflicting} {
		if !state.Valid() {
			t.Errorf("%q should be valid", state)
		}
	}
	for _, state := range []SyncState{"", "limbo", "REST"} {
		if state.Valid() {
			t.Errorf("%q should be invalid", state)
		}
	}
}

func TestSyncStatePending(t *testing.T) {
	if SyncRest.Pending() {
		t.Error("rest is not pending")
	}
	for _, state := range []SyncState{SyncInserting, SyncUpdating, SyncDeleting, SyncConflicting} {
		if !state.Pending() {
			t.Errorf("%q should be pending", state)
		}
	}
}

func TestSyncStateCanTransition(t *testing.T) {
	tests := []struct {
		name   string
		from   SyncState
		to     SyncState
		want   bool
	}{
		{"rest to inserting", SyncRest, SyncInserting, true},
		{"rest to deleting", SyncRest, SyncDeleting, true},
		{"inserting back to rest", SyncInserting, SyncRest, true},
		{"conflicting back to rest", SyncConflicting, SyncRest, true},
		{"inserting to updating skips rest", SyncInserting, SyncUpdating, false},
		{"deleting to conflicting skips rest", SyncDeleting, SyncConflicting, false},
		{"rest to rest", SyncRest, SyncRest, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%q -> %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestParseSyncState(t *testing.T) {
	state, err := ParseSyncState("updating")
	if err != nil || state != SyncUpdating {
		t.Errorf("got %q, %v", state, err)
	}
	_, err = ParseSyncState("limbo")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}
