package types

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	base := errors.New("disk on fire")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", NotFoundf("spawn %s not found", "abc"), KindNotFound},
		{"conflict", Conflictf("duplicate decision"), KindConflict},
		{"validation", Validationf("content too long"), KindValidation},
		{"state", Statef("cannot reject an actioned decision"), KindState},
		{"permission", Permissionf("task claimed by someone else"), KindPermission},
		{"ambiguous", &AmbiguousError{Ref: "a1b2c3d4", Count: 2}, KindAmbiguous},
		{"wrapped", fmt.Errorf("outer: %w", NotFoundf("inner")), KindNotFound},
		{"plain", base, KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindedErrorUnwrap(t *testing.T) {
	cause := errors.New("no such row")
	err := NotFoundf("failed to load agent: %w", cause)
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause to survive %%w formatting")
	}
	if KindOf(err) != KindNotFound {
		t.Errorf("KindOf = %v, want KindNotFound", KindOf(err))
	}
}

func TestTaskTransitions(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		ok       bool
	}{
		{TaskPending, TaskActive, true},
		{TaskActive, TaskPending, true},
		{TaskPending, TaskDone, true},
		{TaskPending, TaskCancelled, true},
		{TaskActive, TaskDone, true},
		{TaskActive, TaskCancelled, true},
		{TaskDone, TaskActive, false},
		{TaskDone, TaskPending, false},
		{TaskCancelled, TaskActive, false},
		{TaskCancelled, TaskDone, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestDecisionStatus(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name                          string
		committed, actioned, rejected bool
		want                          DecisionStatus
	}{
		{"proposed", false, false, false, DecisionProposed},
		{"committed", true, false, false, DecisionCommitted},
		{"actioned", true, true, false, DecisionActioned},
		{"rejected", true, false, true, DecisionRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Decision{}
			if tt.committed {
				d.CommittedAt = &now
			}
			if tt.actioned {
				d.ActionedAt = &now
			}
			if tt.rejected {
				d.RejectedAt = &now
			}
			if got := d.Status(); got != tt.want {
				t.Errorf("Status() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShortID(t *testing.T) {
	id := NewID()
	if len(id) != 32 {
		t.Fatalf("NewID() length = %d, want 32", len(id))
	}
	if !IsHexRef(id) {
		t.Errorf("NewID() %q is not a hex ref", id)
	}
	if got := ShortID(id); got != id[:8] {
		t.Errorf("ShortID = %q, want %q", got, id[:8])
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID of short input = %q, want passthrough", got)
	}
}

func TestIsHexRef(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"a1b2c3d4", true},
		{"a1b2c3d4e5f60718", true},
		{"a1b2c3", false},
		{"A1B2C3D4", false},
		{"a1b2c3g4", false},
		{"claude-main", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsHexRef(tt.ref); got != tt.want {
			t.Errorf("IsHexRef(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}

func TestOptional(t *testing.T) {
	var unset Optional[string]
	if unset.IsSet() {
		t.Error("zero Optional should be unset")
	}

	null := Null[string]()
	if !null.IsSet() || null.Value() != nil {
		t.Error("Null() should be set with a nil value")
	}

	set := Set("hello")
	if !set.IsSet() {
		t.Fatal("Set() should be set")
	}
	if v := set.Value(); v == nil || *v != "hello" {
		t.Errorf("Set().Value() = %v, want hello", v)
	}
}

func TestSpawnResumable(t *testing.T) {
	s := &Spawn{Status: SpawnDone, SessionID: "sess-1"}
	if !s.Resumable() {
		t.Error("done spawn with session should be resumable")
	}
	s.SessionID = ""
	if s.Resumable() {
		t.Error("done spawn without session should not be resumable")
	}
	s.SessionID = "sess-1"
	s.Status = SpawnActive
	if s.Resumable() {
		t.Error("active spawn should not be resumable")
	}
}

func TestInboxItemRef(t *testing.T) {
	it := &InboxItem{Type: ArtifactInsight, ID: "a1b2c3d4e5f607182934455667788990"}
	if got := it.Ref(); got != "i/a1b2c3d4" {
		t.Errorf("Ref() = %q, want i/a1b2c3d4", got)
	}
}
