package models

import (
	"testing"
)

func TestEntityKeyString(t *testing.T) {
	key := NewEntityKey("Issue", "abc-123")
	if got := key.String(); got != "Issue:abc-123" {
		t.Errorf("Expected 'Issue:abc-123', got %q", got)
	}
}

func TestParseEntityKey(t *testing.T) {
	key, err := ParseEntityKey("Issue:abc-123")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if key.Type != "Issue" || key.ID != "abc-123" {
		t.Errorf("Unexpected key: %+v", key)
	}
}

func TestParseEntityKeyColonInID(t *testing.T) {
	// Only the first colon separates type from id
	key, err := ParseEntityKey("Photo:site:42:north")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if key.Type != "Photo" {
		t.Errorf("Expected type 'Photo', got %q", key.Type)
	}
	if key.ID != "site:42:north" {
		t.Errorf("Expected id 'site:42:north', got %q", key.ID)
	}
}

func TestParseEntityKeyMalformed(t *testing.T) {
	for _, s := range []string{"", "noseparator", ":leading", "trailing:"} {
		if _, err := ParseEntityKey(s); err == nil {
			t.Errorf("Expected error for %q", s)
		}
	}
}

func TestEntityKeyIsZero(t *testing.T) {
	if !(EntityKey{}).IsZero() {
		t.Error("Empty key should be zero")
	}
	if NewEntityKey("Issue", "1").IsZero() {
		t.Error("Populated key should not be zero")
	}
}

func TestHashPayloadKeyOrderIndependent(t *testing.T) {
	a := HashPayload([]byte(`{"title":"Crack in slab","severity":3}`))
	b := HashPayload([]byte(`{"severity":3,"title":"Crack in slab"}`))
	if a != b {
		t.Errorf("Hashes should match regardless of key order: %s vs %s", a, b)
	}
}

func TestHashPayloadDifferentContent(t *testing.T) {
	a := HashPayload([]byte(`{"title":"Crack in slab"}`))
	b := HashPayload([]byte(`{"title":"Water damage"}`))
	if a == b {
		t.Error("Distinct payloads should not collide")
	}
}

func TestHashPayloadNonJSON(t *testing.T) {
	a := HashPayload([]byte("not json at all"))
	b := HashPayload([]byte("not json at all"))
	if a != b {
		t.Error("Non-JSON payloads should hash deterministically")
	}
	if a == "" {
		t.Error("Hash should not be empty")
	}
}

func TestChangeLessPriorityFirst(t *testing.T) {
	urgent := &Change{Priority: 0, CreatedAt: 2000}
	routine := &Change{Priority: 1, CreatedAt: 1000}
	if !urgent.Less(routine) {
		t.Error("Lower priority value should sort first even when created later")
	}
	if routine.Less(urgent) {
		t.Error("Higher priority value should not sort first")
	}
}

func TestChangeLessCreatedAtTiebreak(t *testing.T) {
	first := &Change{Priority: 1, CreatedAt: 1000}
	second := &Change{Priority: 1, CreatedAt: 2000}
	if !first.Less(second) {
		t.Error("Earlier change should sort first within a priority")
	}
}

func TestChangeStatusIsTerminal(t *testing.T) {
	terminal := []ChangeStatus{ChangeStatusSynced, ChangeStatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []ChangeStatus{ChangeStatusPending, ChangeStatusSyncing, ChangeStatusRetrying, ChangeStatusConflict}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestResolutionStrategyValid(t *testing.T) {
	valid := []ResolutionStrategy{
		ResolutionServerWins, ResolutionClientWins, ResolutionLatestWins,
		ResolutionMerge, ResolutionManual,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if ResolutionStrategy("newest_wins").Valid() {
		t.Error("Unknown strategy should be invalid")
	}
	if ResolutionStrategy("").Valid() {
		t.Error("Empty strategy should be invalid")
	}
}

func TestConflictIsResolved(t *testing.T) {
	c := &Conflict{}
	if c.IsResolved() {
		t.Error("Conflict without ResolvedAt should be unresolved")
	}
	c.ResolvedAt = NowMillis()
	if !c.IsResolved() {
		t.Error("Conflict with ResolvedAt should be resolved")
	}
}

func TestSyncResultAddError(t *testing.T) {
	r := &SyncResult{Success: true}
	r.AddError("push failed")
	if r.Success {
		t.Error("AddError should flip Success")
	}
	if len(r.Errors) != 1 || r.Errors[0] != "push failed" {
		t.Errorf("Unexpected errors: %v", r.Errors)
	}
}

func TestUUIDScan(t *testing.T) {
	var u UUID
	if err := u.Scan("abc"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if u.String() != "abc" {
		t.Errorf("Expected 'abc', got %q", u)
	}
	if err := u.Scan([]byte("def")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if u != "def" {
		t.Errorf("Expected 'def', got %q", u)
	}
	if err := u.Scan(42); err == nil {
		t.Error("Expected error scanning int")
	}
}
