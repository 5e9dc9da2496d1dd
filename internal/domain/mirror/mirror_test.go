package mirror

import (
	"slices"
	"testing"
)

func TestParseSyncMode(t *testing.T) {
	for _, valid := range []string{"strict", "preserve"} {
		mode, err := ParseSyncMode(valid)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", valid, err)
		}
		if string(mode) != valid {
			t.Fatalf("expected %q, got %q", valid, mode)
		}
	}

	for _, invalid := range []string{"", "Strict", "lenient"} {
		if _, err := ParseSyncMode(invalid); err == nil {
			t.Fatalf("expected error for %q", invalid)
		}
	}
}

func TestMemberDeltaAddedRemoved(t *testing.T) {
	d := MemberDelta{
		Before: []int64{1, 2, 3},
		After:  []int64{2, 3, 4, 5},
	}

	if added := d.Added(); !slices.Equal(added, []int64{4, 5}) {
		t.Fatalf("unexpected added: %v", added)
	}
	if removed := d.Removed(); !slices.Equal(removed, []int64{1}) {
		t.Fatalf("unexpected removed: %v", removed)
	}
}

func TestMemberDeltaNoChange(t *testing.T) {
	d := MemberDelta{Before: []int64{1, 2}, After: []int64{2, 1}}

	if added := d.Added(); added != nil {
		t.Fatalf("expected no additions, got %v", added)
	}
	if removed := d.Removed(); removed != nil {
		t.Fatalf("expected no removals, got %v", removed)
	}
}

func TestCreateCandidateRequestValidate(t *testing.T) {
	if err := (CreateCandidateRequest{GuildID: 100, RoleID: 10}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (CreateCandidateRequest{RoleID: 10}).Validate(); err == nil {
		t.Fatal("expected error for missing guild_id")
	}
	if err := (CreateCandidateRequest{GuildID: 100}).Validate(); err == nil {
		t.Fatal("expected error for missing role_id")
	}
}
