package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/GuildMirror/internal/domain"
	"github.com/Strob0t/GuildMirror/internal/domain/mirror"
)

func TestRegisterCandidate(t *testing.T) {
	svc := NewMirrorService(&mockStore{}, testLogger())

	c, err := svc.RegisterCandidate(context.Background(), mirror.CreateCandidateRequest{GuildID: 100, RoleID: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.GuildID != 100 || c.RoleID != 10 {
		t.Fatalf("unexpected candidate: %+v", c)
	}
}

func TestRegisterCandidateRejectsInvalid(t *testing.T) {
	svc := NewMirrorService(&mockStore{}, testLogger())

	if _, err := svc.RegisterCandidate(context.Background(), mirror.CreateCandidateRequest{GuildID: 100}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRegisterCandidateDuplicate(t *testing.T) {
	svc := NewMirrorService(&mockStore{}, testLogger())
	req := mirror.CreateCandidateRequest{GuildID: 100, RoleID: 10}

	if _, err := svc.RegisterCandidate(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.RegisterCandidate(context.Background(), req); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRegisterMapping(t *testing.T) {
	store := &mockStore{}
	svc := NewMirrorService(store, testLogger())

	src, _ := svc.RegisterCandidate(context.Background(), mirror.CreateCandidateRequest{GuildID: 100, RoleID: 10})
	dst, _ := svc.RegisterCandidate(context.Background(), mirror.CreateCandidateRequest{GuildID: 200, RoleID: 20})

	m, err := svc.RegisterMapping(context.Background(), mirror.CreateMappingRequest{
		SourceID: src.ID, TargetID: dst.ID, Mode: "strict",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Mode != mirror.SyncStrict {
		t.Fatalf("expected strict mode, got %q", m.Mode)
	}
}

func TestRegisterMappingRejectsSelf(t *testing.T) {
	store := &mockStore{}
	svc := NewMirrorService(store, testLogger())

	c, _ := svc.RegisterCandidate(context.Background(), mirror.CreateCandidateRequest{GuildID: 100, RoleID: 10})

	_, err := svc.RegisterMapping(context.Background(), mirror.CreateMappingRequest{
		SourceID: c.ID, TargetID: c.ID, Mode: "strict",
	})
	if !errors.Is(err, mirror.ErrSelfMapping) {
		t.Fatalf("expected ErrSelfMapping, got %v", err)
	}
	if len(store.mappings) != 0 {
		t.Fatal("self-mapping reached the store")
	}
}

func TestRegisterMappingRejectsUnknownMode(t *testing.T) {
	svc := NewMirrorService(&mockStore{}, testLogger())

	if _, err := svc.RegisterMapping(context.Background(), mirror.CreateMappingRequest{
		SourceID: "c1", TargetID: "c2", Mode: "lenient",
	}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRegisterMappingRequiresCandidates(t *testing.T) {
	store := &mockStore{}
	svc := NewMirrorService(store, testLogger())

	src, _ := svc.RegisterCandidate(context.Background(), mirror.CreateCandidateRequest{GuildID: 100, RoleID: 10})

	_, err := svc.RegisterMapping(context.Background(), mirror.CreateMappingRequest{
		SourceID: src.ID, TargetID: "missing", Mode: "preserve",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterMappingDuplicatePair(t *testing.T) {
	store := &mockStore{}
	svc := NewMirrorService(store, testLogger())

	src, _ := svc.RegisterCandidate(context.Background(), mirror.CreateCandidateRequest{GuildID: 100, RoleID: 10})
	dst, _ := svc.RegisterCandidate(context.Background(), mirror.CreateCandidateRequest{GuildID: 200, RoleID: 20})
	req := mirror.CreateMappingRequest{SourceID: src.ID, TargetID: dst.ID, Mode: "strict"}

	if _, err := svc.RegisterMapping(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.RegisterMapping(context.Background(), req); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUnregisterCandidateInUse(t *testing.T) {
	store, m := mirrorFixture(mirror.SyncStrict)
	svc := NewMirrorService(store, testLogger())

	err := svc.UnregisterCandidate(context.Background(), m.SourceID)
	if !errors.Is(err, mirror.ErrCandidateInUse) {
		t.Fatalf("expected ErrCandidateInUse, got %v", err)
	}

	// Deleting the mapping releases both candidates.
	if err := svc.UnregisterMapping(context.Background(), m.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.UnregisterCandidate(context.Background(), m.SourceID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUnregisterCandidateNotFound(t *testing.T) {
	svc := NewMirrorService(&mockStore{}, testLogger())

	if err := svc.UnregisterCandidate(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnregisterMappingNotFound(t *testing.T) {
	svc := NewMirrorService(&mockStore{}, testLogger())

	if err := svc.UnregisterMapping(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
