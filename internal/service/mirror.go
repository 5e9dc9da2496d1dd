package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/GuildMirror/internal/domain"
	"github.com/Strob0t/GuildMirror/internal/domain/mirror"
	"github.com/Strob0t/GuildMirror/internal/port/database"
)

// MirrorService is the administrative surface: candidate and mapping
// registration with the write-time invariants enforced here, before
// anything reaches the store.
type MirrorService struct {
	store database.Store
	log   *slog.Logger
}

// NewMirrorService creates a new MirrorService.
func NewMirrorService(store database.Store, log *slog.Logger) *MirrorService {
	return &MirrorService{store: store, log: log}
}

// RegisterCandidate marks a (guild, role) pair as eligible for mappings.
// A pair that is already registered is a conflict; the lookup here names the
// existing candidate, the store's unique index catches the race.
func (s *MirrorService) RegisterCandidate(ctx context.Context, req mirror.CreateCandidateRequest) (*mirror.Candidate, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate candidate: %w", err)
	}

	if existing, err := s.store.GetCandidateByRole(ctx, req.GuildID, req.RoleID); err == nil {
		return nil, fmt.Errorf("role %d in guild %d already registered as candidate %s: %w",
			req.RoleID, req.GuildID, existing.ID, domain.ErrConflict)
	}

	c, err := s.store.CreateCandidate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("register candidate: %w", err)
	}

	s.log.Info("candidate registered", "candidate_id", c.ID, "guild_id", c.GuildID, "role_id", c.RoleID)
	return c, nil
}

// UnregisterCandidate deletes a candidate. A candidate referenced by any
// mapping as source or target is refused: removing it would orphan the
// mapping and silently stop synchronizing it.
func (s *MirrorService) UnregisterCandidate(ctx context.Context, id string) error {
	if _, err := s.store.GetCandidate(ctx, id); err != nil {
		return fmt.Errorf("unregister candidate: %w", err)
	}

	refs, err := s.store.CountMappingsForCandidate(ctx, id)
	if err != nil {
		return fmt.Errorf("check candidate references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("candidate %s has %d mapping(s): %w", id, refs, mirror.ErrCandidateInUse)
	}

	if err := s.store.DeleteCandidate(ctx, id); err != nil {
		return fmt.Errorf("unregister candidate: %w", err)
	}

	s.log.Info("candidate unregistered", "candidate_id", id)
	return nil
}

// ListCandidates returns all candidates registered in a guild.
func (s *MirrorService) ListCandidates(ctx context.Context, guildID int64) ([]mirror.Candidate, error) {
	return s.store.ListCandidates(ctx, guildID)
}

// GetCandidate returns a candidate by id.
func (s *MirrorService) GetCandidate(ctx context.Context, id string) (*mirror.Candidate, error) {
	return s.store.GetCandidate(ctx, id)
}

// RegisterMapping links a source candidate to a target candidate under a
// sync policy. Self-mappings are rejected before any persistence occurs;
// duplicate (source, target) pairs surface the store's uniqueness violation.
func (s *MirrorService) RegisterMapping(ctx context.Context, req mirror.CreateMappingRequest) (*mirror.Mapping, error) {
	mode, err := mirror.ParseSyncMode(req.Mode)
	if err != nil {
		return nil, fmt.Errorf("register mapping: %w", err)
	}
	if req.SourceID == req.TargetID {
		return nil, fmt.Errorf("register mapping: %w", mirror.ErrSelfMapping)
	}

	if _, err := s.store.GetCandidate(ctx, req.SourceID); err != nil {
		return nil, fmt.Errorf("source candidate %s: %w", req.SourceID, err)
	}
	if _, err := s.store.GetCandidate(ctx, req.TargetID); err != nil {
		return nil, fmt.Errorf("target candidate %s: %w", req.TargetID, err)
	}

	m, err := s.store.CreateMapping(ctx, req.SourceID, req.TargetID, mode)
	if err != nil {
		return nil, fmt.Errorf("register mapping: %w", err)
	}

	s.log.Info("mapping registered",
		"mapping_id", m.ID, "source_id", m.SourceID, "target_id", m.TargetID, "mode", m.Mode)
	return m, nil
}

// GetMapping returns one mapping with both candidate endpoints resolved.
func (s *MirrorService) GetMapping(ctx context.Context, id string) (*mirror.MappingDetail, error) {
	return s.store.GetMapping(ctx, id)
}

// UnregisterMapping deletes a mapping. Its candidates are untouched.
func (s *MirrorService) UnregisterMapping(ctx context.Context, id string) error {
	if err := s.store.DeleteMapping(ctx, id); err != nil {
		return fmt.Errorf("unregister mapping: %w", err)
	}
	s.log.Info("mapping unregistered", "mapping_id", id)
	return nil
}

// ListMappings returns every mapping with both candidate endpoints resolved.
func (s *MirrorService) ListMappings(ctx context.Context) ([]mirror.MappingDetail, error) {
	return s.store.ListMappings(ctx)
}
