// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/Strob0t/GuildMirror/internal/domain/mirror"
)

// Store is the port interface for database operations.
type Store interface {
	// Candidates
	CreateCandidate(ctx context.Context, req mirror.CreateCandidateRequest) (*mirror.Candidate, error)
	GetCandidate(ctx context.Context, id string) (*mirror.Candidate, error)
	GetCandidateByRole(ctx context.Context, guildID, roleID int64) (*mirror.Candidate, error)
	ListCandidates(ctx context.Context, guildID int64) ([]mirror.Candidate, error)
	DeleteCandidate(ctx context.Context, id string) error

	// CountMappingsForCandidate returns how many mappings reference the
	// candidate as source or target. Used for the referential check on
	// candidate unregistration.
	CountMappingsForCandidate(ctx context.Context, id string) (int, error)

	// Mappings
	CreateMapping(ctx context.Context, sourceID, targetID string, mode mirror.SyncMode) (*mirror.Mapping, error)
	GetMapping(ctx context.Context, id string) (*mirror.MappingDetail, error)
	ListMappings(ctx context.Context) ([]mirror.MappingDetail, error)
	DeleteMapping(ctx context.Context, id string) error

	// ListMappingsBySourceRole returns every mapping whose source candidate
	// lives in guildID and whose source role is one of roleIDs. Drives the
	// incremental sync path.
	ListMappingsBySourceRole(ctx context.Context, guildID int64, roleIDs []int64) ([]mirror.MappingDetail, error)

	// ListMappingsByTargetGuild returns every mapping whose target candidate
	// lives in one of guildIDs. An empty slice selects all mappings. Drives
	// the reconciliation path.
	ListMappingsByTargetGuild(ctx context.Context, guildIDs []int64) ([]mirror.MappingDetail, error)
}
