// Package mirror defines the role-mirroring domain model: candidates,
// mappings between them, and the sync policies that govern a mapping.
package mirror

import (
	"errors"
	"fmt"
	"time"
)

// SyncMode controls how a mapping keeps the target role aligned with the
// source role during full reconciliation.
type SyncMode string

const (
	// SyncStrict removes the target role from members who no longer hold
	// the source role.
	SyncStrict SyncMode = "strict"

	// SyncPreserve only ever grants the target role; it never revokes it.
	SyncPreserve SyncMode = "preserve"
)

// ParseSyncMode validates a sync mode string.
func ParseSyncMode(s string) (SyncMode, error) {
	switch SyncMode(s) {
	case SyncStrict, SyncPreserve:
		return SyncMode(s), nil
	default:
		return "", fmt.Errorf("unknown sync mode %q (want %q or %q)", s, SyncStrict, SyncPreserve)
	}
}

// ErrSelfMapping indicates a mapping whose source and target are the same
// candidate. Rejected before any persistence occurs.
var ErrSelfMapping = errors.New("source and target candidates must differ")

// ErrCandidateInUse indicates an attempt to unregister a candidate that is
// still referenced by a mapping as source or target.
var ErrCandidateInUse = errors.New("candidate is still referenced by a mapping")

// Candidate marks a role in one guild as eligible to participate in a
// mapping. Unique per (guild, role) pair.
type Candidate struct {
	ID        string    `json:"id"`
	GuildID   int64     `json:"guild_id"`
	RoleID    int64     `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Mapping links a source candidate to a target candidate with a sync policy.
// It is the only entity that crosses guild boundaries: source and target may
// belong to different guilds by design.
type Mapping struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Mode      SyncMode  `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// MappingDetail is a mapping joined with both candidate endpoints. The sync
// engines operate on this view so they never need a second candidate lookup.
type MappingDetail struct {
	Mapping
	Source Candidate `json:"source"`
	Target Candidate `json:"target"`
}

// CreateCandidateRequest holds the fields required to register a candidate.
type CreateCandidateRequest struct {
	GuildID int64 `json:"guild_id"`
	RoleID  int64 `json:"role_id"`
}

// Validate checks the request for obviously invalid identifiers.
func (r CreateCandidateRequest) Validate() error {
	if r.GuildID <= 0 {
		return errors.New("guild_id is required")
	}
	if r.RoleID <= 0 {
		return errors.New("role_id is required")
	}
	return nil
}

// CreateMappingRequest holds the fields required to register a mapping.
type CreateMappingRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Mode     string `json:"mode"`
}

// MemberDelta describes one observed change to a member's role set in a
// guild. Before and After are full role-id sets; delivery is best-effort
// and may have gaps, which periodic reconciliation papers over.
type MemberDelta struct {
	GuildID int64
	UserID  int64
	Before  []int64
	After   []int64
}

// Added returns the role ids present in After but not Before.
func (d MemberDelta) Added() []int64 {
	return diff(d.After, d.Before)
}

// Removed returns the role ids present in Before but not After.
func (d MemberDelta) Removed() []int64 {
	return diff(d.Before, d.After)
}

func diff(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(b))
	for _, id := range b {
		seen[id] = struct{}{}
	}
	var out []int64
	for _, id := range a {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
