package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Strob0t/GuildMirror/internal/domain/mirror"
)

// --- Candidate CRUD ---

func (s *Store) CreateCandidate(ctx context.Context, req mirror.CreateCandidateRequest) (*mirror.Candidate, error) {
	var c mirror.Candidate
	err := s.pool.QueryRow(ctx,
		`INSERT INTO mirror_candidates (id, guild_id, role_id) VALUES ($1, $2, $3)
		 RETURNING id, guild_id, role_id, created_at`,
		uuid.NewString(), req.GuildID, req.RoleID,
	).Scan(&c.ID, &c.GuildID, &c.RoleID, &c.CreatedAt)
	if err != nil {
		return nil, conflictWrap(err, "create candidate (guild %d, role %d)", req.GuildID, req.RoleID)
	}
	return &c, nil
}

func (s *Store) GetCandidate(ctx context.Context, id string) (*mirror.Candidate, error) {
	var c mirror.Candidate
	err := s.pool.QueryRow(ctx,
		`SELECT id, guild_id, role_id, created_at
		 FROM mirror_candidates WHERE id = $1`, id,
	).Scan(&c.ID, &c.GuildID, &c.RoleID, &c.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get candidate %s", id)
	}
	return &c, nil
}

func (s *Store) GetCandidateByRole(ctx context.Context, guildID, roleID int64) (*mirror.Candidate, error) {
	var c mirror.Candidate
	err := s.pool.QueryRow(ctx,
		`SELECT id, guild_id, role_id, created_at
		 FROM mirror_candidates WHERE guild_id = $1 AND role_id = $2`, guildID, roleID,
	).Scan(&c.ID, &c.GuildID, &c.RoleID, &c.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get candidate (guild %d, role %d)", guildID, roleID)
	}
	return &c, nil
}

func (s *Store) ListCandidates(ctx context.Context, guildID int64) ([]mirror.Candidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, guild_id, role_id, created_at
		 FROM mirror_candidates WHERE guild_id = $1 ORDER BY created_at ASC`, guildID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var candidates []mirror.Candidate
	for rows.Next() {
		var c mirror.Candidate
		if err := rows.Scan(&c.ID, &c.GuildID, &c.RoleID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func (s *Store) DeleteCandidate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM mirror_candidates WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete candidate %s", id)
}

func (s *Store) CountMappingsForCandidate(ctx context.Context, id string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM mirror_mappings WHERE source_id = $1 OR target_id = $1`, id,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count mappings for candidate %s: %w", id, err)
	}
	return n, nil
}
