package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/GuildMirror/internal/domain/mirror"
)

// mappingColumns joins a mapping with both candidate endpoints. Source and
// target may live in different guilds by design; nothing here is scoped to
// a single guild.
const mappingColumns = `
	m.id, m.source_id, m.target_id, m.sync_mode, m.created_at,
	src.id, src.guild_id, src.role_id, src.created_at,
	dst.id, dst.guild_id, dst.role_id, dst.created_at
	FROM mirror_mappings m
	JOIN mirror_candidates src ON src.id = m.source_id
	JOIN mirror_candidates dst ON dst.id = m.target_id`

func scanMappingDetail(row pgx.Row) (*mirror.MappingDetail, error) {
	var d mirror.MappingDetail
	err := row.Scan(
		&d.ID, &d.SourceID, &d.TargetID, &d.Mode, &d.CreatedAt,
		&d.Source.ID, &d.Source.GuildID, &d.Source.RoleID, &d.Source.CreatedAt,
		&d.Target.ID, &d.Target.GuildID, &d.Target.RoleID, &d.Target.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// --- Mapping CRUD ---

func (s *Store) CreateMapping(ctx context.Context, sourceID, targetID string, mode mirror.SyncMode) (*mirror.Mapping, error) {
	var m mirror.Mapping
	err := s.pool.QueryRow(ctx,
		`INSERT INTO mirror_mappings (id, source_id, target_id, sync_mode) VALUES ($1, $2, $3, $4)
		 RETURNING id, source_id, target_id, sync_mode, created_at`,
		uuid.NewString(), sourceID, targetID, string(mode),
	).Scan(&m.ID, &m.SourceID, &m.TargetID, &m.Mode, &m.CreatedAt)
	if err != nil {
		return nil, conflictWrap(err, "create mapping %s -> %s", sourceID, targetID)
	}
	return &m, nil
}

func (s *Store) GetMapping(ctx context.Context, id string) (*mirror.MappingDetail, error) {
	d, err := scanMappingDetail(s.pool.QueryRow(ctx,
		`SELECT `+mappingColumns+` WHERE m.id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get mapping %s", id)
	}
	return d, nil
}

func (s *Store) ListMappings(ctx context.Context) ([]mirror.MappingDetail, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mappingColumns+` ORDER BY m.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	return collectMappings(rows)
}

func (s *Store) DeleteMapping(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM mirror_mappings WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete mapping %s", id)
}

func (s *Store) ListMappingsBySourceRole(ctx context.Context, guildID int64, roleIDs []int64) ([]mirror.MappingDetail, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+mappingColumns+`
		 WHERE src.guild_id = $1 AND src.role_id = ANY($2)
		 ORDER BY m.created_at ASC`, guildID, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("list mappings by source role: %w", err)
	}
	return collectMappings(rows)
}

func (s *Store) ListMappingsByTargetGuild(ctx context.Context, guildIDs []int64) ([]mirror.MappingDetail, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mappingColumns+`
		 WHERE cardinality($1::bigint[]) = 0 OR dst.guild_id = ANY($1)
		 ORDER BY m.created_at ASC`, orEmptyInt64(guildIDs))
	if err != nil {
		return nil, fmt.Errorf("list mappings by target guild: %w", err)
	}
	return collectMappings(rows)
}

func collectMappings(rows pgx.Rows) ([]mirror.MappingDetail, error) {
	defer rows.Close()

	var mappings []mirror.MappingDetail
	for rows.Next() {
		d, err := scanMappingDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		mappings = append(mappings, *d)
	}
	return mappings, rows.Err()
}

// orEmptyInt64 ensures nil slices reach the driver as empty arrays, not NULL.
func orEmptyInt64(s []int64) []int64 {
	if s == nil {
		return []int64{}
	}
	return s
}
