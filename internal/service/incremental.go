package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	otelx "github.com/Strob0t/GuildMirror/internal/adapter/otel"
	"github.com/Strob0t/GuildMirror/internal/domain/mirror"
	"github.com/Strob0t/GuildMirror/internal/port/database"
	"github.com/Strob0t/GuildMirror/internal/port/gateway"
	"github.com/Strob0t/GuildMirror/internal/port/messagequeue"
)

// IncrementalSyncService applies mappings in response to a single observed
// member role-set change. It is the event-driven half of the engine: fast,
// best-effort, and backstopped by periodic reconciliation.
type IncrementalSyncService struct {
	store    database.Store
	registry *BotRegistry
	queue    messagequeue.Queue // optional
	metrics  *otelx.Metrics     // optional
	log      *slog.Logger
}

// NewIncrementalSyncService creates a new IncrementalSyncService.
// queue and metrics may be nil.
func NewIncrementalSyncService(
	store database.Store,
	registry *BotRegistry,
	queue messagequeue.Queue,
	metrics *otelx.Metrics,
	log *slog.Logger,
) *IncrementalSyncService {
	return &IncrementalSyncService{
		store:    store,
		registry: registry,
		queue:    queue,
		metrics:  metrics,
		log:      log,
	}
}

// HandleMemberUpdate processes one member role delta. Mappings whose source
// role was added get the target role granted; mappings whose source role was
// removed get it revoked. Retraction here is applied regardless of sync
// mode; only full reconciliation differentiates by mode.
//
// Failures on individual grant/revoke calls are logged and do not abort the
// remaining mappings. Only a store failure aborts the whole delta.
func (s *IncrementalSyncService) HandleMemberUpdate(ctx context.Context, delta mirror.MemberDelta) error {
	added := delta.Added()
	removed := delta.Removed()
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	if s.metrics != nil {
		s.metrics.DeltasProcessed.Add(ctx, 1)
	}

	changed := make([]int64, 0, len(added)+len(removed))
	changed = append(changed, added...)
	changed = append(changed, removed...)

	mappings, err := s.store.ListMappingsBySourceRole(ctx, delta.GuildID, changed)
	if err != nil {
		return fmt.Errorf("load mappings for guild %d: %w", delta.GuildID, err)
	}
	if len(mappings) == 0 {
		return nil
	}

	addedSet := make(map[int64]struct{}, len(added))
	for _, id := range added {
		addedSet[id] = struct{}{}
	}

	for _, m := range mappings {
		if _, ok := addedSet[m.Source.RoleID]; ok {
			s.apply(ctx, m, delta.UserID)
		} else {
			s.retract(ctx, m, delta.UserID)
		}
	}

	return nil
}

// apply grants the mapping's target role to the user, if the user is a
// member of the target guild and does not already hold it.
func (s *IncrementalSyncService) apply(ctx context.Context, m mirror.MappingDetail, userID int64) {
	session, err := s.registry.ResolveForGuild(m.Target.GuildID)
	if err != nil {
		s.log.Error("cannot apply mapping", "mapping_id", m.ID, "error", err)
		return
	}

	member, err := session.IsMember(ctx, m.Target.GuildID, userID)
	if err != nil {
		s.logLookupFailure("member lookup failed", m, userID, err)
		return
	}
	if !member {
		// Not in the target guild; nothing to mirror.
		return
	}

	held, err := session.MemberHasRole(ctx, m.Target.GuildID, userID, m.Target.RoleID)
	if err != nil {
		s.logLookupFailure("role lookup failed", m, userID, err)
		return
	}
	if held {
		return
	}

	if err := session.GrantRole(ctx, m.Target.GuildID, userID, m.Target.RoleID); err != nil {
		s.log.Error("grant failed",
			"mapping_id", m.ID, "guild_id", m.Target.GuildID, "user_id", userID,
			"role_id", m.Target.RoleID, "error", err)
		if s.metrics != nil {
			s.metrics.SyncFailures.Add(ctx, 1)
		}
		return
	}

	s.log.Info("role granted",
		"mapping_id", m.ID, "guild_id", m.Target.GuildID, "user_id", userID, "role_id", m.Target.RoleID)
	if s.metrics != nil {
		s.metrics.RolesGranted.Add(ctx, 1)
	}
	s.publish(ctx, messagequeue.SubjectRoleGranted, m, userID)
}

// retract revokes the mapping's target role from the user, if held.
func (s *IncrementalSyncService) retract(ctx context.Context, m mirror.MappingDetail, userID int64) {
	session, err := s.registry.ResolveForGuild(m.Target.GuildID)
	if err != nil {
		s.log.Error("cannot retract mapping", "mapping_id", m.ID, "error", err)
		return
	}

	member, err := session.IsMember(ctx, m.Target.GuildID, userID)
	if err != nil {
		s.logLookupFailure("member lookup failed", m, userID, err)
		return
	}
	if !member {
		return
	}

	held, err := session.MemberHasRole(ctx, m.Target.GuildID, userID, m.Target.RoleID)
	if err != nil {
		s.logLookupFailure("role lookup failed", m, userID, err)
		return
	}
	if !held {
		return
	}

	if err := session.RevokeRole(ctx, m.Target.GuildID, userID, m.Target.RoleID); err != nil {
		s.log.Error("revoke failed",
			"mapping_id", m.ID, "guild_id", m.Target.GuildID, "user_id", userID,
			"role_id", m.Target.RoleID, "error", err)
		if s.metrics != nil {
			s.metrics.SyncFailures.Add(ctx, 1)
		}
		return
	}

	s.log.Info("role revoked",
		"mapping_id", m.ID, "guild_id", m.Target.GuildID, "user_id", userID, "role_id", m.Target.RoleID)
	if s.metrics != nil {
		s.metrics.RolesRevoked.Add(ctx, 1)
	}
	s.publish(ctx, messagequeue.SubjectRoleRevoked, m, userID)
}

// logLookupFailure distinguishes stale references (WARN, nothing to do)
// from transient platform errors (ERROR).
func (s *IncrementalSyncService) logLookupFailure(msg string, m mirror.MappingDetail, userID int64, err error) {
	level := s.log.Error
	if isStale(err) {
		level = s.log.Warn
	}
	level(msg, "mapping_id", m.ID, "guild_id", m.Target.GuildID, "user_id", userID, "error", err)
}

func isStale(err error) bool {
	return errors.Is(err, gateway.ErrUnknownGuild) || errors.Is(err, gateway.ErrUnknownRole)
}

func (s *IncrementalSyncService) publish(ctx context.Context, subject string, m mirror.MappingDetail, userID int64) {
	if s.queue == nil {
		return
	}
	payload, err := json.Marshal(messagequeue.RoleChangePayload{
		MappingID: m.ID,
		GuildID:   m.Target.GuildID,
		UserID:    userID,
		RoleID:    m.Target.RoleID,
		Origin:    "incremental",
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, subject, payload); err != nil {
		s.log.Warn("audit publish failed", "subject", subject, "error", err)
	}
}
