package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	otelx "github.com/Strob0t/GuildMirror/internal/adapter/otel"
	"github.com/Strob0t/GuildMirror/internal/domain/mirror"
	"github.com/Strob0t/GuildMirror/internal/port/database"
	"github.com/Strob0t/GuildMirror/internal/port/gateway"
	"github.com/Strob0t/GuildMirror/internal/port/messagequeue"
	"github.com/Strob0t/GuildMirror/internal/port/notifier"
)

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Mappings int           `json:"mappings"`
	Granted  int           `json:"granted"`
	Revoked  int           `json:"revoked"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"-"`
}

// ReconcileService recomputes the full desired state for every mapping and
// converges the target guilds to it, independent of any event having been
// observed. It is the correctness backstop for the incremental path.
type ReconcileService struct {
	store    database.Store
	registry *BotRegistry
	queue    messagequeue.Queue // optional
	metrics  *otelx.Metrics     // optional
	alerts   notifier.Notifier  // optional
	log      *slog.Logger

	interval    time.Duration
	maxParallel int
	running     atomic.Bool
}

// NewReconcileService creates a new ReconcileService.
// queue, metrics, and alerts may be nil.
func NewReconcileService(
	store database.Store,
	registry *BotRegistry,
	queue messagequeue.Queue,
	metrics *otelx.Metrics,
	alerts notifier.Notifier,
	interval time.Duration,
	maxParallel int,
	log *slog.Logger,
) *ReconcileService {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &ReconcileService{
		store:       store,
		registry:    registry,
		queue:       queue,
		metrics:     metrics,
		alerts:      alerts,
		log:         log,
		interval:    interval,
		maxParallel: maxParallel,
	}
}

// Start launches the periodic reconciliation loop. The timer is not
// re-entrant: a tick that fires while a pass is still running is skipped.
// The loop stops when ctx is cancelled.
func (s *ReconcileService) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("periodic reconciliation disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.ReconcileAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.log.Error("periodic reconciliation failed", "error", err)
				}
			}
		}
	}()
}

// ReconcileAll reconciles every mapping.
func (s *ReconcileService) ReconcileAll(ctx context.Context) (*PassResult, error) {
	return s.ReconcileNow(ctx, nil)
}

// ErrPassInProgress is returned when a pass is requested while another is
// still running.
var ErrPassInProgress = errors.New("reconciliation pass already in progress")

// ReconcileNow runs one full pass over the mappings whose target guild is in
// guildIDs. An empty filter selects every mapping. Mappings are processed
// with bounded parallelism so one slow platform call cannot starve the rest;
// the pass checks ctx between mappings to bound shutdown latency.
func (s *ReconcileService) ReconcileNow(ctx context.Context, guildIDs []int64) (*PassResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("reconciliation pass skipped", "reason", "previous pass still running")
		return nil, ErrPassInProgress
	}
	defer s.running.Store(false)

	start := time.Now()

	mappings, err := s.store.ListMappingsByTargetGuild(ctx, guildIDs)
	if err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}

	var granted, revoked, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)

	for _, m := range mappings {
		if err := ctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			r := s.syncMapping(gctx, m)
			granted.Add(int64(r.Granted))
			revoked.Add(int64(r.Revoked))
			skipped.Add(int64(r.Skipped))
			failed.Add(int64(r.Failed))
			// Per-mapping failures never abort the batch.
			return nil
		})
	}
	_ = g.Wait()

	result := &PassResult{
		Mappings: len(mappings),
		Granted:  int(granted.Load()),
		Revoked:  int(revoked.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
		Duration: time.Since(start),
	}

	s.finishPass(ctx, result)
	return result, ctx.Err()
}

// finishPass records metrics, publishes the audit summary, and raises an
// operational alert when the pass saw failures.
func (s *ReconcileService) finishPass(ctx context.Context, r *PassResult) {
	s.log.Info("reconciliation pass complete",
		"mappings", r.Mappings, "granted", r.Granted, "revoked", r.Revoked,
		"skipped", r.Skipped, "failed", r.Failed, "duration", r.Duration)

	if s.metrics != nil {
		s.metrics.ReconcileRuns.Add(ctx, 1)
		s.metrics.RolesGranted.Add(ctx, int64(r.Granted))
		s.metrics.RolesRevoked.Add(ctx, int64(r.Revoked))
		s.metrics.SyncFailures.Add(ctx, int64(r.Failed))
		s.metrics.ReconcileSkipped.Add(ctx, int64(r.Skipped))
		s.metrics.ReconcileDuration.Record(ctx, r.Duration.Seconds())
	}

	if s.queue != nil {
		payload, err := json.Marshal(messagequeue.ReconcileDonePayload{
			Mappings:   r.Mappings,
			Granted:    r.Granted,
			Revoked:    r.Revoked,
			Skipped:    r.Skipped,
			Failed:     r.Failed,
			DurationMS: float64(r.Duration.Milliseconds()),
		})
		if err == nil {
			if err := s.queue.Publish(ctx, messagequeue.SubjectReconcileDone, payload); err != nil {
				s.log.Warn("audit publish failed", "subject", messagequeue.SubjectReconcileDone, "error", err)
			}
		}
	}

	if s.alerts != nil && r.Failed > 0 {
		err := s.alerts.Send(ctx, notifier.Notification{
			Title:   "Reconciliation pass saw failures",
			Message: fmt.Sprintf("%d of the grant/revoke calls failed across %d mappings", r.Failed, r.Mappings),
			Level:   "warning",
			Source:  "reconcile.completed",
		})
		if err != nil && !errors.Is(err, notifier.ErrNotConfigured) {
			s.log.Warn("alert send failed", "error", err)
		}
	}
}

// mappingResult counts the outcome of reconciling one mapping.
type mappingResult struct {
	Granted, Revoked, Skipped, Failed int
}

// syncMapping converges one mapping. Unreachable guilds and vanished roles
// are recoverable: the mapping is skipped at WARN and retried next pass.
func (s *ReconcileService) syncMapping(ctx context.Context, m mirror.MappingDetail) mappingResult {
	var res mappingResult

	sourceSession, err := s.registry.ResolveForGuild(m.Source.GuildID)
	if err != nil {
		s.log.Error("cannot reconcile mapping", "mapping_id", m.ID, "error", err)
		res.Skipped++
		return res
	}
	targetSession, err := s.registry.ResolveForGuild(m.Target.GuildID)
	if err != nil {
		s.log.Error("cannot reconcile mapping", "mapping_id", m.ID, "error", err)
		res.Skipped++
		return res
	}

	if !s.rolesResolvable(ctx, sourceSession, targetSession, m) {
		res.Skipped++
		return res
	}

	sourceMembers, err := sourceSession.RoleHolders(ctx, m.Source.GuildID, m.Source.RoleID)
	if err != nil {
		s.warnSkip(m, "source role holders unavailable", err)
		res.Skipped++
		return res
	}

	sourceSet := make(map[int64]struct{}, len(sourceMembers))
	for _, u := range sourceMembers {
		sourceSet[u] = struct{}{}
	}

	// Add pass, both modes: members holding the source role gain the
	// target role if they are also in the target guild.
	for _, userID := range sourceMembers {
		member, err := targetSession.IsMember(ctx, m.Target.GuildID, userID)
		if err != nil || !member {
			if err != nil {
				s.log.Error("member lookup failed", "mapping_id", m.ID, "user_id", userID, "error", err)
				res.Failed++
			}
			continue
		}

		held, err := targetSession.MemberHasRole(ctx, m.Target.GuildID, userID, m.Target.RoleID)
		if err != nil {
			s.log.Error("role lookup failed", "mapping_id", m.ID, "user_id", userID, "error", err)
			res.Failed++
			continue
		}
		if held {
			continue
		}

		if err := targetSession.GrantRole(ctx, m.Target.GuildID, userID, m.Target.RoleID); err != nil {
			s.log.Error("grant failed", "mapping_id", m.ID, "user_id", userID, "error", err)
			res.Failed++
			continue
		}
		res.Granted++
		s.publishChange(ctx, messagequeue.SubjectRoleGranted, m, userID)
	}

	// Remove pass, strict mode only: target-role holders who are not in
	// the source member set lose the target role.
	if m.Mode != mirror.SyncStrict {
		return res
	}

	holders, err := targetSession.RoleHolders(ctx, m.Target.GuildID, m.Target.RoleID)
	if err != nil {
		s.warnSkip(m, "target role holders unavailable", err)
		res.Skipped++
		return res
	}

	for _, userID := range holders {
		if _, qualifies := sourceSet[userID]; qualifies {
			continue
		}
		if err := targetSession.RevokeRole(ctx, m.Target.GuildID, userID, m.Target.RoleID); err != nil {
			s.log.Error("revoke failed", "mapping_id", m.ID, "user_id", userID, "error", err)
			res.Failed++
			continue
		}
		res.Revoked++
		s.publishChange(ctx, messagequeue.SubjectRoleRevoked, m, userID)
	}

	return res
}

// rolesResolvable verifies both roles still exist. A vanished role means a
// stale candidate, which is not an engine-level error.
func (s *ReconcileService) rolesResolvable(ctx context.Context, src, dst gateway.Session, m mirror.MappingDetail) bool {
	for _, probe := range []struct {
		session gateway.Session
		guildID int64
		roleID  int64
		side    string
	}{
		{src, m.Source.GuildID, m.Source.RoleID, "source"},
		{dst, m.Target.GuildID, m.Target.RoleID, "target"},
	} {
		ok, err := probe.session.RoleExists(ctx, probe.guildID, probe.roleID)
		if err != nil {
			s.warnSkip(m, probe.side+" guild unreachable", err)
			return false
		}
		if !ok {
			s.log.Warn("stale candidate, role no longer exists",
				"mapping_id", m.ID, "side", probe.side, "guild_id", probe.guildID, "role_id", probe.roleID)
			return false
		}
	}
	return true
}

func (s *ReconcileService) warnSkip(m mirror.MappingDetail, msg string, err error) {
	s.log.Warn("mapping skipped: "+msg,
		"mapping_id", m.ID,
		"source_guild", m.Source.GuildID, "target_guild", m.Target.GuildID,
		"error", err)
}

func (s *ReconcileService) publishChange(ctx context.Context, subject string, m mirror.MappingDetail, userID int64) {
	if s.queue == nil {
		return
	}
	payload, err := json.Marshal(messagequeue.RoleChangePayload{
		MappingID: m.ID,
		GuildID:   m.Target.GuildID,
		UserID:    userID,
		RoleID:    m.Target.RoleID,
		Origin:    "reconcile",
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, subject, payload); err != nil {
		s.log.Warn("audit publish failed", "subject", subject, "error", err)
	}
}
