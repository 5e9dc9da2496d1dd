package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/GuildMirror/internal/domain/mirror"
	"github.com/Strob0t/GuildMirror/internal/port/cache"
	"github.com/Strob0t/GuildMirror/internal/port/gateway"
)

// Session implements gateway.Session for one bot identity: REST calls for
// mutation and lookup, a websocket for event observation, and a TTL cache
// for member role-set snapshots.
type Session struct {
	id     string
	client *Client
	cache  cache.Cache
	ttl    time.Duration
	log    *slog.Logger

	mu       sync.RWMutex
	guilds   map[int64]struct{}
	socketUp bool

	onMemberUpdate  gateway.MemberUpdateHandler
	onGuildsChanged func()

	socket *socket
}

// NewSession creates a session for one configured bot identity.
func NewSession(id string, client *Client, memberCache cache.Cache, ttl time.Duration, log *slog.Logger) *Session {
	return &Session{
		id:     id,
		client: client,
		cache:  memberCache,
		ttl:    ttl,
		log:    log.With("bot_id", id),
		guilds: make(map[int64]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// OnMemberUpdate registers the member delta handler. Must be called before
// Connect.
func (s *Session) OnMemberUpdate(fn gateway.MemberUpdateHandler) {
	s.onMemberUpdate = fn
}

// OnGuildsChanged registers the visibility-change handler. Must be called
// before Connect.
func (s *Session) OnGuildsChanged(fn func()) {
	s.onGuildsChanged = fn
}

// Connect dials the gateway socket and keeps it connected until ctx is
// cancelled. Returns once the first READY has been processed so callers can
// build the routing index from live state.
func (s *Session) Connect(ctx context.Context, gatewayURL, token string) error {
	s.socket = newSocket(gatewayURL, token, s, s.log)
	return s.socket.run(ctx)
}

// GuildIDs returns the guilds this session has visibility into: the live
// socket state when connected, the REST view otherwise.
func (s *Session) GuildIDs(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	up := s.socketUp
	ids := make([]int64, 0, len(s.guilds))
	for g := range s.guilds {
		ids = append(ids, g)
	}
	s.mu.RUnlock()

	if up {
		slices.Sort(ids)
		return ids, nil
	}

	guilds, err := s.client.CurrentGuilds(ctx)
	if err != nil {
		return nil, fmt.Errorf("current guilds: %w", err)
	}
	ids = ids[:0]
	for _, g := range guilds {
		ids = append(ids, int64(g.ID))
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Session) RoleExists(ctx context.Context, guildID, roleID int64) (bool, error) {
	roles, err := s.client.GuildRoles(ctx, guildID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if int64(r.ID) == roleID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Session) RoleHolders(ctx context.Context, guildID, roleID int64) ([]int64, error) {
	members, err := s.client.ListMembers(ctx, guildID)
	if err != nil {
		return nil, err
	}
	var holders []int64
	for _, m := range members {
		if slices.Contains(m.roleIDs(), roleID) {
			holders = append(holders, int64(m.User.ID))
		}
	}
	return holders, nil
}

func (s *Session) IsMember(ctx context.Context, guildID, userID int64) (bool, error) {
	_, found, err := s.memberRoles(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	return found, nil
}

func (s *Session) MemberHasRole(ctx context.Context, guildID, userID, roleID int64) (bool, error) {
	roles, found, err := s.memberRoles(ctx, guildID, userID)
	if err != nil || !found {
		return false, err
	}
	return slices.Contains(roles, roleID), nil
}

func (s *Session) GrantRole(ctx context.Context, guildID, userID, roleID int64) error {
	if err := s.client.AddMemberRole(ctx, guildID, userID, roleID); err != nil {
		return err
	}
	s.invalidateMember(ctx, guildID, userID)
	return nil
}

func (s *Session) RevokeRole(ctx context.Context, guildID, userID, roleID int64) error {
	if err := s.client.RemoveMemberRole(ctx, guildID, userID, roleID); err != nil {
		return err
	}
	s.invalidateMember(ctx, guildID, userID)
	return nil
}

// memberRoles returns the member's role-id set, consulting the snapshot
// cache first. found is false when the user is not a member of the guild.
func (s *Session) memberRoles(ctx context.Context, guildID, userID int64) (roles []int64, found bool, err error) {
	key := memberKey(guildID, userID)

	if s.cache != nil {
		if data, ok, cacheErr := s.cache.Get(ctx, key); cacheErr == nil && ok {
			var cached []int64
			if json.Unmarshal(data, &cached) == nil {
				return cached, true, nil
			}
		}
	}

	m, err := s.client.GuildMember(ctx, guildID, userID)
	if err != nil {
		return nil, false, err
	}
	if m == nil {
		return nil, false, nil
	}

	roles = m.roleIDs()
	s.cacheMember(ctx, guildID, userID, roles)
	return roles, true, nil
}

func (s *Session) cacheMember(ctx context.Context, guildID, userID int64, roles []int64) {
	if s.cache == nil {
		return
	}
	if roles == nil {
		roles = []int64{}
	}
	if data, err := json.Marshal(roles); err == nil {
		_ = s.cache.Set(ctx, memberKey(guildID, userID), data, s.ttl)
	}
}

func (s *Session) invalidateMember(ctx context.Context, guildID, userID int64) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, memberKey(guildID, userID))
	}
}

func memberKey(guildID, userID int64) string {
	return fmt.Sprintf("member:%d:%d", guildID, userID)
}

// --- socket callbacks ---

// handleReady records the initial guild set reported by the gateway.
func (s *Session) handleReady(d readyData) {
	s.mu.Lock()
	s.socketUp = true
	s.guilds = make(map[int64]struct{}, len(d.Guilds))
	for _, g := range d.Guilds {
		s.guilds[int64(g.ID)] = struct{}{}
	}
	s.mu.Unlock()

	s.log.Info("gateway ready", "guilds", len(d.Guilds))
}

// handleGuildCreate adds the guild to the visible set and primes the member
// cache from the payload's member chunk.
func (s *Session) handleGuildCreate(ctx context.Context, d guildCreateData) {
	s.mu.Lock()
	_, known := s.guilds[int64(d.ID)]
	s.guilds[int64(d.ID)] = struct{}{}
	s.mu.Unlock()

	for _, m := range d.Members {
		s.cacheMember(ctx, int64(d.ID), int64(m.User.ID), m.roleIDs())
	}

	if !known && s.onGuildsChanged != nil {
		s.onGuildsChanged()
	}
}

// handleGuildDelete removes the guild from the visible set. An unavailable
// guild is an outage, not a removal, and does not change visibility.
func (s *Session) handleGuildDelete(d guildDeleteData) {
	if d.Unavailable {
		return
	}
	s.mu.Lock()
	delete(s.guilds, int64(d.ID))
	s.mu.Unlock()

	if s.onGuildsChanged != nil {
		s.onGuildsChanged()
	}
}

// handleMemberUpdate computes a before/after role delta from the cached
// snapshot. Without a cached before state there is no delta to compute;
// reconciliation covers the gap.
func (s *Session) handleMemberUpdate(ctx context.Context, d memberUpdateData) {
	guildID, userID := int64(d.GuildID), int64(d.User.ID)

	after := make([]int64, len(d.Roles))
	for i, r := range d.Roles {
		after[i] = int64(r)
	}

	var before []int64
	haveBefore := false
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, memberKey(guildID, userID)); err == nil && ok {
			haveBefore = json.Unmarshal(data, &before) == nil
		}
	}

	s.cacheMember(ctx, guildID, userID, after)

	if !haveBefore || s.onMemberUpdate == nil {
		return
	}

	s.onMemberUpdate(mirror.MemberDelta{
		GuildID: guildID,
		UserID:  userID,
		Before:  before,
		After:   after,
	})
}

// handleDisconnect marks the socket state down so GuildIDs falls back to REST.
func (s *Session) handleDisconnect() {
	s.mu.Lock()
	s.socketUp = false
	s.mu.Unlock()
}
