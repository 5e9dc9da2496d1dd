package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Strob0t/GuildMirror/internal/port/gateway"
)

// ErrNoBotForGuild indicates no registered bot identity has visibility into
// the guild. This is a configuration error: the operation that needed the
// guild is aborted, nothing else is.
var ErrNoBotForGuild = errors.New("no bot identity covers this guild")

// ErrGuildOverlap indicates two bot identities report visibility into the
// same guild. Routing would be nondeterministic, so the index rebuild
// rejects the overlap instead of silently picking one.
var ErrGuildOverlap = errors.New("multiple bot identities cover the same guild")

// BotRegistry holds one gateway session per configured bot identity and
// routes a guild id to the session that currently has visibility into it.
// The routing index is read-mostly: it is rebuilt whenever a session's
// visible-guild set changes, never mutated in place.
type BotRegistry struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]gateway.Session
	order    []string
	byGuild  map[int64]gateway.Session
}

// NewBotRegistry creates an empty BotRegistry.
func NewBotRegistry(log *slog.Logger) *BotRegistry {
	return &BotRegistry{
		log:      log,
		sessions: make(map[string]gateway.Session),
		byGuild:  make(map[int64]gateway.Session),
	}
}

// Register adds a session under its bot id. Idempotent: a duplicate id keeps
// the existing session and a warning is the only observable side effect.
func (r *BotRegistry) Register(s gateway.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID()]; exists {
		r.log.Warn("bot identity already registered, keeping existing session", "bot_id", s.ID())
		return
	}
	r.sessions[s.ID()] = s
	r.order = append(r.order, s.ID())
}

// ForEach applies fn to every registered session in registration order.
// Used to attach gateway event handlers once per identity at startup.
func (r *BotRegistry) ForEach(fn func(s gateway.Session)) {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	for _, id := range ids {
		r.mu.RLock()
		s := r.sessions[id]
		r.mu.RUnlock()
		fn(s)
	}
}

// Len returns the number of registered sessions.
func (r *BotRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RebuildIndex recomputes the guild routing index from every session's
// current visible-guild set. Two sessions reporting the same guild is a
// hard conflict: the rebuild fails and the previous index stays in effect.
func (r *BotRegistry) RebuildIndex(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sessions := make([]gateway.Session, 0, len(ids))
	for _, id := range ids {
		sessions = append(sessions, r.sessions[id])
	}
	r.mu.RUnlock()

	next := make(map[int64]gateway.Session)
	for _, s := range sessions {
		guilds, err := s.GuildIDs(ctx)
		if err != nil {
			return fmt.Errorf("list guilds for bot %s: %w", s.ID(), err)
		}
		for _, g := range guilds {
			if prev, taken := next[g]; taken {
				return fmt.Errorf("guild %d claimed by bots %s and %s: %w",
					g, prev.ID(), s.ID(), ErrGuildOverlap)
			}
			next[g] = s
		}
	}

	r.mu.Lock()
	r.byGuild = next
	r.mu.Unlock()

	r.log.Info("guild routing index rebuilt", "guilds", len(next), "bots", len(sessions))
	return nil
}

// ResolveForGuild returns the session whose live connection currently
// reports membership in the guild.
func (r *BotRegistry) ResolveForGuild(guildID int64) (gateway.Session, error) {
	r.mu.RLock()
	s, ok := r.byGuild[guildID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("guild %d: %w", guildID, ErrNoBotForGuild)
	}
	return s, nil
}
