// Package gateway defines the chat-platform capability port consumed by the
// sync engines. Implementations wrap one bot identity's connection; the
// engines never talk to the platform API directly.
package gateway

import (
	"context"
	"errors"

	"github.com/Strob0t/GuildMirror/internal/domain/mirror"
)

// ErrUnknownGuild indicates the session has no visibility into the guild
// (bot not installed, or guild not yet cached after connect).
var ErrUnknownGuild = errors.New("guild not visible to this session")

// ErrUnknownRole indicates the role no longer exists in the guild.
var ErrUnknownRole = errors.New("role not found in guild")

// MemberUpdateHandler receives one observed role-set change for a member.
// Delivery is best-effort: gaps and reordering across guilds are possible.
type MemberUpdateHandler func(delta mirror.MemberDelta)

// Session is one bot identity's live view of the platform.
type Session interface {
	// ID returns the stable configured identifier of this bot identity.
	ID() string

	// GuildIDs returns the guilds this session currently has visibility
	// into. The set changes when the bot is installed or removed.
	GuildIDs(ctx context.Context) ([]int64, error)

	// RoleExists reports whether the role still exists in the guild.
	RoleExists(ctx context.Context, guildID, roleID int64) (bool, error)

	// RoleHolders returns the members of guildID currently holding roleID.
	RoleHolders(ctx context.Context, guildID, roleID int64) ([]int64, error)

	// IsMember reports whether userID is a member of guildID.
	IsMember(ctx context.Context, guildID, userID int64) (bool, error)

	// MemberHasRole reports whether the member currently holds the role.
	// Returns false without error when the user is not a member.
	MemberHasRole(ctx context.Context, guildID, userID, roleID int64) (bool, error)

	// GrantRole adds the role to the member. Idempotent on the platform
	// side: granting an already-held role is a no-op there.
	GrantRole(ctx context.Context, guildID, userID, roleID int64) error

	// RevokeRole removes the role from the member.
	RevokeRole(ctx context.Context, guildID, userID, roleID int64) error

	// OnMemberUpdate registers a handler for member role-set changes
	// observed on this session's socket. Must be called before Connect.
	OnMemberUpdate(fn MemberUpdateHandler)

	// OnGuildsChanged registers a handler invoked when the session's
	// visible-guild set changes (guild joined or left).
	OnGuildsChanged(fn func())
}
