// Package discord implements the gateway port against the Discord API: a
// REST client for role mutation and member lookup, and a websocket session
// that observes guild and member events.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Strob0t/GuildMirror/internal/port/gateway"
	"github.com/Strob0t/GuildMirror/internal/resilience"
)

// memberPageSize is the maximum page size the members endpoint accepts.
const memberPageSize = 1000

// Client is a minimal Discord REST client scoped to the calls the sync
// engines need. All calls go through the circuit breaker so a platform
// outage sheds load quickly instead of piling up blocked goroutines.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a REST client for one bot token.
func NewClient(baseURL, token string, breaker *resilience.Breaker) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    breaker,
	}
}

// restError carries the HTTP status and Discord error code of a failed call.
type restError struct {
	Status     int
	Code       int
	Message    string
	RetryAfter time.Duration
}

func (e *restError) Error() string {
	return fmt.Sprintf("discord API %d (code %d): %s", e.Status, e.Code, e.Message)
}

// Unwrap maps stale-reference error codes onto the gateway port sentinels so
// the engines can treat them as "nothing to do".
func (e *restError) Unwrap() error {
	switch e.Code {
	case codeUnknownGuild:
		return gateway.ErrUnknownGuild
	case codeUnknownRole:
		return gateway.ErrUnknownRole
	default:
		return nil
	}
}

// isUnknownMember reports whether err is the Unknown Member REST error.
func isUnknownMember(err error) bool {
	var re *restError
	return errors.As(err, &re) && re.Code == codeUnknownMember
}

// do performs one REST call and decodes the response into out (if non-nil).
// A 429 is retried once after the server-provided delay.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	return c.breaker.Execute(func() error {
		retried := false
		for {
			err := c.doOnce(ctx, method, path, out)
			var re *restError
			if errors.As(err, &re) && re.Status == http.StatusTooManyRequests && !retried {
				retried = true
				select {
				case <-time.After(re.RetryAfter):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			return err
		}
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		var body struct {
			RetryAfter float64 `json:"retry_after"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &restError{
			Status:     resp.StatusCode,
			RetryAfter: time.Duration(body.RetryAfter * float64(time.Second)),
		}
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		data, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(data, &apiErr)
		return &restError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("discord decode %s: %w", path, err)
	}
	return nil
}

// CurrentGuilds returns all guilds the bot account is installed in.
func (c *Client) CurrentGuilds(ctx context.Context) ([]partialGuild, error) {
	var all []partialGuild
	after := int64(0)
	for {
		path := "/users/@me/guilds?limit=200"
		if after > 0 {
			path += "&after=" + strconv.FormatInt(after, 10)
		}
		var page []partialGuild
		if err := c.do(ctx, http.MethodGet, path, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < 200 {
			return all, nil
		}
		after = int64(page[len(page)-1].ID)
	}
}

// GuildRoles returns all roles defined in a guild.
func (c *Client) GuildRoles(ctx context.Context, guildID int64) ([]role, error) {
	var roles []role
	path := fmt.Sprintf("/guilds/%d/roles", guildID)
	if err := c.do(ctx, http.MethodGet, path, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// GuildMember fetches one member. Returns (nil, nil) when the user is not a
// member of the guild.
func (c *Client) GuildMember(ctx context.Context, guildID, userID int64) (*member, error) {
	var m member
	path := fmt.Sprintf("/guilds/%d/members/%d", guildID, userID)
	if err := c.do(ctx, http.MethodGet, path, &m); err != nil {
		if isUnknownMember(err) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// ListMembers pages through the full member list of a guild.
func (c *Client) ListMembers(ctx context.Context, guildID int64) ([]member, error) {
	var all []member
	after := int64(0)
	for {
		path := fmt.Sprintf("/guilds/%d/members?limit=%d", guildID, memberPageSize)
		if after > 0 {
			path += "&after=" + strconv.FormatInt(after, 10)
		}
		var page []member
		if err := c.do(ctx, http.MethodGet, path, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < memberPageSize {
			return all, nil
		}
		after = int64(page[len(page)-1].User.ID)
	}
}

// AddMemberRole grants a role to a member. A no-op on the platform side if
// the member already holds it.
func (c *Client) AddMemberRole(ctx context.Context, guildID, userID, roleID int64) error {
	path := fmt.Sprintf("/guilds/%d/members/%d/roles/%d", guildID, userID, roleID)
	return c.do(ctx, http.MethodPut, path, nil)
}

// RemoveMemberRole revokes a role from a member.
func (c *Client) RemoveMemberRole(ctx context.Context, guildID, userID, roleID int64) error {
	path := fmt.Sprintf("/guilds/%d/members/%d/roles/%d", guildID, userID, roleID)
	return c.do(ctx, http.MethodDelete, path, nil)
}
