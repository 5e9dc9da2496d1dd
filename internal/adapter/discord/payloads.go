package discord

import (
	"encoding/json"
	"strconv"
)

// snowflake is a Discord id, transmitted as a decimal string on the wire.
type snowflake int64

func (s *snowflake) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	*s = snowflake(n)
	return nil
}

func (s snowflake) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(s), 10))
}

// partialGuild is the shape returned by GET /users/@me/guilds.
type partialGuild struct {
	ID   snowflake `json:"id"`
	Name string    `json:"name"`
}

// role is a guild role.
type role struct {
	ID   snowflake `json:"id"`
	Name string    `json:"name"`
}

// user is the subset of a user object the engine needs.
type user struct {
	ID snowflake `json:"id"`
}

// member is a guild member with their role-id set.
type member struct {
	User  user        `json:"user"`
	Roles []snowflake `json:"roles"`
}

func (m member) roleIDs() []int64 {
	out := make([]int64, len(m.Roles))
	for i, r := range m.Roles {
		out[i] = int64(r)
	}
	return out
}

// apiError is the Discord REST error envelope.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Discord JSON error codes the adapter distinguishes.
const (
	codeUnknownGuild  = 10004
	codeUnknownMember = 10007
	codeUnknownRole   = 10011
)

// --- Gateway socket payloads ---

// gatewayFrame is one websocket message envelope.
type gatewayFrame struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  *int64          `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
}

// Gateway opcodes used by the socket.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Gateway intents: guild lifecycle plus privileged member events.
const (
	intentGuilds       = 1 << 0
	intentGuildMembers = 1 << 1
)

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type readyData struct {
	SessionID string         `json:"session_id"`
	Guilds    []partialGuild `json:"guilds"`
}

type guildCreateData struct {
	ID      snowflake `json:"id"`
	Members []member  `json:"members"`
}

type guildDeleteData struct {
	ID          snowflake `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

type memberUpdateData struct {
	GuildID snowflake   `json:"guild_id"`
	User    user        `json:"user"`
	Roles   []snowflake `json:"roles"`
}
