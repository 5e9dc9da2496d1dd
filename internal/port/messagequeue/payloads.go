package messagequeue

// RoleChangePayload is the schema for mirror.role.granted / mirror.role.revoked.
type RoleChangePayload struct {
	MappingID string `json:"mapping_id"`
	GuildID   int64  `json:"guild_id"`
	UserID    int64  `json:"user_id"`
	RoleID    int64  `json:"role_id"`
	Origin    string `json:"origin"` // "incremental" or "reconcile"
}

// ReconcileDonePayload is the schema for mirror.reconcile.done.
type ReconcileDonePayload struct {
	Mappings   int     `json:"mappings"`
	Granted    int     `json:"granted"`
	Revoked    int     `json:"revoked"`
	Skipped    int     `json:"skipped"`
	Failed     int     `json:"failed"`
	DurationMS float64 `json:"duration_ms"`
}

// ReconcileRequestPayload is the schema for mirror.reconcile.request.
type ReconcileRequestPayload struct {
	GuildIDs []int64 `json:"guild_ids"`
}
