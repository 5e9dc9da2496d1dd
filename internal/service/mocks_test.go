package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/Strob0t/GuildMirror/internal/domain"
	"github.com/Strob0t/GuildMirror/internal/domain/mirror"
	"github.com/Strob0t/GuildMirror/internal/port/database"
	"github.com/Strob0t/GuildMirror/internal/port/gateway"
	"github.com/Strob0t/GuildMirror/internal/port/messagequeue"
	"github.com/Strob0t/GuildMirror/internal/port/notifier"
)

// Ensure mock types implement their interfaces at compile time.
var (
	_ database.Store     = (*mockStore)(nil)
	_ gateway.Session    = (*mockSession)(nil)
	_ messagequeue.Queue = (*mockQueue)(nil)
	_ notifier.Notifier  = (*mockNotifier)(nil)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- mockStore ---

type mockStore struct {
	candidates []mirror.Candidate
	mappings   []mirror.MappingDetail
	nextID     int

	listBySourceErr error
	listByTargetErr error
}

func (s *mockStore) genID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s%d", prefix, s.nextID)
}

func (s *mockStore) CreateCandidate(_ context.Context, req mirror.CreateCandidateRequest) (*mirror.Candidate, error) {
	for _, c := range s.candidates {
		if c.GuildID == req.GuildID && c.RoleID == req.RoleID {
			return nil, fmt.Errorf("candidate (%d, %d): %w", req.GuildID, req.RoleID, domain.ErrConflict)
		}
	}
	c := mirror.Candidate{ID: s.genID("c"), GuildID: req.GuildID, RoleID: req.RoleID}
	s.candidates = append(s.candidates, c)
	return &c, nil
}

func (s *mockStore) GetCandidate(_ context.Context, id string) (*mirror.Candidate, error) {
	for _, c := range s.candidates {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("candidate %s: %w", id, domain.ErrNotFound)
}

func (s *mockStore) GetCandidateByRole(_ context.Context, guildID, roleID int64) (*mirror.Candidate, error) {
	for _, c := range s.candidates {
		if c.GuildID == guildID && c.RoleID == roleID {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("candidate (%d, %d): %w", guildID, roleID, domain.ErrNotFound)
}

func (s *mockStore) ListCandidates(_ context.Context, guildID int64) ([]mirror.Candidate, error) {
	var out []mirror.Candidate
	for _, c := range s.candidates {
		if c.GuildID == guildID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *mockStore) DeleteCandidate(_ context.Context, id string) error {
	for i, c := range s.candidates {
		if c.ID == id {
			s.candidates = append(s.candidates[:i], s.candidates[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("candidate %s: %w", id, domain.ErrNotFound)
}

func (s *mockStore) CountMappingsForCandidate(_ context.Context, id string) (int, error) {
	n := 0
	for _, m := range s.mappings {
		if m.SourceID == id || m.TargetID == id {
			n++
		}
	}
	return n, nil
}

func (s *mockStore) CreateMapping(ctx context.Context, sourceID, targetID string, mode mirror.SyncMode) (*mirror.Mapping, error) {
	for _, m := range s.mappings {
		if m.SourceID == sourceID && m.TargetID == targetID {
			return nil, fmt.Errorf("mapping (%s, %s): %w", sourceID, targetID, domain.ErrConflict)
		}
	}
	src, err := s.GetCandidate(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	dst, err := s.GetCandidate(ctx, targetID)
	if err != nil {
		return nil, err
	}
	m := mirror.Mapping{ID: s.genID("m"), SourceID: sourceID, TargetID: targetID, Mode: mode}
	s.mappings = append(s.mappings, mirror.MappingDetail{Mapping: m, Source: *src, Target: *dst})
	return &m, nil
}

func (s *mockStore) GetMapping(_ context.Context, id string) (*mirror.MappingDetail, error) {
	for _, m := range s.mappings {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("mapping %s: %w", id, domain.ErrNotFound)
}

func (s *mockStore) ListMappings(_ context.Context) ([]mirror.MappingDetail, error) {
	return slices.Clone(s.mappings), nil
}

func (s *mockStore) DeleteMapping(_ context.Context, id string) error {
	for i, m := range s.mappings {
		if m.ID == id {
			s.mappings = append(s.mappings[:i], s.mappings[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("mapping %s: %w", id, domain.ErrNotFound)
}

func (s *mockStore) ListMappingsBySourceRole(_ context.Context, guildID int64, roleIDs []int64) ([]mirror.MappingDetail, error) {
	if s.listBySourceErr != nil {
		return nil, s.listBySourceErr
	}
	var out []mirror.MappingDetail
	for _, m := range s.mappings {
		if m.Source.GuildID == guildID && slices.Contains(roleIDs, m.Source.RoleID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *mockStore) ListMappingsByTargetGuild(_ context.Context, guildIDs []int64) ([]mirror.MappingDetail, error) {
	if s.listByTargetErr != nil {
		return nil, s.listByTargetErr
	}
	if len(guildIDs) == 0 {
		return slices.Clone(s.mappings), nil
	}
	var out []mirror.MappingDetail
	for _, m := range s.mappings {
		if slices.Contains(guildIDs, m.Target.GuildID) {
			out = append(out, m)
		}
	}
	return out, nil
}

// --- mockSession ---

type roleChange struct {
	GuildID, UserID, RoleID int64
}

// mockSession is an in-memory guild state: which guilds the bot sees, which
// roles exist, and each member's role set. Mutated by Grant/RevokeRole so
// repeated passes observe their own effects.
type mockSession struct {
	mu sync.Mutex

	id      string
	guilds  []int64
	roles   map[int64][]int64         // guildID -> existing role ids
	members map[int64]map[int64][]int64 // guildID -> userID -> held role ids

	guildsErr      error
	grantErrs      map[int64]error // userID -> injected grant failure
	revokeErrs     map[int64]error // userID -> injected revoke failure
	roleHoldersErr error

	grants  []roleChange
	revokes []roleChange
}

func newMockSession(id string, guilds ...int64) *mockSession {
	s := &mockSession{
		id:      id,
		guilds:  guilds,
		roles:   make(map[int64][]int64),
		members: make(map[int64]map[int64][]int64),
	}
	for _, g := range guilds {
		s.members[g] = make(map[int64][]int64)
	}
	return s
}

func (s *mockSession) addRole(guildID, roleID int64) {
	s.roles[guildID] = append(s.roles[guildID], roleID)
}

func (s *mockSession) addMember(guildID, userID int64, roleIDs ...int64) {
	if s.members[guildID] == nil {
		s.members[guildID] = make(map[int64][]int64)
	}
	s.members[guildID][userID] = roleIDs
}

func (s *mockSession) ID() string { return s.id }

func (s *mockSession) GuildIDs(_ context.Context) ([]int64, error) {
	if s.guildsErr != nil {
		return nil, s.guildsErr
	}
	return slices.Clone(s.guilds), nil
}

func (s *mockSession) RoleExists(_ context.Context, guildID, roleID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.roles[guildID], roleID), nil
}

func (s *mockSession) RoleHolders(_ context.Context, guildID, roleID int64) ([]int64, error) {
	if s.roleHoldersErr != nil {
		return nil, s.roleHoldersErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for userID, held := range s.members[guildID] {
		if slices.Contains(held, roleID) {
			out = append(out, userID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *mockSession) IsMember(_ context.Context, guildID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[guildID][userID]
	return ok, nil
}

func (s *mockSession) MemberHasRole(_ context.Context, guildID, userID, roleID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.members[guildID][userID], roleID), nil
}

func (s *mockSession) GrantRole(_ context.Context, guildID, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.grantErrs[userID]; err != nil {
		return err
	}
	if !slices.Contains(s.members[guildID][userID], roleID) {
		s.members[guildID][userID] = append(s.members[guildID][userID], roleID)
	}
	s.grants = append(s.grants, roleChange{guildID, userID, roleID})
	return nil
}

func (s *mockSession) RevokeRole(_ context.Context, guildID, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.revokeErrs[userID]; err != nil {
		return err
	}
	held := s.members[guildID][userID]
	if i := slices.Index(held, roleID); i >= 0 {
		s.members[guildID][userID] = append(held[:i], held[i+1:]...)
	}
	s.revokes = append(s.revokes, roleChange{guildID, userID, roleID})
	return nil
}

func (s *mockSession) OnMemberUpdate(gateway.MemberUpdateHandler) {}
func (s *mockSession) OnGuildsChanged(func())                     {}

func (s *mockSession) grantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grants)
}

func (s *mockSession) revokeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.revokes)
}

// --- mockQueue ---

type published struct {
	Subject string
	Data    []byte
}

type mockQueue struct {
	mu        sync.Mutex
	published []published
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, published{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error { return nil }
func (q *mockQueue) Close() error { return nil }

func (q *mockQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.published))
	for _, p := range q.published {
		out = append(out, p.Subject)
	}
	return out
}

// --- mockNotifier ---

type mockNotifier struct {
	mu   sync.Mutex
	sent []notifier.Notification
}

func (n *mockNotifier) Name() string { return "mock" }

func (n *mockNotifier) Send(_ context.Context, notification notifier.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

// --- fixture helpers ---

// mirrorFixture builds a store with one source candidate in guild 100
// (role 10), one target candidate in guild 200 (role 20), and a mapping
// between them in the given mode.
func mirrorFixture(mode mirror.SyncMode) (*mockStore, mirror.MappingDetail) {
	store := &mockStore{}
	src, _ := store.CreateCandidate(context.Background(), mirror.CreateCandidateRequest{GuildID: 100, RoleID: 10})
	dst, _ := store.CreateCandidate(context.Background(), mirror.CreateCandidateRequest{GuildID: 200, RoleID: 20})
	_, _ = store.CreateMapping(context.Background(), src.ID, dst.ID, mode)
	return store, store.mappings[0]
}

// registryWith indexes the given sessions so guild routing resolves.
func registryWith(sessions ...gateway.Session) *BotRegistry {
	r := NewBotRegistry(testLogger())
	for _, s := range sessions {
		r.Register(s)
	}
	if err := r.RebuildIndex(context.Background()); err != nil {
		panic(err)
	}
	return r
}
