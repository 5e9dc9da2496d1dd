package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/GuildMirror/internal/port/gateway"
	"github.com/Strob0t/GuildMirror/internal/resilience"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token", resilience.NewBreaker(5, time.Minute))
}

func TestClientSendsBotAuthorization(t *testing.T) {
	var gotAuth string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	})

	if _, err := c.GuildRoles(context.Background(), 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bot test-token" {
		t.Fatalf("unexpected Authorization header: %q", gotAuth)
	}
}

func TestGuildRoles(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/guilds/100/roles" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"id":"10","name":"Racer"},{"id":"11","name":"Crew"}]`))
	})

	roles, err := c.GuildRoles(context.Background(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 2 || int64(roles[0].ID) != 10 || roles[1].Name != "Crew" {
		t.Fatalf("unexpected roles: %+v", roles)
	}
}

func TestGuildMemberNotAMember(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":10007,"message":"Unknown Member"}`))
	})

	m, err := c.GuildMember(context.Background(), 100, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil member, got %+v", m)
	}
}

func TestRestErrorMapsStaleSentinels(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{10004, gateway.ErrUnknownGuild},
		{10011, gateway.ErrUnknownRole},
	}
	for _, tc := range cases {
		c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"code":%d,"message":"gone"}`, tc.code)
		})

		_, err := c.GuildRoles(context.Background(), 100)
		if !errors.Is(err, tc.want) {
			t.Fatalf("code %d: expected %v, got %v", tc.code, tc.want, err)
		}
	}
}

func TestClientRetriesRateLimitOnce(t *testing.T) {
	calls := 0
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"retry_after":0.01}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	if _, err := c.GuildRoles(context.Background(), 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestClientGivesUpAfterSecondRateLimit(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"retry_after":0.01}`))
	})

	_, err := c.GuildRoles(context.Background(), 100)
	var re *restError
	if !errors.As(err, &re) || re.Status != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestCurrentGuildsPaginates(t *testing.T) {
	page := func(start, n int) []partialGuild {
		out := make([]partialGuild, n)
		for i := range out {
			out[i] = partialGuild{ID: snowflake(start + i), Name: fmt.Sprintf("g%d", start+i)}
		}
		return out
	}

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("after")
		var body []partialGuild
		if after == "" {
			body = page(1, 200)
		} else if after == "200" {
			body = page(201, 3)
		} else {
			t.Errorf("unexpected after cursor: %s", after)
		}
		_ = json.NewEncoder(w).Encode(body)
	})

	guilds, err := c.CurrentGuilds(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(guilds) != 203 {
		t.Fatalf("expected 203 guilds, got %d", len(guilds))
	}
}

func TestAddMemberRoleUsesPut(t *testing.T) {
	var gotMethod, gotPath string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.AddMemberRole(context.Background(), 100, 7, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/guilds/100/members/7/roles/10" {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}
}
