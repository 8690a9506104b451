package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/remus-chat/remus-node/internal/config"
	"github.com/remus-chat/remus-node/internal/gateway"
	"github.com/remus-chat/remus-node/internal/identity"
	"github.com/remus-chat/remus-node/internal/media"
	"github.com/remus-chat/remus-node/internal/permission"
	"github.com/remus-chat/remus-node/internal/protocol"
	"github.com/remus-chat/remus-node/internal/ratelimit"
	"github.com/remus-chat/remus-node/internal/store"
)

var testTimeout = fiber.TestConfig{Timeout: 5 * time.Second}

// tokenDoer resolves a fixed set of bearer tokens to canned users, standing in for the external authority in
// handler tests (mirrors internal/identity's own fakeDoer).
type tokenDoer struct {
	users map[string]protocol.User
}

func (d *tokenDoer) Do(req *http.Request) (*http.Response, error) {
	auth := req.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	user, ok := d.users[token]
	if !ok {
		return &http.Response{StatusCode: http.StatusUnauthorized, Body: io.NopCloser(strings.NewReader(`{}`)), Header: make(http.Header)}, nil
	}
	body, _ := json.Marshal(map[string]any{"user": user})
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(body))), Header: make(http.Header)}, nil
}

// testServer wires a real (temp-file-backed) store, permission engine, gateway hub, and an identity resolver backed
// by tokenDoer, the same dependency shapes cmd/remus builds in production. voice is left nil, matching how server.go
// already documents a nil voice coordinator being tolerated when handlers under test never reach it.
func testServer(t *testing.T, users map[string]protocol.User) (*fiber.App, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "remus.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	perm := permission.New(st)
	resolver := identity.New("http://authority.local", &tokenDoer{users: users}, time.Second)
	hub := gateway.New(st, perm, nil, ratelimit.New(10, time.Minute), zerolog.Nop())
	storage := media.NewLocalStorage(t.TempDir(), "http://localhost/uploads")
	icons := media.NewLocalStorage(t.TempDir(), "http://localhost/role-icons")

	cfg := &config.Config{
		ServerName:  "test",
		PublicURL:   "http://localhost",
		FileLimitMB: 10,
		UploadsDir:  t.TempDir(),
	}

	srv := New(cfg, st, perm, resolver, hub, nil, storage, icons, ratelimit.New(30, time.Minute), zerolog.Nop())
	return srv.NewApp(), st
}

func authedReq(method, url, token, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, url, nil)
	} else {
		r = httptest.NewRequest(method, url, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func mustDo(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req, testTimeout)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

// makeAdmin grants user a role with ADMINISTRATOR so hierarchy/permission checks never block the scenarios under
// test (mirrors spec.md §8 scenario 2's short-circuit).
func makeAdmin(t *testing.T, st *store.Store, guildID, userID string) {
	t.Helper()
	ctx := t.Context()
	role, err := st.CreateRole(ctx, store.CreateRoleParams{GuildID: guildID, Name: "Admin-for-test", Permissions: protocol.Administrator})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if _, _, err := st.EnsureMember(ctx, guildID, userID); err != nil {
		t.Fatalf("EnsureMember: %v", err)
	}
	if err := st.SetMemberRoles(ctx, guildID, userID, []string{role.ID}); err != nil {
		t.Fatalf("SetMemberRoles: %v", err)
	}
}

func TestJoinGuild_OnlyBroadcastsOnFirstJoin(t *testing.T) {
	user := protocol.User{ID: "u1", Username: "alice"}
	app, st := testServer(t, map[string]protocol.User{"tok": user})
	ctx := t.Context()
	guildID, err := st.NodeGuildID(ctx)
	if err != nil {
		t.Fatalf("NodeGuildID: %v", err)
	}

	resp := mustDo(t, app, authedReq(http.MethodPost, fmt.Sprintf("/api/guilds/%s/join", guildID), "tok", ""))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first join: status = %d", resp.StatusCode)
	}

	entries, err := st.ListAudit(ctx, guildID, 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "member.joined" {
		t.Fatalf("expected exactly one member.joined audit entry after first join, got %+v", entries)
	}

	resp2 := mustDo(t, app, authedReq(http.MethodPost, fmt.Sprintf("/api/guilds/%s/join", guildID), "tok", ""))
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("second join: status = %d", resp2.StatusCode)
	}

	entries, err = st.ListAudit(ctx, guildID, 10)
	if err != nil {
		t.Fatalf("ListAudit after re-join: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("re-joining an existing membership must not emit a second member.joined audit entry, got %d entries", len(entries))
	}
}

func TestAuthenticate_DoesNotAutoCreateMembership(t *testing.T) {
	user := protocol.User{ID: "u1", Username: "alice"}
	app, st := testServer(t, map[string]protocol.User{"tok": user})
	ctx := t.Context()
	guildID, err := st.NodeGuildID(ctx)
	if err != nil {
		t.Fatalf("NodeGuildID: %v", err)
	}

	resp := mustDo(t, app, authedReq(http.MethodGet, "/api/guilds", "tok", ""))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/guilds: status = %d", resp.StatusCode)
	}

	if _, err := st.GetMemberRecord(ctx, guildID, user.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("authenticate must not create a membership row as a side effect of an authenticated request, got err = %v", err)
	}
}

func TestKickMember_DoesNotResurrectOnNextRequest(t *testing.T) {
	admin := protocol.User{ID: "admin1", Username: "root"}
	target := protocol.User{ID: "u2", Username: "bob"}
	app, st := testServer(t, map[string]protocol.User{"admin-tok": admin, "target-tok": target})
	ctx := t.Context()
	guildID, err := st.NodeGuildID(ctx)
	if err != nil {
		t.Fatalf("NodeGuildID: %v", err)
	}
	makeAdmin(t, st, guildID, admin.ID)
	if _, _, err := st.EnsureMember(ctx, guildID, target.ID); err != nil {
		t.Fatalf("EnsureMember(target): %v", err)
	}

	resp := mustDo(t, app, authedReq(http.MethodPost, fmt.Sprintf("/api/guilds/%s/members/%s/kick", guildID, target.ID), "admin-tok", ""))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("kick: status = %d", resp.StatusCode)
	}

	if _, err := st.GetMemberRecord(ctx, guildID, target.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected member row removed immediately after kick, got err = %v", err)
	}

	// The kicked user's very next authenticated request, with no explicit re-join, must not recreate membership.
	resp2 := mustDo(t, app, authedReq(http.MethodGet, "/api/guilds", "target-tok", ""))
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/guilds after kick: status = %d", resp2.StatusCode)
	}

	if _, err := st.GetMemberRecord(ctx, guildID, target.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("a kicked user's subsequent authenticated request must not silently recreate their membership, got err = %v", err)
	}
}

func TestBanMember_BanSurvivesPurge(t *testing.T) {
	admin := protocol.User{ID: "admin1", Username: "root"}
	target := protocol.User{ID: "u3", Username: "carol"}
	app, st := testServer(t, map[string]protocol.User{"admin-tok": admin, "target-tok": target})
	ctx := t.Context()
	guildID, err := st.NodeGuildID(ctx)
	if err != nil {
		t.Fatalf("NodeGuildID: %v", err)
	}
	makeAdmin(t, st, guildID, admin.ID)
	if _, _, err := st.EnsureMember(ctx, guildID, target.ID); err != nil {
		t.Fatalf("EnsureMember(target): %v", err)
	}

	resp := mustDo(t, app, authedReq(http.MethodPost, fmt.Sprintf("/api/guilds/%s/members/%s/ban", guildID, target.ID), "admin-tok", `{"reason":"spam"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ban: status = %d", resp.StatusCode)
	}

	banned, err := st.IsBanned(ctx, target.ID)
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if !banned {
		t.Fatal("ban row must survive the purge that banMember runs immediately afterward (spec.md §8 invariant 10)")
	}

	// notBanned must now reject every subsequent request from the banned user.
	resp2 := mustDo(t, app, authedReq(http.MethodGet, "/api/guilds", "target-tok", ""))
	if resp2.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for banned user, got %d", resp2.StatusCode)
	}
}

func TestMessageHistoryEmbedsAuthorAndReplyPreview(t *testing.T) {
	user := protocol.User{ID: "u1", Username: "alice"}
	app, st := testServer(t, map[string]protocol.User{"tok": user})
	ctx := t.Context()
	guildID, err := st.NodeGuildID(ctx)
	if err != nil {
		t.Fatalf("NodeGuildID: %v", err)
	}
	makeAdmin(t, st, guildID, user.ID)
	channels, err := st.ListChannels(ctx, guildID)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	channelID := channels[0].ID

	resp := mustDo(t, app, authedReq(http.MethodPost, fmt.Sprintf("/api/channels/%s/messages", channelID), "tok", `{"content":"first"}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first message: status = %d", resp.StatusCode)
	}
	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode first message: %v", err)
	}

	reply := fmt.Sprintf(`{"content":"second","replyToId":%q}`, created.Data.ID)
	resp2 := mustDo(t, app, authedReq(http.MethodPost, fmt.Sprintf("/api/channels/%s/messages", channelID), "tok", reply))
	if resp2.StatusCode != http.StatusCreated {
		t.Fatalf("reply message: status = %d", resp2.StatusCode)
	}

	resp3 := mustDo(t, app, authedReq(http.MethodGet, fmt.Sprintf("/api/channels/%s/messages", channelID), "tok", ""))
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("list messages: status = %d", resp3.StatusCode)
	}
	var listed struct {
		Data []struct {
			Content string `json:"content"`
			Author  *struct {
				Username string `json:"username"`
			} `json:"author"`
			ReplyTo *struct {
				ID      string `json:"id"`
				Content string `json:"content"`
			} `json:"replyTo"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp3.Body).Decode(&listed); err != nil {
		t.Fatalf("decode message list: %v", err)
	}
	if len(listed.Data) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(listed.Data))
	}

	for _, m := range listed.Data {
		if m.Author == nil || m.Author.Username != "alice" {
			t.Errorf("expected embedded author alice on %q, got %+v", m.Content, m.Author)
		}
	}
	var replyView *struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	}
	for _, m := range listed.Data {
		if m.Content == "second" {
			replyView = m.ReplyTo
		}
	}
	if replyView == nil || replyView.ID != created.Data.ID || replyView.Content != "first" {
		t.Errorf("expected reply preview of the first message, got %+v", replyView)
	}
}

func TestUpdateRole_EveryoneRequiresManageServer(t *testing.T) {
	owner := protocol.User{ID: "u1", Username: "alice"}
	app, st := testServer(t, map[string]protocol.User{"tok": owner})
	ctx := t.Context()
	guildID, err := st.NodeGuildID(ctx)
	if err != nil {
		t.Fatalf("NodeGuildID: %v", err)
	}

	// Grant MANAGE_ROLES only (not MANAGE_SERVER, not ADMINISTRATOR): the route itself is gated on MANAGE_ROLES, but
	// editing @everyone specifically must still be refused.
	role, err := st.CreateRole(ctx, store.CreateRoleParams{GuildID: guildID, Name: "RoleManager", Permissions: protocol.ManageRoles})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if _, _, err := st.EnsureMember(ctx, guildID, owner.ID); err != nil {
		t.Fatalf("EnsureMember: %v", err)
	}
	if err := st.SetMemberRoles(ctx, guildID, owner.ID, []string{role.ID}); err != nil {
		t.Fatalf("SetMemberRoles: %v", err)
	}

	resp := mustDo(t, app, authedReq(http.MethodPatch, fmt.Sprintf("/api/roles/%s", guildID), "tok", `{"color":1}`))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 editing @everyone with only MANAGE_ROLES, got %d", resp.StatusCode)
	}
}
