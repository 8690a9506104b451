package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/remus-chat/remus-node/internal/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remus.db")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSeedsNodeGuildAndDefaultRoles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	guildID, err := s.NodeGuildID(ctx)
	if err != nil {
		t.Fatalf("NodeGuildID: %v", err)
	}
	if guildID == "" {
		t.Fatal("expected a non-empty node guild id")
	}

	roles, err := s.ListRoles(ctx, guildID)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 default roles, got %d", len(roles))
	}
	if roles[0].Name != "@everyone" || roles[0].Position != 0 {
		t.Errorf("expected @everyone at position 0, got %+v", roles[0])
	}
	if !roles[1].Permissions.Has(protocol.Administrator) {
		t.Error("expected default Admin role to have Administrator permission")
	}

	channels, err := s.ListChannels(ctx, guildID)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("expected 2 default channels, got %d", len(channels))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remus.db")
	s1, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	guildID1, _ := s1.NodeGuildID(context.Background())
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()
	guildID2, _ := s2.NodeGuildID(context.Background())

	if guildID1 != guildID2 {
		t.Errorf("expected reopening to preserve the node guild, got %s then %s", guildID1, guildID2)
	}

	roles, err := s2.ListRoles(context.Background(), guildID2)
	if err != nil {
		t.Fatalf("ListRoles after reopen: %v", err)
	}
	if len(roles) != 2 {
		t.Errorf("expected reopen to not duplicate default roles, got %d", len(roles))
	}
}

func TestQuarantinesLegacyJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remus.db")
	if err := os.WriteFile(path, []byte(`{"guild":{"id":"g1","name":"Old Guild"}}`), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}
	if err := os.Rename(path, legacyExportPath(path)); err != nil {
		t.Fatalf("stage legacy export: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"guild":{"id":"g1","name":"Old Guild"}}`), 0o644); err != nil {
		t.Fatalf("write corrupt-looking db file: %v", err)
	}

	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open with legacy JSON in place: %v", err)
	}
	defer s.Close()

	guild, err := s.GetGuildRecord(context.Background(), "g1")
	if err != nil {
		t.Fatalf("GetGuildRecord: %v", err)
	}
	if guild.Name != "Old Guild" {
		t.Errorf("expected imported guild name, got %q", guild.Name)
	}
}

func TestChannelCRUDAndReorder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	guildID, _ := s.NodeGuildID(ctx)

	c, err := s.CreateChannel(ctx, CreateChannelParams{GuildID: guildID, Name: "random", Type: protocol.ChannelText})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	all, err := s.ListChannels(ctx, guildID)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	// reverse order
	updates := make([]ChannelPositionUpdate, len(all))
	for i, ch := range all {
		updates[i] = ChannelPositionUpdate{ID: ch.ID, Position: len(all) - 1 - i}
	}
	if err := s.UpdateChannelPositions(ctx, guildID, updates); err != nil {
		t.Fatalf("UpdateChannelPositions: %v", err)
	}

	reordered, err := s.ListChannels(ctx, guildID)
	if err != nil {
		t.Fatalf("ListChannels after reorder: %v", err)
	}
	if reordered[0].ID != c.ID {
		t.Errorf("expected newly created channel first after reversing order, got %+v", reordered[0])
	}
}

func TestUpdateChannelPositionsRejectsForeignChannel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	guildID, _ := s.NodeGuildID(ctx)

	err := s.UpdateChannelPositions(ctx, guildID, []ChannelPositionUpdate{{ID: "does-not-exist", Position: 0}})
	if err == nil {
		t.Fatal("expected an error for a channel id outside the guild")
	}
}

func TestDeleteChannelReturnsUploadsForCleanup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	guildID, _ := s.NodeGuildID(ctx)

	c, err := s.CreateChannel(ctx, CreateChannelParams{GuildID: guildID, Name: "uploads-test", Type: protocol.ChannelText})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if _, err := s.CreateUpload(ctx, protocol.Upload{ChannelID: c.ID, AuthorID: "u1", Name: "a.png", Size: 10, MimeType: "image/png", URL: "/uploads/a.png"}); err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}

	uploads, err := s.DeleteChannel(ctx, c.ID)
	if err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}
	if len(uploads) != 1 {
		t.Fatalf("expected 1 upload returned for cleanup, got %d", len(uploads))
	}

	if _, err := s.GetChannelRecord(ctx, c.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemberLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	guildID, _ := s.NodeGuildID(ctx)

	m, created, err := s.EnsureMember(ctx, guildID, "u1")
	if err != nil {
		t.Fatalf("EnsureMember: %v", err)
	}
	if !created {
		t.Error("expected first EnsureMember call to create the member")
	}
	if len(m.RoleIDs) != 0 {
		t.Errorf("expected no explicit roles initially, got %v", m.RoleIDs)
	}

	_, created2, err := s.EnsureMember(ctx, guildID, "u1")
	if err != nil {
		t.Fatalf("EnsureMember (again): %v", err)
	}
	if created2 {
		t.Error("expected second EnsureMember call to be a no-op")
	}

	if err := s.SetMemberRoles(ctx, guildID, "u1", []string{"r1", "r2"}); err != nil {
		t.Fatalf("SetMemberRoles: %v", err)
	}
	updated, err := s.GetMemberRecord(ctx, guildID, "u1")
	if err != nil {
		t.Fatalf("GetMemberRecord: %v", err)
	}
	if len(updated.RoleIDs) != 2 {
		t.Errorf("expected 2 roles after update, got %v", updated.RoleIDs)
	}
}

func TestAddAuditEvictsOverflow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	guildID, _ := s.NodeGuildID(ctx)

	small := 3
	if err := s.UpdateSettings(ctx, &small, nil); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := s.AddAudit(ctx, protocol.Audit{GuildID: guildID, Action: "test.action", ActorID: "u1"}); err != nil {
			t.Fatalf("AddAudit #%d: %v", i, err)
		}
	}

	entries, err := s.ListAudit(ctx, guildID, 100)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("expected eviction to cap at 3 entries, got %d", len(entries))
	}
}

func TestPurgeUserRemovesMessagesMembershipAndUploads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	guildID, _ := s.NodeGuildID(ctx)
	channels, _ := s.ListChannels(ctx, guildID)
	channelID := channels[0].ID

	if _, _, err := s.EnsureMember(ctx, guildID, "u1"); err != nil {
		t.Fatalf("EnsureMember: %v", err)
	}
	if _, err := s.CreateMessage(ctx, CreateMessageParams{ChannelID: channelID, AuthorID: "u1", Content: "hi"}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if _, err := s.CreateUpload(ctx, protocol.Upload{ChannelID: channelID, AuthorID: "u1", Name: "f.png", Size: 1, MimeType: "image/png", URL: "/uploads/f.png"}); err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}

	uploads, err := s.PurgeUser(ctx, guildID, "u1")
	if err != nil {
		t.Fatalf("PurgeUser: %v", err)
	}
	if len(uploads) != 1 {
		t.Fatalf("expected 1 upload returned, got %d", len(uploads))
	}

	if _, err := s.GetMemberRecord(ctx, guildID, "u1"); err != ErrNotFound {
		t.Errorf("expected membership removed, got %v", err)
	}
	messages, err := s.ListMessages(ctx, channelID, nil, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected messages purged, got %d", len(messages))
	}
}

func TestBanLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	banned, err := s.IsBanned(ctx, "u1")
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if banned {
		t.Error("expected u1 to not be banned initially")
	}

	if _, err := s.CreateBan(ctx, "u1", "spam", "admin1"); err != nil {
		t.Fatalf("CreateBan: %v", err)
	}
	banned, err = s.IsBanned(ctx, "u1")
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if !banned {
		t.Error("expected u1 to be banned")
	}

	if err := s.RemoveBan(ctx, "u1"); err != nil {
		t.Fatalf("RemoveBan: %v", err)
	}
	banned, err = s.IsBanned(ctx, "u1")
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if banned {
		t.Error("expected u1 to no longer be banned")
	}
}
