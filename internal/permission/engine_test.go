package permission

import (
	"context"
	"testing"
	"time"

	"github.com/remus-chat/remus-node/internal/protocol"
)

// fakeStore is an in-memory implementation of Store for engine tests.
type fakeStore struct {
	everyoneID string
	roles      []RoleRef
	members    map[string]*MemberRef // key: guildID+"/"+userID
	channels   map[string]*ChannelRef
}

func newFakeStore(everyoneID string) *fakeStore {
	return &fakeStore{
		everyoneID: everyoneID,
		members:    map[string]*MemberRef{},
		channels:   map[string]*ChannelRef{},
	}
}

func (s *fakeStore) GetGuild(_ context.Context, _ string) (string, []RoleRef, error) {
	return s.everyoneID, s.roles, nil
}

func (s *fakeStore) GetMember(_ context.Context, guildID, userID string) (*MemberRef, error) {
	return s.members[guildID+"/"+userID], nil
}

func (s *fakeStore) GetChannel(_ context.Context, channelID string) (*ChannelRef, error) {
	return s.channels[channelID], nil
}

func emptyOverrides() protocol.PermissionOverrides {
	return protocol.PermissionOverrides{Roles: map[string]protocol.Override{}, Members: map[string]protocol.Override{}}
}

// TestOverridePrecedence is spec.md §8 concrete scenario 1: member override beats role deny.
func TestOverridePrecedence(t *testing.T) {
	store := newFakeStore("everyone")
	store.roles = []RoleRef{
		{ID: "everyone", Permissions: 0, Position: 0},
		{ID: "r1", Permissions: 0, Position: 1},
		{ID: "r2", Permissions: protocol.SendMessages, Position: 2},
	}
	store.members["g/u"] = &MemberRef{RoleIDs: []string{"r2"}}

	ov := emptyOverrides()
	ov.Roles["r2"] = protocol.Override{Deny: protocol.SendMessages}
	ov.Members["u"] = protocol.Override{Allow: protocol.SendMessages}
	store.channels["c"] = &ChannelRef{ID: "c", Overrides: ov}

	e := New(store)
	perms, err := e.Permissions(context.Background(), "g", "u", "c")
	if err != nil {
		t.Fatalf("Permissions: %v", err)
	}
	if !perms.Has(protocol.SendMessages) {
		t.Errorf("expected member override to win, got %s", perms)
	}
}

// TestAdminShortCircuitsTimeout is spec.md §8 concrete scenario 2.
func TestAdminShortCircuitsTimeout(t *testing.T) {
	store := newFakeStore("everyone")
	store.roles = []RoleRef{
		{ID: "everyone", Permissions: 0, Position: 0},
		{ID: "admin", Permissions: protocol.Administrator, Position: 10},
	}
	future := time.Now().Add(5 * time.Minute)
	store.members["g/u"] = &MemberRef{RoleIDs: []string{"admin"}, TimeoutUntil: &future}

	e := New(store)
	perms, err := e.Permissions(context.Background(), "g", "u", "")
	if err != nil {
		t.Fatalf("Permissions: %v", err)
	}
	if perms != protocol.AllPermissions {
		t.Errorf("expected full mask despite timeout, got %s", perms)
	}
}

func TestNoMemberReturnsZero(t *testing.T) {
	store := newFakeStore("everyone")
	e := New(store)
	perms, err := e.Permissions(context.Background(), "g", "ghost", "")
	if err != nil {
		t.Fatalf("Permissions: %v", err)
	}
	if perms != 0 {
		t.Errorf("expected 0 for non-member, got %s", perms)
	}
}

func TestEveryoneRoleAlwaysApplied(t *testing.T) {
	store := newFakeStore("everyone")
	store.roles = []RoleRef{{ID: "everyone", Permissions: protocol.ViewChannels, Position: 0}}
	store.members["g/u"] = &MemberRef{}

	e := New(store)
	perms, err := e.Permissions(context.Background(), "g", "u", "")
	if err != nil {
		t.Fatalf("Permissions: %v", err)
	}
	if !perms.Has(protocol.ViewChannels) {
		t.Error("expected @everyone permissions to apply even with no explicit roles")
	}
}

func TestCategoryThenChannelOverrideOrder(t *testing.T) {
	store := newFakeStore("everyone")
	store.roles = []RoleRef{
		{ID: "everyone", Permissions: protocol.SendMessages, Position: 0},
	}
	store.members["g/u"] = &MemberRef{}

	catOv := emptyOverrides()
	catOv.Roles["everyone"] = protocol.Override{Deny: protocol.SendMessages}
	store.channels["cat"] = &ChannelRef{ID: "cat", Overrides: catOv}

	chanOv := emptyOverrides()
	chanOv.Roles["everyone"] = protocol.Override{Allow: protocol.SendMessages}
	catID := "cat"
	store.channels["chan"] = &ChannelRef{ID: "chan", CategoryID: &catID, Overrides: chanOv}

	e := New(store)
	perms, err := e.Permissions(context.Background(), "g", "u", "chan")
	if err != nil {
		t.Fatalf("Permissions: %v", err)
	}
	if !perms.Has(protocol.SendMessages) {
		t.Error("channel override should apply after and win over category override")
	}
}

func TestTimeoutMasksBlockedBits(t *testing.T) {
	store := newFakeStore("everyone")
	store.roles = []RoleRef{{ID: "everyone", Permissions: protocol.SendMessages | protocol.ViewChannels, Position: 0}}
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Minute)

	store.members["g/notimeout"] = &MemberRef{TimeoutUntil: &past}
	store.members["g/intimeout"] = &MemberRef{TimeoutUntil: &future}

	e := New(store)

	p1, _ := e.Permissions(context.Background(), "g", "notimeout", "")
	if !p1.Has(protocol.SendMessages) {
		t.Error("expired timeout should not mask permissions")
	}

	p2, _ := e.Permissions(context.Background(), "g", "intimeout", "")
	if p2.Has(protocol.SendMessages) {
		t.Error("active timeout should mask SEND_MESSAGES")
	}
	if !p2.Has(protocol.ViewChannels) {
		t.Error("active timeout should not mask unrelated bits")
	}
}

func TestCanManage(t *testing.T) {
	cases := []struct {
		name           string
		actorPerms     protocol.Permission
		actorTop       int
		targetPosition int
		want           bool
	}{
		{"admin always manages", protocol.Administrator, 0, 100, true},
		{"higher position manages", 0, 5, 3, true},
		{"equal position cannot manage", 0, 5, 5, false},
		{"lower position cannot manage", 0, 2, 5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanManage(tc.actorPerms, tc.actorTop, tc.targetPosition); got != tc.want {
				t.Errorf("CanManage() = %v, want %v", got, tc.want)
			}
		})
	}
}
