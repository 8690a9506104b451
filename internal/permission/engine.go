// Package permission implements the permission engine (spec.md §4.2): composing guild-wide role bitmasks with
// category and channel overrides and member overrides, subject to timeouts.
package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/remus-chat/remus-node/internal/protocol"
)

// RoleRef is the subset of a Role the engine needs: its id, permission bitfield, and hierarchy position.
type RoleRef struct {
	ID          string
	Permissions protocol.Permission
	Position    int
}

// MemberRef is the subset of a Member the engine needs.
type MemberRef struct {
	RoleIDs      []string
	TimeoutUntil *time.Time
}

// ChannelRef is the subset of a Channel the engine needs.
type ChannelRef struct {
	ID         string
	CategoryID *string
	Overrides  protocol.PermissionOverrides
}

// Store is the read-only data access the engine needs from the persistence layer. internal/store implements this.
type Store interface {
	GetGuild(ctx context.Context, guildID string) (everyoneRoleID string, roles []RoleRef, err error)
	GetMember(ctx context.Context, guildID, userID string) (*MemberRef, error)
	GetChannel(ctx context.Context, channelID string) (*ChannelRef, error)
}

// Engine computes effective permissions for a (guild, user, channel) triple.
type Engine struct {
	store Store
}

// New creates a permission engine backed by the given store.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// Permissions implements the algorithm in spec.md §4.2. channelID may be empty to compute server-level permissions
// only: steps 1-3 and the timeout masking of step 5 apply, and no channel or category overrides are applied.
func (e *Engine) Permissions(ctx context.Context, guildID, userID, channelID string) (protocol.Permission, error) {
	everyoneID, roles, err := e.store.GetGuild(ctx, guildID)
	if err != nil {
		return 0, fmt.Errorf("get guild: %w", err)
	}

	// Step 1: resolve the member.
	member, err := e.store.GetMember(ctx, guildID, userID)
	if err != nil {
		return 0, fmt.Errorf("get member: %w", err)
	}
	if member == nil {
		return 0, nil
	}

	// Step 2: role union. roleIds always implicitly includes the guild id (@everyone).
	roleIDs := make(map[string]struct{}, len(member.RoleIDs)+1)
	roleIDs[everyoneID] = struct{}{}
	for _, id := range member.RoleIDs {
		roleIDs[id] = struct{}{}
	}

	roleByID := make(map[string]RoleRef, len(roles))
	var perms protocol.Permission
	var topPosition int
	first := true
	for _, r := range roles {
		roleByID[r.ID] = r
		if _, held := roleIDs[r.ID]; held {
			perms = perms.Add(r.Permissions)
			if first || r.Position > topPosition {
				topPosition = r.Position
				first = false
			}
		}
	}

	// Step 3: administrator short-circuits everything else.
	if perms.Has(protocol.Administrator) {
		return protocol.AllPermissions, nil
	}

	// Step 4: channel/category overrides.
	if channelID != "" {
		channel, err := e.store.GetChannel(ctx, channelID)
		if err != nil {
			return 0, fmt.Errorf("get channel: %w", err)
		}
		if channel != nil {
			if channel.CategoryID != nil {
				category, err := e.store.GetChannel(ctx, *channel.CategoryID)
				if err != nil {
					return 0, fmt.Errorf("get category: %w", err)
				}
				if category != nil {
					perms = applyOverrides(perms, category.Overrides, roleIDs, userID, everyoneID)
				}
			}
			perms = applyOverrides(perms, channel.Overrides, roleIDs, userID, everyoneID)
		}
	}

	// Step 5: timeout masking.
	if member.TimeoutUntil != nil && member.TimeoutUntil.After(time.Now()) {
		perms = perms.Remove(protocol.TimeoutBlocked)
	}

	return perms, nil
}

// HasPermission is a convenience wrapper around Permissions.
func (e *Engine) HasPermission(ctx context.Context, guildID, userID, channelID string, bit protocol.Permission) (bool, error) {
	perms, err := e.Permissions(ctx, guildID, userID, channelID)
	if err != nil {
		return false, err
	}
	return perms.Has(bit), nil
}

// applyOverrides applies one target's (channel or category) overrides to base, in the precedence order from
// spec.md §4.2 step 4: @everyone override first, then the union of non-@everyone role overrides the member holds,
// then the member-specific override last (highest precedence).
func applyOverrides(base protocol.Permission, ov protocol.PermissionOverrides, roleIDs map[string]struct{}, userID, everyoneID string) protocol.Permission {
	if everyoneOv, ok := ov.Roles[everyoneID]; ok {
		base = base.Remove(everyoneOv.Deny).Add(everyoneOv.Allow)
	}

	var allowUnion, denyUnion protocol.Permission
	for roleID, o := range ov.Roles {
		if roleID == everyoneID {
			continue
		}
		if _, held := roleIDs[roleID]; held {
			allowUnion = allowUnion.Add(o.Allow)
			denyUnion = denyUnion.Add(o.Deny)
		}
	}
	base = base.Remove(denyUnion).Add(allowUnion)

	if memberOv, ok := ov.Members[userID]; ok {
		base = base.Remove(memberOv.Deny).Add(memberOv.Allow)
	}

	return base
}

// TopPosition returns the highest role position among the roles the member holds, for moderation-hierarchy gating
// (spec.md §4.2 "Role hierarchy"). Returns 0 if the member holds no roles (which cannot happen in
// practice since @everyone is always position 0 and always held).
func TopPosition(roles []RoleRef, roleIDs map[string]struct{}) int {
	top := 0
	for _, r := range roles {
		if _, held := roleIDs[r.ID]; held && r.Position > top {
			top = r.Position
		}
	}
	return top
}

// CanManage implements the actor-may-manage-target rule from spec.md §4.2/§8 invariant 4: the actor must be
// Administrator, or have a strictly higher top position than the target (role position for role operations, or the
// target member's top position for member operations).
func CanManage(actorPerms protocol.Permission, actorTop, targetPosition int) bool {
	if actorPerms.Has(protocol.Administrator) {
		return true
	}
	return actorTop > targetPosition
}
