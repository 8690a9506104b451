package httpapi

import (
	"context"

	"github.com/remus-chat/remus-node/internal/permission"
	"github.com/remus-chat/remus-node/internal/protocol"
)

// actorTopPosition returns the caller's server-wide permissions and the highest role position they hold, the two
// inputs permission.CanManage needs to gate role/member hierarchy operations (spec.md §4.2, §8 invariant 4).
func (s *Server) actorTopPosition(ctx context.Context, guildID, userID string) (protocol.Permission, int, error) {
	everyoneID, roles, err := s.store.GetGuild(ctx, guildID)
	if err != nil {
		return 0, 0, err
	}
	member, err := s.store.GetMember(ctx, guildID, userID)
	if err != nil {
		return 0, 0, err
	}
	if member == nil {
		return 0, 0, nil
	}

	held := make(map[string]struct{}, len(member.RoleIDs)+1)
	held[everyoneID] = struct{}{}
	for _, id := range member.RoleIDs {
		held[id] = struct{}{}
	}

	perms, err := s.perm.Permissions(ctx, guildID, userID, "")
	if err != nil {
		return 0, 0, err
	}
	return perms, permission.TopPosition(roles, held), nil
}
