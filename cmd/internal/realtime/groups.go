package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	v1 "github.com/zaplabs/zap-server/shared/contracts/chat/v1"
)

// GroupService handles group rooms: subscription, broadcast messaging,
// admin-gated membership changes, voluntary leaves, and the detail view.
//
// Authorization is always re-checked against the store at call time; room
// membership (a runtime view) is never trusted as proof of group membership.
type GroupService struct {
	log      *slog.Logger
	store    ChatStore
	presence *Presence
	rooms    *Rooms
	metrics  *Metrics
}

// NewGroupService constructs the group service.
func NewGroupService(log *slog.Logger, store ChatStore, presence *Presence, rooms *Rooms, metrics *Metrics) *GroupService {
	return &GroupService{
		log:      log,
		store:    store,
		presence: presence,
		rooms:    rooms,
		metrics:  metrics,
	}
}

// JoinGroups subscribes the connection to a room per group the caller belongs
// to and confirms with the subscribed set. Client-initiated so a reconnecting
// client controls when it is ready to receive room traffic.
func (g *GroupService) JoinGroups(ctx context.Context, client *Client, now time.Time) error {
	groups, err := g.store.GetUserGroups(ctx, client.UserID)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(groups))
	for _, grp := range groups {
		g.rooms.GetOrCreate(grp.ID).Join(client)
		ids = append(ids, grp.ID)
	}

	g.log.Info("group.join_all", "user_id", client.UserID, "conn_id", client.ConnID, "groups", len(ids))

	client.TryEnqueue(newEnvelope(v1.TypeGroupsJoined, v1.GroupsJoinedPayload{
		GroupIDs: ids,
		Count:    len(ids),
	}, now))
	return nil
}

// Send persists a group message and broadcasts it to the room, sender
// included. Membership is verified against the store on every send.
func (g *GroupService) Send(ctx context.Context, sender *Client, p v1.SendGroupMessagePayload, now time.Time) error {
	groupID := strings.TrimSpace(p.GroupID)
	content := strings.TrimSpace(p.Content)
	if groupID == "" || content == "" {
		return ErrInvalidContent
	}
	if utf8.RuneCountInString(content) > maxGroupMessageChars {
		return ErrContentTooLong
	}

	if _, err := g.store.GetMembership(ctx, groupID, sender.UserID); err != nil {
		return err
	}

	msg, err := g.store.CreateGroupMessage(ctx, groupID, sender.UserID, content, now)
	if err != nil {
		return err
	}
	if g.metrics != nil {
		g.metrics.GroupMessages.Inc()
	}

	g.broadcastMessage(msg, sender.Username, now)

	g.log.Info("group.send", "message_id", msg.ID, "group_id", groupID, "sender_id", sender.UserID)
	return nil
}

// AddMember adds memberID to a group. Caller must be an admin. The room is
// notified, the new member's live connection (if any) is subscribed and told
// directly, and a system message records the change.
func (g *GroupService) AddMember(ctx context.Context, actor *Client, p v1.MemberChangePayload, now time.Time) error {
	groupID := strings.TrimSpace(p.GroupID)
	memberID := strings.TrimSpace(p.MemberID)
	if groupID == "" || memberID == "" {
		return ErrInvalidContent
	}

	actorRow, err := g.store.GetMembership(ctx, groupID, actor.UserID)
	if err != nil {
		return err
	}
	if actorRow.Role != RoleAdmin {
		return ErrNotAdminAdd
	}

	if err := g.store.AddMembers(ctx, groupID, []string{memberID}, now); err != nil {
		return err
	}

	room := g.rooms.GetOrCreate(groupID)
	room.Broadcast(newEnvelope(v1.TypeGroupMemberAdded, v1.GroupMemberAddedPayload{
		GroupID:         groupID,
		MemberID:        memberID,
		AddedBy:         actor.UserID,
		AddedByUsername: actor.Username,
	}, now))

	memberName := memberID
	if member := g.presence.Lookup(memberID); member != nil {
		memberName = member.Username
		room.Join(member)
		member.TryEnqueue(newEnvelope(v1.TypeAddedToGroup, v1.AddedToGroupPayload{
			GroupID: groupID,
		}, now))
	}

	g.systemMessage(ctx, groupID, actor.UserID, fmt.Sprintf("%s added %s to the group", actor.Username, memberName), now)

	g.log.Info("group.member.add", "group_id", groupID, "member_id", memberID, "added_by", actor.UserID)
	return nil
}

// RemoveMember removes memberID from a group. Caller must be an admin and may
// not target themself (that path is Leave). The removed member's live
// connection is evicted from the room and told directly.
func (g *GroupService) RemoveMember(ctx context.Context, actor *Client, p v1.MemberChangePayload, now time.Time) error {
	groupID := strings.TrimSpace(p.GroupID)
	memberID := strings.TrimSpace(p.MemberID)
	if groupID == "" || memberID == "" {
		return ErrInvalidContent
	}
	if memberID == actor.UserID {
		return ErrSelfRemoval
	}

	actorRow, err := g.store.GetMembership(ctx, groupID, actor.UserID)
	if err != nil {
		return err
	}
	if actorRow.Role != RoleAdmin {
		return ErrNotAdminRemove
	}
	if _, err := g.store.GetMembership(ctx, groupID, memberID); err != nil {
		return err
	}

	if err := g.store.RemoveMember(ctx, groupID, memberID); err != nil {
		return err
	}

	memberName := memberID
	if member := g.presence.Lookup(memberID); member != nil {
		memberName = member.Username
		if room := g.rooms.Get(groupID); room != nil {
			room.Leave(member.ConnID)
		}
		member.TryEnqueue(newEnvelope(v1.TypeRemovedFromGroup, v1.RemovedFromGroupPayload{
			GroupID:           groupID,
			RemovedBy:         actor.UserID,
			RemovedByUsername: actor.Username,
		}, now))
	}

	if room := g.rooms.Get(groupID); room != nil {
		room.Broadcast(newEnvelope(v1.TypeGroupMemberRemoved, v1.GroupMemberRemovedPayload{
			GroupID:           groupID,
			MemberID:          memberID,
			RemovedBy:         actor.UserID,
			RemovedByUsername: actor.Username,
		}, now))
	}

	g.systemMessage(ctx, groupID, actor.UserID, fmt.Sprintf("%s removed %s from the group", actor.Username, memberName), now)

	g.log.Info("group.member.remove", "group_id", groupID, "member_id", memberID, "removed_by", actor.UserID)
	return nil
}

// Leave removes the caller from a group. The store promotes a replacement
// admin when the caller was the sole admin. The remaining room is notified
// and the caller gets a direct confirmation.
func (g *GroupService) Leave(ctx context.Context, client *Client, groupID string, now time.Time) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return ErrInvalidContent
	}

	if _, err := g.store.GetMembership(ctx, groupID, client.UserID); err != nil {
		return err
	}
	if err := g.store.LeaveGroup(ctx, groupID, client.UserID); err != nil {
		return err
	}

	if room := g.rooms.Get(groupID); room != nil {
		room.Leave(client.ConnID)
		room.Broadcast(newEnvelope(v1.TypeMemberLeftGroup, v1.MemberLeftGroupPayload{
			GroupID:  groupID,
			UserID:   client.UserID,
			Username: client.Username,
		}, now))
		g.rooms.Remove(groupID)
	}

	g.systemMessage(ctx, groupID, client.UserID, fmt.Sprintf("%s left the group", client.Username), now)

	client.TryEnqueue(newEnvelope(v1.TypeLeftGroupSuccess, v1.LeftGroupSuccessPayload{
		GroupID: groupID,
	}, now))

	g.log.Info("group.member.leave", "group_id", groupID, "user_id", client.UserID)
	return nil
}

// Details replies with the group's detail view. Members only.
func (g *GroupService) Details(ctx context.Context, client *Client, groupID string, now time.Time) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return ErrInvalidContent
	}

	row, err := g.store.GetMembership(ctx, groupID, client.UserID)
	if err != nil {
		return err
	}
	grp, err := g.store.GetGroupByID(ctx, groupID)
	if err != nil {
		return err
	}

	history, err := g.store.GroupMessagesSince(ctx, groupID, row.JoinedAt, groupHistoryLimit)
	if err != nil {
		return err
	}
	recent := make([]v1.ReceiveGroupMessagePayload, 0, len(history))
	for _, m := range history {
		item := v1.ReceiveGroupMessagePayload{
			ID:        m.ID,
			GroupID:   m.GroupID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			IsSystem:  m.IsSystem,
		}
		if c := g.presence.Lookup(m.SenderID); c != nil {
			item.SenderUsername = c.Username
		}
		recent = append(recent, item)
	}

	members := make([]v1.GroupMemberView, 0, len(grp.Members))
	for _, m := range grp.Members {
		view := v1.GroupMemberView{
			UserID:   m.UserID,
			Role:     m.Role,
			JoinedAt: m.JoinedAt,
		}
		if c := g.presence.Lookup(m.UserID); c != nil {
			view.Username = c.Username
		}
		members = append(members, view)
	}

	client.TryEnqueue(newEnvelope(v1.TypeGroupDetails, v1.GroupDetailsPayload{
		ID:             grp.ID,
		Name:           grp.Name,
		Description:    grp.Description,
		CreatorID:      grp.CreatorID,
		CreatedAt:      grp.CreatedAt,
		Members:        members,
		RecentMessages: recent,
	}, now))
	return nil
}

// Typing relays a group typing indicator to every room member except the
// typist. Ephemeral and unauthenticated against the store: the connection
// only sits in rooms it was admitted to.
func (g *GroupService) Typing(sender *Client, groupID string, now time.Time) {
	g.relayTyping(sender, groupID, v1.TypeGroupUserTyping, now)
}

// StopTyping relays the end of a group typing indicator.
func (g *GroupService) StopTyping(sender *Client, groupID string, now time.Time) {
	g.relayTyping(sender, groupID, v1.TypeGroupUserStopTyping, now)
}

func (g *GroupService) relayTyping(sender *Client, groupID, typ string, now time.Time) {
	room := g.rooms.Get(strings.TrimSpace(groupID))
	if room == nil {
		return
	}
	room.BroadcastExcept(newEnvelope(typ, v1.GroupUserTypingPayload{
		GroupID:  room.GroupID,
		UserID:   sender.UserID,
		Username: sender.Username,
	}, now), sender.ConnID)
}

// systemMessage persists and broadcasts a membership-change record. Failures
// are logged, not surfaced: the membership change itself already succeeded.
func (g *GroupService) systemMessage(ctx context.Context, groupID, actorID, content string, now time.Time) {
	msg, err := g.store.CreateSystemMessage(ctx, groupID, actorID, content, now)
	if err != nil {
		g.log.Error("group.system_message", "group_id", groupID, "err", err)
		return
	}
	if g.metrics != nil {
		g.metrics.GroupMessages.Inc()
	}
	g.broadcastMessage(msg, "", now)
}

func (g *GroupService) broadcastMessage(msg GroupMessage, senderUsername string, now time.Time) {
	room := g.rooms.Get(msg.GroupID)
	if room == nil {
		return
	}
	room.Broadcast(newEnvelope(v1.TypeReceiveGroupMessage, v1.ReceiveGroupMessagePayload{
		ID:             msg.ID,
		GroupID:        msg.GroupID,
		SenderID:       msg.SenderID,
		SenderUsername: senderUsername,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
		IsSystem:       msg.IsSystem,
	}, now))
}
