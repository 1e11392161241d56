package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	v1 "github.com/zaplabs/zap-server/shared/contracts/chat/v1"
)

type groupsFixture struct {
	store    *MemoryStore
	presence *Presence
	rooms    *Rooms
	groups   *GroupService
}

func newGroupsFixture() *groupsFixture {
	log := testLogger()
	store := NewMemoryStore()
	presence := NewPresence(log, nil)
	rooms := NewRooms(log)
	return &groupsFixture{
		store:    store,
		presence: presence,
		rooms:    rooms,
		groups:   NewGroupService(log, store, presence, rooms, nil),
	}
}

func (f *groupsFixture) online(t *testing.T, connID, userID, username string) *Client {
	t.Helper()
	c := NewClient(connID, userID, username, 16)
	f.presence.SetOnline(c)
	return c
}

func TestGroupService_JoinGroupsSubscribesAllRooms(t *testing.T) {
	t.Parallel()

	f := newGroupsFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	g1, _ := f.store.CreateGroup(ctx, "alice", "team-a", "", []string{"bob"}, now)
	g2, _ := f.store.CreateGroup(ctx, "alice", "team-b", "", nil, now)
	_, _ = f.store.CreateGroup(ctx, "carol", "other", "", nil, now)

	alice := f.online(t, "c1", "alice", "Alice")
	if err := f.groups.JoinGroups(ctx, alice, now); err != nil {
		t.Fatalf("JoinGroups: %v", err)
	}

	env := drainOne(t, alice, v1.TypeGroupsJoined)
	var p v1.GroupsJoinedPayload
	_ = json.Unmarshal(env.Payload, &p)
	if p.Count != 2 || len(p.GroupIDs) != 2 {
		t.Fatalf("expected 2 joined groups, got %+v", p)
	}

	if f.rooms.Get(g1.ID) == nil || f.rooms.Get(g2.ID) == nil {
		t.Fatalf("rooms not created for joined groups")
	}
}

func TestGroupService_SendRequiresMembership(t *testing.T) {
	t.Parallel()

	f := newGroupsFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	g, _ := f.store.CreateGroup(ctx, "alice", "team", "", nil, now)
	mallory := f.online(t, "c1", "mallory", "Mallory")

	err := f.groups.Send(ctx, mallory, v1.SendGroupMessagePayload{GroupID: g.ID, Content: "hi"}, now)
	if !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
	if err.Error() != "You are not a member of this group" {
		t.Fatalf("wire message changed: %q", err.Error())
	}
}

func TestGroupService_SendRejectsOversizedContent(t *testing.T) {
	t.Parallel()

	f := newGroupsFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	g, _ := f.store.CreateGroup(ctx, "alice", "team", "", nil, now)
	alice := f.online(t, "c1", "alice", "Alice")

	long := strings.Repeat("x", maxGroupMessageChars+1)
	err := f.groups.Send(ctx, alice, v1.SendGroupMessagePayload{GroupID: g.ID, Content: long}, now)
	if !errors.Is(err, ErrContentTooLong) {
		t.Fatalf("expected ErrContentTooLong, got %v", err)
	}

	// Exactly at the cap is allowed.
	ok := strings.Repeat("x", maxGroupMessageChars)
	if err := f.groups.Send(ctx, alice, v1.SendGroupMessagePayload{GroupID: g.ID, Content: ok}, now); err != nil {
		t.Fatalf("cap-length message rejected: %v", err)
	}
}

func TestGroupService_SendBroadcastsToRoomIncludingSender(t *testing.T) {
	t.Parallel()

	f := newGroupsFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	g, _ := f.store.CreateGroup(ctx, "alice", "team", "", []string{"bob"}, now)

	alice := f.online(t, "c1", "alice", "Alice")
	bob := f.online(t, "c2", "bob", "Bob")
	_ = f.groups.JoinGroups(ctx, alice, now)
	_ = f.groups.JoinGroups(ctx, bob, now)
	drainOne(t, alice, v1.TypeGroupsJoined)
	drainOne(t, bob, v1.TypeGroupsJoined)

	if err := f.groups.Send(ctx, alice, v1.SendGroupMessagePayload{GroupID: g.ID, Content: "hello team"}, now); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for _, c := range []*Client{alice, bob} {
		env := drainOne(t, c, v1.TypeReceiveGroupMessage)
		var p v1.ReceiveGroupMessagePayload
		_ = json.Unmarshal(env.Payload, &p)
		if p.GroupID != g.ID || p.SenderID != "alice" || p.Content != "hello team" || p.IsSystem {
			t.Fatalf("group message payload mismatch for %s: %+v", c.UserID, p)
		}
	}
}

func TestGroupService_AddMemberAdminOnly(t *testing.T) {
	t.Parallel()

	f := newGroupsFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	g, _ := f.store.CreateGroup(ctx, "alice", "team", "", []string{"bob"}, now)
	bob := f.online(t, "c2", "bob", "Bob")

	err := f.groups.AddMember(ctx, bob, v1.MemberChangePayload{GroupID: g.ID, MemberID: "carol"}, now)
	if !errors.Is(err, ErrNotAdminAdd) {
		t.Fatalf("expected ErrNotAdminAdd, got %v", err)
	}
	if err.Error() != "Only admins can add members" {
		t.Fatalf("wire message changed: %q", err.Error())
	}
}

func TestGroupService_AddMemberJoinsLiveConnAndRecordsSystemMessage(t *testing.T) {
	t.Parallel()

	f := newGroupsFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	g, _ := f.store.CreateGroup(ctx, "alice", "team", "", nil, now)

	alice := f.online(t, "c1", "alice", "Alice")
	carol := f.online(t, "c2", "carol", "Carol")
	_ = f.groups.JoinGroups(ctx, alice, now)
	drainOne(t, alice, v1.TypeGroupsJoined)

	if err := f.groups.AddMember(ctx, alice, v1.MemberChangePayload{GroupID: g.ID, MemberID: "carol"}, now); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	if _, err := f.store.GetMembership(ctx, g.ID, "carol"); err != nil {
		t.Fatalf("membership not persisted: %v", err)
	}

	// Carol's live connection was told directly and subscribed to the room.
	sawAdded := false
	for i := 0; i < 4; i++ {
		select {
		case env := <-carol.Send:
			if env.Type == v1.TypeAddedToGroup {
				sawAdded = true
			}
		default:
		}
	}
	if !sawAdded {
		t.Fatalf("added member never received added_to_group")
	}

	// Existing room members saw the announcement and the system message.
	sawAnnounce, sawSystem := false, false
	for i := 0; i < 6; i++ {
		select {
		case env := <-alice.Send:
			switch env.Type {
			case v1.TypeGroupMemberAdded:
				sawAnnounce = true
			case v1.TypeReceiveGroupMessage:
				var p v1.ReceiveGroupMessagePayload
				_ = json.Unmarshal(env.Payload, &p)
				if p.IsSystem {
					sawSystem = true
				}
			}
		default:
		}
	}
	if !sawAnnounce || !sawSystem {
		t.Fatalf("room missed announcements: member_added=%v system=%v", sawAnnounce, sawSystem)
	}

	msgs, _ := f.store.GroupMessagesSince(ctx, g.ID, time.Time{}, 10)
	if len(msgs) != 1 || !msgs[0].IsSystem {
		t.Fatalf("system message not persisted: %v", msgs)
	}
}

func TestGroupService_RemoveMemberRules(t *testing.T) {
	t.Parallel()

	f := newGroupsFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	g, _ := f.store.CreateGroup(ctx, "alice", "team", "", []string{"bob", "carol"}, now)
	alice := f.online(t, "c1", "alice", "Alice")
	bob := f.online(t, "c2", "bob", "Bob")

	// Non-admin cannot remove.
	err := f.groups.RemoveMember(ctx, bob, v1.MemberChangePayload{GroupID: g.ID, MemberID: "carol"}, now)
	if !errors.Is(err, ErrNotAdminRemove) {
		t.Fatalf("expected ErrNotAdminRemove, got %v", err)
	}

	// Admin cannot remove themself via the admin path.
	err = f.groups.RemoveMember(ctx, alice, v1.MemberChangePayload{GroupID: g.ID, MemberID: "alice"}, now)
	if !errors.Is(err, ErrSelfRemoval) {
		t.Fatalf("expected ErrSelfRemoval, got %v", err)
	}
	if err.Error() != "Use leave group to remove yourself" {
		t.Fatalf("wire message changed: %q", err.Error())
	}

	// Admin removes carol.
	if err := f.groups.RemoveMember(ctx, alice, v1.MemberChangePayload{GroupID: g.ID, MemberID: "carol"}, now); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if _, err := f.store.GetMembership(ctx, g.ID, "carol"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("carol still a member: %v", err)
	}
}

func TestGroupService_RemoveMemberEvictsLiveConnection(t *testing.T) {
	t.Parallel()

	f := newGroupsFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	g, _ := f.store.CreateGroup(ctx, "alice", "team", "", []string{"bob"}, now)

	alice := f.online(t, "c1", "alice", "Alice")
	bob := f.online(t, "c2", "bob", "Bob")
	_ = f.groups.JoinGroups(ctx, alice, now)
	_ = f.groups.JoinGroups(ctx, bob, now)
	drainOne(t, alice, v1.TypeGroupsJoined)
	drainOne(t, bob, v1.TypeGroupsJoined)

	if err := f.groups.RemoveMember(ctx, alice, v1.MemberChangePayload{GroupID: g.ID, MemberID: "bob"}, now); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}

	// Bob got the direct notification.
	sawRemoved := false
	for i := 0; i < 4; i++ {
		select {
		case env := <-bob.Send:
			if env.Type == v1.TypeRemovedFromGroup {
				var p v1.RemovedFromGroupPayload
				_ = json.Unmarshal(env.Payload, &p)
				if p.RemovedBy != "alice" {
					t.Fatalf("removed_from_group payload mismatch: %+v", p)
				}
				sawRemoved = true
			}
		default:
		}
	}
	if !sawRemoved {
		t.Fatalf("removed member never received removed_from_group")
	}

	// Bob no longer receives room broadcasts.
	room := f.rooms.Get(g.ID)
	if room == nil {
		t.Fatalf("room vanished")
	}
	for len(bob.Send) > 0 {
		<-bob.Send
	}
	room.Broadcast(v1.Envelope{V: v1.Version, Type: v1.TypeReceiveGroupMessage})
	assertEmpty(t, bob)
}

func TestGroupService_LeavePromotesAndConfirms(t *testing.T) {
	t.Parallel()

	f := newGroupsFixture()
	ctx := context.Background()
	base := time.Now().UTC()

	g, _ := f.store.CreateGroup(ctx, "alice", "team", "", nil, base)
	_ = f.store.AddMembers(ctx, g.ID, []string{"bob"}, base.Add(time.Minute))

	alice := f.online(t, "c1", "alice", "Alice")
	bob := f.online(t, "c2", "bob", "Bob")
	_ = f.groups.JoinGroups(ctx, alice, base)
	_ = f.groups.JoinGroups(ctx, bob, base)
	drainOne(t, alice, v1.TypeGroupsJoined)
	drainOne(t, bob, v1.TypeGroupsJoined)

	if err := f.groups.Leave(ctx, alice, g.ID, base.Add(2*time.Minute)); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	// Sole-admin leave promoted bob.
	m, err := f.store.GetMembership(ctx, g.ID, "bob")
	if err != nil {
		t.Fatalf("GetMembership(bob): %v", err)
	}
	if m.Role != RoleAdmin {
		t.Fatalf("bob not promoted, role=%q", m.Role)
	}

	// Leaver got the confirmation.
	sawConfirm := false
	for len(alice.Send) > 0 {
		env := <-alice.Send
		if env.Type == v1.TypeLeftGroupSuccess {
			sawConfirm = true
		}
	}
	if !sawConfirm {
		t.Fatalf("leaver never received left_group_success")
	}

	// Remaining room heard about the departure.
	sawLeft := false
	for len(bob.Send) > 0 {
		env := <-bob.Send
		if env.Type == v1.TypeMemberLeftGroup {
			sawLeft = true
		}
	}
	if !sawLeft {
		t.Fatalf("room never received member_left_group")
	}
}

func TestGroupService_DetailsMembersOnly(t *testing.T) {
	t.Parallel()

	f := newGroupsFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	g, _ := f.store.CreateGroup(ctx, "alice", "team", "about us", []string{"bob"}, now)

	mallory := f.online(t, "c1", "mallory", "Mallory")
	if err := f.groups.Details(ctx, mallory, g.ID, now); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}

	alice := f.online(t, "c2", "alice", "Alice")
	if err := f.groups.Details(ctx, alice, g.ID, now); err != nil {
		t.Fatalf("Details: %v", err)
	}

	env := drainOne(t, alice, v1.TypeGroupDetails)
	var p v1.GroupDetailsPayload
	_ = json.Unmarshal(env.Payload, &p)
	if p.ID != g.ID || p.Name != "team" || p.Description != "about us" || p.CreatorID != "alice" {
		t.Fatalf("details mismatch: %+v", p)
	}
	if len(p.Members) != 2 {
		t.Fatalf("expected 2 members in details, got %v", p.Members)
	}
}

func TestGroupService_DetailsHistoryStartsAtJoinFloor(t *testing.T) {
	t.Parallel()

	f := newGroupsFixture()
	ctx := context.Background()
	base := time.Now().UTC()

	g, _ := f.store.CreateGroup(ctx, "alice", "team", "", nil, base)
	_, _ = f.store.CreateGroupMessage(ctx, g.ID, "alice", "before bob", base.Add(time.Minute))

	_ = f.store.AddMembers(ctx, g.ID, []string{"bob"}, base.Add(2*time.Minute))
	_, _ = f.store.CreateGroupMessage(ctx, g.ID, "alice", "after bob", base.Add(3*time.Minute))

	bob := f.online(t, "c1", "bob", "Bob")
	if err := f.groups.Details(ctx, bob, g.ID, base.Add(4*time.Minute)); err != nil {
		t.Fatalf("Details: %v", err)
	}

	env := drainOne(t, bob, v1.TypeGroupDetails)
	var p v1.GroupDetailsPayload
	_ = json.Unmarshal(env.Payload, &p)
	if len(p.RecentMessages) != 1 || p.RecentMessages[0].Content != "after bob" {
		t.Fatalf("history must start at bob's join floor: %+v", p.RecentMessages)
	}
}

func TestGroupService_TypingExcludesSender(t *testing.T) {
	t.Parallel()

	f := newGroupsFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	g, _ := f.store.CreateGroup(ctx, "alice", "team", "", []string{"bob"}, now)

	alice := f.online(t, "c1", "alice", "Alice")
	bob := f.online(t, "c2", "bob", "Bob")
	_ = f.groups.JoinGroups(ctx, alice, now)
	_ = f.groups.JoinGroups(ctx, bob, now)
	drainOne(t, alice, v1.TypeGroupsJoined)
	drainOne(t, bob, v1.TypeGroupsJoined)

	f.groups.Typing(alice, g.ID, now)

	env := drainOne(t, bob, v1.TypeGroupUserTyping)
	var p v1.GroupUserTypingPayload
	_ = json.Unmarshal(env.Payload, &p)
	if p.UserID != "alice" || p.GroupID != g.ID {
		t.Fatalf("group typing payload mismatch: %+v", p)
	}

	// The typist never sees their own indicator.
	assertEmpty(t, alice)
}
