package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a dev and test fallback when no database is configured.
// It implements the full ChatStore semantics, including flag idempotency
// and admin promotion on leave.
type MemoryStore struct {
	mu sync.Mutex

	directs   map[string]*DirectMessage
	directSeq []string

	groups  map[string]*memGroup
	grpMsgs map[string][]GroupMessage
}

type memGroup struct {
	group   Group
	members map[string]*GroupMember
}

// NewMemoryStore constructs an in-memory ChatStore implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		directs: make(map[string]*DirectMessage),
		groups:  make(map[string]*memGroup),
		grpMsgs: make(map[string][]GroupMessage),
	}
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateDirectMessage(ctx context.Context, senderID, receiverID, content string, now time.Time) (DirectMessage, error) {
	if senderID == "" || receiverID == "" || content == "" {
		return DirectMessage{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return DirectMessage{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewMessageID(now)
	if err != nil {
		return DirectMessage{}, err
	}

	msg := DirectMessage{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  now,
	}

	s.mu.Lock()
	s.directs[id] = &msg
	s.directSeq = append(s.directSeq, id)
	s.mu.Unlock()

	return msg, nil
}

func (s *MemoryStore) GetUndelivered(ctx context.Context, userID string) ([]DirectMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []DirectMessage
	for _, id := range s.directSeq {
		m := s.directs[id]
		if m.ReceiverID == userID && !m.Delivered {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if m, ok := s.directs[id]; ok {
			m.Delivered = true
		}
	}
	return nil
}

func (s *MemoryStore) MarkSeen(ctx context.Context, senderID, receiverID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var advanced []string
	for _, id := range s.directSeq {
		m := s.directs[id]
		if m.SenderID == senderID && m.ReceiverID == receiverID && !m.Seen {
			m.Seen = true
			m.Delivered = true
			advanced = append(advanced, id)
		}
	}
	return advanced, nil
}

func (s *MemoryStore) CreateGroup(ctx context.Context, creatorID, name, description string, memberIDs []string, now time.Time) (Group, error) {
	if creatorID == "" || name == "" {
		return Group{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewGroupID(now)
	if err != nil {
		return Group{}, err
	}

	g := &memGroup{
		group: Group{
			ID:          id,
			Name:        name,
			Description: description,
			CreatorID:   creatorID,
			CreatedAt:   now,
		},
		members: make(map[string]*GroupMember),
	}
	g.members[creatorID] = &GroupMember{GroupID: id, UserID: creatorID, Role: RoleAdmin, JoinedAt: now}
	for _, uid := range memberIDs {
		if uid == "" || uid == creatorID {
			continue
		}
		g.members[uid] = &GroupMember{GroupID: id, UserID: uid, Role: RoleMember, JoinedAt: now}
	}

	s.mu.Lock()
	s.groups[id] = g
	s.mu.Unlock()

	return s.snapshotGroup(g), nil
}

func (s *MemoryStore) GetUserGroups(ctx context.Context, userID string) ([]Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Group
	for _, g := range s.groups {
		if _, ok := g.members[userID]; ok {
			out = append(out, s.snapshotGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetGroupByID(ctx context.Context, groupID string) (Group, error) {
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return s.snapshotGroup(g), nil
}

func (s *MemoryStore) GetMembership(ctx context.Context, groupID, userID string) (GroupMember, error) {
	if err := ctx.Err(); err != nil {
		return GroupMember{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return GroupMember{}, ErrGroupNotFound
	}
	m, ok := g.members[userID]
	if !ok {
		return GroupMember{}, ErrNotAMember
	}
	return *m, nil
}

func (s *MemoryStore) AddMembers(ctx context.Context, groupID string, memberIDs []string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	for _, uid := range memberIDs {
		if uid == "" {
			continue
		}
		if _, exists := g.members[uid]; exists {
			continue
		}
		g.members[uid] = &GroupMember{GroupID: groupID, UserID: uid, Role: RoleMember, JoinedAt: now}
	}
	return nil
}

func (s *MemoryStore) RemoveMember(ctx context.Context, groupID, memberID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	if _, ok := g.members[memberID]; !ok {
		return ErrNotAMember
	}
	delete(g.members, memberID)
	return nil
}

func (s *MemoryStore) LeaveGroup(ctx context.Context, groupID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	leaver, ok := g.members[userID]
	if !ok {
		return ErrNotAMember
	}

	// Promotion runs before the leaver's row is deleted so no observer sees
	// a group with members but zero admins. The whole step is under one lock,
	// mirroring the single transaction the SQL store uses.
	if leaver.Role == RoleAdmin && s.adminCount(g) == 1 && len(g.members) > 1 {
		if next := earliestOther(g, userID); next != nil {
			next.Role = RoleAdmin
		}
	}

	delete(g.members, userID)
	return nil
}

func (s *MemoryStore) CreateGroupMessage(ctx context.Context, groupID, senderID, content string, now time.Time) (GroupMessage, error) {
	return s.appendGroupMessage(ctx, groupID, senderID, content, now, false)
}

func (s *MemoryStore) CreateSystemMessage(ctx context.Context, groupID, actorID, content string, now time.Time) (GroupMessage, error) {
	return s.appendGroupMessage(ctx, groupID, actorID, content, now, true)
}

func (s *MemoryStore) appendGroupMessage(ctx context.Context, groupID, senderID, content string, now time.Time, system bool) (GroupMessage, error) {
	if groupID == "" || senderID == "" || content == "" {
		return GroupMessage{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return GroupMessage{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewMessageID(now)
	if err != nil {
		return GroupMessage{}, err
	}

	msg := GroupMessage{
		ID:        id,
		GroupID:   groupID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: now,
		IsSystem:  system,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return GroupMessage{}, ErrGroupNotFound
	}
	s.grpMsgs[groupID] = append(s.grpMsgs[groupID], msg)
	return msg, nil
}

func (s *MemoryStore) GroupMessagesSince(ctx context.Context, groupID string, since time.Time, limit int) ([]GroupMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []GroupMessage
	for _, m := range s.grpMsgs[groupID] {
		if !m.CreatedAt.Before(since) {
			out = append(out, m)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ---- helpers (callers hold s.mu) ----

func (s *MemoryStore) adminCount(g *memGroup) int {
	n := 0
	for _, m := range g.members {
		if m.Role == RoleAdmin {
			n++
		}
	}
	return n
}

func earliestOther(g *memGroup, excludeUserID string) *GroupMember {
	var next *GroupMember
	for _, m := range g.members {
		if m.UserID == excludeUserID {
			continue
		}
		if next == nil || m.JoinedAt.Before(next.JoinedAt) ||
			(m.JoinedAt.Equal(next.JoinedAt) && m.UserID < next.UserID) {
			next = m
		}
	}
	return next
}

func (s *MemoryStore) snapshotGroup(g *memGroup) Group {
	out := g.group
	out.Members = make([]GroupMember, 0, len(g.members))
	for _, m := range g.members {
		out.Members = append(out.Members, *m)
	}
	sort.Slice(out.Members, func(i, j int) bool {
		if out.Members[i].JoinedAt.Equal(out.Members[j].JoinedAt) {
			return out.Members[i].UserID < out.Members[j].UserID
		}
		return out.Members[i].JoinedAt.Before(out.Members[j].JoinedAt)
	})
	return out
}
