package realtime

import (
	"context"
	"time"
)

// DirectMessage is the canonical persisted 1:1 message representation.
// Content and id are immutable; Delivered/Seen only ever advance to true.
type DirectMessage struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	CreatedAt  time.Time
	Delivered  bool
	Seen       bool
}

// GroupMessage is a broadcast-only group message. There is no per-recipient
// delivery tracking. System messages are synthesized by the core on
// membership changes and attributed to the acting admin.
type GroupMessage struct {
	ID        string
	GroupID   string
	SenderID  string
	Content   string
	CreatedAt time.Time
	IsSystem  bool
}

// Membership roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// GroupMember is one membership row. JoinedAt is the member's visibility
// floor for group history.
type GroupMember struct {
	GroupID  string
	UserID   string
	Role     string
	JoinedAt time.Time
}

// Group is the persisted group record.
type Group struct {
	ID          string
	Name        string
	Description string
	CreatorID   string
	CreatedAt   time.Time
	Members     []GroupMember
}

// ChatStore persists messages, groups, and memberships.
//
// Requirements:
//   - MarkDelivered/MarkSeen are idempotent; flags never revert.
//   - Seen implies delivered.
//   - CreateGroup (group + creator-as-admin + initial members) is atomic.
//   - LeaveGroup promotes the earliest-joined remaining member before
//     deleting a sole admin's row, atomically: no observer sees a group with
//     members but zero admins.
//
// Operations are atomic at the single-row/batch level; callers do not retry
// failures.
type ChatStore interface {
	// CreateDirectMessage persists a new message with delivered=false, seen=false.
	CreateDirectMessage(ctx context.Context, senderID, receiverID, content string, now time.Time) (DirectMessage, error)
	// GetUndelivered returns all messages addressed to userID with
	// delivered=false, ordered by CreatedAt ascending.
	GetUndelivered(ctx context.Context, userID string) ([]DirectMessage, error)
	// MarkDelivered flips delivered=true for the given message ids.
	MarkDelivered(ctx context.Context, ids []string) error
	// MarkSeen flips seen=true (and delivered=true) on every unseen message
	// from senderID to receiverID. Returns the ids it advanced.
	MarkSeen(ctx context.Context, senderID, receiverID string) ([]string, error)

	// CreateGroup creates a group with creator as admin plus initial members.
	CreateGroup(ctx context.Context, creatorID, name, description string, memberIDs []string, now time.Time) (Group, error)
	// GetUserGroups returns every group userID belongs to.
	GetUserGroups(ctx context.Context, userID string) ([]Group, error)
	// GetGroupByID returns a group with its membership rows.
	GetGroupByID(ctx context.Context, groupID string) (Group, error)
	// GetMembership returns the membership row for (groupID, userID).
	// Returns ErrNotAMember when none exists.
	GetMembership(ctx context.Context, groupID, userID string) (GroupMember, error)
	// AddMembers inserts membership rows with role=member, skipping users
	// that are already members.
	AddMembers(ctx context.Context, groupID string, memberIDs []string, now time.Time) error
	// RemoveMember deletes the membership row for memberID.
	RemoveMember(ctx context.Context, groupID, memberID string) error
	// LeaveGroup deletes userID's membership row, first promoting the
	// earliest-joined remaining member to admin when userID is the sole admin
	// and other members remain.
	LeaveGroup(ctx context.Context, groupID, userID string) error

	// CreateGroupMessage persists a user-authored group message.
	CreateGroupMessage(ctx context.Context, groupID, senderID, content string, now time.Time) (GroupMessage, error)
	// CreateSystemMessage persists a core-synthesized group message
	// attributed to the acting admin.
	CreateSystemMessage(ctx context.Context, groupID, actorID, content string, now time.Time) (GroupMessage, error)
	// GroupMessagesSince returns group messages with CreatedAt >= since,
	// ordered ascending, capped at limit.
	GroupMessagesSince(ctx context.Context, groupID string, since time.Time, limit int) ([]GroupMessage, error)

	Close() error
}
