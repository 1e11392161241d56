package v1

import "time"

// ---- Client -> server payloads ----

// SendMessagePayload requests a direct message to a peer.
type SendMessagePayload struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

// TypingPayload targets a typing indicator at a peer.
type TypingPayload struct {
	To string `json:"to"`
}

// MarkSeenPayload marks all messages from WithUser to the caller as seen.
type MarkSeenPayload struct {
	WithUser string `json:"withUser"`
}

// ActiveChatPayload declares which peer the caller is currently viewing.
// An empty ChatWith clears the active conversation.
type ActiveChatPayload struct {
	ChatWith string `json:"chatWith,omitempty"`
}

// MessageDeliveredAckPayload acknowledges receipt of a single message.
type MessageDeliveredAckPayload struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
}

// SendGroupMessagePayload requests a broadcast message to a group.
type SendGroupMessagePayload struct {
	GroupID string `json:"groupId"`
	Content string `json:"content"`
}

// GroupTypingPayload targets a typing indicator at a group room.
type GroupTypingPayload struct {
	GroupID string `json:"groupId"`
}

// MemberChangePayload identifies a member to add to or remove from a group.
type MemberChangePayload struct {
	GroupID  string `json:"groupId"`
	MemberID string `json:"memberId"`
}

// GroupRefPayload references a group by id (leave_group, get_group_details).
type GroupRefPayload struct {
	GroupID string `json:"groupId"`
}

// ---- Server -> client payloads ----

// ReceiveMessagePayload carries a direct message with its authoritative
// server-assigned id, timestamp and delivery flags.
type ReceiveMessagePayload struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"senderId"`
	SenderUsername string    `json:"senderUsername,omitempty"`
	ReceiverID     string    `json:"receiverId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Delivered      bool      `json:"delivered"`
	Seen           bool      `json:"seen"`
}

// MessageDeliveredPayload notifies a sender that a message reached To.
type MessageDeliveredPayload struct {
	MessageID string `json:"messageId"`
	To        string `json:"to"`
}

// MessagesSeenPayload notifies a sender that By viewed their conversation.
type MessagesSeenPayload struct {
	By         string `json:"by"`
	ByUsername string `json:"byUsername,omitempty"`
	ChatWith   string `json:"chatWith"`
}

// PresencePayload announces a user going online or offline.
type PresencePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// OnlineUsersListPayload is the current snapshot of reachable users.
type OnlineUsersListPayload struct {
	UserIDs []string `json:"userIds"`
}

// UserTypingPayload relays a peer typing indicator.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// ReceiveGroupMessagePayload carries a broadcast group message.
type ReceiveGroupMessagePayload struct {
	ID             string    `json:"id"`
	GroupID        string    `json:"groupId"`
	SenderID       string    `json:"senderId"`
	SenderUsername string    `json:"senderUsername,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	IsSystem       bool      `json:"isSystem,omitempty"`
}

// GroupUserTypingPayload relays a group typing indicator.
type GroupUserTypingPayload struct {
	GroupID  string `json:"groupId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// GroupMemberAddedPayload announces a membership addition to the room.
type GroupMemberAddedPayload struct {
	GroupID         string `json:"groupId"`
	MemberID        string `json:"memberId"`
	AddedBy         string `json:"addedBy"`
	AddedByUsername string `json:"addedByUsername,omitempty"`
}

// GroupMemberRemovedPayload announces a membership removal to the room.
type GroupMemberRemovedPayload struct {
	GroupID           string `json:"groupId"`
	MemberID          string `json:"memberId"`
	RemovedBy         string `json:"removedBy"`
	RemovedByUsername string `json:"removedByUsername,omitempty"`
}

// AddedToGroupPayload tells the affected user they were added to a group.
type AddedToGroupPayload struct {
	GroupID string `json:"groupId"`
}

// RemovedFromGroupPayload tells the affected user they were removed.
type RemovedFromGroupPayload struct {
	GroupID           string `json:"groupId"`
	RemovedBy         string `json:"removedBy"`
	RemovedByUsername string `json:"removedByUsername,omitempty"`
}

// MemberLeftGroupPayload announces a voluntary leave to the room.
type MemberLeftGroupPayload struct {
	GroupID  string `json:"groupId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// GroupMemberView is a member entry inside GroupDetailsPayload.
type GroupMemberView struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username,omitempty"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// GroupDetailsPayload is the detail view returned by get_group_details.
// RecentMessages starts at the caller's joinedAt floor: members never see
// history from before they joined.
type GroupDetailsPayload struct {
	ID             string                       `json:"id"`
	Name           string                       `json:"name"`
	Description    string                       `json:"description,omitempty"`
	CreatorID      string                       `json:"creatorId"`
	CreatedAt      time.Time                    `json:"createdAt"`
	Members        []GroupMemberView            `json:"members"`
	RecentMessages []ReceiveGroupMessagePayload `json:"recentMessages,omitempty"`
}

// GroupsJoinedPayload replies to join_groups with the subscribed room set.
type GroupsJoinedPayload struct {
	GroupIDs []string `json:"groupIds"`
	Count    int      `json:"count"`
}

// LeftGroupSuccessPayload confirms a leave_group request.
type LeftGroupSuccessPayload struct {
	GroupID string `json:"groupId"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Message string `json:"message"`
}
