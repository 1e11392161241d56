// Package v1 defines the Zap Chat Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Client -> server event types (wire-stable).
const (
	// TypeSendMessage requests sending a direct message.
	TypeSendMessage = "send_message"
	// TypeTyping signals that the sender is typing to a peer.
	TypeTyping = "typing"
	// TypeStopTyping signals that the sender stopped typing to a peer.
	TypeStopTyping = "stop_typing"
	// TypeMarkSeen marks every message from a peer as seen.
	TypeMarkSeen = "mark_seen"
	// TypeActiveChat declares (or clears) the conversation the user is viewing.
	TypeActiveChat = "active_chat"
	// TypeMessageDelivered acknowledges client-side receipt of a message.
	TypeMessageDelivered = "message_delivered"
	// TypeGetOnlineUsers requests the current online-users snapshot.
	TypeGetOnlineUsers = "get_online_users"

	// TypeJoinGroups subscribes the connection to all of the caller's group rooms.
	TypeJoinGroups = "join_groups"
	// TypeSendGroupMessage requests sending a group message.
	TypeSendGroupMessage = "send_group_message"
	// TypeGroupTyping signals typing inside a group.
	TypeGroupTyping = "group_typing"
	// TypeGroupStopTyping signals stopped typing inside a group.
	TypeGroupStopTyping = "group_stop_typing"
	// TypeMemberAdded asks to add a member to a group (admin only).
	TypeMemberAdded = "member_added"
	// TypeMemberRemoved asks to remove a member from a group (admin only).
	TypeMemberRemoved = "member_removed"
	// TypeLeaveGroup removes the caller from a group.
	TypeLeaveGroup = "leave_group"
	// TypeGetGroupDetails requests a group's detail view (members only).
	TypeGetGroupDetails = "get_group_details"
)

// Server -> client event types (wire-stable).
// "message_delivered" is bidirectional: a client-side receipt ack inbound,
// a sender notification outbound. Direction disambiguates.
const (
	TypeReceiveMessage  = "receive_message"
	TypeMessagesSeen    = "messages_seen"
	TypeUserOnline      = "user_online"
	TypeUserOffline     = "user_offline"
	TypeOnlineUsersList = "online_users_list"
	TypeUserTyping      = "user_typing"
	TypeUserStopTyping  = "user_stop_typing"

	TypeReceiveGroupMessage = "receive_group_message"
	TypeGroupUserTyping     = "group_user_typing"
	TypeGroupUserStopTyping = "group_user_stop_typing"
	TypeGroupMemberAdded    = "group_member_added"
	TypeGroupMemberRemoved  = "group_member_removed"
	TypeAddedToGroup        = "added_to_group"
	TypeRemovedFromGroup    = "removed_from_group"
	TypeMemberLeftGroup     = "member_left_group"
	TypeGroupDetails        = "group_details"
	TypeGroupsJoined        = "groups_joined"
	TypeLeftGroupSuccess    = "left_group_success"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var knownTypes = map[string]struct{}{
	TypeSendMessage:      {},
	TypeTyping:           {},
	TypeStopTyping:       {},
	TypeMarkSeen:         {},
	TypeActiveChat:       {},
	TypeMessageDelivered: {},
	TypeGetOnlineUsers:   {},
	TypeJoinGroups:       {},
	TypeSendGroupMessage: {},
	TypeGroupTyping:      {},
	TypeGroupStopTyping:  {},
	TypeMemberAdded:      {},
	TypeMemberRemoved:    {},
	TypeLeaveGroup:       {},
	TypeGetGroupDetails:  {},

	TypeReceiveMessage:      {},
	TypeMessagesSeen:        {},
	TypeUserOnline:          {},
	TypeUserOffline:         {},
	TypeOnlineUsersList:     {},
	TypeUserTyping:          {},
	TypeUserStopTyping:      {},
	TypeReceiveGroupMessage: {},
	TypeGroupUserTyping:     {},
	TypeGroupUserStopTyping: {},
	TypeGroupMemberAdded:    {},
	TypeGroupMemberRemoved:  {},
	TypeAddedToGroup:        {},
	TypeRemovedFromGroup:    {},
	TypeMemberLeftGroup:     {},
	TypeGroupDetails:        {},
	TypeGroupsJoined:        {},
	TypeLeftGroupSuccess:    {},
	TypeError:               {},
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if _, ok := knownTypes[e.Type]; !ok {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}
