package realtime

import (
	"context"
	"log/slog"
	"strings"
	"time"

	v1 "github.com/zaplabs/zap-server/shared/contracts/chat/v1"
)

// DirectRouter handles 1:1 traffic: message sends, typing relays, seen
// markers, and presence snapshots. Routing decisions read presence at call
// time; nothing here blocks on a peer's socket.
type DirectRouter struct {
	log      *slog.Logger
	store    ChatStore
	presence *Presence
	delivery *Delivery
	metrics  *Metrics
}

// NewDirectRouter constructs the direct-message router.
func NewDirectRouter(log *slog.Logger, store ChatStore, presence *Presence, delivery *Delivery, metrics *Metrics) *DirectRouter {
	return &DirectRouter{
		log:      log,
		store:    store,
		presence: presence,
		delivery: delivery,
		metrics:  metrics,
	}
}

// Send persists a direct message, advances its delivery state against the
// receiver's reachability, pushes it to the receiver when online, and echoes
// the authoritative record back to the sender.
func (r *DirectRouter) Send(ctx context.Context, sender *Client, p v1.SendMessagePayload, now time.Time) error {
	to := strings.TrimSpace(p.To)
	content := strings.TrimSpace(p.Content)
	if to == "" || content == "" {
		return ErrInvalidContent
	}

	msg, err := r.store.CreateDirectMessage(ctx, sender.UserID, to, content, now)
	if err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.MessagesSent.Inc()
	}

	msg, err = r.delivery.Advance(ctx, msg, sender, now)
	if err != nil {
		return err
	}

	out := v1.ReceiveMessagePayload{
		ID:             msg.ID,
		SenderID:       msg.SenderID,
		SenderUsername: sender.Username,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
		Delivered:      msg.Delivered,
		Seen:           msg.Seen,
	}

	if receiver := r.presence.Lookup(to); receiver != nil {
		receiver.TryEnqueue(newEnvelope(v1.TypeReceiveMessage, out, now))
	}

	// Sender echo is unconditional: it carries the server-assigned id,
	// timestamp and flags the client UI reconciles against.
	sender.TryEnqueue(newEnvelope(v1.TypeReceiveMessage, out, now))

	r.log.Info("direct.send",
		"message_id", msg.ID,
		"sender_id", msg.SenderID,
		"receiver_id", msg.ReceiverID,
		"delivered", msg.Delivered,
		"seen", msg.Seen,
	)
	return nil
}

// Typing relays a typing indicator to the target peer when online.
// Indicators are ephemeral: never persisted, silently dropped when the peer
// is offline.
func (r *DirectRouter) Typing(sender *Client, to string, now time.Time) {
	r.relayTyping(sender, to, v1.TypeUserTyping, now)
}

// StopTyping relays the end of a typing indicator.
func (r *DirectRouter) StopTyping(sender *Client, to string, now time.Time) {
	r.relayTyping(sender, to, v1.TypeUserStopTyping, now)
}

func (r *DirectRouter) relayTyping(sender *Client, to, typ string, now time.Time) {
	peer := r.presence.Lookup(strings.TrimSpace(to))
	if peer == nil {
		return
	}
	peer.TryEnqueue(newEnvelope(typ, v1.UserTypingPayload{
		UserID:   sender.UserID,
		Username: sender.Username,
	}, now))
}

// MarkSeen flips every message from withUser to the viewer to seen and
// notifies withUser when online.
func (r *DirectRouter) MarkSeen(ctx context.Context, viewer *Client, withUser string, now time.Time) error {
	withUser = strings.TrimSpace(withUser)
	if withUser == "" {
		return ErrInvalidContent
	}
	return r.delivery.MarkSeenBy(ctx, viewer, withUser, now)
}

// SetActiveChat records which conversation the viewer has open.
func (r *DirectRouter) SetActiveChat(ctx context.Context, viewer *Client, chatWith string, now time.Time) error {
	return r.delivery.SetActiveChat(ctx, viewer, strings.TrimSpace(chatWith), now)
}

// AckDelivered processes a client delivery receipt for one message.
func (r *DirectRouter) AckDelivered(ctx context.Context, receiver *Client, p v1.MessageDeliveredAckPayload, now time.Time) error {
	if p.MessageID == "" || p.From == "" {
		return ErrInvalidContent
	}
	return r.delivery.AckDelivered(ctx, receiver, p.MessageID, p.From, now)
}

// OnlineUsers replies to the requester with the current presence snapshot.
func (r *DirectRouter) OnlineUsers(requester *Client, now time.Time) {
	requester.TryEnqueue(newEnvelope(v1.TypeOnlineUsersList, v1.OnlineUsersListPayload{
		UserIDs: r.presence.AllOnline(),
	}, now))
}
