package realtime

import (
	"context"
	"log/slog"
	"time"

	v1 "github.com/zaplabs/zap-server/shared/contracts/chat/v1"
)

// Delivery governs the direct-message lifecycle: pending -> delivered -> seen.
//
// Flag advancement is idempotent end to end: the store refuses to regress
// flags and re-notifying a sender is harmless, so replaying any step of the
// lifecycle is a no-op rather than an error.
type Delivery struct {
	log      *slog.Logger
	store    ChatStore
	presence *Presence
	active   *ActiveChats
	metrics  *Metrics
}

// NewDelivery constructs the delivery state machine.
func NewDelivery(log *slog.Logger, store ChatStore, presence *Presence, active *ActiveChats, metrics *Metrics) *Delivery {
	return &Delivery{
		log:      log,
		store:    store,
		presence: presence,
		active:   active,
		metrics:  metrics,
	}
}

// Advance evaluates a freshly persisted message against receiver reachability
// and the receiver's active conversation, advances the stored flags, and
// notifies the sender of any receipt. Returns the message with authoritative
// flags.
func (d *Delivery) Advance(ctx context.Context, msg DirectMessage, sender *Client, now time.Time) (DirectMessage, error) {
	receiver := d.presence.Lookup(msg.ReceiverID)
	if receiver == nil {
		// Receiver offline: stays pending until their next connect.
		return msg, nil
	}

	if peer, ok := d.active.Get(msg.ReceiverID); ok && peer == msg.SenderID {
		// Receiver is viewing this conversation: seen immediately.
		if _, err := d.store.MarkSeen(ctx, msg.SenderID, msg.ReceiverID); err != nil {
			return msg, err
		}
		msg.Delivered = true
		msg.Seen = true

		if d.metrics != nil {
			d.metrics.MessagesDelivered.Inc()
			d.metrics.MessagesSeen.Inc()
		}

		sender.TryEnqueue(newEnvelope(v1.TypeMessagesSeen, v1.MessagesSeenPayload{
			By:         msg.ReceiverID,
			ByUsername: receiver.Username,
			ChatWith:   msg.SenderID,
		}, now))
		return msg, nil
	}

	// Receiver online but elsewhere: delivered only.
	if err := d.store.MarkDelivered(ctx, []string{msg.ID}); err != nil {
		return msg, err
	}
	msg.Delivered = true

	if d.metrics != nil {
		d.metrics.MessagesDelivered.Inc()
	}
	return msg, nil
}

// FlushPending pushes every pending message addressed to the reconnecting
// client, advances them to delivered, and notifies each original sender that
// is currently online.
func (d *Delivery) FlushPending(ctx context.Context, client *Client, now time.Time) error {
	pending, err := d.store.GetUndelivered(ctx, client.UserID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	// Only messages the send queue actually accepted advance to delivered.
	// A backlog larger than the queue stays pending and is flushed again on
	// the next connect; flagging a dropped message would lose it forever.
	flushed := make([]DirectMessage, 0, len(pending))
	for _, m := range pending {
		var senderName string
		if sender := d.presence.Lookup(m.SenderID); sender != nil {
			senderName = sender.Username
		}
		ok := client.TryEnqueue(newEnvelope(v1.TypeReceiveMessage, v1.ReceiveMessagePayload{
			ID:             m.ID,
			SenderID:       m.SenderID,
			SenderUsername: senderName,
			ReceiverID:     client.UserID,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
			Delivered:      true,
			Seen:           m.Seen,
		}, now))
		if !ok {
			break
		}
		flushed = append(flushed, m)
	}

	d.log.Info("delivery.flush", "user_id", client.UserID, "pending", len(pending), "flushed", len(flushed))

	if len(flushed) == 0 {
		return nil
	}

	ids := make([]string, 0, len(flushed))
	for _, m := range flushed {
		ids = append(ids, m.ID)
	}
	if err := d.store.MarkDelivered(ctx, ids); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.MessagesDelivered.Add(float64(len(ids)))
	}

	for _, m := range flushed {
		if sender := d.presence.Lookup(m.SenderID); sender != nil {
			sender.TryEnqueue(newEnvelope(v1.TypeMessageDelivered, v1.MessageDeliveredPayload{
				MessageID: m.ID,
				To:        client.UserID,
			}, now))
		}
	}
	return nil
}

// MarkSeenBy flips every message from withUser to the viewer to seen and
// notifies withUser when online.
func (d *Delivery) MarkSeenBy(ctx context.Context, viewer *Client, withUser string, now time.Time) error {
	advanced, err := d.store.MarkSeen(ctx, withUser, viewer.UserID)
	if err != nil {
		return err
	}
	if d.metrics != nil && len(advanced) > 0 {
		d.metrics.MessagesSeen.Add(float64(len(advanced)))
	}

	if sender := d.presence.Lookup(withUser); sender != nil {
		sender.TryEnqueue(newEnvelope(v1.TypeMessagesSeen, v1.MessagesSeenPayload{
			By:         viewer.UserID,
			ByUsername: viewer.Username,
			ChatWith:   withUser,
		}, now))
	}
	return nil
}

// SetActiveChat records (or clears) the viewer's active conversation. Opening
// a conversation retroactively marks everything pending from that peer as
// seen.
func (d *Delivery) SetActiveChat(ctx context.Context, viewer *Client, chatWith string, now time.Time) error {
	if chatWith == "" {
		d.active.ClearActive(viewer.UserID)
		return nil
	}

	d.active.SetActive(viewer.UserID, chatWith)
	return d.MarkSeenBy(ctx, viewer, chatWith, now)
}

// SetActiveChatOffline drops the user's active-conversation entry on
// disconnect so a future connect starts with no conversation open.
func (d *Delivery) SetActiveChatOffline(userID string) {
	d.active.ClearActive(userID)
}

// AckDelivered handles a client-side receipt acknowledgment for a single
// message and relays it to the original sender when online.
func (d *Delivery) AckDelivered(ctx context.Context, receiver *Client, messageID, from string, now time.Time) error {
	if err := d.store.MarkDelivered(ctx, []string{messageID}); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.MessagesDelivered.Inc()
	}

	if sender := d.presence.Lookup(from); sender != nil {
		sender.TryEnqueue(newEnvelope(v1.TypeMessageDelivered, v1.MessageDeliveredPayload{
			MessageID: messageID,
			To:        receiver.UserID,
		}, now))
	}
	return nil
}
