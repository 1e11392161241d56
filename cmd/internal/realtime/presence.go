package realtime

import (
	"log/slog"
	"sync"

	v1 "github.com/zaplabs/zap-server/shared/contracts/chat/v1"
)

// Presence is the single source of truth for "who is online".
//
// Registration is last-write-wins: re-registering a user replaces the prior
// connection. The displaced client is returned so the caller can actively
// close the stale connection instead of leaking its registration.
type Presence struct {
	log *slog.Logger

	mu      sync.RWMutex
	byUser  map[string]*Client
	metrics *Metrics
}

// NewPresence constructs an empty presence registry.
func NewPresence(log *slog.Logger, metrics *Metrics) *Presence {
	return &Presence{
		log:     log,
		byUser:  make(map[string]*Client),
		metrics: metrics,
	}
}

// SetOnline registers client as the live connection for its user.
// Returns the displaced prior client, if any.
func (p *Presence) SetOnline(client *Client) *Client {
	if p == nil || client == nil || client.UserID == "" {
		return nil
	}

	p.mu.Lock()
	prev := p.byUser[client.UserID]
	p.byUser[client.UserID] = client
	online := len(p.byUser)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.OnlineUsers.Set(float64(online))
	}

	p.log.Info("presence.online", "user_id", client.UserID, "conn_id", client.ConnID, "online", online)
	if prev != nil && prev != client {
		return prev
	}
	return nil
}

// Release removes the registration for userID, but only when connID still owns
// it. A stale connection disconnecting after being displaced must not evict
// its replacement. Reports whether the user actually went offline.
func (p *Presence) Release(userID, connID string) bool {
	if p == nil || userID == "" {
		return false
	}

	p.mu.Lock()
	cur, ok := p.byUser[userID]
	if !ok || (connID != "" && cur.ConnID != connID) {
		p.mu.Unlock()
		return false
	}
	delete(p.byUser, userID)
	online := len(p.byUser)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.OnlineUsers.Set(float64(online))
	}

	p.log.Info("presence.offline", "user_id", userID, "conn_id", connID, "online", online)
	return true
}

// Lookup returns the live client for userID, or nil when offline.
func (p *Presence) Lookup(userID string) *Client {
	if p == nil || userID == "" {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byUser[userID]
}

// AllOnline returns the current set of reachable user ids.
func (p *Presence) AllOnline() []string {
	if p == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.byUser))
	for id := range p.byUser {
		out = append(out, id)
	}
	return out
}

// BroadcastAll fanouts an envelope to every connected client.
// Non-blocking: backlogged or closing clients are skipped.
func (p *Presence) BroadcastAll(env v1.Envelope) {
	if p == nil {
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, c := range p.byUser {
		c.TryEnqueue(env)
	}
}
