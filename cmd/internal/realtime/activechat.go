package realtime

import "sync"

// ActiveChats tracks which peer each user is currently viewing.
//
// Absence means "not actively viewing any conversation". The delivery state
// machine consults this to decide whether an incoming message is seen
// immediately.
type ActiveChats struct {
	mu     sync.RWMutex
	byUser map[string]string
}

// NewActiveChats constructs an empty tracker.
func NewActiveChats() *ActiveChats {
	return &ActiveChats{byUser: make(map[string]string)}
}

// SetActive records that userID is viewing the conversation with peerID.
func (a *ActiveChats) SetActive(userID, peerID string) {
	if a == nil || userID == "" || peerID == "" {
		return
	}
	a.mu.Lock()
	a.byUser[userID] = peerID
	a.mu.Unlock()
}

// ClearActive removes userID's active conversation, if any.
func (a *ActiveChats) ClearActive(userID string) {
	if a == nil || userID == "" {
		return
	}
	a.mu.Lock()
	delete(a.byUser, userID)
	a.mu.Unlock()
}

// Get returns the peer userID is viewing and whether one is set.
func (a *ActiveChats) Get(userID string) (string, bool) {
	if a == nil || userID == "" {
		return "", false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	peer, ok := a.byUser[userID]
	return peer, ok
}
