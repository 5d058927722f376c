package session

import (
	"fmt"
	"sync"
)

// Member is a connection that can join channel groups.
type Member interface {
	ID() string
	Send(ev Event) error
}

// Hub tracks which connections belong to which channel group.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[string]Member
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[string]Member)}
}

// GroupName is the channel group shared by every connection of one user to
// one chat.
func GroupName(userID, chatID string) string {
	return fmt.Sprintf("chat_%s_%s", userID, chatID)
}

// Join adds m to group.
func (h *Hub) Join(group string, m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]Member)
		h.groups[group] = members
	}
	members[m.ID()] = m
}

// Leave removes m from group. Leaving twice is harmless.
func (h *Hub) Leave(group string, m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, m.ID())
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Size returns the number of members of group.
func (h *Hub) Size(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Broadcast sends ev to every member of group and returns how many sends
// succeeded.
func (h *Hub) Broadcast(group string, ev Event) int {
	h.mu.RLock()
	members := make([]Member, 0, len(h.groups[group]))
	for _, m := range h.groups[group] {
		members = append(members, m)
	}
	h.mu.RUnlock()

	sent := 0
	for _, m := range members {
		if m.Send(ev) == nil {
			sent++
		}
	}
	return sent
}

// Len returns the number of memberships across all groups.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, members := range h.groups {
		n += len(members)
	}
	return n
}
