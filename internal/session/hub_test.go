package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memberStub struct {
	id   string
	fail bool

	mu   sync.Mutex
	seen []Event
}

func (m *memberStub) ID() string { return m.id }

func (m *memberStub) Send(ev Event) error {
	if m.fail {
		return errors.New("closed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, ev)
	return nil
}

func TestHubMembership(t *testing.T) {
	h := NewHub()
	group := GroupName("u1", "c1")
	require.Equal(t, "chat_u1_c1", group)

	a := &memberStub{id: "a"}
	b := &memberStub{id: "b"}
	dead := &memberStub{id: "dead", fail: true}

	h.Join(group, a)
	h.Join(group, b)
	h.Join(group, dead)
	h.Join(GroupName("u1", "c2"), &memberStub{id: "other"})
	require.Equal(t, 3, h.Size(group))
	require.Equal(t, 4, h.Len())

	sent := h.Broadcast(group, status("hi"))
	require.Equal(t, 2, sent)
	require.Len(t, a.seen, 1)
	require.Len(t, b.seen, 1)

	h.Leave(group, a)
	h.Leave(group, a)
	h.Leave(group, b)
	h.Leave(group, dead)
	require.Zero(t, h.Size(group))
	require.Equal(t, 1, h.Size(GroupName("u1", "c2")))
	require.Zero(t, h.Broadcast(group, status("nobody")))
}
