package runtime

import "chat-relay/domain"

// mailbox holds pending messages for users that are not connected.
// Each queue is bounded: once a user has capacity messages waiting, the
// oldest one is evicted to make room. A capacity of 0 means unbounded.
// Not safe for concurrent use, the Registry lock guards it.
type mailbox struct {
	capacity int
	queues   map[string][]domain.PendingMessage
}

func newMailbox(capacity int) *mailbox {
	return &mailbox{
		capacity: capacity,
		queues:   make(map[string][]domain.PendingMessage),
	}
}

// push appends msg to its recipient's queue and reports whether an older
// message was evicted.
func (m *mailbox) push(msg domain.PendingMessage) bool {
	q := m.queues[msg.To]
	evicted := false
	if m.capacity > 0 && len(q) >= m.capacity {
		q = q[len(q)-m.capacity+1:]
		evicted = true
	}
	m.queues[msg.To] = append(q, msg)
	return evicted
}

// drain removes and returns every message waiting for user, oldest first.
func (m *mailbox) drain(user string) []domain.PendingMessage {
	q := m.queues[user]
	delete(m.queues, user)
	return q
}

func (m *mailbox) size(user string) int {
	return len(m.queues[user])
}
