// Package domain contains core concepts of the chat relay.
// This file defines pending (offline) messages.
// Messages are immutable once queued.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind int

const (
	PrivateMessage MessageKind = iota
	GroupMessage
)

func (k MessageKind) String() string {
	switch k {
	case PrivateMessage:
		return "private"
	case GroupMessage:
		return "group"
	default:
		return "unknown"
	}
}

// PendingMessage is a message held for a user who is not connected.
// To is always the recipient; Group is set only for a GroupMessage.
type PendingMessage struct {
	ID      uuid.UUID
	Kind    MessageKind
	Group   string
	From    string
	To      string
	Content string
	At      time.Time
}

func NewPrivateMessage(from, to, content string, at time.Time) PendingMessage {
	return PendingMessage{
		ID:      uuid.New(),
		Kind:    PrivateMessage,
		From:    from,
		To:      to,
		Content: content,
		At:      at.UTC(),
	}
}

func NewGroupMessage(group, from, to, content string, at time.Time) PendingMessage {
	msg := NewPrivateMessage(from, to, content, at)
	msg.Kind = GroupMessage
	msg.Group = group
	return msg
}
