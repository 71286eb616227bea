// Package events is the Event Consolidator (C5): it turns a just-committed
// mutation into the unified wire events the hub fans out, reading each
// recipient's unread count fresh from the store so no one observes a
// stale value (§4.5).
package events

import (
	"context"
	"time"

	"github.com/duoline/chatcore/internal/store"
	"github.com/duoline/chatcore/internal/types"
)

// ConversationUpdate is one recipient's refreshed unread count.
type ConversationUpdate struct {
	UserID      int64 `json:"userId"`
	UnreadCount int   `json:"unreadCount"`
}

// UnifiedMessage is emitted once per successful send.
type UnifiedMessage struct {
	ConversationID      int64                `json:"conversationId"`
	Message             types.Message        `json:"message"`
	ConversationUpdates []ConversationUpdate `json:"conversationUpdates"`
}

// StatusUpdate is one (message, recipient) transition inside a UnifiedStatus.
type StatusUpdate struct {
	MessageID int64            `json:"messageId"`
	UserID    int64            `json:"userId"`
	Status    types.ReadStatus `json:"status"`
	ReadAt    *time.Time       `json:"readAt,omitempty"`
}

// UnifiedStatus is emitted for a batch of read/delivered transitions that
// all land in the same conversation, so a reconnect backlog collapses
// into one event per conversation (§4.5, S4).
type UnifiedStatus struct {
	ConversationID      int64                `json:"conversationId"`
	Updates             []StatusUpdate       `json:"updates"`
	ConversationUpdates []ConversationUpdate `json:"conversationUpdates"`
}

// UnifiedDeletion is emitted once per soft-delete.
type UnifiedDeletion struct {
	ConversationID      int64                `json:"conversationId"`
	DeletedMessageIDs   []int64              `json:"deletedMessageIds"`
	ConversationUpdates []ConversationUpdate `json:"conversationUpdates"`
}

// Consolidator builds unified events, reading unread counts from the
// store after the triggering mutation has committed.
type Consolidator struct {
	store *store.Gateway
}

// New builds a Consolidator.
func New(gw *store.Gateway) *Consolidator {
	return &Consolidator{store: gw}
}

func (c *Consolidator) conversationUpdates(ctx context.Context, conversationID int64, recipients []int64) ([]ConversationUpdate, error) {
	counts, err := c.store.UnreadCounts(ctx, conversationID, recipients)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationUpdate, 0, len(recipients))
	for _, uid := range recipients {
		out = append(out, ConversationUpdate{UserID: uid, UnreadCount: counts[uid]})
	}
	return out, nil
}

// Message builds a UnifiedMessage for msg, reading fresh unread counts for
// every participant (§4.5).
func (c *Consolidator) Message(ctx context.Context, msg *types.Message, participants []int64) (*UnifiedMessage, error) {
	updates, err := c.conversationUpdates(ctx, msg.ConversationID, participants)
	if err != nil {
		return nil, err
	}
	return &UnifiedMessage{
		ConversationID:      msg.ConversationID,
		Message:             *msg,
		ConversationUpdates: updates,
	}, nil
}

// Status builds a UnifiedStatus for a batch of transitions that all
// belong to conversationID, reading fresh unread counts for participants.
func (c *Consolidator) Status(ctx context.Context, conversationID int64, reads []*types.MessageRead, participants []int64) (*UnifiedStatus, error) {
	updates := make([]StatusUpdate, 0, len(reads))
	for _, r := range reads {
		updates = append(updates, StatusUpdate{
			MessageID: r.MessageID,
			UserID:    r.UserID,
			Status:    r.Status,
			ReadAt:    r.ReadAt,
		})
	}
	convUpdates, err := c.conversationUpdates(ctx, conversationID, participants)
	if err != nil {
		return nil, err
	}
	return &UnifiedStatus{
		ConversationID:      conversationID,
		Updates:             updates,
		ConversationUpdates: convUpdates,
	}, nil
}

// Deletion builds a UnifiedDeletion for one soft-deleted message.
func (c *Consolidator) Deletion(ctx context.Context, conversationID, messageID int64, participants []int64) (*UnifiedDeletion, error) {
	convUpdates, err := c.conversationUpdates(ctx, conversationID, participants)
	if err != nil {
		return nil, err
	}
	return &UnifiedDeletion{
		ConversationID:      conversationID,
		DeletedMessageIDs:   []int64{messageID},
		ConversationUpdates: convUpdates,
	}, nil
}

// GroupByConversation buckets a flat list of reads by their message's
// conversation, for the "group by conversation, emit one UnifiedStatus
// per conversation" onboarding step (§4.6 step 3).
func GroupByConversation(reads []*types.MessageRead, conversationOf map[int64]int64) map[int64][]*types.MessageRead {
	out := make(map[int64][]*types.MessageRead)
	for _, r := range reads {
		convID := conversationOf[r.MessageID]
		out[convID] = append(out[convID], r)
	}
	return out
}
