package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/duoline/chatcore/internal/apperr"
	"github.com/duoline/chatcore/internal/types"
)

// IsParticipant reports whether userID is one of the conversation's two
// participants.
func (g *Gateway) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var exists bool
	err := g.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID).Scan(&exists)
	return exists, err
}

// Participants returns the two participant ids of a conversation.
func (g *Gateway) Participants(ctx context.Context, conversationID int64) ([]int64, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ConversationIDsFor returns every conversation id userID participates
// in, used to fan a presence announcement into all of a user's rooms
// (§4.6 step 4, presence.ping).
func (g *Gateway) ConversationIDsFor(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT conversation_id FROM conversation_participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetConversation loads a conversation by id.
func (g *Gateway) GetConversation(ctx context.Context, id int64) (*types.Conversation, error) {
	var c types.Conversation
	var lastMsg *int64
	err := g.pool.QueryRow(ctx, `
		SELECT id, last_message_id, created_at, updated_at
		FROM conversations WHERE id = $1`, id).
		Scan(&c.ID, &lastMsg, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "conversation not found")
		}
		return nil, err
	}
	c.LastMessageID = lastMsg
	return &c, nil
}

// FindP2P looks up the unique conversation whose participant set equals
// {a, b}, if one exists.
func (g *Gateway) FindP2P(ctx context.Context, a, b int64) (*types.Conversation, error) {
	var c types.Conversation
	var lastMsg *int64
	err := g.pool.QueryRow(ctx, `
		SELECT c.id, c.last_message_id, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants p1 ON p1.conversation_id = c.id AND p1.user_id = $1
		JOIN conversation_participants p2 ON p2.conversation_id = c.id AND p2.user_id = $2
		LIMIT 1`, a, b).Scan(&c.ID, &lastMsg, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.LastMessageID = lastMsg
	return &c, nil
}

// CreateP2PSerialized takes a transaction-scoped Postgres advisory lock
// keyed on the unordered participant pair, re-checks FindP2P under that
// lock, and only then inserts a new conversation. The advisory lock is
// released automatically on commit/rollback, serializing concurrent
// createOrGet1to1(a,b) calls without a schema-level unique constraint
// over a two-row participant set (§4.3, §5, testable property 7, S5).
func (g *Gateway) CreateP2PSerialized(ctx context.Context, lockKey, a, b int64) (*types.Conversation, error) {
	var c types.Conversation
	err := g.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
			return err
		}

		var lastMsg *int64
		err := tx.QueryRow(ctx, `
			SELECT c.id, c.last_message_id, c.created_at, c.updated_at
			FROM conversations c
			JOIN conversation_participants p1 ON p1.conversation_id = c.id AND p1.user_id = $1
			JOIN conversation_participants p2 ON p2.conversation_id = c.id AND p2.user_id = $2
			LIMIT 1`, a, b).Scan(&c.ID, &lastMsg, &c.CreatedAt, &c.UpdatedAt)
		if err == nil {
			c.LastMessageID = lastMsg
			return nil
		}
		if err != pgx.ErrNoRows {
			return err
		}

		now := time.Now().UTC()
		if err := tx.QueryRow(ctx, `
			INSERT INTO conversations (created_at, updated_at) VALUES ($1, $1)
			RETURNING id, created_at, updated_at`, now).
			Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2), ($1, $3)`,
			c.ID, a, b)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ConversationPage is one row of a ListConversations result.
type ConversationPage struct {
	Conversation types.Conversation
	UpdatedAt    time.Time
}

// ListConversations returns conversations userID participates in,
// ordered (updatedAt DESC, id DESC), applying the backward cursor
// predicate (updatedAt, id) < cursor described in §4.7.
func (g *Gateway) ListConversations(ctx context.Context, userID int64, beforeUpdatedAt *time.Time, beforeID *int64, limit int) ([]ConversationPage, bool, error) {
	var rows pgx.Rows
	var err error
	if beforeUpdatedAt != nil {
		rows, err = g.pool.Query(ctx, `
			SELECT id, last_message_id, created_at, updated_at
			FROM conversations c
			WHERE EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = c.id AND p.user_id = $1)
			  AND (c.updated_at, c.id) < ($2, $3)
			ORDER BY c.updated_at DESC, c.id DESC
			LIMIT $4`, userID, *beforeUpdatedAt, *beforeID, limit+1)
	} else {
		rows, err = g.pool.Query(ctx, `
			SELECT id, last_message_id, created_at, updated_at
			FROM conversations c
			WHERE EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = c.id AND p.user_id = $1)
			ORDER BY c.updated_at DESC, c.id DESC
			LIMIT $2`, userID, limit+1)
	}
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []ConversationPage
	for rows.Next() {
		var c types.Conversation
		var lastMsg *int64
		if err := rows.Scan(&c.ID, &lastMsg, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, false, err
		}
		c.LastMessageID = lastMsg
		out = append(out, ConversationPage{Conversation: c, UpdatedAt: c.UpdatedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// ListConversationsAfter returns conversations userID participates in
// that are newer than the (updatedAt, id) cursor, ordered newest-first,
// for the forward half of the bidirectional conversation cursor (§6).
func (g *Gateway) ListConversationsAfter(ctx context.Context, userID int64, afterUpdatedAt time.Time, afterID int64, limit int) ([]ConversationPage, bool, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT id, last_message_id, created_at, updated_at
		FROM conversations c
		WHERE EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = c.id AND p.user_id = $1)
		  AND (c.updated_at, c.id) > ($2, $3)
		ORDER BY c.updated_at ASC, c.id ASC
		LIMIT $4`, userID, afterUpdatedAt, afterID, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []ConversationPage
	for rows.Next() {
		var c types.Conversation
		var lastMsg *int64
		if err := rows.Scan(&c.ID, &lastMsg, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, false, err
		}
		c.LastMessageID = lastMsg
		out = append(out, ConversationPage{Conversation: c, UpdatedAt: c.UpdatedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, hasMore, nil
}

// touchConversation updates last_message_id and updated_at; called from
// within the transaction that created the triggering message.
func touchConversation(ctx context.Context, tx *Tx, conversationID, messageID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE conversations SET last_message_id = $2, updated_at = now() WHERE id = $1`,
		conversationID, messageID)
	return err
}
