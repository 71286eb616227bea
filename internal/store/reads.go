package store

import (
	"context"
	"time"

	"github.com/duoline/chatcore/internal/types"
)

// readsForMessages loads all MessageRead rows for the given message ids,
// grouped by message id. Used to hydrate FetchMessagesBefore pages.
func (g *Gateway) readsForMessages(ctx context.Context, messageIDs []int64) (map[int64][]*types.MessageRead, error) {
	out := make(map[int64][]*types.MessageRead)
	if len(messageIDs) == 0 {
		return out, nil
	}

	rows, err := g.pool.Query(ctx, `
		SELECT id, message_id, user_id, status, read_at
		FROM message_reads WHERE message_id = ANY($1)`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r types.MessageRead
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Status, &r.ReadAt); err != nil {
			return nil, err
		}
		out[r.MessageID] = append(out[r.MessageID], &r)
	}
	return out, rows.Err()
}

// TransitionReads row-locks the MessageRead rows for (messageIDs, userID)
// and promotes each toward target, refusing regressions. readAt is set
// iff transitioning into read. Rows already at or past target, rows for
// other users, and rows that don't exist are silently skipped (§4.1, §4.2).
func (g *Gateway) TransitionReads(ctx context.Context, messageIDs []int64, userID int64, target types.ReadStatus) ([]*types.MessageRead, error) {
	var out []*types.MessageRead
	err := g.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, message_id, user_id, status, read_at
			FROM message_reads
			WHERE message_id = ANY($1) AND user_id = $2
			FOR UPDATE`, messageIDs, userID)
		if err != nil {
			return err
		}

		type locked struct {
			id     int64
			msgID  int64
			status types.ReadStatus
		}
		var toPromote []locked
		for rows.Next() {
			var r types.MessageRead
			if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Status, &r.ReadAt); err != nil {
				rows.Close()
				return err
			}
			if r.Status.Before(target) {
				toPromote = append(toPromote, locked{id: r.ID, msgID: r.MessageID, status: target})
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		now := time.Now().UTC()
		for _, l := range toPromote {
			var r types.MessageRead
			var readAt *time.Time
			if target == types.StatusRead {
				readAt = &now
			}
			if err := tx.QueryRow(ctx, `
				UPDATE message_reads SET status = $2, read_at = COALESCE($3, read_at)
				WHERE id = $1
				RETURNING id, message_id, user_id, status, read_at`,
				l.id, string(target), readAt).
				Scan(&r.ID, &r.MessageID, &r.UserID, &r.Status, &r.ReadAt); err != nil {
				return err
			}
			out = append(out, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UnreadCounts returns, for each userID, the count of MessageRead rows
// in this conversation's non-deleted messages that are not yet read
// (status in {sent, delivered}) — the testable invariant in §8.3.
func (g *Gateway) UnreadCounts(ctx context.Context, conversationID int64, userIDs []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(userIDs))
	for _, uid := range userIDs {
		out[uid] = 0
	}
	if len(userIDs) == 0 {
		return out, nil
	}

	rows, err := g.pool.Query(ctx, `
		SELECT r.user_id, count(*)
		FROM message_reads r
		JOIN messages m ON m.id = r.message_id
		WHERE m.conversation_id = $1 AND m.is_deleted = false
		  AND r.status IN ('sent','delivered') AND r.user_id = ANY($2)
		GROUP BY r.user_id`, conversationID, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var uid int64
		var n int
		if err := rows.Scan(&uid, &n); err != nil {
			return nil, err
		}
		out[uid] = n
	}
	return out, rows.Err()
}

// UnreadMessageIDs returns the ids of messages in conversationID whose
// MessageRead row for userID has not yet reached `read`, for the
// conversation.join "bulk-mark as read on first join" step (§4.6).
func (g *Gateway) UnreadMessageIDs(ctx context.Context, conversationID, userID int64) ([]int64, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT r.message_id
		FROM message_reads r
		JOIN messages m ON m.id = r.message_id
		WHERE m.conversation_id = $1 AND r.user_id = $2
		  AND r.status IN ('sent','delivered') AND m.is_deleted = false`, conversationID, userID)
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

// UndeliveredRow is one sent-but-not-delivered read row for a user,
// joined to its conversation, as returned by UndeliveredFor.
type UndeliveredRow struct {
	MessageID      int64
	ConversationID int64
}

// UndeliveredFor returns all MessageRead rows in status sent for
// userID, on non-deleted messages — the backlog the hub replays as
// sent->delivered transitions on reconnect (§4.6 step 3).
func (g *Gateway) UndeliveredFor(ctx context.Context, userID int64) ([]UndeliveredRow, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT r.message_id, m.conversation_id
		FROM message_reads r
		JOIN messages m ON m.id = r.message_id
		WHERE r.user_id = $1 AND r.status = 'sent' AND m.is_deleted = false`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UndeliveredRow
	for rows.Next() {
		var u UndeliveredRow
		if err := rows.Scan(&u.MessageID, &u.ConversationID); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
