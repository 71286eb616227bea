package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/duoline/chatcore/internal/apperr"
	"github.com/duoline/chatcore/internal/types"
)

// CreateMessageInput is the validated payload for CreateMessageAndReads.
type CreateMessageInput struct {
	ConversationID int64
	SenderID       int64
	Type           types.MessageType
	Content        string
	MediaURL       string
	MediaMimeType  string
	MediaDuration  int
	Waveform       []int32
	ReplyToID      *int64
}

// CreateMessageAndReads inserts one Message and one MessageRead (status
// sent) per non-sender participant, then updates the conversation's
// last_message_id, all inside a single transaction (§4.1). Duplicate
// read rows from a retried insert are silently ignored via ON CONFLICT.
func (g *Gateway) CreateMessageAndReads(ctx context.Context, in CreateMessageInput, participants []int64) (*types.Message, []*types.MessageRead, error) {
	var msg types.Message
	var reads []*types.MessageRead

	err := g.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		now := time.Now().UTC()
		var waveform *string
		if len(in.Waveform) > 0 {
			s := encodeWaveform(in.Waveform)
			waveform = &s
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO messages
				(conversation_id, sender_id, type, content, media_url, media_mime_type,
				 media_duration, waveform, reply_to_id, is_deleted, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,$10)
			RETURNING id, created_at`,
			in.ConversationID, in.SenderID, string(in.Type), nullIfEmpty(in.Content),
			nullIfEmpty(in.MediaURL), nullIfEmpty(in.MediaMimeType), nullIfZero(in.MediaDuration),
			waveform, in.ReplyToID, now)
		if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
			return err
		}
		msg.ConversationID = in.ConversationID
		msg.SenderID = in.SenderID
		msg.Type = in.Type
		msg.Content = in.Content
		msg.MediaURL = in.MediaURL
		msg.MediaMimeType = in.MediaMimeType
		msg.MediaDuration = in.MediaDuration
		msg.Waveform = in.Waveform
		msg.ReplyToID = in.ReplyToID

		for _, recipient := range participants {
			if recipient == in.SenderID {
				continue
			}
			var r types.MessageRead
			err := tx.QueryRow(ctx, `
				INSERT INTO message_reads (message_id, user_id, status)
				VALUES ($1, $2, $3)
				ON CONFLICT (message_id, user_id) DO UPDATE SET message_id = excluded.message_id
				RETURNING id, message_id, user_id, status, read_at`,
				msg.ID, recipient, string(types.StatusSent)).
				Scan(&r.ID, &r.MessageID, &r.UserID, &r.Status, &r.ReadAt)
			if err != nil {
				return err
			}
			reads = append(reads, &r)
		}

		return touchConversation(ctx, tx, in.ConversationID, msg.ID)
	})
	if err != nil {
		return nil, nil, err
	}
	return &msg, reads, nil
}

// GetMessage loads a single message by id, deleted or not.
func (g *Gateway) GetMessage(ctx context.Context, id int64) (*types.Message, error) {
	m, err := scanMessage(g.pool.QueryRow(ctx, messageSelectSQL+" WHERE m.id = $1", id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "message not found")
		}
		return nil, err
	}
	return m, nil
}

// SoftDelete marks a message deleted, preserving its MessageRead rows so
// unread counts drop naturally (deleted messages are excluded from
// count queries) and reply pointers into it remain renderable (§4.2, §9).
func (g *Gateway) SoftDelete(ctx context.Context, id int64) (*types.Message, error) {
	var msg *types.Message
	err := g.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		now := time.Now().UTC()
		_, err := tx.Exec(ctx, `UPDATE messages SET is_deleted = true, deleted_at = $2 WHERE id = $1`, id, now)
		if err != nil {
			return err
		}
		// Hard-removal of a parent nulls out pointers to it; soft-delete here
		// intentionally leaves reply_to_id pointing at the now-deleted row,
		// per §3: "soft-delete preserves the row".
		m, err := scanMessage(tx.QueryRow(ctx, messageSelectSQL+" WHERE m.id = $1", id))
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	return msg, err
}

// MessagePage is a message plus its read rows, as fetched for pagination.
type MessagePage struct {
	Message types.Message
	Reads   []*types.MessageRead
}

// FetchMessagesBefore returns up to limit messages with id < beforeID
// (or the newest limit if beforeID is nil), newest-first, each with its
// read rows. One extra row is fetched to compute hasPrevious (§4.1).
func (g *Gateway) FetchMessagesBefore(ctx context.Context, conversationID int64, beforeID *int64, limit int) ([]MessagePage, bool, error) {
	var rows pgx.Rows
	var err error
	if beforeID != nil {
		rows, err = g.pool.Query(ctx, messageSelectSQL+`
			WHERE m.conversation_id = $1 AND m.id < $2
			ORDER BY m.id DESC LIMIT $3`, conversationID, *beforeID, limit+1)
	} else {
		rows, err = g.pool.Query(ctx, messageSelectSQL+`
			WHERE m.conversation_id = $1
			ORDER BY m.id DESC LIMIT $2`, conversationID, limit+1)
	}
	if err != nil {
		return nil, false, err
	}

	var msgs []*types.Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			rows.Close()
			return nil, false, err
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasPrevious := len(msgs) > limit
	if hasPrevious {
		msgs = msgs[:limit]
	}

	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	readsByMsg, err := g.readsForMessages(ctx, ids)
	if err != nil {
		return nil, false, err
	}

	pages := make([]MessagePage, len(msgs))
	for i, m := range msgs {
		pages[i] = MessagePage{Message: *m, Reads: readsByMsg[m.ID]}
	}
	return pages, hasPrevious, nil
}

// Search does a case-insensitive substring match on content for
// non-deleted messages, newest first (§4.2). Case folding itself is the
// message service's concern (Unicode-aware, not a bare SQL ILIKE).
func (g *Gateway) Search(ctx context.Context, conversationID int64, foldedQuery string, limit int) ([]*types.Message, error) {
	rows, err := g.pool.Query(ctx, messageSelectSQL+`
		WHERE m.conversation_id = $1 AND m.is_deleted = false
		  AND lower(m.content) LIKE '%' || lower($2) || '%'
		ORDER BY m.created_at DESC LIMIT $3`, conversationID, foldedQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const messageSelectSQL = `
	SELECT m.id, m.conversation_id, m.sender_id, m.type, m.content, m.media_url,
	       m.media_mime_type, m.media_duration, m.waveform, m.reply_to_id,
	       m.is_deleted, m.deleted_at, m.created_at
	FROM messages m`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*types.Message, error) {
	return scanMessageRow(row)
}

func scanMessageRow(row rowScanner) (*types.Message, error) {
	var m types.Message
	var content, mediaURL, mediaMime, waveform *string
	var mediaDuration *int
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &content, &mediaURL,
		&mediaMime, &mediaDuration, &waveform, &m.ReplyToID, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if content != nil {
		m.Content = *content
	}
	if mediaURL != nil {
		m.MediaURL = *mediaURL
	}
	if mediaMime != nil {
		m.MediaMimeType = *mediaMime
	}
	if mediaDuration != nil {
		m.MediaDuration = *mediaDuration
	}
	if waveform != nil {
		m.Waveform = decodeWaveform(*waveform)
	}
	return &m, nil
}

func encodeWaveform(samples []int32) string {
	parts := make([]string, len(samples))
	for i, s := range samples {
		parts[i] = strconv.FormatInt(int64(s), 10)
	}
	return strings.Join(parts, ",")
}

func decodeWaveform(s string) []int32 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int32, 0, len(parts))
	for _, p := range parts {
		v, _ := strconv.ParseInt(p, 10, 32)
		out = append(out, int32(v))
	}
	return out
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
