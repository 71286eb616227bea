// Package conversations implements the Conversation Service (C3):
// fetching a conversation with its participants and last message,
// idempotent 1:1 creation, and unread counts.
package conversations

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/duoline/chatcore/internal/apperr"
	"github.com/duoline/chatcore/internal/cursor"
	"github.com/duoline/chatcore/internal/store"
	"github.com/duoline/chatcore/internal/types"
)

// Service implements C3 over a persistence Gateway.
type Service struct {
	store *store.Gateway
}

// New builds a Service.
func New(gw *store.Gateway) *Service {
	return &Service{store: gw}
}

// DTO is a conversation as returned to a specific caller, including
// their own unread count.
type DTO struct {
	Conversation types.Conversation
	Participants []int64
	UnreadCount  int
}

// Get loads a conversation with its participants and per-caller unread
// count, refusing callers who aren't a participant (§4.3).
func (s *Service) Get(ctx context.Context, conversationID, callerID int64) (*DTO, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	participants, err := s.store.Participants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !contains(participants, callerID) {
		return nil, apperr.New(apperr.Forbidden, "caller is not a participant")
	}

	counts, err := s.store.UnreadCounts(ctx, conversationID, []int64{callerID})
	if err != nil {
		return nil, err
	}

	return &DTO{Conversation: *conv, Participants: participants, UnreadCount: counts[callerID]}, nil
}

// BidiPage is one page of a bidirectional conversation list, carrying
// both backward and forward cursors (§6 pagination surface).
type BidiPage struct {
	Data           []DTO
	HasNext        bool
	HasPrevious    bool
	NextCursor     string
	PreviousCursor string
}

// ListPage serves the bidirectional {limit, before?, after?} pagination
// surface described in §6: a before cursor pages backward (older
// activity), an after cursor pages forward (newer activity), and
// neither returns the newest page. An after page implies older items
// exist (hasPrevious=true); a before page implies newer items exist
// (hasNext=true), since the cursor itself was handed out from an
// adjacent page.
func (s *Service) ListPage(ctx context.Context, userID int64, before, after string, limit int) (*BidiPage, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	switch {
	case after != "":
		c, ok := cursor.DecodeConversation(after)
		if !ok {
			return nil, apperr.New(apperr.Validation, "malformed cursor")
		}
		rows, hasMore, err := s.store.ListConversationsAfter(ctx, userID, c.UpdatedAt, c.ID, limit)
		if err != nil {
			return nil, err
		}
		data, err := s.hydrate(ctx, userID, rows)
		if err != nil {
			return nil, err
		}
		page := &BidiPage{Data: data, HasNext: hasMore, HasPrevious: true}
		if hasMore && len(data) > 0 {
			// data is newest-first, so the newest row bounds the next forward page.
			newest := data[0].Conversation
			page.NextCursor = cursor.EncodeConversation(cursor.Conversation{UpdatedAt: newest.UpdatedAt, ID: newest.ID})
		}
		return page, nil

	default:
		var ts *time.Time
		var idp *int64
		if before != "" {
			c, ok := cursor.DecodeConversation(before)
			if !ok {
				return nil, apperr.New(apperr.Validation, "malformed cursor")
			}
			ts, idp = &c.UpdatedAt, &c.ID
		}
		rows, hasMore, err := s.store.ListConversations(ctx, userID, ts, idp, limit)
		if err != nil {
			return nil, err
		}
		data, err := s.hydrate(ctx, userID, rows)
		if err != nil {
			return nil, err
		}
		page := &BidiPage{Data: data, HasPrevious: hasMore, HasNext: before != ""}
		if hasMore && len(data) > 0 {
			last := data[len(data)-1].Conversation
			page.PreviousCursor = cursor.EncodeConversation(cursor.Conversation{UpdatedAt: last.UpdatedAt, ID: last.ID})
		}
		return page, nil
	}
}

func (s *Service) hydrate(ctx context.Context, userID int64, rows []store.ConversationPage) ([]DTO, error) {
	data := make([]DTO, 0, len(rows))
	for _, row := range rows {
		participants, err := s.store.Participants(ctx, row.Conversation.ID)
		if err != nil {
			return nil, err
		}
		counts, err := s.store.UnreadCounts(ctx, row.Conversation.ID, []int64{userID})
		if err != nil {
			return nil, err
		}
		data = append(data, DTO{Conversation: row.Conversation, Participants: participants, UnreadCount: counts[userID]})
	}
	return data, nil
}

// CreateOrGet1to1 refuses a==b, looks up the existing conversation for
// {a,b}, and otherwise creates one. Concurrent callers racing on the
// same pair are serialized with a Postgres advisory lock keyed by the
// unordered pair, then re-check before creating, so at most one
// conversation for {a,b} ever exists (§4.3, §5, testable property 7, S5).
func (s *Service) CreateOrGet1to1(ctx context.Context, a, b int64) (*types.Conversation, error) {
	if a == b {
		return nil, apperr.New(apperr.Validation, "cannot create a conversation with oneself")
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}

	existing, err := s.store.FindP2P(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	key := pairKey(lo, hi)
	created, err := s.store.CreateP2PSerialized(ctx, key, lo, hi)
	if err != nil {
		return nil, err
	}
	return created, nil
}

func pairKey(lo, hi int64) int64 {
	h := fnv.New64a()
	var buf [16]byte
	putInt64(buf[0:8], lo)
	putInt64(buf[8:16], hi)
	h.Write(buf[:])
	return int64(h.Sum64())
}

func putInt64(b []byte, v int64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func contains(xs []int64, x int64) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
