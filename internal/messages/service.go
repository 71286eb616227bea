// Package messages implements the Message Service (C2): validated
// send/delete, newest-first pagination, and the per-recipient
// sent->delivered->read state machine.
package messages

import (
	"context"
	"strings"

	"golang.org/x/text/cases"

	"github.com/duoline/chatcore/internal/apperr"
	"github.com/duoline/chatcore/internal/cursor"
	"github.com/duoline/chatcore/internal/metrics"
	"github.com/duoline/chatcore/internal/store"
	"github.com/duoline/chatcore/internal/types"
)

// Service implements C2 over a persistence Gateway.
type Service struct {
	store *store.Gateway
}

// New builds a Service.
func New(gw *store.Gateway) *Service {
	return &Service{store: gw}
}

// SendInput is the validated payload for Send.
type SendInput struct {
	Type          types.MessageType
	Content       string
	MediaURL      string
	MediaMimeType string
	MediaDuration int
	Waveform      []int32
	ReplyToID     *int64
}

// DTO is a message as returned to a caller: the row plus its sender,
// optional reply target, and freshly loaded read rows.
type DTO struct {
	Message   types.Message
	Sender    *types.User
	ReplyTo   *types.Message
	ReadRows  []*types.MessageRead
}

func validate(in SendInput) error {
	switch in.Type {
	case types.MessageText:
		if strings.TrimSpace(in.Content) == "" {
			return apperr.New(apperr.Validation, "text message requires non-empty content")
		}
	case types.MessageImage, types.MessageAudio:
		if strings.TrimSpace(in.MediaURL) == "" {
			return apperr.New(apperr.Validation, "media message requires a mediaUrl")
		}
	default:
		return apperr.New(apperr.Validation, "unknown message type")
	}
	return nil
}

// Send validates the payload, verifies senderID is a conversation
// participant, and atomically creates the message plus one `sent`
// MessageRead per other participant (§4.2, §8.1).
func (s *Service) Send(ctx context.Context, conversationID, senderID int64, in SendInput) (*DTO, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	isParticipant, err := s.store.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, apperr.New(apperr.Forbidden, "sender is not a participant")
	}

	if in.ReplyToID != nil {
		if _, err := s.store.GetMessage(ctx, *in.ReplyToID); err != nil {
			return nil, err
		}
	}

	participants, err := s.store.Participants(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msg, reads, err := s.store.CreateMessageAndReads(ctx, store.CreateMessageInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           in.Type,
		Content:        in.Content,
		MediaURL:       in.MediaURL,
		MediaMimeType:  in.MediaMimeType,
		MediaDuration:  in.MediaDuration,
		Waveform:       in.Waveform,
		ReplyToID:      in.ReplyToID,
	}, participants)
	if err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()

	return s.hydrate(ctx, msg, reads)
}

func (s *Service) hydrate(ctx context.Context, msg *types.Message, reads []*types.MessageRead) (*DTO, error) {
	sender, err := s.store.GetUser(ctx, msg.SenderID)
	if err != nil {
		return nil, err
	}

	dto := &DTO{Message: *msg, Sender: sender, ReadRows: reads}

	if msg.ReplyToID != nil {
		replyTo, err := s.store.GetMessage(ctx, *msg.ReplyToID)
		if err == nil {
			dto.ReplyTo = replyTo
		} else if apperr.KindOf(err) != apperr.NotFound {
			return nil, err
		}
		// NotFound is tolerated: the parent may have been hard-removed (which
		// nulls reply_to_id) after msg was loaded; soft-delete always resolves.
	}

	return dto, nil
}

// Delete soft-deletes a message the caller owns (§4.2, S3).
func (s *Service) Delete(ctx context.Context, messageID, callerID int64) (*types.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != callerID {
		return nil, apperr.New(apperr.Forbidden, "only the sender may delete a message")
	}
	return s.store.SoftDelete(ctx, messageID)
}

// Page is one page of a message pagination result (§4.7).
type Page struct {
	Data           []store.MessagePage
	HasPrevious    bool
	PreviousCursor string
}

// Paginate returns a newest-first page of messages for a conversation.
func (s *Service) Paginate(ctx context.Context, conversationID int64, before string, limit int) (*Page, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var beforeID *int64
	if before != "" {
		id, ok := cursor.DecodeMessage(before)
		if !ok {
			return nil, apperr.New(apperr.Validation, "malformed cursor")
		}
		beforeID = &id
	}

	pages, hasPrevious, err := s.store.FetchMessagesBefore(ctx, conversationID, beforeID, limit)
	if err != nil {
		return nil, err
	}

	page := &Page{Data: pages, HasPrevious: hasPrevious}
	if hasPrevious && len(pages) > 0 {
		page.PreviousCursor = cursor.EncodeMessage(pages[len(pages)-1].Message.ID)
	}
	return page, nil
}

// MarkRead transitions the given messages to `read` for userID,
// idempotently (§4.2).
func (s *Service) MarkRead(ctx context.Context, messageIDs []int64, userID int64) ([]*types.MessageRead, error) {
	rows, err := s.store.TransitionReads(ctx, messageIDs, userID, types.StatusRead)
	if err != nil {
		return nil, err
	}
	metrics.ReadTransitions.WithLabelValues(string(types.StatusRead)).Add(float64(len(rows)))
	return rows, nil
}

// MarkDelivered transitions the given messages to `delivered` for
// userID, refusing to regress from `read` (§4.2).
func (s *Service) MarkDelivered(ctx context.Context, messageIDs []int64, userID int64) ([]*types.MessageRead, error) {
	rows, err := s.store.TransitionReads(ctx, messageIDs, userID, types.StatusDelivered)
	if err != nil {
		return nil, err
	}
	metrics.ReadTransitions.WithLabelValues(string(types.StatusDelivered)).Add(float64(len(rows)))
	return rows, nil
}

// UndeliveredFor returns the ids of the messages a user needs replayed
// as delivered, grouped by conversation id (§4.6 step 3, S4).
func (s *Service) UndeliveredFor(ctx context.Context, userID int64) (map[int64][]int64, error) {
	rows, err := s.store.UndeliveredFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	byConv := make(map[int64][]int64)
	for _, r := range rows {
		byConv[r.ConversationID] = append(byConv[r.ConversationID], r.MessageID)
	}
	return byConv, nil
}

var caseFolder = cases.Fold()

// Search does a Unicode-aware case-insensitive substring search over
// non-deleted messages in a conversation, after verifying callerID is a
// participant (§4.2).
func (s *Service) Search(ctx context.Context, conversationID, callerID int64, query string, limit int) ([]*types.Message, error) {
	if limit <= 0 || limit > 20 {
		limit = 20
	}
	isParticipant, err := s.store.IsParticipant(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, apperr.New(apperr.Forbidden, "caller is not a participant")
	}

	// Fold both sides through the same Unicode case-folding table so that,
	// e.g., German "straße"/"STRASSE" match the way a naive SQL ILIKE would not.
	folded := caseFolder.String(strings.TrimSpace(query))
	return s.store.Search(ctx, conversationID, folded, limit)
}
