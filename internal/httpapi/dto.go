package httpapi

import (
	"time"

	"github.com/duoline/chatcore/internal/conversations"
	"github.com/duoline/chatcore/internal/messages"
	"github.com/duoline/chatcore/internal/store"
	"github.com/duoline/chatcore/internal/types"
)

// messageDTO is the wire shape of a message, matching the field names
// the hub's unified events already use (§6: "All IDs are integers",
// ISO-8601 timestamps).
type messageDTO struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversationId"`
	SenderID       int64      `json:"senderId"`
	Type           string     `json:"type"`
	Content        string     `json:"content,omitempty"`
	MediaURL       string     `json:"mediaUrl,omitempty"`
	MediaMimeType  string     `json:"mediaMimeType,omitempty"`
	MediaDuration  int        `json:"mediaDuration,omitempty"`
	Waveform       []int32    `json:"waveform,omitempty"`
	ReplyToID      *int64     `json:"replyToId,omitempty"`
	IsDeleted      bool       `json:"isDeleted"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func toMessageDTO(m types.Message) messageDTO {
	return messageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           string(m.Type),
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		MediaMimeType:  m.MediaMimeType,
		MediaDuration:  m.MediaDuration,
		Waveform:       m.Waveform,
		ReplyToID:      m.ReplyToID,
		IsDeleted:      m.IsDeleted,
		DeletedAt:      m.DeletedAt,
		CreatedAt:      m.CreatedAt,
	}
}

type readDTO struct {
	MessageID int64      `json:"messageId"`
	UserID    int64      `json:"userId"`
	Status    string     `json:"status"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

func toReadDTOs(reads []*types.MessageRead) []readDTO {
	out := make([]readDTO, len(reads))
	for i, r := range reads {
		out[i] = readDTO{MessageID: r.MessageID, UserID: r.UserID, Status: string(r.Status), ReadAt: r.ReadAt}
	}
	return out
}

type messagePageDTO struct {
	Message messageDTO `json:"message"`
	Reads   []readDTO  `json:"reads"`
}

func toMessagePageDTO(p store.MessagePage) messagePageDTO {
	return messagePageDTO{Message: toMessageDTO(p.Message), Reads: toReadDTOs(p.Reads)}
}

type messagesPageResponse struct {
	Data       []messagePageDTO `json:"data"`
	Pagination struct {
		HasPrevious    bool   `json:"hasPrevious"`
		PreviousCursor string `json:"previousCursor,omitempty"`
	} `json:"pagination"`
}

func toMessagesPageResponse(p *messages.Page) messagesPageResponse {
	var resp messagesPageResponse
	resp.Data = make([]messagePageDTO, len(p.Data))
	for i, row := range p.Data {
		resp.Data[i] = toMessagePageDTO(row)
	}
	resp.Pagination.HasPrevious = p.HasPrevious
	resp.Pagination.PreviousCursor = p.PreviousCursor
	return resp
}

type conversationDTO struct {
	ID            int64     `json:"id"`
	LastMessageID *int64    `json:"lastMessageId,omitempty"`
	Participants  []int64   `json:"participants"`
	UnreadCount   int       `json:"unreadCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toConversationDTO(d conversations.DTO) conversationDTO {
	return conversationDTO{
		ID:            d.Conversation.ID,
		LastMessageID: d.Conversation.LastMessageID,
		Participants:  d.Participants,
		UnreadCount:   d.UnreadCount,
		CreatedAt:     d.Conversation.CreatedAt,
		UpdatedAt:     d.Conversation.UpdatedAt,
	}
}

type conversationsPageResponse struct {
	Data       []conversationDTO `json:"data"`
	Pagination struct {
		HasNext        bool   `json:"hasNext"`
		HasPrevious    bool   `json:"hasPrevious"`
		NextCursor     string `json:"nextCursor,omitempty"`
		PreviousCursor string `json:"previousCursor,omitempty"`
	} `json:"pagination"`
}

func toConversationsPageResponse(p *conversations.BidiPage) conversationsPageResponse {
	var resp conversationsPageResponse
	resp.Data = make([]conversationDTO, len(p.Data))
	for i, d := range p.Data {
		resp.Data[i] = toConversationDTO(d)
	}
	resp.Pagination.HasNext = p.HasNext
	resp.Pagination.HasPrevious = p.HasPrevious
	resp.Pagination.NextCursor = p.NextCursor
	resp.Pagination.PreviousCursor = p.PreviousCursor
	return resp
}
