package hub

import "encoding/json"

// ClientCommand is the envelope for every inbound client message. Exactly
// one of the payload fields is set; which one selects the command, the
// same way the teacher's ClientComMessage dispatches on whichever of
// Pub/Sub/Leave/... is non-nil.
type ClientCommand struct {
	ID string `json:"id,omitempty"`

	MessageSend      *messageSendPayload      `json:"message.send,omitempty"`
	MessageRead      *messageReadPayload      `json:"message.read,omitempty"`
	MessageDelivered *messageDeliveredPayload `json:"message.delivered,omitempty"`
	MessageDelete    *messageDeletePayload    `json:"message.delete,omitempty"`
	ConversationJoin *conversationJoinPayload `json:"conversation.join,omitempty"`
	ConversationLeave *conversationLeavePayload `json:"conversation.leave,omitempty"`
	TypingStart      *typingPayload           `json:"typing.start,omitempty"`
	TypingStop       *typingPayload           `json:"typing.stop,omitempty"`
	PresencePing     *presencePingPayload     `json:"presence.ping,omitempty"`
}

type presencePingPayload struct{}

type messageSendPayload struct {
	ConversationID int64    `json:"conversationId"`
	Type           string   `json:"type"`
	Content        string   `json:"content"`
	MediaURL       string   `json:"mediaUrl"`
	MediaMimeType  string   `json:"mediaMimeType"`
	MediaDuration  int      `json:"mediaDuration"`
	Waveform       []int32  `json:"waveform"`
	ReplyToID      *int64   `json:"replyToId"`
}

type messageReadPayload struct {
	ConversationID int64   `json:"conversationId"`
	MessageIDs     []int64 `json:"messageIds"`
	MessageID      int64   `json:"messageId"`
}

func (p *messageReadPayload) ids() []int64 {
	if len(p.MessageIDs) > 0 {
		return p.MessageIDs
	}
	if p.MessageID != 0 {
		return []int64{p.MessageID}
	}
	return nil
}

type messageDeliveredPayload struct {
	MessageID int64 `json:"messageId"`
}

type messageDeletePayload struct {
	ConversationID int64 `json:"conversationId"`
	MessageID      int64 `json:"messageId"`
}

type conversationJoinPayload struct {
	ConversationID int64 `json:"conversationId"`
}

type conversationLeavePayload struct {
	ConversationID int64 `json:"conversationId"`
}

type typingPayload struct {
	ConversationID int64 `json:"conversationId"`
}

// ServerEvent is the envelope for every outbound event, keyed by the wire
// names in §4.6: message:unified, status:unified, message:deleted,
// presence:joined/left, user:status, typing:start/stop, error.
type ServerEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","data":{"message":"internal encoding failure"}}`)
	}
	return b
}

type presenceEvent struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
}

type userStatusEvent struct {
	UserID int64  `json:"userId"`
	Status string `json:"status"`
}

type typingEvent struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
}

type errorEvent struct {
	ID      string `json:"id,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
