// Package hub is the Connection Multiplexer (C6): it authenticates
// websocket connections, dispatches inbound commands, and fans the
// resulting unified events out to conversation rooms and the global
// conversations room.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/duoline/chatcore/internal/apperr"
	"github.com/duoline/chatcore/internal/auth"
	"github.com/duoline/chatcore/internal/conversations"
	"github.com/duoline/chatcore/internal/events"
	"github.com/duoline/chatcore/internal/messages"
	"github.com/duoline/chatcore/internal/metrics"
	"github.com/duoline/chatcore/internal/presence"
	"github.com/duoline/chatcore/internal/store"
	"github.com/duoline/chatcore/internal/types"
)

const globalRoomKey = int64(0)

const (
	commandTimeout  = 5 * time.Second
	typingWindowMS  = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns every live session and every conversation room, and wires the
// services that implement the commands in §4.6.
type Hub struct {
	verifier *auth.Verifier
	store    *store.Gateway
	conv     *conversations.Service
	msgs     *messages.Service
	events   *events.Consolidator
	presence *presence.Registry
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	rooms    map[int64]map[string]*Session
}

// New builds a Hub from its collaborating services.
func New(
	verifier *auth.Verifier,
	gw *store.Gateway,
	conv *conversations.Service,
	msgs *messages.Service,
	ev *events.Consolidator,
	reg *presence.Registry,
	logger zerolog.Logger,
) *Hub {
	return &Hub{
		verifier: verifier,
		store:    gw,
		conv:     conv,
		msgs:     msgs,
		events:   ev,
		presence: reg,
		logger:   logger,
		sessions: make(map[string]*Session),
		rooms:    make(map[int64]map[string]*Session),
	}
}

// ServeWS upgrades an HTTP request to a websocket connection, authenticates
// it with the bearer token supplied in the "token" query parameter, and
// runs its lifecycle (§4.6 steps 1-5).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	userID, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := newSession(presence.NewSessionID(), userID, conn, h)
	h.register(sess)

	go sess.writePump()
	sess.readPump()
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.joinRoomLocked(globalRoomKey, s)
	h.mu.Unlock()

	h.presence.Attach(s.userID, s.id)
	metrics.LiveSessions.Set(float64(h.presence.LiveSessionCount()))

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	h.onboard(ctx, s)
	h.announceStatus(ctx, s.userID, "online")
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	for convID, members := range h.rooms {
		delete(members, s.id)
		if len(members) == 0 && convID != globalRoomKey {
			delete(h.rooms, convID)
		}
	}
	h.reportLiveRoomsLocked()
	h.mu.Unlock()

	wentOffline, affected := h.presence.Detach(s.userID, s.id)
	metrics.LiveSessions.Set(float64(h.presence.LiveSessionCount()))

	for _, convID := range affected {
		if !h.presence.IsViewer(convID, s.userID) {
			h.broadcastConversation(convID, "presence:left", presenceEvent{ConversationID: convID, UserID: s.userID})
		}
	}

	if wentOffline {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		h.announceStatus(ctx, s.userID, "offline")
	}

	close(s.stop)
}

// onboard replays the sent->delivered backlog for a newly attached
// session's user, one UnifiedStatus per conversation (§4.6 step 3).
func (h *Hub) onboard(ctx context.Context, s *Session) {
	byConv, err := h.msgs.UndeliveredFor(ctx, s.userID)
	if err != nil {
		h.logger.Error().Err(err).Int64("user", s.userID).Msg("onboarding: failed to load undelivered backlog")
		return
	}
	for convID, messageIDs := range byConv {
		reads, err := h.msgs.MarkDelivered(ctx, messageIDs, s.userID)
		if err != nil {
			h.logger.Error().Err(err).Int64("user", s.userID).Int64("conversation", convID).Msg("onboarding: mark delivered failed")
			continue
		}
		if len(reads) == 0 {
			continue
		}
		participants, err := h.store.Participants(ctx, convID)
		if err != nil {
			continue
		}
		status, err := h.events.Status(ctx, convID, reads, participants)
		if err != nil {
			continue
		}
		h.broadcastConversation(convID, "status:unified", status)
	}
}

// announceStatus persists userID's presence and fans UserStatus into
// every conversation the user participates in, plus the global room
// (§4.6 step 4, presence.ping).
func (h *Hub) announceStatus(ctx context.Context, userID int64, status string) {
	now := time.Now().UTC()
	if err := h.store.SetStatus(ctx, userID, status, now); err != nil {
		h.logger.Error().Err(err).Int64("user", userID).Msg("failed to persist presence status")
	}

	evt := userStatusEvent{UserID: userID, Status: status}
	convIDs, err := h.store.ConversationIDsFor(ctx, userID)
	if err != nil {
		h.logger.Error().Err(err).Int64("user", userID).Msg("failed to list conversations for presence announce")
		return
	}
	for _, convID := range convIDs {
		h.broadcastConversation(convID, "user:status", evt)
	}
	h.broadcastGlobal("user:status", evt)
}

func (h *Hub) joinRoomLocked(conversationID int64, s *Session) {
	members, ok := h.rooms[conversationID]
	if !ok {
		members = make(map[string]*Session)
		h.rooms[conversationID] = members
	}
	members[s.id] = s
	h.reportLiveRoomsLocked()
}

func (h *Hub) leaveRoomLocked(conversationID int64, s *Session) {
	if members, ok := h.rooms[conversationID]; ok {
		delete(members, s.id)
		if len(members) == 0 && conversationID != globalRoomKey {
			delete(h.rooms, conversationID)
		}
	}
	h.reportLiveRoomsLocked()
}

// reportLiveRoomsLocked updates the live_rooms gauge. Caller holds mu.
// The global room isn't a conversation room, so it's excluded from the count.
func (h *Hub) reportLiveRoomsLocked() {
	n := len(h.rooms)
	if _, ok := h.rooms[globalRoomKey]; ok {
		n--
	}
	metrics.LiveRooms.Set(float64(n))
}

func (h *Hub) broadcastConversation(conversationID int64, evtType string, data any) {
	h.broadcastRoom(conversationID, evtType, data, "")
	h.broadcastRoom(globalRoomKey, evtType, data, "")
}

func (h *Hub) broadcastRoom(conversationID int64, evtType string, data any, excludeSessionID string) {
	h.mu.Lock()
	members := make([]*Session, 0, len(h.rooms[conversationID]))
	for id, s := range h.rooms[conversationID] {
		if id == excludeSessionID {
			continue
		}
		members = append(members, s)
	}
	h.mu.Unlock()

	evt := ServerEvent{Type: evtType, Data: data}
	for _, s := range members {
		s.queueOut(evt)
	}
}

func (h *Hub) broadcastGlobal(evtType string, data any) {
	h.broadcastRoom(globalRoomKey, evtType, data, "")
}

// dispatch parses an inbound frame and routes it to the matching command
// handler. Unknown or malformed commands produce a typed error event
// addressed only to the originating session (§6).
func (h *Hub) dispatch(s *Session, raw []byte) {
	var cmd ClientCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.queueOut(errorAsEvent("", apperr.New(apperr.Validation, "malformed command")))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch {
	case cmd.MessageSend != nil:
		err = h.handleMessageSend(ctx, s, cmd.MessageSend)
	case cmd.MessageRead != nil:
		err = h.handleMessageRead(ctx, s, cmd.MessageRead)
	case cmd.MessageDelivered != nil:
		err = h.handleMessageDelivered(ctx, s, cmd.MessageDelivered)
	case cmd.MessageDelete != nil:
		err = h.handleMessageDelete(ctx, s, cmd.MessageDelete)
	case cmd.ConversationJoin != nil:
		err = h.handleConversationJoin(ctx, s, cmd.ConversationJoin)
	case cmd.ConversationLeave != nil:
		err = h.handleConversationLeave(ctx, s, cmd.ConversationLeave)
	case cmd.TypingStart != nil:
		err = h.handleTypingStart(s, cmd.TypingStart)
	case cmd.TypingStop != nil:
		err = h.handleTypingStop(s, cmd.TypingStop)
	case cmd.PresencePing != nil:
		h.announceStatus(ctx, s.userID, "online")
	default:
		err = apperr.New(apperr.Validation, "unknown command")
	}

	if err != nil {
		s.queueOut(errorAsEvent(cmd.ID, err))
	}
}

func (h *Hub) handleMessageSend(ctx context.Context, s *Session, p *messageSendPayload) error {
	dto, err := h.msgs.Send(ctx, p.ConversationID, s.userID, messages.SendInput{
		Type:          types.MessageType(p.Type),
		Content:       p.Content,
		MediaURL:      p.MediaURL,
		MediaMimeType: p.MediaMimeType,
		MediaDuration: p.MediaDuration,
		Waveform:      p.Waveform,
		ReplyToID:     p.ReplyToID,
	})
	if err != nil {
		return err
	}

	participants, err := h.store.Participants(ctx, p.ConversationID)
	if err != nil {
		return err
	}

	for _, uid := range participants {
		if uid == s.userID {
			continue
		}
		if h.presence.IsViewer(p.ConversationID, uid) {
			if _, err := h.msgs.MarkRead(ctx, []int64{dto.Message.ID}, uid); err != nil {
				h.logger.Error().Err(err).Msg("message.send: mark read for active viewer failed")
			}
		} else if h.presence.IsOnline(uid) {
			if _, err := h.msgs.MarkDelivered(ctx, []int64{dto.Message.ID}, uid); err != nil {
				h.logger.Error().Err(err).Msg("message.send: mark delivered for online recipient failed")
			}
		}
	}

	unified, err := h.events.Message(ctx, &dto.Message, participants)
	if err != nil {
		return err
	}
	h.broadcastConversation(p.ConversationID, "message:unified", unified)
	return nil
}

func (h *Hub) handleMessageRead(ctx context.Context, s *Session, p *messageReadPayload) error {
	ids := p.ids()
	if len(ids) == 0 {
		return apperr.New(apperr.Validation, "message.read requires messageId(s)")
	}
	reads, err := h.msgs.MarkRead(ctx, ids, s.userID)
	if err != nil {
		return err
	}
	return h.emitStatus(ctx, p.ConversationID, reads)
}

func (h *Hub) handleMessageDelivered(ctx context.Context, s *Session, p *messageDeliveredPayload) error {
	msg, err := h.store.GetMessage(ctx, p.MessageID)
	if err != nil {
		return err
	}
	reads, err := h.msgs.MarkDelivered(ctx, []int64{p.MessageID}, s.userID)
	if err != nil {
		return err
	}
	return h.emitStatus(ctx, msg.ConversationID, reads)
}

func (h *Hub) emitStatus(ctx context.Context, conversationID int64, reads []*types.MessageRead) error {
	if len(reads) == 0 {
		return nil
	}
	participants, err := h.store.Participants(ctx, conversationID)
	if err != nil {
		return err
	}
	status, err := h.events.Status(ctx, conversationID, reads, participants)
	if err != nil {
		return err
	}
	h.broadcastConversation(conversationID, "status:unified", status)
	return nil
}

func (h *Hub) handleMessageDelete(ctx context.Context, s *Session, p *messageDeletePayload) error {
	if _, err := h.msgs.Delete(ctx, p.MessageID, s.userID); err != nil {
		return err
	}
	participants, err := h.store.Participants(ctx, p.ConversationID)
	if err != nil {
		return err
	}
	deletion, err := h.events.Deletion(ctx, p.ConversationID, p.MessageID, participants)
	if err != nil {
		return err
	}
	h.broadcastConversation(p.ConversationID, "message:deleted", deletion)
	return nil
}

func (h *Hub) handleConversationJoin(ctx context.Context, s *Session, p *conversationJoinPayload) error {
	isParticipant, err := h.store.IsParticipant(ctx, p.ConversationID, s.userID)
	if err != nil {
		return err
	}
	if !isParticipant {
		return apperr.New(apperr.Forbidden, "not a participant of this conversation")
	}

	h.mu.Lock()
	h.joinRoomLocked(p.ConversationID, s)
	h.mu.Unlock()

	firstJoin := h.presence.Join(s.userID, s.id, p.ConversationID)
	if firstJoin {
		unreadIDs, err := h.store.UnreadMessageIDs(ctx, p.ConversationID, s.userID)
		if err != nil {
			return err
		}
		if len(unreadIDs) > 0 {
			if err := h.emitMarkReadAndBroadcast(ctx, p.ConversationID, unreadIDs, s.userID); err != nil {
				return err
			}
		}
		h.broadcastConversation(p.ConversationID, "presence:joined", presenceEvent{ConversationID: p.ConversationID, UserID: s.userID})
	}
	return nil
}

func (h *Hub) emitMarkReadAndBroadcast(ctx context.Context, conversationID int64, messageIDs []int64, userID int64) error {
	reads, err := h.msgs.MarkRead(ctx, messageIDs, userID)
	if err != nil {
		return err
	}
	return h.emitStatus(ctx, conversationID, reads)
}

func (h *Hub) handleConversationLeave(ctx context.Context, s *Session, p *conversationLeavePayload) error {
	h.mu.Lock()
	h.leaveRoomLocked(p.ConversationID, s)
	h.mu.Unlock()

	lastLeave := h.presence.Leave(s.userID, s.id, p.ConversationID)
	if lastLeave {
		h.broadcastConversation(p.ConversationID, "presence:left", presenceEvent{ConversationID: p.ConversationID, UserID: s.userID})
	}
	return nil
}

func (h *Hub) handleTypingStart(s *Session, p *typingPayload) error {
	if !h.presence.ThrottleTyping(p.ConversationID, s.userID, typingWindowMS) {
		return nil
	}
	h.broadcastRoom(p.ConversationID, "typing:start", typingEvent{ConversationID: p.ConversationID, UserID: s.userID}, s.id)
	return nil
}

func (h *Hub) handleTypingStop(s *Session, p *typingPayload) error {
	h.broadcastRoom(p.ConversationID, "typing:stop", typingEvent{ConversationID: p.ConversationID, UserID: s.userID}, s.id)
	return nil
}

func errorAsEvent(id string, err error) ServerEvent {
	kind := apperr.KindOf(err)
	return ServerEvent{
		Type: "error",
		Data: errorEvent{ID: id, Kind: string(kind), Message: err.Error()},
	}
}
