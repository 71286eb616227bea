// Package presence is the Presence & Session Registry (C4): pure
// in-process bookkeeping of who is connected, who has which
// conversation open, and who is typing. None of it is authoritative —
// a process restart loses it safely, because the hub's onboarding path
// (§4.6 step 3) and persisted read state reconstruct everything that
// matters (§9).
package presence

import (
	"sync"
	"time"

	"github.com/tinode/snowflake"
)

// idgen mints process-unique, roughly time-sortable session ids. The
// teacher used this generator for distributed-safe object ids; here it
// only needs to be unique within one process for the lifetime of the
// 2-minute reconnection window described in §5.
var idgen, _ = snowflake.NewNode(1)

// NewSessionID returns a new opaque session identifier.
func NewSessionID() string {
	return idgen.Generate().String()
}

// Registry holds the three maps described in §3: user sessions,
// per-session joined conversations, and per-conversation viewers, plus
// the typing throttle. All mutations happen under a single short-held
// mutex; no call ever blocks on I/O while holding it (§5).
type Registry struct {
	mu sync.Mutex

	userSessions        map[int64]map[string]bool
	socketConversations map[string]map[int64]bool
	viewers             map[int64]map[int64]bool
	typingLast          map[typingKey]time.Time
}

type typingKey struct {
	conversationID int64
	userID         int64
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		userSessions:        make(map[int64]map[string]bool),
		socketConversations: make(map[string]map[int64]bool),
		viewers:             make(map[int64]map[int64]bool),
		typingLast:          make(map[typingKey]time.Time),
	}
}

// Attach registers a new session for userID. wasOffline reports whether
// this was the user's first live session.
func (r *Registry) Attach(userID int64, sessionID string) (wasOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.userSessions[userID]
	if !ok {
		sessions = make(map[string]bool)
		r.userSessions[userID] = sessions
	}
	wasOffline = len(sessions) == 0
	sessions[sessionID] = true
	r.socketConversations[sessionID] = make(map[int64]bool)
	return wasOffline
}

// Detach removes a session. wentOffline reports whether this was the
// user's last live session. affectedConversations lists every
// conversation this session had joined, for presence:left evaluation.
func (r *Registry) Detach(userID int64, sessionID string) (wentOffline bool, affectedConversations []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for convID := range r.socketConversations[sessionID] {
		affectedConversations = append(affectedConversations, convID)
	}

	// leaveLocked consults userSessions (via anySessionJoinedLocked) to
	// decide whether another live session still has each conversation
	// joined, so it must run once per affected conversation before the
	// session's own bookkeeping is torn down below.
	for _, convID := range affectedConversations {
		r.leaveLocked(userID, sessionID, convID)
	}
	delete(r.socketConversations, sessionID)

	sessions := r.userSessions[userID]
	delete(sessions, sessionID)
	wentOffline = len(sessions) == 0
	if wentOffline {
		delete(r.userSessions, userID)
	}

	return wentOffline, affectedConversations
}

// Join attaches sessionID to conversationID. firstJoin reports whether
// no other session of this user already had it joined (i.e. userID
// enters the viewer set for the first time).
func (r *Registry) Join(userID int64, sessionID string, conversationID int64) (firstJoin bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if convs, ok := r.socketConversations[sessionID]; ok {
		convs[conversationID] = true
	}

	viewers, ok := r.viewers[conversationID]
	if !ok {
		viewers = make(map[int64]bool)
		r.viewers[conversationID] = viewers
	}
	firstJoin = !viewers[userID]
	viewers[userID] = true
	return firstJoin
}

// Leave detaches sessionID from conversationID. lastLeave reports
// whether no other live session of this user still has it joined (i.e.
// userID leaves the viewer set).
func (r *Registry) Leave(userID int64, sessionID string, conversationID int64) (lastLeave bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(userID, sessionID, conversationID)
}

func (r *Registry) leaveLocked(userID int64, sessionID string, conversationID int64) (lastLeave bool) {
	if convs, ok := r.socketConversations[sessionID]; ok {
		delete(convs, conversationID)
	}
	delete(r.typingLast, typingKey{conversationID: conversationID, userID: userID})

	if !r.anySessionJoinedLocked(userID, conversationID, sessionID) {
		if viewers, ok := r.viewers[conversationID]; ok {
			delete(viewers, userID)
			lastLeave = true
		}
	}
	return lastLeave
}

// anySessionJoinedLocked reports whether any session of userID other
// than excludeSessionID still has conversationID joined. Caller holds mu.
func (r *Registry) anySessionJoinedLocked(userID int64, conversationID int64, excludeSessionID string) bool {
	for sid := range r.userSessions[userID] {
		if sid == excludeSessionID {
			continue
		}
		if r.socketConversations[sid][conversationID] {
			return true
		}
	}
	return false
}

// Viewers returns the current viewer set for a conversation.
func (r *Registry) Viewers(conversationID int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	viewers := r.viewers[conversationID]
	out := make([]int64, 0, len(viewers))
	for uid := range viewers {
		out = append(out, uid)
	}
	return out
}

// IsViewer reports whether userID is currently an active viewer of
// conversationID (§8.5).
func (r *Registry) IsViewer(conversationID, userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewers[conversationID][userID]
}

// IsOnline reports whether userID has any live session.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.userSessions[userID]) > 0
}

// LiveSessionCount returns the total number of attached sessions, used
// to feed the live-sessions gauge.
func (r *Registry) LiveSessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.userSessions {
		n += len(s)
	}
	return n
}

// ThrottleTyping returns whether a typing.start emission for (conversationID,
// userID) should pass, given the last emission was at least windowMillis
// ago (§4.4, §5, §8.8). Updates last-emit time atomically with the check.
func (r *Registry) ThrottleTyping(conversationID, userID int64, windowMillis int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := typingKey{conversationID: conversationID, userID: userID}
	now := time.Now()
	if last, ok := r.typingLast[key]; ok {
		if now.Sub(last) < time.Duration(windowMillis)*time.Millisecond {
			return false
		}
	}
	r.typingLast[key] = now
	return true
}
