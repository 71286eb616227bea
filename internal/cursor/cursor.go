// Package cursor implements the opaque pagination cursors described in
// §4.7 of the core spec: a bare message id for message pages, and an
// (updatedAt, id) pair for conversation pages.
package cursor

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Message cursors are just the decimal message id. "before" means
// strictly older than this id.

// EncodeMessage renders a message cursor.
func EncodeMessage(id int64) string {
	return strconv.FormatInt(id, 10)
}

// DecodeMessage parses a message cursor. Returns ok=false for an empty
// or malformed cursor so callers can treat it as "no cursor".
func DecodeMessage(s string) (id int64, ok bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Conversation cursors encode (updatedAt, id) as
// urlencode(updatedAtIso) + "_" + id, preserving the ordering predicate
// (updatedAt, id) < cursor for backward paging and > for forward.
type Conversation struct {
	UpdatedAt time.Time
	ID        int64
}

// EncodeConversation renders a conversation cursor.
func EncodeConversation(c Conversation) string {
	return fmt.Sprintf("%s_%d", url.QueryEscape(c.UpdatedAt.UTC().Format(time.RFC3339Nano)), c.ID)
}

// DecodeConversation parses a conversation cursor.
func DecodeConversation(s string) (Conversation, bool) {
	if s == "" {
		return Conversation{}, false
	}
	idx := strings.LastIndex(s, "_")
	if idx < 0 {
		return Conversation{}, false
	}
	rawTs, rawID := s[:idx], s[idx+1:]

	ts, err := url.QueryUnescape(rawTs)
	if err != nil {
		return Conversation{}, false
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Conversation{}, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Conversation{}, false
	}
	return Conversation{UpdatedAt: updatedAt, ID: id}, true
}
