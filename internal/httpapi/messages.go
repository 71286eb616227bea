package httpapi

import (
	"net/http"

	"github.com/duoline/chatcore/internal/apperr"
)

// listMessages serves GET /v1/conversations/{conversationId}/messages,
// the inverted-feed cursor pagination of §4.7 / §6. Membership is
// checked the same way the Conversation Service checks it.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, err := pathInt64(r, "conversationId")
	if err != nil {
		writeError(w, err)
		return
	}
	caller := callerID(r.Context())
	if _, err := s.conv.Get(r.Context(), conversationID, caller); err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	page, err := s.msgs.Paginate(r.Context(), conversationID, q.Get("before"), parseLimit(q.Get("limit"), 50, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessagesPageResponse(page))
}

// searchMessages serves GET /v1/conversations/{conversationId}/search?q=,
// the case-insensitive substring contract of §4.2.
func (s *Server) searchMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, err := pathInt64(r, "conversationId")
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, apperr.New(apperr.Validation, "q is required"))
		return
	}

	results, err := s.msgs.Search(r.Context(), conversationID, callerID(r.Context()), q, parseLimit(r.URL.Query().Get("limit"), 20, 20))
	if err != nil {
		writeError(w, err)
		return
	}

	dtos := make([]messageDTO, len(results))
	for i, m := range results {
		dtos[i] = toMessageDTO(*m)
	}
	writeJSON(w, http.StatusOK, struct {
		Data []messageDTO `json:"data"`
	}{Data: dtos})
}
