package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/duoline/chatcore/internal/apperr"
)

// listConversations serves GET /v1/conversations?limit&before&after —
// the bidirectional conversation cursor surface of §6.
func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), 50, 50)

	page, err := s.conv.ListPage(r.Context(), callerID(r.Context()), q.Get("before"), q.Get("after"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationsPageResponse(page))
}

// getConversation serves GET /v1/conversations/{conversationId}.
func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "conversationId")
	if err != nil {
		writeError(w, err)
		return
	}
	dto, err := s.conv.Get(r.Context(), id, callerID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationDTO(*dto))
}

type createConversationRequest struct {
	OtherUserID int64 `json:"otherUserId"`
}

// createOrGetConversation serves POST /v1/conversations, the idempotent
// 1:1 creation path of §4.3.
func (s *Server) createOrGetConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.Validation, "malformed request body"))
		return
	}

	conv, err := s.conv.CreateOrGet1to1(r.Context(), callerID(r.Context()), req.OtherUserID)
	if err != nil {
		writeError(w, err)
		return
	}

	dto, err := s.conv.Get(r.Context(), conv.ID, callerID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationDTO(*dto))
}

func pathInt64(r *http.Request, key string) (int64, error) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.New(apperr.Validation, key+" must be an integer")
	}
	return id, nil
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
