package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"medstudy/internal/session"
	"medstudy/internal/util"
	"medstudy/pkg/domain"
)

func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request, _ string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	err := s.store.SaveFeedback(domain.Feedback{
		ID:        util.NewID(),
		UserID:    sess.UserID,
		Text:      req.Text,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not save feedback")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "received"})
}

// handleClearSessionContent drops the loaded study content but keeps the
// user logged in.
func (s *Server) handleClearSessionContent(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	sess.ClearContent()
	s.saveSession(r, token, sess)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type feedbackRequest struct {
	Text string `json:"text"`
}
