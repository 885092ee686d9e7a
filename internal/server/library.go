package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"medstudy/internal/session"
)

func (s *Server) handleGetQuestionSets(w http.ResponseWriter, r *http.Request, _ string, sess session.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	sets, err := s.store.ListQuestionSets(sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list study sets")
		return
	}
	items := make([]questionSetSummary, 0, len(sets))
	for _, set := range sets {
		items = append(items, questionSetSummary{
			ContentHash:   set.ContentHash,
			ShortTitle:    set.ShortTitle,
			ContentNames:  set.ContentNames,
			QuestionCount: len(set.QuestionHashes),
			QuizMode:      set.QuizMode,
			UpdatedAt:     set.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// handleLoadStudySet loads a saved set into the session: summary, identity,
// and its questions become the active working state.
func (s *Server) handleLoadStudySet(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req contentHashRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ContentHash) == "" {
		writeError(w, http.StatusBadRequest, "contentHash is required")
		return
	}
	set, found, err := s.store.GetQuestionSet(req.ContentHash, sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load study set")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "study set not found")
		return
	}
	questions, err := s.store.GetQuestionsByHashes(set.QuestionHashes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load questions")
		return
	}
	if err := s.store.TouchQuestionSet(req.ContentHash, sess.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "could not update study set")
		return
	}

	sess.ClearContent()
	sess.Summary = set.Summary
	sess.ShortTitle = set.ShortTitle
	sess.ContentHash = set.ContentHash
	sess.OtherContentHash = set.OtherContentHash
	sess.ContentNames = set.ContentNames
	sess.QuizQuestions = questions
	sess.QuizMode = set.QuizMode
	s.saveSession(r, token, sess)

	writeJSON(w, http.StatusOK, map[string]any{
		"contentHash": set.ContentHash,
		"shortTitle":  set.ShortTitle,
		"summary":     set.Summary,
		"questions":   questions,
		"quizMode":    set.QuizMode,
	})
}

func (s *Server) handleUpdateSetTitle(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req updateTitleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.ContentHash == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "contentHash and title are required")
		return
	}
	if err := s.store.UpdateQuestionSetTitle(req.ContentHash, sess.UserID, req.Title); err != nil {
		writeError(w, http.StatusNotFound, "study set not found")
		return
	}
	if sess.ContentHash == req.ContentHash {
		sess.ShortTitle = req.Title
		s.saveSession(r, token, sess)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteQuestions(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req deleteQuestionsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ContentHash == "" || len(req.QuestionHashes) == 0 {
		writeError(w, http.StatusBadRequest, "contentHash and questionHashes are required")
		return
	}
	if err := s.store.DeleteQuestionsFromSet(req.ContentHash, sess.UserID, req.QuestionHashes); err != nil {
		writeError(w, http.StatusInternalServerError, "could not delete questions")
		return
	}
	if sess.ContentHash == req.ContentHash && len(sess.QuizQuestions) > 0 {
		removed := make(map[string]bool, len(req.QuestionHashes))
		for _, h := range req.QuestionHashes {
			removed[h] = true
		}
		kept := sess.QuizQuestions[:0]
		for _, q := range sess.QuizQuestions {
			if !removed[q.Hash] {
				kept = append(kept, q)
			}
		}
		sess.QuizQuestions = kept
		s.saveSession(r, token, sess)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDeleteQuestionSet(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req contentHashRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ContentHash) == "" {
		writeError(w, http.StatusBadRequest, "contentHash is required")
		return
	}
	if err := s.store.DeleteQuestionSet(req.ContentHash, sess.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "could not delete study set")
		return
	}
	if sess.ContentHash == req.ContentHash {
		sess.ClearContent()
		s.saveSession(r, token, sess)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type questionSetSummary struct {
	ContentHash   string    `json:"contentHash"`
	ShortTitle    string    `json:"shortTitle"`
	ContentNames  []string  `json:"contentNames,omitempty"`
	QuestionCount int       `json:"questionCount"`
	QuizMode      bool      `json:"quizMode"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type contentHashRequest struct {
	ContentHash string `json:"contentHash"`
}

type updateTitleRequest struct {
	ContentHash string `json:"contentHash"`
	Title       string `json:"title"`
}

type deleteQuestionsRequest struct {
	ContentHash    string   `json:"contentHash"`
	QuestionHashes []string `json:"questionHashes"`
}
