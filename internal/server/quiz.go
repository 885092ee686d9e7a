package server

import (
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"strings"

	"medstudy/internal/session"
	"medstudy/pkg/ai"
	"medstudy/pkg/domain"
)

func (s *Server) handleGetQuiz(w http.ResponseWriter, r *http.Request, _ string, sess session.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"questions": sess.QuizQuestions,
		"answers":   sess.QuizAnswers,
		"quizMode":  sess.QuizMode,
	})
}

// handleGetOtherQuiz switches the session to the paired framing of the loaded
// material: the active and other content hashes swap, and the quiz state is
// reset. If a set already exists under the paired hash its stored summary and
// title come along; otherwise the session keeps the current material and the
// next initial generation creates the set.
func (s *Server) handleGetOtherQuiz(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if sess.ContentHash == "" || sess.OtherContentHash == "" {
		writeError(w, http.StatusBadRequest, "no study set loaded")
		return
	}
	sess.ContentHash, sess.OtherContentHash = sess.OtherContentHash, sess.ContentHash
	sess.QuizQuestions = nil
	sess.QuizAnswers = nil

	set, found, err := s.store.GetQuestionSet(sess.ContentHash, sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load study set")
		return
	}
	if found {
		sess.Summary = set.Summary
		sess.ShortTitle = set.ShortTitle
		sess.ContentNames = set.ContentNames
		sess.QuizMode = set.QuizMode
	} else {
		sess.QuizMode = !sess.QuizMode
	}
	s.saveSession(r, token, sess)

	writeJSON(w, http.StatusOK, map[string]any{
		"questions":        []domain.Question{},
		"contentHash":      sess.ContentHash,
		"otherContentHash": sess.OtherContentHash,
		"quizMode":         sess.QuizMode,
		"exists":           found,
	})
}

// handleSaveQuizAnswers records the user's selections, keyed by question
// display ID. Unknown IDs are rejected rather than silently stored.
func (s *Server) handleSaveQuizAnswers(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req saveAnswersRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Answers) == 0 {
		writeError(w, http.StatusBadRequest, "answers is required")
		return
	}
	known := make(map[string]int, len(sess.QuizQuestions))
	for _, q := range sess.QuizQuestions {
		known[q.ID] = len(q.Options)
	}
	for questionID, selected := range req.Answers {
		optionCount, ok := known[questionID]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown question id")
			return
		}
		if selected < 0 || selected >= optionCount {
			writeError(w, http.StatusBadRequest, "answer index out of range")
			return
		}
	}
	if sess.QuizAnswers == nil {
		sess.QuizAnswers = make(map[string]int, len(req.Answers))
	}
	for questionID, selected := range req.Answers {
		sess.QuizAnswers[questionID] = selected
	}
	s.saveSession(r, token, sess)
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// handleShuffleQuiz reorders the current quiz and re-randomizes each
// question's answer choices. Saved answers are reset since the option
// indices no longer line up.
func (s *Server) handleShuffleQuiz(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if len(sess.QuizQuestions) == 0 {
		writeError(w, http.StatusBadRequest, "no quiz loaded")
		return
	}
	rand.Shuffle(len(sess.QuizQuestions), func(i, j int) {
		sess.QuizQuestions[i], sess.QuizQuestions[j] = sess.QuizQuestions[j], sess.QuizQuestions[i]
	})
	for i := range sess.QuizQuestions {
		ai.RandomizeAnswerChoices(&sess.QuizQuestions[i])
	}
	sess.QuizAnswers = nil
	s.saveSession(r, token, sess)
	writeJSON(w, http.StatusOK, map[string]any{"questions": sess.QuizQuestions})
}

// handleStartStarredQuiz loads only the starred questions of the current set
// as the active quiz.
func (s *Server) handleStartStarredQuiz(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if sess.ContentHash == "" {
		writeError(w, http.StatusBadRequest, "no study set loaded")
		return
	}
	set, found, err := s.store.GetQuestionSet(sess.ContentHash, sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load study set")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "study set not found")
		return
	}
	starred, err := s.starredQuestions(set)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load questions")
		return
	}
	if len(starred) == 0 {
		writeError(w, http.StatusBadRequest, "no starred questions in this set")
		return
	}
	for i := range starred {
		ai.RandomizeAnswerChoices(&starred[i])
	}
	sess.QuizQuestions = starred
	sess.QuizAnswers = nil
	s.saveSession(r, token, sess)
	writeJSON(w, http.StatusOK, map[string]any{"questions": starred})
}

func (s *Server) handleToggleStarQuestion(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req toggleStarRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.QuestionHash) == "" {
		writeError(w, http.StatusBadRequest, "questionHash is required")
		return
	}
	if err := s.store.SetQuestionStarred(req.QuestionHash, req.Starred); err != nil {
		writeError(w, http.StatusInternalServerError, "could not update question")
		return
	}
	for i := range sess.QuizQuestions {
		if sess.QuizQuestions[i].Hash == req.QuestionHash {
			sess.QuizQuestions[i].Starred = req.Starred
		}
	}
	s.saveSession(r, token, sess)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleStarAllQuestions(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if sess.ContentHash == "" {
		writeError(w, http.StatusBadRequest, "no study set loaded")
		return
	}
	var req starAllRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	set, found, err := s.store.GetQuestionSet(sess.ContentHash, sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load study set")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "study set not found")
		return
	}
	if err := s.store.StarQuestionsByHashes(set.QuestionHashes, !req.Unstar); err != nil {
		writeError(w, http.StatusInternalServerError, "could not update questions")
		return
	}
	for i := range sess.QuizQuestions {
		sess.QuizQuestions[i].Starred = !req.Unstar
	}
	s.saveSession(r, token, sess)
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(set.QuestionHashes)})
}

type saveAnswersRequest struct {
	Answers map[string]int `json:"answers"`
}

type toggleStarRequest struct {
	QuestionHash string `json:"questionHash"`
	Starred      bool   `json:"starred"`
}

type starAllRequest struct {
	Unstar bool `json:"unstar"`
}
