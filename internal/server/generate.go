package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"medstudy/internal/session"
	"medstudy/pkg/domain"
	"medstudy/pkg/hashing"
	"medstudy/pkg/store"
)

// handleGenerateSummary folds the selected files (plus optional pasted text)
// into a content-set identity, generates a study-guide summary, creates the
// question set, and loads everything into the session.
func (s *Server) handleGenerateSummary(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req generateSummaryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.ExtraText = strings.TrimSpace(req.ExtraText)
	if len(req.FileHashes) == 0 && req.ExtraText == "" {
		writeError(w, http.StatusBadRequest, "fileHashes or extraText is required")
		return
	}

	texts, err := s.store.GetFileTexts(req.FileHashes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load file texts")
		return
	}

	var items []hashing.SetItem
	var parts []string
	var names []string
	title := ""
	for _, fileHash := range req.FileHashes {
		text, ok := texts[fileHash]
		if !ok || strings.TrimSpace(text) == "" {
			writeError(w, http.StatusConflict, "a selected file has not finished processing")
			return
		}
		items = append(items, hashing.TextItem(text))
		parts = append(parts, text)
		record, found, err := s.store.GetFile(fileHash)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not load file record")
			return
		}
		if found {
			names = append(names, record.Filename)
			if title == "" && record.ShortTitle != "" {
				title = record.ShortTitle
			}
		}
	}
	if req.ExtraText != "" {
		items = append(items, hashing.TextItem(req.ExtraText))
		parts = append(parts, req.ExtraText)
		names = append(names, "pasted text")
	}
	if title == "" {
		title = domain.UntitledTitle
	}

	// The requested mode picks which of the paired identities is active;
	// the opposite mode's hash rides along so the client can switch framings
	// without resubmitting the material.
	contentHash := hashing.ContentSetHash(items, sess.UserID, req.QuizMode)
	otherContentHash := hashing.ContentSetHash(items, sess.UserID, !req.QuizMode)
	fullText := strings.Join(parts, "\n\n")

	// Re-generating for an already-known set must not clobber a title the
	// user renamed or an earlier generation produced.
	if title == domain.UntitledTitle {
		if existing, found, err := s.store.GetQuestionSet(contentHash, sess.UserID); err == nil && found && existing.ShortTitle != "" {
			title = existing.ShortTitle
		}
	}

	summary, err := s.summarizer.Summarize(r.Context(), fullText)
	if err != nil {
		writeError(w, http.StatusBadGateway, "summary generation failed")
		return
	}

	outcome, err := s.store.UpsertQuestionSet(store.UpsertQuestionSetParams{
		ContentHash:      contentHash,
		OtherContentHash: otherContentHash,
		UserID:           sess.UserID,
		ContentNames:     names,
		FullText:         fullText,
		ShortTitle:       title,
		Summary:          summary,
		QuizMode:         req.QuizMode,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not save study set")
		return
	}
	// A brand-new set that only got the fallback title (pasted text, or files
	// whose extraction never produced one) is named from its summary. Failure
	// here is non-fatal; the set stays renameable.
	if outcome == store.OutcomeInserted && title == domain.UntitledTitle && s.titler != nil {
		generated, terr := s.titler(r.Context(), summary)
		switch {
		case terr != nil:
			slog.Warn("set title generation failed", "error", terr)
		case generated != "" && generated != title:
			if uerr := s.store.UpdateQuestionSetTitle(contentHash, sess.UserID, generated); uerr != nil {
				slog.Warn("set title update failed", "error", uerr)
			} else {
				title = generated
			}
		}
	}

	sess.ClearContent()
	sess.Summary = summary
	sess.ShortTitle = title
	sess.ContentHash = contentHash
	sess.OtherContentHash = otherContentHash
	sess.ContentNames = names
	sess.QuizMode = req.QuizMode
	s.saveSession(r, token, sess)

	writeJSON(w, http.StatusOK, map[string]any{
		"summary":          summary,
		"shortTitle":       title,
		"contentHash":      contentHash,
		"otherContentHash": otherContentHash,
	})
}

// handleGenerateQuiz generates a question batch for the loaded study set. A
// per-user lock rejects a second generation while one is still running.
func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if sess.ContentHash == "" {
		writeError(w, http.StatusBadRequest, "no study set loaded")
		return
	}
	var req generateQuizRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// An initial generation in the opposite framing targets the paired
	// identity, so the same material keeps one question set per mode.
	if req.Initial && req.QuizMode != sess.QuizMode && sess.OtherContentHash != "" {
		sess.ContentHash, sess.OtherContentHash = sess.OtherContentHash, sess.ContentHash
	}

	acquired, err := s.lock.Acquire(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not start generation")
		return
	}
	if !acquired {
		writeError(w, http.StatusConflict, "quiz generation already in progress")
		return
	}
	defer func() { _ = s.lock.Release(r.Context(), sess.UserID) }()

	if req.Initial {
		exists, questionCount, err := s.store.QuestionSetExists(sess.ContentHash, sess.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not load study set")
			return
		}
		if exists && questionCount > 0 {
			writeError(w, http.StatusConflict, "this study set already has questions")
			return
		}
	}

	set, found, err := s.store.GetQuestionSet(sess.ContentHash, sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load study set")
		return
	}
	if !found {
		// First generation under this framing: seed the new set from its
		// paired counterpart, which holds the source material.
		paired, pairedFound, perr := s.store.GetQuestionSet(sess.OtherContentHash, sess.UserID)
		if perr != nil {
			writeError(w, http.StatusInternalServerError, "could not load study set")
			return
		}
		if !pairedFound {
			writeError(w, http.StatusNotFound, "study set not found")
			return
		}
		set = paired
		set.ContentHash, set.OtherContentHash = sess.ContentHash, sess.OtherContentHash
		set.QuestionHashes = nil
	}

	var questions []domain.Question
	if req.FocusStarred {
		seeds, err := s.starredQuestions(set)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not load questions")
			return
		}
		if len(seeds) == 0 {
			writeError(w, http.StatusBadRequest, "no starred questions to focus on")
			return
		}
		questions, err = s.quiz.GenerateFocusedQuestions(r.Context(), seeds, sess.UserID)
		if err != nil {
			writeError(w, http.StatusBadGateway, "quiz generation failed")
			return
		}
	} else {
		questions, err = s.quiz.GenerateQuestions(r.Context(), set.FullText, sess.UserID)
		if err != nil {
			writeError(w, http.StatusBadGateway, "quiz generation failed")
			return
		}
	}
	if err := s.store.SaveQuestions(questions); err != nil {
		writeError(w, http.StatusInternalServerError, "could not save questions")
		return
	}
	hashes := make([]string, 0, len(questions))
	for _, q := range questions {
		hashes = append(hashes, q.Hash)
	}
	outcome, err := s.store.UpsertQuestionSet(store.UpsertQuestionSetParams{
		ContentHash:      sess.ContentHash,
		OtherContentHash: sess.OtherContentHash,
		UserID:           sess.UserID,
		QuestionHashes:   hashes,
		ContentNames:     set.ContentNames,
		FullText:         set.FullText,
		ShortTitle:       set.ShortTitle,
		Summary:          set.Summary,
		QuizMode:         req.QuizMode,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not update study set")
		return
	}
	if outcome == store.OutcomeInserted {
		// The session now points at the freshly created framing.
		sess.Summary = set.Summary
		sess.ShortTitle = set.ShortTitle
		sess.ContentNames = set.ContentNames
	}

	sess.QuizQuestions = questions
	sess.QuizAnswers = nil
	sess.QuizMode = req.QuizMode
	s.saveSession(r, token, sess)

	writeJSON(w, http.StatusOK, map[string]any{
		"questions":        questions,
		"contentHash":      sess.ContentHash,
		"otherContentHash": sess.OtherContentHash,
		"quizMode":         req.QuizMode,
	})
}

// handleRegenerateSummary rebuilds the session summary from the selected file
// texts plus optional pasted text, without changing which set is loaded. The
// stale quiz is dropped since it no longer matches the summary on screen.
func (s *Server) handleRegenerateSummary(w http.ResponseWriter, r *http.Request, token string, sess session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req generateSummaryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.ExtraText = strings.TrimSpace(req.ExtraText)
	if len(req.FileHashes) == 0 && req.ExtraText == "" {
		writeError(w, http.StatusBadRequest, "fileHashes or extraText is required")
		return
	}

	texts, err := s.store.GetFileTexts(req.FileHashes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load file texts")
		return
	}
	var parts []string
	for _, fileHash := range req.FileHashes {
		text, ok := texts[fileHash]
		if !ok || strings.TrimSpace(text) == "" {
			writeError(w, http.StatusConflict, "a selected file has not finished processing")
			return
		}
		parts = append(parts, text)
	}
	if req.ExtraText != "" {
		parts = append(parts, req.ExtraText)
	}

	summary, err := s.summarizer.Summarize(r.Context(), strings.Join(parts, "\n\n"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "summary generation failed")
		return
	}

	sess.Summary = summary
	sess.QuizQuestions = nil
	sess.QuizAnswers = nil
	s.saveSession(r, token, sess)

	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

// handleGetCurrentSessionSources reports which sources the loaded study
// material came from.
func (s *Server) handleGetCurrentSessionSources(w http.ResponseWriter, r *http.Request, _ string, sess session.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	names := sess.ContentNames
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contentNames": names,
		"shortTitle":   sess.ShortTitle,
	})
}

type generateSummaryRequest struct {
	FileHashes []string `json:"fileHashes"`
	ExtraText  string   `json:"extraText"`
	QuizMode   bool     `json:"quizMode"`
}

type generateQuizRequest struct {
	Initial      bool `json:"initial"`
	QuizMode     bool `json:"quizMode"`
	FocusStarred bool `json:"focusStarred"`
}

// starredQuestions returns the set's currently starred questions.
func (s *Server) starredQuestions(set domain.QuestionSet) ([]domain.Question, error) {
	all, err := s.store.GetQuestionsByHashes(set.QuestionHashes)
	if err != nil {
		return nil, err
	}
	var starred []domain.Question
	for _, q := range all {
		if q.Starred {
			starred = append(starred, q)
		}
	}
	return starred, nil
}
