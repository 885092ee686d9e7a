package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"medstudy/internal/ratelimit"
	"medstudy/internal/session"
	"medstudy/internal/util"
	"medstudy/pkg/domain"
	"medstudy/pkg/queue"
	"medstudy/pkg/storage"
	"medstudy/pkg/store"
)

// SessionStore is the server's view of the session layer.
type SessionStore interface {
	New(sess session.Session) (string, error)
	Get(token string) (session.Session, bool, error)
	Save(token string, sess session.Session) error
	Delete(token string) error
}

// JobQueue enqueues extraction jobs and answers status lookups.
type JobQueue interface {
	Enqueue(ctx context.Context, payload queue.JobPayload) (queue.JobStatus, error)
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
}

// TaskStore is the per-user task side channel.
type TaskStore interface {
	Update(ctx context.Context, userID string, task queue.TaskStatus) error
	List(ctx context.Context, userID string) ([]queue.TaskStatus, error)
	DeleteByStates(ctx context.Context, userID string, states ...string) (int, error)
}

// GenerationLocker serializes quiz generation per user.
type GenerationLocker interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// QuizGenerator produces question batches from study material.
type QuizGenerator interface {
	GenerateQuestions(ctx context.Context, sourceText, userID string) ([]domain.Question, error)
	GenerateFocusedQuestions(ctx context.Context, seeds []domain.Question, userID string) ([]domain.Question, error)
}

// SummaryGenerator produces study-guide summaries.
type SummaryGenerator interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store      store.Store
	Blobs      storage.ObjectStore
	Sessions   SessionStore
	Jobs       JobQueue
	Tasks      TaskStore
	Lock       GenerationLocker
	Quiz       QuizGenerator
	Summarizer SummaryGenerator

	// Titler names a freshly created study set from its summary. Optional;
	// without one, sets that never got a title keep the fallback until the
	// user renames them.
	Titler func(ctx context.Context, text string) (string, error)

	Bucket        string
	RedisAddr     string
	RedisPassword string

	// TrustedProxies lists CIDRs/IPs whose forwarded headers are honored
	// when resolving client IPs for auditing and rate limiting.
	TrustedProxies []string

	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	MaxUploadBytes           int64
	SecureCookies            bool
}

// Server exposes HTTP endpoints for the study backend.
type Server struct {
	store      store.Store
	blobs      storage.ObjectStore
	sessions   SessionStore
	jobs       JobQueue
	tasks      TaskStore
	lock       GenerationLocker
	quiz       QuizGenerator
	summarizer SummaryGenerator
	titler     func(ctx context.Context, text string) (string, error)

	mux            *http.ServeMux
	bucket         string
	maxUploadBytes int64
	secureCookies  bool
	trusted        *util.TrustedProxies
	signupLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "medstudy:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("signup", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		store:          cfg.Store,
		blobs:          cfg.Blobs,
		sessions:       cfg.Sessions,
		jobs:           cfg.Jobs,
		tasks:          cfg.Tasks,
		lock:           cfg.Lock,
		quiz:           cfg.Quiz,
		summarizer:     cfg.Summarizer,
		titler:         cfg.Titler,
		mux:            http.NewServeMux(),
		bucket:         cfg.Bucket,
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
		secureCookies:  cfg.SecureCookies,
		trusted:        trusted,
		signupLimiter:  signupLimiter,
		loginLimiter:   loginLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("server", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/signup", s.handleSignup)
	s.mux.HandleFunc("/api/login", s.handleLogin)
	s.mux.HandleFunc("/api/logout", s.handleLogout)
	s.mux.Handle("/api/check-auth", s.authenticated(s.handleCheckAuth))

	// uploads & library of PDFs
	s.mux.Handle("/api/upload-pdfs", s.authenticated(s.handleUploadPdfs))
	s.mux.Handle("/api/get-user-pdfs", s.authenticated(s.handleGetUserPdfs))
	s.mux.Handle("/api/remove-user-pdfs", s.authenticated(s.handleRemoveUserPdfs))

	// generation
	s.mux.Handle("/api/generate-summary", s.authenticated(s.handleGenerateSummary))
	s.mux.Handle("/api/regenerate-summary", s.authenticated(s.handleRegenerateSummary))
	s.mux.Handle("/api/generate-quiz", s.authenticated(s.handleGenerateQuiz))
	s.mux.Handle("/api/get-current-session-sources", s.authenticated(s.handleGetCurrentSessionSources))

	// quiz interaction
	s.mux.Handle("/api/get-quiz", s.authenticated(s.handleGetQuiz))
	s.mux.Handle("/api/get-other-quiz", s.authenticated(s.handleGetOtherQuiz))
	s.mux.Handle("/api/save-quiz-answers", s.authenticated(s.handleSaveQuizAnswers))
	s.mux.Handle("/api/shuffle-quiz", s.authenticated(s.handleShuffleQuiz))
	s.mux.Handle("/api/start-starred-quiz", s.authenticated(s.handleStartStarredQuiz))
	s.mux.Handle("/api/toggle-star-question", s.authenticated(s.handleToggleStarQuestion))
	s.mux.Handle("/api/star-all-questions", s.authenticated(s.handleStarAllQuestions))

	// saved study sets
	s.mux.Handle("/api/get-question-sets", s.authenticated(s.handleGetQuestionSets))
	s.mux.Handle("/api/load-study-set", s.authenticated(s.handleLoadStudySet))
	s.mux.Handle("/api/update-set-title", s.authenticated(s.handleUpdateSetTitle))
	s.mux.Handle("/api/delete-questions", s.authenticated(s.handleDeleteQuestions))
	s.mux.Handle("/api/delete-question-set", s.authenticated(s.handleDeleteQuestionSet))

	// background task visibility
	s.mux.Handle("/api/get-user-tasks", s.authenticated(s.handleGetUserTasks))
	s.mux.Handle("/api/clear-completed-tasks", s.authenticated(s.handleClearCompletedTasks))
	s.mux.Handle("/api/pdf-processing-status/", s.authenticated(s.handleProcessingStatus))

	// misc
	s.mux.Handle("/api/submit-feedback", s.authenticated(s.handleSubmitFeedback))
	s.mux.Handle("/api/clear-session-content", s.authenticated(s.handleClearSessionContent))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionHandler receives the resolved session plus its token so handlers can
// write the session back after mutating it.
type sessionHandler func(w http.ResponseWriter, r *http.Request, token string, sess session.Session)

func (s *Server) authenticated(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(session.CookieName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			s.audit(r, "server.authorize", "fail", "reason", "missing_session_cookie")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		sess, found, err := s.sessions.Get(cookie.Value)
		if err != nil {
			s.audit(r, "server.authorize", "fail", "reason", "session_store_error")
			writeError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
		if !found {
			s.audit(r, "server.authorize", "fail", "reason", "expired_or_unknown_session")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, cookie.Value, sess)
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// saveSession persists session changes; failures are logged but do not fail
// the request, since the response data is already computed.
func (s *Server) saveSession(r *http.Request, token string, sess session.Session) {
	if err := s.sessions.Save(token, sess); err != nil {
		slog.Error("save session failed", "path", r.URL.Path, "error", err)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
