package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"medstudy/internal/session"
	"medstudy/internal/util"
	"medstudy/pkg/auth"
	"medstudy/pkg/domain"
)

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "server.signup", "rate_limited")
		return
	}
	var req signupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "server.signup", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		s.audit(r, "server.signup", "fail", "reason", "invalid_email")
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if req.Password == "" {
		s.audit(r, "server.signup", "fail", "reason", "missing_password")
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		s.audit(r, "server.signup", "fail", "reason", "weak_password")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	taken, err := s.store.HasUserEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}
	if taken {
		s.audit(r, "server.signup", "fail", "reason", "email_taken")
		writeError(w, http.StatusConflict, "an account with this email already exists")
		return
	}
	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}
	user := domain.User{
		ID:        util.NewID(),
		Name:      req.Name,
		Email:     req.Email,
		Password:  hashed,
		UserLevel: strings.TrimSpace(req.UserLevel),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUser(user); err != nil {
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}
	token, err := s.sessions.New(session.Session{
		UserID:    user.ID,
		Name:      user.Name,
		Email:     user.Email,
		UserLevel: user.UserLevel,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}
	s.setSessionCookie(w, token)
	s.audit(r, "server.signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{User: userPayload(user)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "server.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "server.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, found, err := s.store.GetUserByEmail(email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if !found || !auth.CheckPassword(req.Password, user.Password) {
		s.audit(r, "server.login", "fail", "reason", "bad_credentials")
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	token, err := s.sessions.New(session.Session{
		UserID:    user.ID,
		Name:      user.Name,
		Email:     user.Email,
		UserLevel: user.UserLevel,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	s.setSessionCookie(w, token)
	s.audit(r, "server.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{User: userPayload(user)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if cookie, err := r.Cookie(session.CookieName); err == nil && cookie.Value != "" {
		if err := s.sessions.Delete(cookie.Value); err != nil {
			s.audit(r, "server.logout", "fail", "reason", err.Error())
			writeError(w, http.StatusInternalServerError, "logout failed")
			return
		}
	}
	s.clearSessionCookie(w)
	s.audit(r, "server.logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckAuth(w http.ResponseWriter, r *http.Request, _ string, sess session.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user": userInfo{
			ID:        sess.UserID,
			Name:      sess.Name,
			Email:     sess.Email,
			UserLevel: sess.UserLevel,
		},
	})
}

type signupRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	UserLevel string `json:"userLevel"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	UserLevel string `json:"userLevel"`
}

type authResponse struct {
	User userInfo `json:"user"`
}

func userPayload(user domain.User) userInfo {
	return userInfo{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		UserLevel: user.UserLevel,
	}
}
