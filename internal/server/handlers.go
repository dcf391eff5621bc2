package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"

	"tag-server/internal/achievement"
	"tag-server/internal/auth"
	"tag-server/internal/protocol"
	"tag-server/internal/store"
)

const (
	maxBodySize = 1 << 12
	qrSize      = 320
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

type statsResponse struct {
	store.Stats
	Achievements map[string]protocol.AchievementStatus `json:"achievements"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorMsg{Msg: msg})
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var c credentials
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return c, false
	}
	return c, true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	token, err := s.auth.Register(r.Context(), creds.Username, creds.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrUsernameTaken):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.log.Errorw("register failed", "username", creds.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	s.auth.SetCookie(w, token)
	writeJSON(w, http.StatusCreated, authResponse{Username: creds.Username, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	token, err := s.auth.Login(r.Context(), creds.Username, creds.Password, extractIP(r))
	switch {
	case errors.Is(err, auth.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		s.log.Errorw("login failed", "username", creds.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	s.auth.SetCookie(w, token)
	writeJSON(w, http.StatusOK, authResponse{Username: creds.Username, Token: token})
}

// handleLogout ends the caller's live connection, if any, and clears the cookie
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if account, err := s.auth.Authenticate(r); err == nil {
		if err := s.registry.Logout(r.Context(), account); err != nil {
			s.log.Warnw("logout failed", "account", account, "error", err)
		}
	}
	s.auth.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	by := q.Get("by")
	switch by {
	case "":
		by = store.OrderTime
	case store.OrderTime, store.OrderTags, store.OrderStreak:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown ordering %q", by))
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = n
	}

	rows, err := s.store.GetLeaderboard(r.Context(), by, store.ClampLimit(limit))
	if err != nil {
		s.log.Errorw("leaderboard query failed", "by", by, "error", err)
		writeError(w, http.StatusInternalServerError, "leaderboard unavailable")
		return
	}
	if rows == nil {
		rows = []store.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	stats, err := s.store.GetStats(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		s.log.Errorw("stats query failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	unlocked, err := s.store.GetAchievements(r.Context(), username)
	if err != nil {
		s.log.Errorw("achievements query failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Stats:        *stats,
		Achievements: achievement.Status(unlocked).Achievements,
	})
}

// handleInvite renders a QR code pointing at the game
func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	target := s.opts.PublicURL
	if target == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		target = scheme + "://" + r.Host + "/"
	}

	png, err := qrcode.Encode(target, qrcode.Medium, qrSize)
	if err != nil {
		s.log.Errorw("qr generation failed", "url", target, "error", err)
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(png)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}
