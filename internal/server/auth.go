package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// AuthCookie holds the hex SHA-256 of the configured password.
const AuthCookie = "tetsuo_auth"

func hashPassword(pw string) string {
	sum := sha256.Sum256([]byte(pw))
	return hex.EncodeToString(sum[:])
}

func (s *Server) password() string {
	return s.config().Auth.Password
}

func (s *Server) authenticated(r *http.Request) bool {
	pw := s.password()
	if pw == "" {
		return true
	}
	c, err := r.Cookie(AuthCookie)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(hashPassword(pw))) == 1
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticated(r) {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	pw := s.password()
	if pw == "" {
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	digest := hashPassword(req.Password)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(hashPassword(pw))) != 1 {
		s.logger.Warn("login failed", "remote", r.RemoteAddr)
		writeErr(w, http.StatusUnauthorized, "wrong password")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookie,
		Value:    digest,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https"),
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	if s.password() == "" {
		writeJSON(w, http.StatusOK, map[string]bool{"required": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"required":      true,
		"authenticated": s.authenticated(r),
	})
}
