package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ibs-source/counterlog/internal/config"
)

// authMiddleware selects the authenticator from the configured mode.
// Health probes stay open so orchestrators can reach them without
// credentials.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	switch s.cfg.AuthMode {
	case config.AuthModeAPIKey:
		return s.requireAuth(next, s.checkAPIKey)
	case config.AuthModeJWT:
		return s.requireAuth(next, s.checkJWT)
	default:
		return next
	}
}

func (s *Server) requireAuth(next http.Handler, check func(*http.Request) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if !check(r) {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkAPIKey compares the X-API-Key header in constant time
func (s *Server) checkAPIKey(r *http.Request) bool {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) == 1
}

// checkJWT verifies a bearer token signed with HMAC-SHA256 and rejects
// expired tokens.
func (s *Server) checkJWT(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return false
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}

	var header struct {
		Alg string `json:"alg"`
	}
	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || json.Unmarshal(headerBytes, &header) != nil {
		return false
	}
	if header.Alg != "HS256" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.JWTSecret))
	mac.Write([]byte(parts[0] + "." + parts[1]))
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(signature, mac.Sum(nil)) {
		return false
	}

	var claims struct {
		Exp float64 `json:"exp"`
	}
	claimBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || json.Unmarshal(claimBytes, &claims) != nil {
		return false
	}
	if claims.Exp != 0 && time.Now().Unix() >= int64(claims.Exp) {
		return false
	}
	return true
}
