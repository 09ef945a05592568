package apiapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nrc-it/staffforms/internal/forms"
	"github.com/nrc-it/staffforms/internal/gate"
	"github.com/nrc-it/staffforms/internal/metrics"
	"go.uber.org/zap"
)

type contextKey string

const gateSessionKey contextKey = "gate_session"

type gateRequest struct {
	Password string `json:"password"`
	Category string `json:"category"`
}

func (s *Server) openGate(w http.ResponseWriter, r *http.Request) {
	var req gateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	category := strings.TrimSpace(req.Category)
	if category != "" {
		if _, ok := forms.Lookup(category); !ok {
			writeError(w, http.StatusNotFound, msgUnknownForm)
			return
		}
	}

	if !s.limiter.Allow(gate.ClientKey(r)) {
		s.metrics.GateAttempts.WithLabelValues(metrics.Limited).Inc()
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, msgTooManyTries)
		return
	}
	if !s.passwords.Load().Match(req.Password) {
		s.metrics.GateAttempts.WithLabelValues(metrics.Rejected).Inc()
		s.requestLogger(r).Info("gate password rejected", zap.String("category", category))
		writeError(w, http.StatusUnauthorized, msgWrongPassword)
		return
	}

	sess, err := s.gate.Create(r.Context(), category, s.gateTTL)
	if err != nil {
		s.requestLogger(r).Error("create gate session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "gate unavailable")
		return
	}
	s.metrics.GateAttempts.WithLabelValues(metrics.OK).Inc()

	http.SetCookie(w, &http.Cookie{
		Name:     gateCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(s.gateTTL.Seconds()),
		Expires:  sess.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "unlocked",
		"expiresAt": sess.ExpiresAt,
	})
}

func (s *Server) gateStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookupGate(r)
	if err != nil {
		if errors.Is(err, gate.ErrNotFound) {
			expireGateCookie(w)
			writeError(w, http.StatusUnauthorized, msgGateRequired)
			return
		}
		writeError(w, http.StatusInternalServerError, "gate check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"open": true, "expiresAt": sess.ExpiresAt})
}

func (s *Server) closeGate(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(gateCookieName); err == nil && cookie.Value != "" {
		if err := s.gate.Delete(r.Context(), cookie.Value); err != nil {
			s.requestLogger(r).Warn("delete gate session", zap.Error(err))
		}
	}
	expireGateCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "closed"})
}

func (s *Server) lookupGate(r *http.Request) (gate.Session, error) {
	cookie, err := r.Cookie(gateCookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return gate.Session{}, gate.ErrNotFound
	}
	return s.gate.Lookup(r.Context(), cookie.Value)
}

func (s *Server) requireGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.lookupGate(r)
		if err != nil {
			if errors.Is(err, gate.ErrNotFound) {
				expireGateCookie(w)
				writeError(w, http.StatusUnauthorized, msgGateRequired)
				return
			}
			s.requestLogger(r).Error("gate lookup", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "gate check failed")
			return
		}
		ctx := context.WithValue(r.Context(), gateSessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
