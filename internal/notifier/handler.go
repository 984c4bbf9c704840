package notifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"registrar/internal/identity"
	"registrar/pkg/platform/sentinel"
)

// Handler is the thin HTTP layer over the notifier service. It delegates to
// the service without embedding verification logic.
type Handler struct {
	service    *Service
	signingKey []byte
	logger     *slog.Logger
}

func NewHandler(service *Service, signingKey string, logger *slog.Logger) *Handler {
	return &Handler{service: service, signingKey: []byte(signingKey), logger: logger}
}

// Router wires the status endpoints. /healthz and /metrics stay open; the v1
// surface requires a bearer token.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.auth)
		r.Get("/v1/status/{pubKey}", h.handleStatus)
		r.Get("/v1/notifications/{pubKey}", h.handleNotifications)
	})
	return r
}

func (h *Handler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
			return h.signingKey, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	pk := identity.PubKey(chi.URLParam(r, "pubKey"))
	ident, err := h.service.State(pk)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown identity %s", pk))
			return
		}
		h.logger.Error("status lookup failed", "pub_key", pk, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":       ident,
		"fully_verified": ident.FullyVerified(),
	})
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	pk := identity.PubKey(chi.URLParam(r, "pubKey"))
	writeJSON(w, http.StatusOK, map[string]any{
		"pub_key": pk,
		"changes": h.service.Changes(pk),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
