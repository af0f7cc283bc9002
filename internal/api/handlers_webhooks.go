package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shohag/chatrelay/internal/models"
	"github.com/shohag/chatrelay/internal/relay"
)

const defaultAttemptLimit = 50

type WebhookHandler struct {
	svc *relay.Service
	log zerolog.Logger
}

func NewWebhookHandler(svc *relay.Service, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, log: log}
}

type addWebhookRequest struct {
	URL string `json:"url"`
}

type addWebhookResponse struct {
	Endpoint      *models.Endpoint `json:"endpoint"`
	PrivacyNotice string           `json:"privacyNotice"`
}

// Add validates the URL against Discord and stores the resulting endpoint.
func (h *WebhookHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ep, err := h.svc.Register(r.Context(), strings.TrimSpace(req.URL))
	if err != nil {
		writeRelayError(w, h.log, err)
		return
	}

	stored, notice, err := h.svc.Add(r.Context(), ep)
	if err != nil {
		writeRelayError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, addWebhookResponse{Endpoint: stored, PrivacyNotice: notice})
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	ep, err := h.svc.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRelayError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	eps, err := h.svc.List(r.Context())
	if err != nil {
		writeRelayError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, eps)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeRelayError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *WebhookHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAttemptLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	attempts, err := h.svc.Attempts(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeRelayError(w, h.log, err)
		return
	}
	if attempts == nil {
		attempts = []models.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}
