package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/basement-chat/basement/internal/middleware"
	"github.com/basement-chat/basement/shared/domain"
	"github.com/basement-chat/basement/shared/utils"
)

// CreateMessage handles POST /v1/channels/{channel}/messages.
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	channel := domain.ChannelSlug(chi.URLParam(r, "channel"))

	type bodyJson struct {
		Text     string `json:"text"`
		ImageRef string `json:"image_ref"`
	}
	var body bodyJson
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	credential := middleware.GetCredentialFromContext(r)

	msg, err := h.message.Append(r.Context(), credential, channel, body.Text, body.ImageRef)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	utils.WriteJSON(w, msg)
}

// GetMessages handles GET /v1/channels/{channel}/messages?after=<RFC3339>&limit=<n>.
// Without an after cursor it returns the most recent page.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	channel := domain.ChannelSlug(chi.URLParam(r, "channel"))

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := parseIntParam(limitStr, "limit")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit = int(parsed)
	}

	var msgs []domain.Message
	var err error
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		after, parseErr := time.Parse(time.RFC3339Nano, afterStr)
		if parseErr != nil {
			http.Error(w, "invalid after: must be an RFC3339 timestamp", http.StatusBadRequest)
			return
		}
		msgs, err = h.message.List(r.Context(), channel, after, limit)
	} else {
		msgs, err = h.message.Backfill(r.Context(), channel, limit)
	}
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	utils.WriteJSON(w, msgs)
}

// CreateChannel handles POST /v1/channels.
func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	type bodyJson struct {
		Slug string `validate:"required" json:"slug"`
		Name string `json:"name"`
	}
	var body bodyJson
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	ch, err := h.message.CreateChannel(r.Context(), domain.ChannelSlug(body.Slug), body.Name)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	utils.WriteJSON(w, ch)
}
