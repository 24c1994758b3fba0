package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/basement-chat/basement/internal/middleware"
	"github.com/basement-chat/basement/shared/domain"
	"github.com/basement-chat/basement/shared/utils"
)

// CastVote handles POST /v1/posts/{post}/vote. A null direction retracts
// the caller's vote.
func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	postId, err := parseIntParam(chi.URLParam(r, "post"), "post id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	type bodyJson struct {
		Direction *domain.Direction `json:"direction"`
	}
	var body bodyJson
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	credential := middleware.GetCredentialFromContext(r)

	var counts domain.VoteCounts
	if body.Direction == nil {
		counts, err = h.vote.Retract(r.Context(), credential, domain.PostId(postId))
	} else {
		counts, err = h.vote.Cast(r.Context(), credential, domain.PostId(postId), *body.Direction)
	}
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	utils.WriteJSON(w, counts)
}

// GetVotes handles GET /v1/posts/{post}/votes.
func (h *Handler) GetVotes(w http.ResponseWriter, r *http.Request) {
	postId, err := parseIntParam(chi.URLParam(r, "post"), "post id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	counts, err := h.vote.Counts(r.Context(), domain.PostId(postId))
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	utils.WriteJSON(w, counts)
}
