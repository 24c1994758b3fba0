package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/basement-chat/basement/internal/service"
	"github.com/basement-chat/basement/shared/config"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	vote    service.VoteService
	message service.MessageService
	subs    *service.SubscriptionManager
	health  Pinger
	cfg     *config.Config
}

func New(vote service.VoteService, message service.MessageService, subs *service.SubscriptionManager, health Pinger, cfg *config.Config) *Handler {
	return &Handler{vote, message, subs, health, cfg}
}

// Health is a liveness probe endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Ready is a readiness probe endpoint. Returns 503 when the database is
// unreachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.health.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("database unavailable"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// parseIntParam parses an integer parameter from a string and returns a
// meaningful error
func parseIntParam(param string, paramName string) (int64, error) {
	val, err := strconv.ParseInt(param, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: must be an integer", paramName)
	}
	return val, nil
}
