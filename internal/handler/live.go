package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/basement-chat/basement/shared/domain"
	"github.com/basement-chat/basement/shared/logger"
	"github.com/basement-chat/basement/shared/utils"
)

// eventBuffer bounds how far a stalled SSE client can lag before messages
// are dropped on the floor.
const eventBuffer = 16

// Live handles GET /v1/channels/{channel}/live. It streams channel messages
// as server-sent events: a backfill of recent history first, then live
// messages until the client disconnects. Disconnecting releases the feed.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	channel := domain.ChannelSlug(chi.URLParam(r, "channel"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Open the feed before the backfill query. A message appended between
	// the two then shows up on the feed, and the overlap the other way
	// around is deduped by id below.
	session := domain.SessionId(uuid.NewString())
	events := make(chan domain.Message, eventBuffer)
	err := h.subs.Subscribe(r.Context(), session, channel, func(msg domain.Message) {
		select {
		case events <- msg:
		default:
			logger.Log.Warn("dropping event for stalled client", "session", session, "channel", channel)
		}
	})
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	defer h.subs.Unsubscribe(session)

	backfill, err := h.message.Backfill(r.Context(), channel, h.cfg.Public.BackfillLimit)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sent := make(map[domain.MsgId]struct{}, len(backfill))
	for _, msg := range backfill {
		writeEvent(w, msg)
		sent[msg.Id] = struct{}{}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-events:
			if _, dup := sent[msg.Id]; dup {
				delete(sent, msg.Id)
				continue
			}
			writeEvent(w, msg)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, msg domain.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Log.Error("encoding event", "id", msg.Id, "error", err)
		return
	}
	fmt.Fprintf(w, "id: %s\ndata: %s\n\n", msg.Id, data)
}
