package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/basement-chat/basement/internal/broker"
	"github.com/basement-chat/basement/internal/service"
	"github.com/basement-chat/basement/shared/domain"
	"github.com/basement-chat/basement/shared/errors"
)

// captureBroker hands the registered handler back to the test so it can
// inject live messages.
type captureBroker struct {
	handlers chan broker.Handler
}

func (b *captureBroker) Publish(context.Context, domain.ChannelSlug, domain.Message) error {
	return nil
}

func (b *captureBroker) Subscribe(_ context.Context, _ domain.ChannelSlug, h broker.Handler) (broker.Subscription, error) {
	b.handlers <- h
	return &captureSub{}, nil
}

func (b *captureBroker) Close() error { return nil }

type captureSub struct{}

func (s *captureSub) Unsubscribe() {}

// flushRecorder signals every flush so the test can sequence against the
// streaming goroutine.
type flushRecorder struct {
	*httptest.ResponseRecorder
	flushed chan struct{}
}

func (r *flushRecorder) Flush() {
	r.ResponseRecorder.Flush()
	select {
	case r.flushed <- struct{}{}:
	default:
	}
}

func TestLiveStreamsBackfillThenEvents(t *testing.T) {
	b := &captureBroker{handlers: make(chan broker.Handler, 1)}
	subs := service.NewSubscriptionManager(b)

	mockService := &MockMessageService{
		MockBackfill: func(_ context.Context, channel domain.ChannelSlug, limit int) ([]domain.Message, error) {
			assert.Equal(t, domain.ChannelSlug("lounge"), channel)
			assert.Equal(t, 20, limit)
			return []domain.Message{{Id: "m1", Channel: "lounge", Text: "earlier"}}, nil
		},
	}

	h := &Handler{message: mockService, subs: subs, cfg: testConfig()}
	router := chi.NewRouter()
	router.Get("/v1/channels/{channel}/live", h.Live)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/channels/lounge/live", nil).WithContext(ctx)
	rec := &flushRecorder{ResponseRecorder: httptest.NewRecorder(), flushed: make(chan struct{}, 1)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(rec, req)
	}()

	// wait for the backfill flush, then inject a live message
	select {
	case <-rec.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("backfill was never flushed")
	}

	var deliver broker.Handler
	select {
	case deliver = <-b.handlers:
	case <-time.After(2 * time.Second):
		t.Fatal("feed was never registered")
	}
	deliver(domain.Message{Id: "m2", Channel: "lounge", Text: "live"})

	select {
	case <-rec.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("live event was never flushed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on disconnect")
	}

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "id: m1\n")
	assert.Contains(t, body, `"text":"earlier"`)
	assert.Contains(t, body, "id: m2\n")
	assert.Contains(t, body, `"text":"live"`)
	assert.Less(t, strings.Index(body, "m1"), strings.Index(body, "m2"))
}

func TestLiveShowsOverlappingMessageOnce(t *testing.T) {
	b := &captureBroker{handlers: make(chan broker.Handler, 1)}
	subs := service.NewSubscriptionManager(b)

	mockService := &MockMessageService{
		MockBackfill: func(context.Context, domain.ChannelSlug, int) ([]domain.Message, error) {
			return []domain.Message{{Id: "m1", Channel: "lounge", Text: "earlier"}}, nil
		},
	}

	h := &Handler{message: mockService, subs: subs, cfg: testConfig()}
	router := chi.NewRouter()
	router.Get("/v1/channels/{channel}/live", h.Live)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/channels/lounge/live", nil).WithContext(ctx)
	rec := &flushRecorder{ResponseRecorder: httptest.NewRecorder(), flushed: make(chan struct{}, 1)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(rec, req)
	}()

	select {
	case <-rec.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("backfill was never flushed")
	}

	var deliver broker.Handler
	select {
	case deliver = <-b.handlers:
	case <-time.After(2 * time.Second):
		t.Fatal("feed was never registered")
	}

	// the feed replays a message already sent in the backfill, then a new one
	deliver(domain.Message{Id: "m1", Channel: "lounge", Text: "earlier"})
	deliver(domain.Message{Id: "m2", Channel: "lounge", Text: "live"})

	select {
	case <-rec.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("live event was never flushed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on disconnect")
	}

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "id: m1\n"), "overlapping message must appear once")
	assert.Contains(t, body, "id: m2\n")
}

func TestLiveBackfillError(t *testing.T) {
	b := &captureBroker{handlers: make(chan broker.Handler, 1)}
	mockService := &MockMessageService{
		MockBackfill: func(context.Context, domain.ChannelSlug, int) ([]domain.Message, error) {
			return nil, errors.NotFound("Channel not found")
		},
	}
	h := &Handler{message: mockService, subs: service.NewSubscriptionManager(b), cfg: testConfig()}
	router := chi.NewRouter()
	router.Get("/v1/channels/{channel}/live", h.Live)

	req := httptest.NewRequest(http.MethodGet, "/v1/channels/void/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
