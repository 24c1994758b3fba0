package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/basement-chat/basement/shared/domain"
	internal_errors "github.com/basement-chat/basement/shared/errors"
	"github.com/basement-chat/basement/shared/logger"
)

// notifyChannel is the single pg NOTIFY channel all message events ride on;
// routing happens on the payload's channel slug.
const notifyChannel = "basement_messages"

// NotifyExecer is the publish side of the change feed, satisfied by
// *sql.DB. Publishing reuses the storage pool instead of opening a second
// connection.
type NotifyExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type notifyPayload struct {
	Id      domain.MsgId       `json:"id"`
	Channel domain.ChannelSlug `json:"channel"`
}

// ChangeFeed delivers messages via Postgres LISTEN/NOTIFY. One listener
// connection is shared by every subscription; the notification only carries
// the message id, and the full row is re-fetched before delivery so
// subscribers never see an under-hydrated message.
type ChangeFeed struct {
	db       NotifyExecer
	listener *pq.Listener
	store    Store

	mu     sync.Mutex
	subs   map[domain.ChannelSlug]map[int64]*queue
	nextId int64
	closed bool
}

func NewChangeFeed(connStr string, db NotifyExecer, store Store, connectTimeout time.Duration) (*ChangeFeed, error) {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	listener := pq.NewListener(connStr, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Log.Warn("changefeed listener event", "event", ev, "error", err)
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("%w: listen %s: %v", internal_errors.TransportUnavailable, notifyChannel, err)
	}

	cf := &ChangeFeed{
		db:       db,
		listener: listener,
		store:    store,
		subs:     make(map[domain.ChannelSlug]map[int64]*queue),
	}
	go cf.dispatch()
	return cf, nil
}

func (cf *ChangeFeed) Publish(ctx context.Context, channel domain.ChannelSlug, msg domain.Message) error {
	payload, err := json.Marshal(notifyPayload{Id: msg.Id, Channel: channel})
	if err != nil {
		publishesTotal.WithLabelValues(VariantChangeFeed, "error").Inc()
		return err
	}
	if _, err := cf.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		publishesTotal.WithLabelValues(VariantChangeFeed, "error").Inc()
		return fmt.Errorf("%w: notify: %v", internal_errors.TransportUnavailable, err)
	}
	publishesTotal.WithLabelValues(VariantChangeFeed, "ok").Inc()
	return nil
}

func (cf *ChangeFeed) Subscribe(ctx context.Context, channel domain.ChannelSlug, h Handler) (Subscription, error) {
	cf.mu.Lock()
	if cf.closed {
		cf.mu.Unlock()
		return nil, internal_errors.TransportUnavailable
	}
	cf.nextId++
	id := cf.nextId
	q := newQueue(VariantChangeFeed, h)
	if cf.subs[channel] == nil {
		cf.subs[channel] = make(map[int64]*queue)
	}
	cf.subs[channel][id] = q
	cf.mu.Unlock()

	sub := &cfSub{cf: cf, channel: channel, id: id, q: q}

	// Release-on-abort: caller gave up before the feed was confirmed.
	if err := ctx.Err(); err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	return sub, nil
}

// dispatch consumes the shared listener and fans out per channel.
func (cf *ChangeFeed) dispatch() {
	for n := range cf.listener.Notify {
		if n == nil {
			// connection loss marker, pq re-establishes the listen
			continue
		}
		var payload notifyPayload
		if err := json.Unmarshal([]byte(n.Extra), &payload); err != nil {
			logger.Log.Warn("changefeed bad payload", "payload", n.Extra, "error", err)
			continue
		}
		cf.deliver(payload)
	}
}

func (cf *ChangeFeed) deliver(payload notifyPayload) {
	cf.mu.Lock()
	queues := make([]*queue, 0, len(cf.subs[payload.Channel]))
	for _, q := range cf.subs[payload.Channel] {
		queues = append(queues, q)
	}
	cf.mu.Unlock()

	if len(queues) == 0 {
		return
	}

	// Re-fetch the hydrated row; the notification alone is not trusted.
	msg, err := cf.store.GetMessage(payload.Id)
	if err != nil {
		logger.Log.Warn("changefeed refetch failed", "id", payload.Id, "error", err)
		return
	}
	for _, q := range queues {
		q.push(msg)
	}
}

func (cf *ChangeFeed) remove(channel domain.ChannelSlug, id int64) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if m := cf.subs[channel]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(cf.subs, channel)
		}
	}
}

// Close releases the shared listener connection and every live queue.
func (cf *ChangeFeed) Close() error {
	cf.mu.Lock()
	if cf.closed {
		cf.mu.Unlock()
		return nil
	}
	cf.closed = true
	var queues []*queue
	for _, m := range cf.subs {
		for _, q := range m {
			queues = append(queues, q)
		}
	}
	cf.subs = make(map[domain.ChannelSlug]map[int64]*queue)
	cf.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
	return cf.listener.Close()
}

type cfSub struct {
	cf      *ChangeFeed
	channel domain.ChannelSlug
	id      int64
	q       *queue
	once    sync.Once
}

// Unsubscribe detaches this subscription without touching the shared
// listener: other subscriptions keep their feed.
func (s *cfSub) Unsubscribe() {
	s.once.Do(func() {
		s.cf.remove(s.channel, s.id)
		s.q.close()
	})
}
