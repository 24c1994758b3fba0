package service

import (
	"context"
	"sync"

	"github.com/basement-chat/basement/internal/broker"
	"github.com/basement-chat/basement/shared/domain"
	"github.com/basement-chat/basement/shared/logger"
)

// SubscriptionManager keeps at most one live feed per session. A session
// switching channels implicitly releases its previous feed before the new
// one is registered.
type SubscriptionManager struct {
	broker broker.Broker

	mu   sync.Mutex
	subs map[domain.SessionId]*activeSub
}

type activeSub struct {
	channel domain.ChannelSlug
	handle  broker.Subscription
}

func NewSubscriptionManager(b broker.Broker) *SubscriptionManager {
	return &SubscriptionManager{
		broker: b,
		subs:   make(map[domain.SessionId]*activeSub),
	}
}

// Subscribe attaches the session to a channel feed. Re-subscribing to the
// channel the session is already on is a no-op.
func (m *SubscriptionManager) Subscribe(ctx context.Context, session domain.SessionId, channel domain.ChannelSlug, h broker.Handler) error {
	m.mu.Lock()
	existing, ok := m.subs[session]
	if ok && existing.channel == channel {
		m.mu.Unlock()
		return nil
	}
	delete(m.subs, session)
	m.mu.Unlock()

	// release the old feed before registering the new one so the broker
	// never has two live readers for the same session
	if ok {
		existing.handle.Unsubscribe()
	}

	handle, err := m.broker.Subscribe(ctx, channel, h)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.subs[session]; ok {
		// the session raced itself and another call registered first;
		// keep that registration and release our own handle
		m.mu.Unlock()
		handle.Unsubscribe()
		return nil
	}
	m.subs[session] = &activeSub{channel: channel, handle: handle}
	m.mu.Unlock()

	logger.Log.Debug("session subscribed", "session", session, "channel", channel)
	return nil
}

// Unsubscribe releases the session's feed. Unknown sessions are a no-op.
func (m *SubscriptionManager) Unsubscribe(session domain.SessionId) {
	m.mu.Lock()
	sub, ok := m.subs[session]
	delete(m.subs, session)
	m.mu.Unlock()

	if ok {
		sub.handle.Unsubscribe()
		logger.Log.Debug("session unsubscribed", "session", session, "channel", sub.channel)
	}
}

// Active reports the channel the session is currently on.
func (m *SubscriptionManager) Active(session domain.SessionId) (domain.ChannelSlug, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[session]
	if !ok {
		return "", false
	}
	return sub.channel, true
}

// Shutdown releases every live feed. Used on server teardown.
func (m *SubscriptionManager) Shutdown() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[domain.SessionId]*activeSub)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.handle.Unsubscribe()
	}
	if len(subs) > 0 {
		logger.Log.Info("released live subscriptions", "count", len(subs))
	}
}
