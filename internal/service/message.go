package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/basement-chat/basement/shared/domain"
	"github.com/basement-chat/basement/shared/errors"
	"github.com/basement-chat/basement/shared/logger"
)

type MessageService interface {
	// Append persists a message and then announces it on the broker.
	// Broadcast failure does not undo the write, readers pick the message
	// up via backfill.
	Append(ctx context.Context, credential domain.Credential, channel domain.ChannelSlug, text, imageRef string) (domain.Message, error)
	List(ctx context.Context, channel domain.ChannelSlug, after time.Time, limit int) ([]domain.Message, error)
	Backfill(ctx context.Context, channel domain.ChannelSlug, limit int) ([]domain.Message, error)
	CreateChannel(ctx context.Context, slug domain.ChannelSlug, name string) (domain.Channel, error)
}

type MessageStorage interface {
	CreateChannel(slug domain.ChannelSlug, name string) (domain.Channel, error)
	GetChannel(slug domain.ChannelSlug) (domain.Channel, error)
	CreateMessage(channel domain.ChannelSlug, author domain.ParticipantId, text, imageRef string) (domain.Message, error)
	ListMessages(channel domain.ChannelSlug, after time.Time, limit int) ([]domain.Message, error)
	LastMessages(channel domain.ChannelSlug, limit int) ([]domain.Message, error)
}

type Publisher interface {
	Publish(ctx context.Context, channel domain.ChannelSlug, msg domain.Message) error
}

type Message struct {
	storage   MessageStorage
	publisher Publisher
	deriver   IdentityDeriver
	sanitizer *bluemonday.Policy
	maxLen    int
	pageLimit int
	now       func() time.Time
}

func NewMessage(storage MessageStorage, publisher Publisher, deriver IdentityDeriver, maxLen, pageLimit int) MessageService {
	return &Message{
		storage:   storage,
		publisher: publisher,
		deriver:   deriver,
		sanitizer: bluemonday.StrictPolicy(),
		maxLen:    maxLen,
		pageLimit: pageLimit,
		now:       time.Now,
	}
}

func (m *Message) Append(ctx context.Context, credential domain.Credential, channel domain.ChannelSlug, text, imageRef string) (domain.Message, error) {
	text = strings.TrimSpace(m.sanitizer.Sanitize(text))
	if text == "" && imageRef == "" {
		return domain.Message{}, errors.InvalidInput("Message is empty")
	}
	if len(text) > m.maxLen {
		return domain.Message{}, errors.InvalidInput(fmt.Sprintf("Message exceeds %d characters", m.maxLen))
	}

	// the channel slug is the identity scope, so the same wallet shows a
	// stable name within a channel but unlinkable names across channels
	author, err := m.deriver.Derive(credential, string(channel), m.now())
	if err != nil {
		return domain.Message{}, err
	}

	msg, err := m.storage.CreateMessage(channel, author, text, imageRef)
	if err != nil {
		return domain.Message{}, err
	}

	if err := m.publisher.Publish(ctx, channel, msg); err != nil {
		logger.Log.Warn("message broadcast failed", "channel", channel, "id", msg.Id, "error", err)
	}
	return msg, nil
}

func (m *Message) List(ctx context.Context, channel domain.ChannelSlug, after time.Time, limit int) ([]domain.Message, error) {
	return m.storage.ListMessages(channel, after, m.clamp(limit))
}

func (m *Message) Backfill(ctx context.Context, channel domain.ChannelSlug, limit int) ([]domain.Message, error) {
	return m.storage.LastMessages(channel, m.clamp(limit))
}

func (m *Message) CreateChannel(ctx context.Context, slug domain.ChannelSlug, name string) (domain.Channel, error) {
	if slug == "" {
		return domain.Channel{}, errors.InvalidInput("Channel slug is empty")
	}
	return m.storage.CreateChannel(slug, name)
}

func (m *Message) clamp(limit int) int {
	if limit <= 0 || limit > m.pageLimit {
		return m.pageLimit
	}
	return limit
}
