// Package broker implements the realtime fan-out of freshly persisted
// messages to channel subscribers. Three interchangeable transports share
// one contract: Kafka (hosted pub/sub), a Postgres change feed, and a
// polling fallback used whenever no realtime transport is configured or
// reachable.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/basement-chat/basement/shared/config"
	"github.com/basement-chat/basement/shared/domain"
	internal_errors "github.com/basement-chat/basement/shared/errors"
	"github.com/basement-chat/basement/shared/logger"
)

const (
	VariantKafka      = "kafka"
	VariantChangeFeed = "changefeed"
	VariantPolling    = "polling"
)

// Handler receives one fully hydrated message. Handlers of a single
// subscription are invoked sequentially in non-decreasing creation-time
// order; slow handlers cause drops, not reordering.
type Handler func(msg domain.Message)

// Subscription is a live feed handle. Unsubscribe fully releases the
// transport resources behind it and is safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// Broker is the transport contract shared by all variants.
//
// Publish is called strictly after the message persisted; its failure must
// never fail the append that triggered it, so callers log and move on. It
// still returns the error: fan-out failures are not swallowed silently.
type Broker interface {
	Publish(ctx context.Context, channel domain.ChannelSlug, msg domain.Message) error
	Subscribe(ctx context.Context, channel domain.ChannelSlug, h Handler) (Subscription, error)
	Close() error
}

// Store is what the fallback variants need from the message store: the
// polling variant re-queries the log, the change feed re-fetches messages
// by id before delivering. The since-query is inclusive; pollers dedupe by
// id at the watermark instant.
type Store interface {
	GetMessage(id domain.MsgId) (domain.Message, error)
	ListMessagesSince(channel domain.ChannelSlug, since time.Time, limit int) ([]domain.Message, error)
}

// Options carries everything variant construction may need. ConnStr and DB
// are only used by the change feed, Kafka only by the kafka variant.
type Options struct {
	Public  config.Broker
	Kafka   config.Kafka
	ConnStr string
	DB      NotifyExecer
	Store   Store
}

// New builds the configured variant. An unreachable transport is not a hard
// failure: the broker degrades to polling and says so in the log.
func New(opts Options) Broker {
	variant := opts.Public.Variant
	interval := opts.Public.PollInterval * time.Second
	timeout := opts.Public.ConnectTimeout * time.Second

	var b Broker
	var err error
	switch variant {
	case VariantKafka:
		b, err = NewKafka(opts.Kafka, timeout)
	case VariantChangeFeed:
		b, err = NewChangeFeed(opts.ConnStr, opts.DB, opts.Store, timeout)
	case VariantPolling, "":
		return NewPolling(opts.Store, interval)
	default:
		logger.Log.Warn("unknown broker variant, using polling", "variant", variant)
		return NewPolling(opts.Store, interval)
	}

	if err != nil {
		if errors.Is(err, internal_errors.TransportUnavailable) {
			logger.Log.Warn("realtime transport unreachable, falling back to polling",
				"variant", variant, "error", err)
			return NewPolling(opts.Store, interval)
		}
		// Misconfiguration rather than an unreachable transport still must
		// not take the process down; polling needs nothing but the store.
		logger.Log.Error("broker setup failed, falling back to polling",
			"variant", variant, "error", err)
		return NewPolling(opts.Store, interval)
	}
	return b
}
