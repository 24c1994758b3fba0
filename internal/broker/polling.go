package broker

import (
	"context"
	"sync"
	"time"

	"github.com/basement-chat/basement/shared/domain"
	"github.com/basement-chat/basement/shared/logger"
)

const defaultPollInterval = 3 * time.Second

// Polling is the fallback variant: each subscription periodically re-queries
// the message log for entries created after the last one it has seen. No
// transport connection exists, so there is nothing to fail over from.
type Polling struct {
	store    Store
	interval time.Duration

	// Now is the clock for the initial "last seen" watermark, overridable
	// in tests.
	Now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPolling(store Store, interval time.Duration) *Polling {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Polling{store: store, interval: interval, Now: time.Now, ctx: ctx, cancel: cancel}
}

// Publish is a no-op: the persisted message is the source of truth and
// every poller picks it up on its next tick.
func (p *Polling) Publish(ctx context.Context, channel domain.ChannelSlug, msg domain.Message) error {
	publishesTotal.WithLabelValues(VariantPolling, "ok").Inc()
	return nil
}

func (p *Polling) Subscribe(ctx context.Context, channel domain.ChannelSlug, h Handler) (Subscription, error) {
	subCtx, cancel := context.WithCancel(p.ctx)
	sub := &pollSub{cancel: cancel}

	// Release-on-abort: a caller that cancelled before the feed was
	// confirmed open must not leak the loop goroutine.
	if err := ctx.Err(); err != nil {
		cancel()
		return nil, err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.poll(subCtx, channel, h)
	}()

	return sub, nil
}

// poll runs the re-query loop. Delivering inline from the single loop
// goroutine keeps per-subscriber ordering without a queue.
//
// The watermark query is inclusive and delivered ids at the watermark
// instant are remembered, so a message stamped with the same timestamp as
// an already delivered one but committed later still gets picked up.
func (p *Polling) poll(subCtx context.Context, channel domain.ChannelSlug, h Handler) {
	lastSeen := p.Now().UTC()
	seenAtWatermark := make(map[domain.MsgId]struct{})
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-subCtx.Done():
			return
		case <-ticker.C:
			msgs, err := p.store.ListMessagesSince(channel, lastSeen, 0)
			if err != nil {
				logger.Log.Debug("poll query failed", "channel", channel, "error", err)
				continue
			}
			for _, msg := range msgs {
				if _, dup := seenAtWatermark[msg.Id]; dup {
					continue
				}
				h(msg)
				deliveriesTotal.WithLabelValues(VariantPolling).Inc()
				if msg.CreatedAt.After(lastSeen) {
					lastSeen = msg.CreatedAt
					seenAtWatermark = make(map[domain.MsgId]struct{})
				}
				seenAtWatermark[msg.Id] = struct{}{}
			}
		}
	}
}

func (p *Polling) Close() error {
	p.cancel()
	p.wg.Wait()
	return nil
}

type pollSub struct {
	cancel context.CancelFunc
}

// Unsubscribe stops the poll loop. Cancelling twice is a no-op.
func (s *pollSub) Unsubscribe() {
	s.cancel()
}
