package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/basement-chat/basement/shared/config"
	"github.com/basement-chat/basement/shared/domain"
	internal_errors "github.com/basement-chat/basement/shared/errors"
	"github.com/basement-chat/basement/shared/logger"
)

// Kafka is the hosted pub/sub variant. All channels share one topic; the
// channel slug rides as the message key. One writer and one reader are the
// only transport connections of the process: every subscription attaches to
// the shared reader's in-process fan-out, the same shape the change feed
// uses for its listener. The consumer group id is unique per process so
// each process sees every message instead of work-sharing with its peers.
type Kafka struct {
	writer *kafka.Writer
	reader *kafka.Reader

	mu     sync.Mutex
	subs   map[domain.ChannelSlug]map[int64]*queue
	nextId int64
	closed bool
}

func NewKafka(cfg config.Kafka, connectTimeout time.Duration) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: no kafka brokers configured", internal_errors.TransportUnavailable)
	}
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", internal_errors.TransportUnavailable, cfg.Brokers[0], err)
	}
	conn.Close()

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{}, // key-hash keeps one channel on one partition, preserving order
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     "basement-" + uuid.NewString(),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	k := &Kafka{
		writer: writer,
		reader: reader,
		subs:   make(map[domain.ChannelSlug]map[int64]*queue),
	}
	go k.dispatch()
	return k, nil
}

func (k *Kafka) Publish(ctx context.Context, channel domain.ChannelSlug, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		publishesTotal.WithLabelValues(VariantKafka, "error").Inc()
		return err
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(channel),
		Value: data,
		Time:  msg.CreatedAt,
	})
	if err != nil {
		publishesTotal.WithLabelValues(VariantKafka, "error").Inc()
		return fmt.Errorf("%w: write: %v", internal_errors.TransportUnavailable, err)
	}
	publishesTotal.WithLabelValues(VariantKafka, "ok").Inc()
	return nil
}

// Subscribe attaches a fan-out queue to the shared reader. No transport
// resource is allocated per subscription.
func (k *Kafka) Subscribe(ctx context.Context, channel domain.ChannelSlug, h Handler) (Subscription, error) {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil, internal_errors.TransportUnavailable
	}
	k.nextId++
	id := k.nextId
	q := newQueue(VariantKafka, h)
	if k.subs[channel] == nil {
		k.subs[channel] = make(map[int64]*queue)
	}
	k.subs[channel][id] = q
	k.mu.Unlock()

	sub := &kafkaSub{k: k, channel: channel, id: id, q: q}

	// Release-on-abort: caller gave up before the feed was confirmed.
	if err := ctx.Err(); err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	return sub, nil
}

// dispatch consumes the shared reader sequentially and fans out per
// channel. Per-channel order holds because the key-hash balancer pins a
// channel to one partition.
func (k *Kafka) dispatch() {
	for {
		m, err := k.reader.ReadMessage(context.Background())
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, kafka.ErrGroupClosed) {
				return
			}
			if k.isClosed() {
				return
			}
			logger.Log.Warn("kafka read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		k.deliver(domain.ChannelSlug(m.Key), m.Value)
	}
}

func (k *Kafka) deliver(channel domain.ChannelSlug, value []byte) {
	k.mu.Lock()
	queues := make([]*queue, 0, len(k.subs[channel]))
	for _, q := range k.subs[channel] {
		queues = append(queues, q)
	}
	k.mu.Unlock()

	if len(queues) == 0 {
		return
	}

	var msg domain.Message
	if err := json.Unmarshal(value, &msg); err != nil {
		logger.Log.Warn("kafka bad message", "channel", channel, "error", err)
		return
	}
	for _, q := range queues {
		q.push(msg)
	}
}

func (k *Kafka) remove(channel domain.ChannelSlug, id int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if m := k.subs[channel]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(k.subs, channel)
		}
	}
}

func (k *Kafka) isClosed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closed
}

// Close releases the shared reader and writer and every live queue.
func (k *Kafka) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	var queues []*queue
	for _, m := range k.subs {
		for _, q := range m {
			queues = append(queues, q)
		}
	}
	k.subs = make(map[domain.ChannelSlug]map[int64]*queue)
	k.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
	readerErr := k.reader.Close()
	writerErr := k.writer.Close()
	if readerErr != nil {
		return readerErr
	}
	return writerErr
}

type kafkaSub struct {
	k       *Kafka
	channel domain.ChannelSlug
	id      int64
	q       *queue
	once    sync.Once
}

// Unsubscribe detaches this subscription without touching the shared
// reader: other subscriptions keep their feed.
func (s *kafkaSub) Unsubscribe() {
	s.once.Do(func() {
		s.k.remove(s.channel, s.id)
		s.q.close()
	})
}
