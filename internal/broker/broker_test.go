package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basement-chat/basement/internal/storage/memory"
	"github.com/basement-chat/basement/shared/config"
	"github.com/basement-chat/basement/shared/domain"
)

func TestNewDefaultsToPolling(t *testing.T) {
	b := New(Options{Store: memory.New()})
	defer b.Close()
	_, ok := b.(*Polling)
	assert.True(t, ok)
}

func TestNewUnknownVariantFallsBack(t *testing.T) {
	b := New(Options{Public: config.Broker{Variant: "carrier-pigeon"}, Store: memory.New()})
	defer b.Close()
	_, ok := b.(*Polling)
	assert.True(t, ok)
}

func TestNewKafkaUnreachableFallsBackToPolling(t *testing.T) {
	b := New(Options{
		Public: config.Broker{Variant: VariantKafka, ConnectTimeout: 1},
		Kafka:  config.Kafka{Brokers: []string{"127.0.0.1:1"}, Topic: "basement-messages"},
		Store:  memory.New(),
	})
	defer b.Close()
	_, ok := b.(*Polling)
	assert.True(t, ok, "unreachable transport must degrade to polling, not fail")
}

func TestNewKafkaNoBrokersFallsBack(t *testing.T) {
	b := New(Options{
		Public: config.Broker{Variant: VariantKafka},
		Store:  memory.New(),
	})
	defer b.Close()
	_, ok := b.(*Polling)
	assert.True(t, ok)
}

func TestQueueKeepsOrder(t *testing.T) {
	received := make(chan domain.Message, queueBuffer)
	q := newQueue(VariantChangeFeed, func(msg domain.Message) {
		received <- msg
	})
	defer q.close()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		q.push(domain.Message{Id: string(rune('a' + i)), CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	got := collectMessages(t, received, 5, time.Second)
	for i := 1; i < len(got); i++ {
		require.True(t, got[i].CreatedAt.After(got[i-1].CreatedAt))
	}
}

func TestQueueCloseTwice(t *testing.T) {
	q := newQueue(VariantChangeFeed, func(domain.Message) {})
	q.close()
	q.close()
	// pushing after close is a silent no-op
	q.push(domain.Message{})
}
