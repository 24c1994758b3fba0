package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basement-chat/basement/internal/storage/memory"
	"github.com/basement-chat/basement/shared/config"
	"github.com/basement-chat/basement/shared/domain"
)

func newSweeperFixture(t *testing.T, batch int) (*Sweeper, *memory.Storage) {
	t.Helper()
	store := memory.New()
	_, err := store.CreateChannel("lounge", "The Lounge")
	require.NoError(t, err)

	sweeper, err := NewSweeper(store, config.Retention{
		SoftDeleteAfter: 30,
		HardDeleteAfter: 60,
		SweepBatchSize:  batch,
	})
	require.NoError(t, err)
	return sweeper, store
}

func seedMessage(t *testing.T, store *memory.Storage, age time.Duration, now time.Time) domain.Message {
	t.Helper()
	store.Now = func() time.Time { return now.Add(-age) }
	msg, err := store.CreateMessage("lounge", "aabbccdd", "hello", "uploads/pic.png")
	require.NoError(t, err)
	return msg
}

func TestSweeperRejectsInvertedThresholds(t *testing.T) {
	_, err := NewSweeper(memory.New(), config.Retention{
		SoftDeleteAfter: 60,
		HardDeleteAfter: 30,
	})
	require.Error(t, err)
}

func TestSweepTwoPhases(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sweeper, store := newSweeperFixture(t, 100)
	sweeper.now = func() time.Time { return now }

	fresh := seedMessage(t, store, 24*time.Hour, now)
	aging := seedMessage(t, store, 31*24*time.Hour, now)
	ancient := seedMessage(t, store, 61*24*time.Hour, now)

	require.NoError(t, sweeper.RunSweep())
	stats := sweeper.LastRunStats()
	assert.Equal(t, 1, stats.SoftDeleted)
	assert.Equal(t, 1, stats.HardDeleted)

	// fresh message untouched
	got, err := store.GetMessage(fresh.Id)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)

	// aging message tombstoned, body and image gone, row still listable
	got, err = store.GetMessage(aging.Id)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, domain.Tombstone, got.Text)
	assert.Empty(t, got.ImageRef)

	// ancient message gone entirely
	_, err = store.GetMessage(ancient.Id)
	require.Error(t, err)

	// a second run has nothing left to do
	require.NoError(t, sweeper.RunSweep())
	stats = sweeper.LastRunStats()
	assert.Equal(t, 0, stats.SoftDeleted)
	assert.Equal(t, 0, stats.HardDeleted)
}

func TestSweepStatsReadableWhileSweeping(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sweeper, store := newSweeperFixture(t, 100)
	sweeper.now = func() time.Time { return now }
	seedMessage(t, store, 40*24*time.Hour, now)

	// reading stats while a sweep runs must be safe under the race detector
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			sweeper.LastRunStats()
		}
	}()
	for i := 0; i < 10; i++ {
		require.NoError(t, sweeper.RunSweep())
	}
	<-done

	assert.Equal(t, 0, sweeper.LastRunStats().SoftDeleted)
}

func TestSweepDrainsBacklogInBatches(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sweeper, store := newSweeperFixture(t, 2)
	sweeper.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		seedMessage(t, store, 40*24*time.Hour, now)
	}

	require.NoError(t, sweeper.RunSweep())
	assert.Equal(t, 5, sweeper.LastRunStats().SoftDeleted)

	msgs, err := store.ListMessages("lounge", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for _, msg := range msgs {
		assert.True(t, msg.Deleted)
	}
}
