package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basement-chat/basement/shared/domain"
)

func TestApplyVoteUnknownPost(t *testing.T) {
	s := New()
	_, err := s.ApplyVote(42, "p1", func(existing *domain.Direction) (domain.VoteTransition, error) {
		t.Fatal("decide must not run for a missing post")
		return domain.VoteTransition{}, nil
	})
	assert.Error(t, err)
}

func TestApplyVoteCommitsSlotAndCounters(t *testing.T) {
	s := New()
	post, err := s.CreatePost("biz")
	require.NoError(t, err)

	counts, err := s.ApplyVote(post, "p1", func(existing *domain.Direction) (domain.VoteTransition, error) {
		assert.Nil(t, existing)
		return domain.VoteTransition{Op: domain.VoteCreate, Direction: domain.Like, DLikes: 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.VoteCounts{Likes: 1}, counts)

	// second transition sees the stored slot
	counts, err = s.ApplyVote(post, "p1", func(existing *domain.Direction) (domain.VoteTransition, error) {
		require.NotNil(t, existing)
		assert.Equal(t, domain.Like, *existing)
		return domain.VoteTransition{Op: domain.VoteDelete, DLikes: -1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.VoteCounts{}, counts)
	ledger, err := s.CountVotes(post)
	require.NoError(t, err)
	assert.Equal(t, domain.VoteCounts{}, ledger)
}

func TestApplyVoteDecideErrorAborts(t *testing.T) {
	s := New()
	post, err := s.CreatePost("biz")
	require.NoError(t, err)

	_, err = s.ApplyVote(post, "p1", func(existing *domain.Direction) (domain.VoteTransition, error) {
		return domain.VoteTransition{}, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	counts, err := s.GetCounts(post)
	require.NoError(t, err)
	assert.Equal(t, domain.VoteCounts{}, counts)
}

func TestMessagesOrderedListing(t *testing.T) {
	s := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }

	_, err := s.CreateChannel("general", "General")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		_, err := s.CreateMessage("general", "p1", "hello", "")
		require.NoError(t, err)
	}

	msgs, err := s.ListMessages("general", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}

	after, err := s.ListMessages("general", msgs[0].CreatedAt, 0)
	require.NoError(t, err)
	assert.Len(t, after, 2)

	last, err := s.LastMessages("general", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, msgs[1].Id, last[0].Id)
}

func TestListMessagesSinceIncludesBound(t *testing.T) {
	s := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }

	_, err := s.CreateChannel("general", "General")
	require.NoError(t, err)

	// two messages share one timestamp, a third lands a second later
	first, err := s.CreateMessage("general", "p1", "first", "")
	require.NoError(t, err)
	second, err := s.CreateMessage("general", "p1", "second", "")
	require.NoError(t, err)
	now = now.Add(time.Second)
	_, err = s.CreateMessage("general", "p1", "third", "")
	require.NoError(t, err)

	msgs, err := s.ListMessagesSince("general", first.CreatedAt, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3, "messages at the bound itself are included")

	ids := []domain.MsgId{msgs[0].Id, msgs[1].Id}
	assert.Contains(t, ids, first.Id)
	assert.Contains(t, ids, second.Id)
	assert.Equal(t, "third", msgs[2].Text)
}

func TestListMessagesUnknownChannel(t *testing.T) {
	s := New()
	_, err := s.ListMessages("nope", time.Time{}, 0)
	assert.Error(t, err)
}

func TestRetentionBatches(t *testing.T) {
	s := New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now.Add(-72 * time.Hour) }

	_, err := s.CreateChannel("general", "General")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := s.CreateMessage("general", "p1", "old", "img")
		require.NoError(t, err)
	}

	n, err := s.SoftDeleteMessages(now, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.SoftDeleteMessages(now, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	msgs, err := s.ListMessages("general", time.Time{}, 0)
	require.NoError(t, err)
	for _, msg := range msgs {
		assert.True(t, msg.Deleted)
		assert.Equal(t, domain.Tombstone, msg.Text)
		assert.Empty(t, msg.ImageRef)
	}

	n, err = s.HardDeleteMessages(now, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	msgs, err = s.ListMessages("general", time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
