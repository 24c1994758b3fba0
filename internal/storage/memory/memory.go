// Package memory is an in-process storage implementation sharing the
// contract of the pg storage. It backs the polling broker in tests and any
// deployment without Postgres.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basement-chat/basement/shared/domain"
	"github.com/basement-chat/basement/shared/errors"
)

type voteKey struct {
	post        domain.PostId
	participant domain.ParticipantId
}

type Storage struct {
	// Now is the clock used for message timestamps, overridable in tests.
	Now func() time.Time

	mu          sync.Mutex
	posts       map[domain.PostId]*domain.Post
	votes       map[voteKey]domain.Direction
	channels    map[domain.ChannelSlug]domain.Channel
	messages    map[domain.MsgId]*domain.Message
	nextPost    domain.PostId
	nextChannel domain.ChannelId
}

func New() *Storage {
	return &Storage{
		Now:      time.Now,
		posts:    make(map[domain.PostId]*domain.Post),
		votes:    make(map[voteKey]domain.Direction),
		channels: make(map[domain.ChannelSlug]domain.Channel),
		messages: make(map[domain.MsgId]*domain.Message),
	}
}

func (s *Storage) CreatePost(board string) (domain.PostId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPost++
	s.posts[s.nextPost] = &domain.Post{Id: s.nextPost, Board: board, CreatedAt: s.Now().UTC()}
	return s.nextPost, nil
}

func (s *Storage) GetPost(id domain.PostId) (*domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[id]
	if !ok {
		return nil, errors.NotFound("Post not found")
	}
	copied := *post
	return &copied, nil
}

// ApplyVote runs one atomic vote transition. The decide callback receives
// the participant's current slot (nil when none) while the store is locked,
// so concurrent transitions for the same (post, participant) serialize and
// the counter deltas commit together with the slot mutation.
func (s *Storage) ApplyVote(post domain.PostId, participant domain.ParticipantId, decide func(existing *domain.Direction) (domain.VoteTransition, error)) (domain.VoteCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[post]
	if !ok {
		return domain.VoteCounts{}, errors.NotFound("Post not found")
	}

	key := voteKey{post, participant}
	var existing *domain.Direction
	if dir, ok := s.votes[key]; ok {
		existing = &dir
	}

	tr, err := decide(existing)
	if err != nil {
		return domain.VoteCounts{}, err
	}

	switch tr.Op {
	case domain.VoteCreate, domain.VoteUpdate:
		s.votes[key] = tr.Direction
	case domain.VoteDelete:
		delete(s.votes, key)
	}
	p.Likes += tr.DLikes
	p.Dislikes += tr.DDislikes

	return domain.VoteCounts{Likes: p.Likes, Dislikes: p.Dislikes}, nil
}

func (s *Storage) GetCounts(post domain.PostId) (domain.VoteCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[post]
	if !ok {
		return domain.VoteCounts{}, errors.NotFound("Post not found")
	}
	return domain.VoteCounts{Likes: p.Likes, Dislikes: p.Dislikes}, nil
}

// CountVotes recomputes counts from the ledger by scan. Test helper for
// checking the incremental counters never drift.
func (s *Storage) CountVotes(post domain.PostId) (domain.VoteCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts domain.VoteCounts
	for key, dir := range s.votes {
		if key.post != post {
			continue
		}
		if dir == domain.Like {
			counts.Likes++
		} else {
			counts.Dislikes++
		}
	}
	return counts, nil
}

func (s *Storage) CreateChannel(slug domain.ChannelSlug, name string) (domain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[slug]; ok {
		return domain.Channel{}, errors.Conflict("Channel already exists")
	}
	s.nextChannel++
	ch := domain.Channel{Id: s.nextChannel, Slug: slug, Name: name, CreatedAt: s.Now().UTC()}
	s.channels[slug] = ch
	return ch, nil
}

func (s *Storage) GetChannel(slug domain.ChannelSlug) (domain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[slug]
	if !ok {
		return domain.Channel{}, errors.NotFound("Channel not found")
	}
	return ch, nil
}

func (s *Storage) CreateMessage(channel domain.ChannelSlug, author domain.ParticipantId, text, imageRef string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channel]
	if !ok {
		return domain.Message{}, errors.NotFound("Channel not found")
	}

	msg := domain.Message{
		Id:        uuid.NewString(),
		ChannelId: ch.Id,
		Channel:   ch.Slug,
		Author:    author,
		Text:      text,
		ImageRef:  imageRef,
		CreatedAt: s.Now().UTC(),
	}
	s.messages[msg.Id] = &msg
	return msg, nil
}

func (s *Storage) GetMessage(id domain.MsgId) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return domain.Message{}, errors.NotFound("Message not found")
	}
	return *msg, nil
}

// ListMessages returns up to limit messages of a channel created strictly
// after the given time, ascending by creation time.
func (s *Storage) ListMessages(channel domain.ChannelSlug, after time.Time, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channel]
	if !ok {
		return nil, errors.NotFound("Channel not found")
	}

	var out []domain.Message
	for _, msg := range s.messages {
		if msg.ChannelId == ch.Id && msg.CreatedAt.After(after) {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Id < out[j].Id
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListMessagesSince returns messages created at or after the given time.
// The inclusive bound lets pollers re-read the watermark instant and dedupe
// by id, so two messages sharing one timestamp are never lost.
func (s *Storage) ListMessagesSince(channel domain.ChannelSlug, since time.Time, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channel]
	if !ok {
		return nil, errors.NotFound("Channel not found")
	}

	var out []domain.Message
	for _, msg := range s.messages {
		if msg.ChannelId == ch.Id && !msg.CreatedAt.Before(since) {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Id < out[j].Id
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LastMessages returns the newest limit messages of a channel in ascending
// order, the subscribe-time backfill.
func (s *Storage) LastMessages(channel domain.ChannelSlug, limit int) ([]domain.Message, error) {
	all, err := s.ListMessages(channel, time.Time{}, 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *Storage) SoftDeleteMessages(cutoff time.Time, batch int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, msg := range s.messages {
		if batch > 0 && n >= batch {
			break
		}
		if !msg.Deleted && msg.CreatedAt.Before(cutoff) {
			msg.Deleted = true
			msg.Text = domain.Tombstone
			msg.ImageRef = ""
			n++
		}
	}
	return n, nil
}

func (s *Storage) HardDeleteMessages(cutoff time.Time, batch int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, msg := range s.messages {
		if batch > 0 && n >= batch {
			break
		}
		if msg.Deleted && msg.CreatedAt.Before(cutoff) {
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}
