package service

import (
	"context"
	"time"

	"github.com/basement-chat/basement/shared/domain"
	"github.com/basement-chat/basement/shared/errors"
	"github.com/basement-chat/basement/shared/logger"
)

type VoteService interface {
	// Cast upserts the caller's vote on a post. Casting the direction the
	// caller already holds is a no-op, the opposite direction flips the
	// slot and both counters atomically.
	Cast(ctx context.Context, credential domain.Credential, post domain.PostId, direction domain.Direction) (domain.VoteCounts, error)
	// Retract removes the caller's vote if one exists; retracting a
	// missing vote is a no-op, not an error.
	Retract(ctx context.Context, credential domain.Credential, post domain.PostId) (domain.VoteCounts, error)
	Counts(ctx context.Context, post domain.PostId) (domain.VoteCounts, error)
}

type VoteStorage interface {
	GetPost(id domain.PostId) (*domain.Post, error)
	ApplyVote(post domain.PostId, participant domain.ParticipantId, decide func(existing *domain.Direction) (domain.VoteTransition, error)) (domain.VoteCounts, error)
	GetCounts(post domain.PostId) (domain.VoteCounts, error)
}

// CountsCache is the optional Redis accelerator for GetCounts. A nil cache
// disables caching entirely.
type CountsCache interface {
	Get(ctx context.Context, post domain.PostId) (domain.VoteCounts, bool, error)
	Set(ctx context.Context, post domain.PostId, counts domain.VoteCounts) error
	Invalidate(ctx context.Context, post domain.PostId) error
}

type IdentityDeriver interface {
	Derive(credential domain.Credential, scope string, asOf time.Time) (domain.ParticipantId, error)
}

type Vote struct {
	storage VoteStorage
	cache   CountsCache
	deriver IdentityDeriver
	now     func() time.Time
}

func NewVote(storage VoteStorage, cache CountsCache, deriver IdentityDeriver) VoteService {
	return &Vote{storage: storage, cache: cache, deriver: deriver, now: time.Now}
}

// transition is the single state-transition table of the ledger, keyed by
// (existing direction, requested direction). A nil requested direction is a
// retraction. Counter deltas always match the slot mutation so both can
// commit in one unit of work.
func transition(existing *domain.Direction, requested *domain.Direction) (domain.VoteTransition, error) {
	if requested == nil {
		if existing == nil {
			return domain.VoteTransition{Op: domain.VoteNoop}, nil
		}
		tr := domain.VoteTransition{Op: domain.VoteDelete}
		if *existing == domain.Like {
			tr.DLikes = -1
		} else {
			tr.DDislikes = -1
		}
		return tr, nil
	}

	if !requested.Valid() {
		return domain.VoteTransition{}, errors.InvalidInput("Invalid vote direction")
	}

	if existing == nil {
		tr := domain.VoteTransition{Op: domain.VoteCreate, Direction: *requested}
		if *requested == domain.Like {
			tr.DLikes = 1
		} else {
			tr.DDislikes = 1
		}
		return tr, nil
	}

	if *existing == *requested {
		// double submission must not double count
		return domain.VoteTransition{Op: domain.VoteNoop}, nil
	}

	tr := domain.VoteTransition{Op: domain.VoteUpdate, Direction: *requested}
	if *requested == domain.Like {
		tr.DLikes, tr.DDislikes = 1, -1
	} else {
		tr.DLikes, tr.DDislikes = -1, 1
	}
	return tr, nil
}

func (v *Vote) Cast(ctx context.Context, credential domain.Credential, post domain.PostId, direction domain.Direction) (domain.VoteCounts, error) {
	if !direction.Valid() {
		return domain.VoteCounts{}, errors.InvalidInput("Invalid vote direction")
	}
	return v.apply(ctx, credential, post, &direction)
}

func (v *Vote) Retract(ctx context.Context, credential domain.Credential, post domain.PostId) (domain.VoteCounts, error) {
	return v.apply(ctx, credential, post, nil)
}

func (v *Vote) apply(ctx context.Context, credential domain.Credential, post domain.PostId, requested *domain.Direction) (domain.VoteCounts, error) {
	// the post's board is the identity scope: one wallet gets unlinkable
	// identities on different boards
	p, err := v.storage.GetPost(post)
	if err != nil {
		return domain.VoteCounts{}, err
	}
	participant, err := v.deriver.Derive(credential, p.Board, v.now())
	if err != nil {
		return domain.VoteCounts{}, err
	}

	counts, err := v.storage.ApplyVote(post, participant, func(existing *domain.Direction) (domain.VoteTransition, error) {
		return transition(existing, requested)
	})
	if err != nil {
		return domain.VoteCounts{}, err
	}

	v.invalidate(ctx, post)
	return counts, nil
}

func (v *Vote) Counts(ctx context.Context, post domain.PostId) (domain.VoteCounts, error) {
	if v.cache != nil {
		counts, hit, err := v.cache.Get(ctx, post)
		if err != nil {
			logger.Log.Warn("counts cache read failed", "post", post, "error", err)
		} else if hit {
			return counts, nil
		}
	}

	counts, err := v.storage.GetCounts(post)
	if err != nil {
		return domain.VoteCounts{}, err
	}

	if v.cache != nil {
		if err := v.cache.Set(ctx, post, counts); err != nil {
			logger.Log.Warn("counts cache write failed", "post", post, "error", err)
		}
	}
	return counts, nil
}

func (v *Vote) invalidate(ctx context.Context, post domain.PostId) {
	if v.cache == nil {
		return
	}
	if err := v.cache.Invalidate(ctx, post); err != nil {
		logger.Log.Warn("counts cache invalidation failed", "post", post, "error", err)
	}
}
