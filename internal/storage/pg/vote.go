package pg

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/basement-chat/basement/shared/domain"
	internal_errors "github.com/basement-chat/basement/shared/errors"
)

func (s *Storage) CreatePost(board string) (domain.PostId, error) {
	var id domain.PostId
	createdTs := time.Now().UTC().Round(time.Microsecond)
	err := s.db.QueryRow(`
	INSERT INTO posts(board, likes, dislikes, created_at)
	VALUES($1, 0, 0, $2)
	RETURNING id`, board, createdTs).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Storage) GetPost(id domain.PostId) (*domain.Post, error) {
	var post domain.Post
	err := s.db.QueryRow(`
	SELECT id, board, likes, dislikes, created_at
	FROM posts
	WHERE id = $1`, id).Scan(&post.Id, &post.Board, &post.Likes, &post.Dislikes, &post.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal_errors.NotFound("Post not found")
		}
		return nil, err
	}
	return &post, nil
}

// ApplyVote runs one vote transition as a single transaction. The post row
// is locked first, which both yields NotFound for missing posts and
// serializes concurrent transitions on the same post, so the slot mutation
// and the counter deltas always commit together.
func (s *Storage) ApplyVote(post domain.PostId, participant domain.ParticipantId, decide func(existing *domain.Direction) (domain.VoteTransition, error)) (domain.VoteCounts, error) {
	var counts domain.VoteCounts

	tx, err := s.db.Begin()
	if err != nil {
		return counts, err
	}
	defer tx.Rollback() // ignored once the tx commits

	var board string
	err = tx.QueryRow(`SELECT board FROM posts WHERE id = $1 FOR UPDATE`, post).Scan(&board)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return counts, internal_errors.NotFound("Post not found")
		}
		return counts, err
	}

	var existing *domain.Direction
	var current domain.Direction
	err = tx.QueryRow(`
	SELECT direction FROM votes
	WHERE post_id = $1 AND participant_id = $2
	FOR UPDATE`, post, participant).Scan(&current)
	if err == nil {
		existing = &current
	} else if !errors.Is(err, sql.ErrNoRows) {
		return counts, err
	}

	tr, err := decide(existing)
	if err != nil {
		return counts, err
	}

	switch tr.Op {
	case domain.VoteCreate:
		if _, err := tx.Exec(`
		INSERT INTO votes(post_id, participant_id, direction)
		VALUES($1, $2, $3)`, post, participant, tr.Direction); err != nil {
			return counts, err
		}
	case domain.VoteUpdate:
		if _, err := tx.Exec(`
		UPDATE votes SET direction = $3
		WHERE post_id = $1 AND participant_id = $2`, post, participant, tr.Direction); err != nil {
			return counts, err
		}
	case domain.VoteDelete:
		if _, err := tx.Exec(`
		DELETE FROM votes
		WHERE post_id = $1 AND participant_id = $2`, post, participant); err != nil {
			return counts, err
		}
	}

	err = tx.QueryRow(`
	UPDATE posts SET likes = likes + $2, dislikes = dislikes + $3
	WHERE id = $1
	RETURNING likes, dislikes`, post, tr.DLikes, tr.DDislikes).Scan(&counts.Likes, &counts.Dislikes)
	if err != nil {
		return counts, err
	}

	if err := tx.Commit(); err != nil {
		return counts, fmt.Errorf("failed to commit vote transition: %w", err)
	}
	return counts, nil
}

func (s *Storage) GetCounts(post domain.PostId) (domain.VoteCounts, error) {
	var counts domain.VoteCounts
	err := s.db.QueryRow(`
	SELECT likes, dislikes FROM posts WHERE id = $1`, post).Scan(&counts.Likes, &counts.Dislikes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return counts, internal_errors.NotFound("Post not found")
		}
		return counts, err
	}
	return counts, nil
}

// CountVotes recomputes counts from the ledger by scan, used by integration
// tests to check counter consistency.
func (s *Storage) CountVotes(post domain.PostId) (domain.VoteCounts, error) {
	var counts domain.VoteCounts
	err := s.db.QueryRow(`
	SELECT
		COUNT(*) FILTER (WHERE direction = 'like'),
		COUNT(*) FILTER (WHERE direction = 'dislike')
	FROM votes WHERE post_id = $1`, post).Scan(&counts.Likes, &counts.Dislikes)
	return counts, err
}
