package domain

import "time"

// Vote is the single slot a participant holds on a post. At most one row
// exists per (PostId, Participant) pair.
type Vote struct {
	PostId      PostId        `json:"post_id"`
	Participant ParticipantId `json:"participant_id"`
	Direction   Direction     `json:"direction"`
}

// VoteCounts mirrors the denormalized counters on a post. They must always
// equal the number of Vote rows with the matching direction.
type VoteCounts struct {
	Likes    int64 `json:"likes"`
	Dislikes int64 `json:"dislikes"`
}

type Post struct {
	Id        PostId    `json:"id"`
	Board     string    `json:"board"`
	Likes     int64     `json:"likes"`
	Dislikes  int64     `json:"dislikes"`
	CreatedAt time.Time `json:"created_at"`
}

type VoteOp int8

const (
	VoteNoop VoteOp = iota
	VoteCreate
	VoteUpdate
	VoteDelete
)

// VoteTransition is one row of the vote state-transition table: what happens
// to the slot plus the counter deltas that must commit with it atomically.
type VoteTransition struct {
	Op        VoteOp
	Direction Direction // for VoteCreate / VoteUpdate
	DLikes    int64
	DDislikes int64
}
