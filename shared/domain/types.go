package domain

type (
	// Credential is the opaque wallet credential handed over by the auth
	// collaborator. The core never persists it raw.
	Credential = string

	// ParticipantId is the daily-rotating anonymous identity derived from a
	// Credential, scoped per board/channel.
	ParticipantId = string

	// SessionId identifies one client session for subscription tracking.
	SessionId = string

	ChannelId   = int64
	ChannelSlug = string
	PostId      = int64
	MsgId       = string
)

// Direction of a vote slot.
type Direction string

const (
	Like    Direction = "like"
	Dislike Direction = "dislike"
)

func (d Direction) Valid() bool {
	return d == Like || d == Dislike
}
