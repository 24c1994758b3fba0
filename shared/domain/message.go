package domain

import "time"

// Tombstone replaces the text of a soft-deleted message.
const Tombstone = "[message removed]"

type Channel struct {
	Id        ChannelId   `json:"id"`
	Slug      ChannelSlug `json:"slug"`
	Name      string      `json:"name"`
	CreatedAt time.Time   `json:"created_at"`
}

// Message is one entry of a channel's append-only log. The message store
// exclusively owns writes; the broker only reads freshly created messages.
type Message struct {
	Id        MsgId         `json:"id"`
	ChannelId ChannelId     `json:"channel_id"`
	Channel   ChannelSlug   `json:"channel"`
	Author    ParticipantId `json:"author"`
	Text      string        `json:"text"`
	ImageRef  string        `json:"image_ref,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Deleted   bool          `json:"deleted"`
}
