package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/basement-chat/basement/shared/domain"
	internal_errors "github.com/basement-chat/basement/shared/errors"
)

func (s *Storage) CreateChannel(slug domain.ChannelSlug, name string) (domain.Channel, error) {
	ch := domain.Channel{Slug: slug, Name: name, CreatedAt: time.Now().UTC().Round(time.Microsecond)}
	err := s.db.QueryRow(`
	INSERT INTO channels(slug, name, created_at)
	VALUES($1, $2, $3)
	ON CONFLICT (slug) DO NOTHING
	RETURNING id`, ch.Slug, ch.Name, ch.CreatedAt).Scan(&ch.Id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Channel{}, internal_errors.Conflict("Channel already exists")
		}
		return domain.Channel{}, err
	}
	return ch, nil
}

func (s *Storage) GetChannel(slug domain.ChannelSlug) (domain.Channel, error) {
	var ch domain.Channel
	err := s.db.QueryRow(`
	SELECT id, slug, name, created_at FROM channels WHERE slug = $1`, slug).
		Scan(&ch.Id, &ch.Slug, &ch.Name, &ch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Channel{}, internal_errors.NotFound("Channel not found")
		}
		return domain.Channel{}, err
	}
	return ch, nil
}

// CreateMessage appends to the channel log and returns the hydrated message.
// The broker publish happens strictly after this commits; persistence is the
// source of truth.
func (s *Storage) CreateMessage(channel domain.ChannelSlug, author domain.ParticipantId, text, imageRef string) (domain.Message, error) {
	ch, err := s.GetChannel(channel)
	if err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		Id:        uuid.NewString(),
		ChannelId: ch.Id,
		Channel:   ch.Slug,
		Author:    author,
		Text:      text,
		ImageRef:  imageRef,
		CreatedAt: time.Now().UTC().Round(time.Microsecond), // db rounds to microsecond anyway
	}
	_, err = s.db.Exec(`
	INSERT INTO messages(id, channel_id, author_id, text, image_ref, created_at, deleted)
	VALUES($1, $2, $3, $4, $5, $6, FALSE)`,
		msg.Id, msg.ChannelId, msg.Author, msg.Text, msg.ImageRef, msg.CreatedAt)
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func (s *Storage) GetMessage(id domain.MsgId) (domain.Message, error) {
	var msg domain.Message
	err := s.db.QueryRow(`
	SELECT m.id, m.channel_id, c.slug, m.author_id, m.text, m.image_ref, m.created_at, m.deleted
	FROM messages m JOIN channels c ON c.id = m.channel_id
	WHERE m.id = $1`, id).
		Scan(&msg.Id, &msg.ChannelId, &msg.Channel, &msg.Author, &msg.Text, &msg.ImageRef, &msg.CreatedAt, &msg.Deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Message{}, internal_errors.NotFound("Message not found")
		}
		return domain.Message{}, err
	}
	return msg, nil
}

func (s *Storage) ListMessages(channel domain.ChannelSlug, after time.Time, limit int) ([]domain.Message, error) {
	ch, err := s.GetChannel(channel)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
	SELECT m.id, m.channel_id, $3::text, m.author_id, m.text, m.image_ref, m.created_at, m.deleted
	FROM messages m
	WHERE m.channel_id = $1 AND m.created_at > $2
	ORDER BY m.created_at ASC, m.id ASC
	LIMIT $4`, ch.Id, after.UTC(), ch.Slug, nullableLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListMessagesSince returns messages created at or after the given time.
// The inclusive bound lets pollers re-read the watermark instant and dedupe
// by id, so two messages sharing one timestamp are never lost.
func (s *Storage) ListMessagesSince(channel domain.ChannelSlug, since time.Time, limit int) ([]domain.Message, error) {
	ch, err := s.GetChannel(channel)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
	SELECT m.id, m.channel_id, $3::text, m.author_id, m.text, m.image_ref, m.created_at, m.deleted
	FROM messages m
	WHERE m.channel_id = $1 AND m.created_at >= $2
	ORDER BY m.created_at ASC, m.id ASC
	LIMIT $4`, ch.Id, since.UTC(), ch.Slug, nullableLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// LastMessages returns the newest limit messages ascending, the
// subscribe-time backfill.
func (s *Storage) LastMessages(channel domain.ChannelSlug, limit int) ([]domain.Message, error) {
	ch, err := s.GetChannel(channel)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
	SELECT id, channel_id, slug, author_id, text, image_ref, created_at, deleted FROM (
		SELECT m.id, m.channel_id, $2::text AS slug, m.author_id, m.text, m.image_ref, m.created_at, m.deleted
		FROM messages m
		WHERE m.channel_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3
	) newest
	ORDER BY created_at ASC, id ASC`, ch.Id, ch.Slug, nullableLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *Storage) SoftDeleteMessages(cutoff time.Time, batch int) (int, error) {
	result, err := s.db.Exec(`
	UPDATE messages SET deleted = TRUE, text = $1, image_ref = ''
	WHERE id IN (
		SELECT id FROM messages
		WHERE NOT deleted AND created_at < $2
		LIMIT $3
	)`, domain.Tombstone, cutoff.UTC(), nullableLimit(batch))
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *Storage) HardDeleteMessages(cutoff time.Time, batch int) (int, error) {
	result, err := s.db.Exec(`
	DELETE FROM messages
	WHERE id IN (
		SELECT id FROM messages
		WHERE deleted AND created_at < $1
		LIMIT $2
	)`, cutoff.UTC(), nullableLimit(batch))
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	var out []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.Id, &msg.ChannelId, &msg.Channel, &msg.Author, &msg.Text, &msg.ImageRef, &msg.CreatedAt, &msg.Deleted); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// nullableLimit turns a non-positive limit into SQL NULL, which LIMIT
// treats as "no limit".
func nullableLimit(limit int) sql.NullInt64 {
	if limit <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(limit), Valid: true}
}
