package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basement-chat/basement/internal/identity"
	"github.com/basement-chat/basement/internal/storage/memory"
	"github.com/basement-chat/basement/shared/domain"
	"github.com/basement-chat/basement/shared/errors"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []domain.Message
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, _ domain.ChannelSlug, msg domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	return nil
}

func newMessageFixture(t *testing.T) (*Message, *memory.Storage, *fakePublisher) {
	t.Helper()
	store := memory.New()
	_, err := store.CreateChannel("lounge", "The Lounge")
	require.NoError(t, err)
	pub := &fakePublisher{}
	svc := NewMessage(store, pub, identity.New("test-salt"), 500, 50).(*Message)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return svc, store, pub
}

func TestMessageAppendAndPublish(t *testing.T) {
	svc, store, pub := newMessageFixture(t)

	msg, err := svc.Append(context.Background(), wallet(1), "lounge", "gm everyone", "")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.Id)
	assert.Equal(t, "gm everyone", msg.Text)
	assert.Len(t, msg.Author, 8)

	require.Len(t, pub.published, 1)
	assert.Equal(t, msg, pub.published[0])

	stored, err := store.GetMessage(msg.Id)
	require.NoError(t, err)
	assert.Equal(t, msg, stored)
}

func TestMessageAppendSanitizesMarkup(t *testing.T) {
	svc, _, _ := newMessageFixture(t)

	msg, err := svc.Append(context.Background(), wallet(1), "lounge", `hello <script>alert(1)</script> world`, "")
	require.NoError(t, err)
	assert.Equal(t, "hello  world", msg.Text)
}

func TestMessageAppendValidation(t *testing.T) {
	svc, _, _ := newMessageFixture(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, wallet(1), "lounge", "   ", "")
	require.Error(t, err)
	assert.Equal(t, 400, errors.StatusCode(err))

	// markup-only text collapses to empty after sanitizing
	_, err = svc.Append(ctx, wallet(1), "lounge", "<b></b>", "")
	require.Error(t, err)
	assert.Equal(t, 400, errors.StatusCode(err))

	_, err = svc.Append(ctx, wallet(1), "lounge", strings.Repeat("a", 501), "")
	require.Error(t, err)
	assert.Equal(t, 400, errors.StatusCode(err))

	// an image with no text is a valid message
	msg, err := svc.Append(ctx, wallet(1), "lounge", "", "uploads/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "uploads/cat.png", msg.ImageRef)
}

func TestMessageAppendBadCredential(t *testing.T) {
	svc, _, _ := newMessageFixture(t)
	_, err := svc.Append(context.Background(), "0xnope", "lounge", "hi", "")
	require.Error(t, err)
	assert.Equal(t, 401, errors.StatusCode(err))
}

func TestMessageAppendUnknownChannel(t *testing.T) {
	svc, _, _ := newMessageFixture(t)
	_, err := svc.Append(context.Background(), wallet(1), "void", "hi", "")
	require.Error(t, err)
	assert.Equal(t, 404, errors.StatusCode(err))
}

func TestMessageAppendSurvivesBrokerFailure(t *testing.T) {
	svc, store, pub := newMessageFixture(t)
	pub.err = errors.TransportUnavailable

	msg, err := svc.Append(context.Background(), wallet(1), "lounge", "still here", "")
	require.NoError(t, err)

	stored, err := store.GetMessage(msg.Id)
	require.NoError(t, err)
	assert.Equal(t, "still here", stored.Text)
}

func TestMessageAuthorScopedPerChannel(t *testing.T) {
	svc, store, _ := newMessageFixture(t)
	_, err := store.CreateChannel("alpha", "Alpha")
	require.NoError(t, err)
	ctx := context.Background()

	first, err := svc.Append(ctx, wallet(1), "lounge", "one", "")
	require.NoError(t, err)
	second, err := svc.Append(ctx, wallet(1), "lounge", "two", "")
	require.NoError(t, err)
	other, err := svc.Append(ctx, wallet(1), "alpha", "three", "")
	require.NoError(t, err)

	assert.Equal(t, first.Author, second.Author)
	assert.NotEqual(t, first.Author, other.Author)
}

func TestMessageListClampsLimit(t *testing.T) {
	svc, _, _ := newMessageFixture(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		_, err := svc.Append(ctx, wallet(1), "lounge", "msg", "")
		require.NoError(t, err)
	}

	msgs, err := svc.List(ctx, "lounge", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 50)

	msgs, err = svc.List(ctx, "lounge", time.Time{}, 1000)
	require.NoError(t, err)
	assert.Len(t, msgs, 50)

	msgs, err = svc.Backfill(ctx, "lounge", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 10)
}

func TestMessageCreateChannel(t *testing.T) {
	svc, _, _ := newMessageFixture(t)
	ctx := context.Background()

	ch, err := svc.CreateChannel(ctx, "general", "General")
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelSlug("general"), ch.Slug)

	_, err = svc.CreateChannel(ctx, "general", "General")
	require.Error(t, err)
	assert.Equal(t, 409, errors.StatusCode(err))

	_, err = svc.CreateChannel(ctx, "", "Nameless")
	require.Error(t, err)
	assert.Equal(t, 400, errors.StatusCode(err))
}
