package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubSub_EventRoundTrip(t *testing.T) {
	ctx := context.Background()
	ps := NewPubSub(newTestClient(t))

	sub := ps.SubscribeEvents(ctx)
	defer sub.Close()

	// Wait for the subscription to be established before publishing.
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, ps.PublishEvent(ctx, []byte(`{"event_type":"task.created"}`)))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, EventsChannel, msg.Channel)
		assert.Equal(t, `{"event_type":"task.created"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPubSub_ChatChannelsAreOrgScoped(t *testing.T) {
	ctx := context.Background()
	ps := NewPubSub(newTestClient(t))
	orgA := uuid.New()
	orgB := uuid.New()

	sub := ps.SubscribeChat(ctx, orgA)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, ps.PublishChat(ctx, orgB, []byte(`{"type":"message"}`)))
	require.NoError(t, ps.PublishChat(ctx, orgA, []byte(`{"type":"typing"}`)))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, ChatChannel(orgA), msg.Channel)
		assert.Equal(t, `{"type":"typing"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chat frame")
	}
}
