package bridge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	store, err := OpenStateStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStateStore_MappingRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	channelID := uuid.New()

	key := ProjectSessionKey("acme", "proj-1")
	require.NoError(t, store.SaveMapping(ctx, SessionMapping{
		SessionKey:  key,
		AgentID:     "agent-1",
		OrgSlug:     "acme",
		ChannelID:   channelID,
		ChannelType: "project",
	}))

	m, err := store.Mapping(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", m.AgentID)
	assert.Equal(t, channelID, m.ChannelID)
	assert.Equal(t, "project", m.ChannelType)

	byChannel, err := store.MappingForChannel(ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, key, byChannel.SessionKey)
}

func TestStateStore_MappingUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := SubSessionKey("acme", "thread-9")

	require.NoError(t, store.SaveMapping(ctx, SessionMapping{
		SessionKey: key, AgentID: "agent-1", OrgSlug: "acme",
		ChannelID: uuid.New(), ChannelType: "org_wide",
	}))

	next := uuid.New()
	require.NoError(t, store.SaveMapping(ctx, SessionMapping{
		SessionKey: key, AgentID: "agent-1", OrgSlug: "acme",
		ChannelID: next, ChannelType: "org_wide",
	}))

	m, err := store.Mapping(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, next, m.ChannelID)
}

func TestStateStore_MissingMapping(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Mapping(context.Background(), "mc:acme:project:missing")
	assert.ErrorIs(t, err, ErrNoMapping)

	_, err = store.MappingForChannel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNoMapping)
}

func TestStateStore_DeleteMapping(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := ProjectSessionKey("acme", "proj-2")

	require.NoError(t, store.SaveMapping(ctx, SessionMapping{
		SessionKey: key, AgentID: "agent-1", OrgSlug: "acme",
		ChannelID: uuid.New(), ChannelType: "project",
	}))
	require.NoError(t, store.DeleteMapping(ctx, key))

	_, err := store.Mapping(ctx, key)
	assert.ErrorIs(t, err, ErrNoMapping)

	// Deleting again is a no-op.
	assert.NoError(t, store.DeleteMapping(ctx, key))
}

func TestStateStore_CursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seq, err := store.Cursor(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	require.NoError(t, store.SaveCursor(ctx, "agent-1", "acme", 42))
	require.NoError(t, store.SaveCursor(ctx, "agent-1", "acme", 43))

	seq, err = store.Cursor(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(43), seq)

	require.NoError(t, store.ResetCursor(ctx, "agent-1"))
	seq, err = store.Cursor(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}

func TestStateStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := OpenStateStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveCursor(ctx, "agent-1", "acme", 7))
	require.NoError(t, store.Close())

	reopened, err := OpenStateStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	seq, err := reopened.Cursor(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)
}
