package events

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/mission-control/pkg/fabric"
	"github.com/openclaw/mission-control/pkg/models"
)

type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) Flush() {}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

type fakeSubs struct {
	subs []models.Subscription
}

func (f *fakeSubs) List(_ context.Context, _, _ uuid.UUID) ([]models.Subscription, error) {
	return f.subs, nil
}

type streamFixture struct {
	engine *StreamEngine
	log    *fakeLog
	ring   *fabric.RingBuffer
	pubsub *fabric.PubSub
	reg    *fabric.Registry
}

func newStreamFixture(t *testing.T, limit int, subs []models.Subscription) *streamFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := &fakeLog{}
	ring := fabric.NewRingBuffer(client)
	pubsub := fabric.NewPubSub(client)
	reg := fabric.NewRegistry(client, limit)

	engine := NewStreamEngine(log, ring, reg, pubsub, &fakeSubs{subs: subs}, discardLogger())
	engine.heartbeat = 10 * time.Millisecond

	return &streamFixture{engine: engine, log: log, ring: ring, pubsub: pubsub, reg: reg}
}

// seed appends an event to the fake log and mirrors it into the ring
// buffer the way the broadcaster does.
func (fx *streamFixture) seed(t *testing.T, orgID uuid.UUID, eventType string, toRing bool) *models.Event {
	t.Helper()
	stored, err := fx.log.Append(context.Background(), models.Event{
		OrgID: orgID,
		Type:  eventType,
	})
	require.NoError(t, err)
	if toRing {
		payload, err := stored.Encode()
		require.NoError(t, err)
		require.NoError(t, fx.ring.Push(context.Background(), orgID, payload))
	}
	return stored
}

func serveAsync(t *testing.T, fx *streamFixture, w StreamWriter, p models.Principal, lastEventID string) (cancel func(), done chan error) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done = make(chan error, 1)
	go func() {
		done <- fx.engine.Serve(ctx, w, p, lastEventID)
	}()
	return cancelCtx, done
}

func waitFor(t *testing.T, w *syncWriter, substr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(w.String()), []byte(substr))
	}, 2*time.Second, 5*time.Millisecond, "stream output: %q", w.String())
}

func TestStreamEngine_ReplayFromBuffer(t *testing.T) {
	fx := newStreamFixture(t, 10, nil)
	orgID := uuid.New()
	for i := 0; i < 5; i++ {
		fx.seed(t, orgID, "task.created", true)
	}

	w := &syncWriter{}
	cancel, done := serveAsync(t, fx, w, models.Principal{OrgID: orgID, UserID: uuid.New()}, "2")

	waitFor(t, w, "id: 5")
	cancel()
	require.NoError(t, <-done)

	out := w.String()
	assert.NotContains(t, out, "id: 1\n")
	assert.NotContains(t, out, "id: 2\n")
	assert.Contains(t, out, "id: 3\n")
	assert.Contains(t, out, "id: 4\n")
	assert.Contains(t, out, "id: 5\n")
	assert.NotContains(t, out, TypeEventsReset)
}

func TestStreamEngine_ReplayFallsBackToLog(t *testing.T) {
	fx := newStreamFixture(t, 10, nil)
	orgID := uuid.New()
	// Events 1-3 only in the log, 4-5 also buffered. The buffer cannot
	// cover a cursor of 1, so the log serves the replay.
	for i := 0; i < 3; i++ {
		fx.seed(t, orgID, "task.created", false)
	}
	for i := 0; i < 2; i++ {
		fx.seed(t, orgID, "task.created", true)
	}

	w := &syncWriter{}
	cancel, done := serveAsync(t, fx, w, models.Principal{OrgID: orgID, UserID: uuid.New()}, "1")

	waitFor(t, w, "id: 5")
	cancel()
	require.NoError(t, <-done)

	out := w.String()
	assert.Contains(t, out, "id: 2\n")
	assert.Contains(t, out, "id: 3\n")
	assert.Contains(t, out, "id: 4\n")
	assert.NotContains(t, out, TypeEventsReset)
}

func TestStreamEngine_ReplaySortsBufferBySequence(t *testing.T) {
	fx := newStreamFixture(t, 10, nil)
	orgID := uuid.New()
	var stored []*models.Event
	for i := 0; i < 3; i++ {
		stored = append(stored, fx.seed(t, orgID, "task.created", false))
	}

	// Concurrent appenders can reach the buffer out of commit order.
	for _, ev := range []*models.Event{stored[0], stored[2], stored[1]} {
		payload, err := ev.Encode()
		require.NoError(t, err)
		require.NoError(t, fx.ring.Push(context.Background(), orgID, payload))
	}

	w := &syncWriter{}
	cancel, done := serveAsync(t, fx, w, models.Principal{OrgID: orgID, UserID: uuid.New()}, "0")
	waitFor(t, w, "id: 3")
	cancel()
	require.NoError(t, <-done)

	out := w.String()
	assert.NotContains(t, out, TypeEventsReset)
	assert.Less(t, strings.Index(out, "id: 1\n"), strings.Index(out, "id: 2\n"))
	assert.Less(t, strings.Index(out, "id: 2\n"), strings.Index(out, "id: 3\n"))
}

func TestStreamEngine_NoDuplicateAcrossReplayAndLive(t *testing.T) {
	fx := newStreamFixture(t, 10, nil)
	orgID := uuid.New()
	var stored []*models.Event
	for i := 0; i < 3; i++ {
		stored = append(stored, fx.seed(t, orgID, "task.created", true))
	}

	w := &syncWriter{}
	cancel, done := serveAsync(t, fx, w, models.Principal{OrgID: orgID, UserID: uuid.New()}, "0")
	waitFor(t, w, "id: 3")

	// The subscription opens before the replay snapshot, so an event that
	// was already replayed can arrive again on the live feed.
	payload, err := stored[2].Encode()
	require.NoError(t, err)
	require.NoError(t, fx.pubsub.PublishEvent(context.Background(), payload))

	fresh := fx.seed(t, orgID, "task.created", true)
	payload, err = fresh.Encode()
	require.NoError(t, err)
	require.NoError(t, fx.pubsub.PublishEvent(context.Background(), payload))

	waitFor(t, w, "id: 4")
	cancel()
	require.NoError(t, <-done)

	out := w.String()
	assert.Equal(t, 1, strings.Count(out, "id: 3\n"))
	assert.Equal(t, 1, strings.Count(out, "id: 4\n"))
}

func TestStreamEngine_ResetWhenCursorExpired(t *testing.T) {
	fx := newStreamFixture(t, 10, nil)
	orgID := uuid.New()
	// Simulate retention: the log starts at sequence 10.
	fx.log.nextSeq = 9
	fx.seed(t, orgID, "task.created", false)

	w := &syncWriter{}
	cancel, done := serveAsync(t, fx, w, models.Principal{OrgID: orgID, UserID: uuid.New()}, "2")

	waitFor(t, w, TypeEventsReset)
	cancel()
	require.NoError(t, <-done)

	assert.Contains(t, w.String(), `{"reason":"cursor_expired"}`)
}

func TestStreamEngine_ConnectionLimit(t *testing.T) {
	fx := newStreamFixture(t, 0, nil)
	w := &syncWriter{}

	err := fx.engine.Serve(context.Background(), w,
		models.Principal{OrgID: uuid.New(), UserID: uuid.New()}, "")
	require.ErrorIs(t, err, fabric.ErrConnectionLimit)
	assert.Empty(t, w.String())
}

func TestStreamEngine_ReleasesSlotOnExit(t *testing.T) {
	fx := newStreamFixture(t, 1, nil)
	orgID := uuid.New()
	w := &syncWriter{}

	cancel, done := serveAsync(t, fx, w, models.Principal{OrgID: orgID, UserID: uuid.New()}, "")
	waitFor(t, w, ": heartbeat")
	cancel()
	require.NoError(t, <-done)

	n, err := fx.reg.Count(context.Background(), fabric.StreamSSE, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestStreamEngine_LiveDelivery(t *testing.T) {
	fx := newStreamFixture(t, 10, nil)
	orgID := uuid.New()
	w := &syncWriter{}

	cancel, done := serveAsync(t, fx, w, models.Principal{OrgID: orgID, UserID: uuid.New()}, "")
	waitFor(t, w, ": heartbeat")

	stored := fx.seed(t, orgID, "task.created", true)
	payload, err := stored.Encode()
	require.NoError(t, err)
	require.NoError(t, fx.pubsub.PublishEvent(context.Background(), payload))

	waitFor(t, w, "event: task.created")
	cancel()
	require.NoError(t, <-done)
	assert.Contains(t, w.String(), "id: 1\n")
}

func TestStreamEngine_LiveDropsOtherOrgs(t *testing.T) {
	fx := newStreamFixture(t, 10, nil)
	orgID := uuid.New()
	w := &syncWriter{}

	cancel, done := serveAsync(t, fx, w, models.Principal{OrgID: orgID, UserID: uuid.New()}, "")
	waitFor(t, w, ": heartbeat")

	other := fx.seed(t, uuid.New(), "secret.created", false)
	payload, err := other.Encode()
	require.NoError(t, err)
	require.NoError(t, fx.pubsub.PublishEvent(context.Background(), payload))

	mine := fx.seed(t, orgID, "task.created", false)
	payload, err = mine.Encode()
	require.NoError(t, err)
	require.NoError(t, fx.pubsub.PublishEvent(context.Background(), payload))

	waitFor(t, w, "event: task.created")
	cancel()
	require.NoError(t, <-done)
	assert.NotContains(t, w.String(), "secret.created")
}

func TestStreamEngine_LiveAppliesFilter(t *testing.T) {
	fx := newStreamFixture(t, 10, []models.Subscription{
		{TopicKind: models.TopicKindEventType, TopicID: "message."},
	})
	orgID := uuid.New()
	w := &syncWriter{}

	cancel, done := serveAsync(t, fx, w, models.Principal{OrgID: orgID, UserID: uuid.New()}, "")
	waitFor(t, w, ": heartbeat")

	for _, eventType := range []string{"task.created", "message.created"} {
		stored := fx.seed(t, orgID, eventType, false)
		payload, err := stored.Encode()
		require.NoError(t, err)
		require.NoError(t, fx.pubsub.PublishEvent(context.Background(), payload))
	}

	waitFor(t, w, "event: message.created")
	cancel()
	require.NoError(t, <-done)
	assert.NotContains(t, w.String(), "event: task.created")
}

func TestStreamEngine_RevocationEndsStream(t *testing.T) {
	fx := newStreamFixture(t, 10, nil)
	orgID := uuid.New()
	p := models.Principal{OrgID: orgID, UserID: uuid.New(), CredentialID: "cred-7"}
	w := &syncWriter{}

	_, done := serveAsync(t, fx, w, p, "")
	waitFor(t, w, ": heartbeat")

	require.NoError(t, fx.reg.Revoke(context.Background(), orgID, "cred-7"))

	// Heartbeat wakeups accumulate until the periodic revocation check
	// fires and terminates the stream.
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate after revocation")
	}
	assert.Contains(t, w.String(), TypeSessionRevoked)
	assert.Contains(t, w.String(), fmt.Sprintf("event: %s", TypeSessionRevoked))
}
