package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openclaw/mission-control/pkg/models"
)

func TestFilter_EmptyMatchesEverything(t *testing.T) {
	f := NewFilter(nil)

	assert.True(t, f.Empty())
	assert.True(t, f.Match(&models.Event{Type: "task.created"}))
	assert.True(t, f.Match(&models.Event{Type: "anything.at.all"}))
}

func TestFilter_ProjectMatch(t *testing.T) {
	f := NewFilter([]models.Subscription{
		{TopicKind: models.TopicKindProject, TopicID: "proj-1"},
	})

	matching := &models.Event{
		Type:    "task.created",
		Payload: map[string]any{"project_id": "proj-1"},
	}
	other := &models.Event{
		Type:    "task.created",
		Payload: map[string]any{"project_id": "proj-2"},
	}

	assert.True(t, f.Match(matching))
	assert.False(t, f.Match(other))
}

func TestFilter_TaskAndChannelMatch(t *testing.T) {
	f := NewFilter([]models.Subscription{
		{TopicKind: models.TopicKindTask, TopicID: "task-9"},
		{TopicKind: models.TopicKindChannel, TopicID: "chan-3"},
	})

	assert.True(t, f.Match(&models.Event{
		Payload: map[string]any{"task_id": "task-9"},
	}))
	assert.True(t, f.Match(&models.Event{
		Payload: map[string]any{"channel_id": "chan-3"},
	}))
	assert.False(t, f.Match(&models.Event{
		Payload: map[string]any{"task_id": "task-1", "channel_id": "chan-1"},
	}))
}

func TestFilter_EventTypePrefixMatch(t *testing.T) {
	f := NewFilter([]models.Subscription{
		{TopicKind: models.TopicKindEventType, TopicID: "task."},
	})

	assert.True(t, f.Match(&models.Event{Type: "task.created"}))
	assert.True(t, f.Match(&models.Event{Type: "task.status_changed"}))
	assert.False(t, f.Match(&models.Event{Type: "message.created"}))
}

func TestFilter_AnyEntryMatches(t *testing.T) {
	f := NewFilter([]models.Subscription{
		{TopicKind: models.TopicKindProject, TopicID: "proj-1"},
		{TopicKind: models.TopicKindEventType, TopicID: "message."},
	})

	// Matches the type entry even though the project entry misses.
	assert.True(t, f.Match(&models.Event{
		Type:    "message.created",
		Payload: map[string]any{"project_id": "proj-other"},
	}))
	assert.False(t, f.Match(&models.Event{
		Type:    "task.created",
		Payload: map[string]any{"project_id": "proj-other"},
	}))
}

func TestFilter_MissingPayloadKeys(t *testing.T) {
	f := NewFilter([]models.Subscription{
		{TopicKind: models.TopicKindProject, TopicID: "proj-1"},
	})

	assert.False(t, f.Match(&models.Event{Type: "task.created"}))
	assert.False(t, f.Match(&models.Event{Type: "task.created", Payload: map[string]any{}}))
}
