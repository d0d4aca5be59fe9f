package events

import (
	"strings"

	"github.com/openclaw/mission-control/pkg/models"
)

// Filter decides which events a stream delivers, built from the user's
// subscription set. An empty filter matches everything.
type Filter struct {
	projects   map[string]struct{}
	tasks      map[string]struct{}
	channels   map[string]struct{}
	typePrefix []string
}

// NewFilter builds a filter from subscriptions.
func NewFilter(subs []models.Subscription) *Filter {
	f := &Filter{
		projects: map[string]struct{}{},
		tasks:    map[string]struct{}{},
		channels: map[string]struct{}{},
	}
	for _, sub := range subs {
		switch sub.TopicKind {
		case models.TopicKindProject:
			f.projects[sub.TopicID] = struct{}{}
		case models.TopicKindTask:
			f.tasks[sub.TopicID] = struct{}{}
		case models.TopicKindChannel:
			f.channels[sub.TopicID] = struct{}{}
		case models.TopicKindEventType:
			f.typePrefix = append(f.typePrefix, sub.TopicID)
		}
	}
	return f
}

// Empty reports whether the filter has no entries at all.
func (f *Filter) Empty() bool {
	return len(f.projects) == 0 && len(f.tasks) == 0 &&
		len(f.channels) == 0 && len(f.typePrefix) == 0
}

// Match reports whether ev passes the filter. An event matches when ANY
// entry matches: project, task or channel entries compare against the
// corresponding payload id, event type entries match by prefix.
func (f *Filter) Match(ev *models.Event) bool {
	if f.Empty() {
		return true
	}
	if _, ok := f.projects[ev.PayloadString("project_id")]; ok {
		return true
	}
	if _, ok := f.tasks[ev.PayloadString("task_id")]; ok {
		return true
	}
	if _, ok := f.channels[ev.PayloadString("channel_id")]; ok {
		return true
	}
	for _, prefix := range f.typePrefix {
		if strings.HasPrefix(ev.Type, prefix) {
			return true
		}
	}
	return false
}
