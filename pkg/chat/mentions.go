package chat

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Mentions use the @<uuid> form. Display-name mentions are a client
// concern; the wire format always carries the user id.
var mentionPattern = regexp.MustCompile(`(?i)@([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`)

// ParseMentions extracts the mentioned user ids from message content,
// deduplicated in order of first appearance.
func ParseMentions(content string) []uuid.UUID {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[uuid.UUID]struct{}, len(matches))
	var out []uuid.UUID
	for _, m := range matches {
		id, err := uuid.Parse(strings.ToLower(m[1]))
		if err != nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// unionMentions merges parsed and explicitly supplied mention sets,
// preserving first-appearance order.
func unionMentions(parsed, explicit []uuid.UUID) []uuid.UUID {
	if len(explicit) == 0 {
		return parsed
	}
	seen := make(map[uuid.UUID]struct{}, len(parsed)+len(explicit))
	out := make([]uuid.UUID, 0, len(parsed)+len(explicit))
	for _, id := range parsed {
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range explicit {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ParseCommand splits a slash command into its name and argument string.
// Returns ok=false when content is not a command.
func ParseCommand(content string) (command, args string, ok bool) {
	if !strings.HasPrefix(content, "/") {
		return "", "", false
	}
	body := strings.TrimPrefix(content, "/")
	if body == "" {
		return "", "", false
	}
	parts := strings.SplitN(body, " ", 2)
	command = parts[0]
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return command, args, true
}
