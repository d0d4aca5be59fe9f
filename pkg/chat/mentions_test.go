package chat

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestParseMentions(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	content := fmt.Sprintf("hey @%s and @%s, see @%s", a, b, a)
	assert.Equal(t, []uuid.UUID{a, b}, ParseMentions(content))
}

func TestParseMentions_CaseInsensitive(t *testing.T) {
	id := uuid.New()
	content := "ping @" + strings.ToUpper(id.String())
	assert.Equal(t, []uuid.UUID{id}, ParseMentions(content))
}

func TestParseMentions_NoMatches(t *testing.T) {
	assert.Nil(t, ParseMentions("no mentions here"))
	assert.Nil(t, ParseMentions("@alice is not an id mention"))
	assert.Nil(t, ParseMentions(""))
}

func TestUnionMentions(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	assert.Equal(t, []uuid.UUID{a, b, c}, unionMentions([]uuid.UUID{a, b}, []uuid.UUID{b, c}))
	assert.Equal(t, []uuid.UUID{a}, unionMentions([]uuid.UUID{a}, nil))
	assert.Equal(t, []uuid.UUID{a}, unionMentions(nil, []uuid.UUID{a}))
}

func TestParseCommand(t *testing.T) {
	command, args, ok := ParseCommand("/deploy api --force")
	assert.True(t, ok)
	assert.Equal(t, "deploy", command)
	assert.Equal(t, "api --force", args)
}

func TestParseCommand_NoArgs(t *testing.T) {
	command, args, ok := ParseCommand("/status")
	assert.True(t, ok)
	assert.Equal(t, "status", command)
	assert.Empty(t, args)
}

func TestParseCommand_NotACommand(t *testing.T) {
	_, _, ok := ParseCommand("plain message")
	assert.False(t, ok)

	_, _, ok = ParseCommand("/")
	assert.False(t, ok)

	_, _, ok = ParseCommand("")
	assert.False(t, ok)
}
