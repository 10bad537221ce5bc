package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtractsActionsAndCleanText(t *testing.T) {
	text := "Before.\n<discord-action>{\"type\":\"sendMessage\",\"channel\":\"general\",\"content\":\"hi\"}</discord-action>\nAfter."

	res := Parse(text, AllEnabled())

	require.Len(t, res.Actions, 1)
	assert.Equal(t, "sendMessage", res.Actions[0].Type)
	assert.Equal(t, "Before.\n\nAfter.", res.CleanText)
	assert.Zero(t, res.ParseFailures)
}

func TestParseStripsUnrecognizedTypes(t *testing.T) {
	text := `<discord-action>{"type":"launchMissiles"}</discord-action> ok <discord-action>{"type":"launchMissiles"}</discord-action>`

	res := Parse(text, AllEnabled())

	assert.Empty(t, res.Actions)
	assert.Equal(t, []string{"launchMissiles"}, res.StrippedUnrecognized)
	assert.Equal(t, "ok", res.CleanText)
}

func TestParseStripsDisabledCategories(t *testing.T) {
	flags := AllEnabled()
	flags[CategoryModeration] = false

	text := `<discord-action>{"type":"bulkDelete","count":5}</discord-action><discord-action>{"type":"sendMessage","content":"x"}</discord-action>`

	res := Parse(text, flags)

	require.Len(t, res.Actions, 1)
	assert.Equal(t, "sendMessage", res.Actions[0].Type)
	assert.Equal(t, []string{"bulkDelete"}, res.StrippedDisabled)
}

func TestParseCountsMalformedBlocks(t *testing.T) {
	text := `<discord-action>{not json}</discord-action><discord-action>{"noType":1}</discord-action>`

	res := Parse(text, AllEnabled())

	assert.Empty(t, res.Actions)
	assert.Equal(t, 2, res.ParseFailures)
	assert.Empty(t, res.CleanText)
}

func TestParseMultilinePayload(t *testing.T) {
	text := "<discord-action>\n{\n  \"type\": \"createTask\",\n  \"title\": \"do it\"\n}\n</discord-action>"

	res := Parse(text, AllEnabled())

	require.Len(t, res.Actions, 1)
	assert.Equal(t, "createTask", res.Actions[0].Type)
}

func TestFooter(t *testing.T) {
	assert.Empty(t, Footer(ParseResult{}))

	res := ParseResult{StrippedDisabled: []string{"bulkDelete", "kickMember"}, ParseFailures: 1}
	footer := Footer(res)
	assert.Contains(t, footer, "Unavailable action types: bulkDelete, kickMember")
	assert.Contains(t, footer, "1 action block failed to parse")

	res = ParseResult{ParseFailures: 3}
	assert.Equal(t, "3 action blocks failed to parse", Footer(res))
}
