package forumsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rs/zerolog"
)

func TestNewOpenAIClassifierWithoutKeyIsNil(t *testing.T) {
	assert.Nil(t, NewOpenAIClassifier("", "", zerolog.Nop()))
	assert.NotNil(t, NewOpenAIClassifier("sk-test", "", zerolog.Nop()))
}

func TestParseClassificationPlainObject(t *testing.T) {
	out, err := parseClassification(`{"purposeTags": ["Monitoring", "digest"], "model": "haiku"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"monitoring", "digest"}, out.PurposeTags)
	assert.Equal(t, "haiku", out.Model)
}

func TestParseClassificationToleratesFencesAndProse(t *testing.T) {
	raw := "Sure, here is the classification:\n```json\n{\"purposeTags\": [\"alerts\"], \"model\": \"sonnet\"}\n```\n"
	out, err := parseClassification(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"alerts"}, out.PurposeTags)
	assert.Equal(t, "sonnet", out.Model)
}

func TestParseClassificationCapsAndDedupesTags(t *testing.T) {
	out, err := parseClassification(`{"purposeTags": ["a", "A", "b", "c", "d", "e"], "model": "sonnet"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, out.PurposeTags)
}

func TestParseClassificationRejectsNonJSON(t *testing.T) {
	_, err := parseClassification("I cannot classify this job.")
	assert.Error(t, err)

	_, err = parseClassification("{not valid json}")
	assert.Error(t, err)
}
