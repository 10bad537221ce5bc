package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumclaw/forumclaw/internal/actions"
	"github.com/forumclaw/forumclaw/internal/logging"
)

// dispatchOne runs a single directive through the serve handlers and returns
// its result.
func dispatchOne(t *testing.T, actionType, payload string) actions.Result {
	t.Helper()
	d := actions.NewDispatcher(logging.New(false))
	registerActionHandlers(d, &host{})
	results := d.Dispatch(context.Background(), actions.Context{}, []actions.Action{
		{Type: actionType, Payload: json.RawMessage(payload)},
	})
	require.Len(t, results, 1)
	return results[0]
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	for _, content := range []string{"", "   ", "\n\t"} {
		res := dispatchOne(t, "sendMessage", fmt.Sprintf(`{"channel":"general","content":%q}`, content))
		assert.False(t, res.OK)
		assert.Contains(t, res.Error, "empty content")
	}
}

func TestSendMessageRejectsOversizedContent(t *testing.T) {
	long := strings.Repeat("é", 2001)
	payload, err := json.Marshal(map[string]string{"channel": "general", "content": long})
	require.NoError(t, err)

	res := dispatchOne(t, "sendMessage", string(payload))
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "2001 chars, limit 2000")
}

func TestBulkDeleteRejectsOutOfRangeCount(t *testing.T) {
	for _, count := range []int{0, 1, 101, -5} {
		res := dispatchOne(t, "bulkDelete", fmt.Sprintf(`{"channel":"general","count":%d}`, count))
		assert.False(t, res.OK, "count %d must be rejected", count)
		assert.Contains(t, res.Error, "between 2 and 100")
	}
}
