package forumsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/forumclaw/forumclaw/pkg/utils"
)

// MaxPurposeTags caps the classifier's tag suggestions; together with the
// cadence tag the applied set stays within the platform's 5-tag limit.
const MaxPurposeTags = 4

// Classification is the classifier's verdict for one job.
type Classification struct {
	PurposeTags []string `json:"purposeTags"`
	Model       string   `json:"model"`
}

// Classifier assigns purpose tags and a serving model to a job from its name
// and prompt.
type Classifier interface {
	Classify(ctx context.Context, name, prompt string) (*Classification, error)
}

const classifierSystemPrompt = `You label scheduled automation jobs. Given a job name and its prompt, reply with a JSON object:
{"purposeTags": ["tag", ...], "model": "<model>"}
Pick at most 4 short lowercase purpose tags (e.g. "monitoring", "digest", "alerts", "research", "maintenance").
Pick "haiku" for simple check-and-report jobs, "sonnet" for everything else, "opus" only for deep multi-step research.
Reply with the JSON object only, no prose, no code fences.`

// OpenAIClassifier implements Classifier over a chat-completion endpoint.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewOpenAIClassifier builds a classifier. An empty API key returns nil: the
// sync engine treats a nil classifier as "classification unavailable" and
// degrades to cadence-only tagging.
func NewOpenAIClassifier(apiKey, model string, logger zerolog.Logger) *OpenAIClassifier {
	if apiKey == "" {
		return nil
	}
	return &OpenAIClassifier{
		client: openai.NewClient(apiKey),
		model:  utils.CoalesceString(model, openai.GPT4oMini),
		logger: logger.With().Str("component", "classifier").Logger(),
	}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, name, prompt string) (*Classification, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifierSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Job name: %s\n\nPrompt:\n%s", name, utils.Truncate(prompt, 2000))},
		},
		MaxTokens:   200,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("forumsync: classification request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("forumsync: classification returned no choices")
	}

	return parseClassification(resp.Choices[0].Message.Content)
}

// parseClassification tolerates fenced or prose-wrapped replies by slicing
// the outermost JSON object.
func parseClassification(raw string) (*Classification, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("forumsync: no JSON object in classifier reply")
	}

	var out Classification
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("forumsync: decoding classifier reply: %w", err)
	}

	tags := make([]string, 0, MaxPurposeTags)
	for _, tag := range out.PurposeTags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || utils.Contains(tags, tag) {
			continue
		}
		tags = append(tags, tag)
		if len(tags) == MaxPurposeTags {
			break
		}
	}
	out.PurposeTags = tags
	out.Model = strings.TrimSpace(out.Model)
	return &out, nil
}
