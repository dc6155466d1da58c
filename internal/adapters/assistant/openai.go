package assistant

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/core"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 30 * time.Second
	maxSources     = 5
)

const systemPrompt = "You are a concise assistant inside a video meeting. " +
	"Answer the participant's question in a few sentences. " +
	"Use the recent meeting chat only as background."

const webSearchHint = "When you rely on outside knowledge, list the URLs you used on separate lines at the end."

var ErrEmptyAnswer = errors.New("assistant returned no choices")

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client answers meeting questions through an OpenAI-compatible chat
// completions endpoint.
type Client struct {
	api   openaigo.Client
	model string
}

var _ core.Assistant = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("assistant config incomplete: api_key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	api := openaigo.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(1),
		option.WithRequestTimeout(timeout),
	)
	log.Info().Str("module", "adapters.assistant").Str("base_url", baseURL).Str("model", model).Msg("assistant ready")
	return &Client{api: api, model: model}, nil
}

func (c *Client) Ask(ctx context.Context, q core.AssistantQuery) (core.AssistantAnswer, error) {
	system := systemPrompt
	if q.WebSearch {
		system += " " + webSearchHint
	}
	messages := []openaigo.ChatCompletionMessageParamUnion{
		openaigo.SystemMessage(system),
	}
	if mc := strings.TrimSpace(q.MeetingContext); mc != "" {
		messages = append(messages, openaigo.UserMessage("Recent meeting chat:\n"+mc))
	}
	messages = append(messages, openaigo.UserMessage(strings.TrimSpace(q.Prompt)))

	resp, err := c.api.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model:    openaigo.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		return core.AssistantAnswer{}, err
	}
	if len(resp.Choices) == 0 {
		return core.AssistantAnswer{}, ErrEmptyAnswer
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	return core.AssistantAnswer{Text: text, Sources: Sources(text)}, nil
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>()"'\]\[]+`)

// Sources pulls distinct URLs out of an answer in order of appearance.
func Sources(text string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, u := range urlPattern.FindAllString(text, -1) {
		u = strings.TrimRight(u, ".,;:!?")
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
		if len(out) == maxSources {
			break
		}
	}
	return out
}
