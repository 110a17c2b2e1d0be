package meeting

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog/log"
)

// Prompt is one chat completion request.
type Prompt struct {
	Task        string
	System      string
	User        string
	Temperature float64

	// SchemaName and Schema request structured JSON output when set.
	SchemaName string
	Schema     map[string]any
}

// LLM completes a prompt and returns the assistant message text.
type LLM interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

var ErrEmptyCompletion = errors.New("llm returned no choices")

type OpenAIOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint,
// including Azure OpenAI deployments exposed through a base URL.
type OpenAIClient struct {
	client openai.Client
	model  string
}

func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("missing LLM_API_KEY")
	}
	if opts.Model == "" {
		return nil, errors.New("missing LLM_MODEL")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	return &OpenAIClient{client: openai.NewClient(reqOpts...), model: opts.Model}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, p Prompt) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(p.User),
		},
		Temperature: openai.Float(p.Temperature),
	}
	if p.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   p.SchemaName,
					Schema: p.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	log.Ctx(ctx).Debug().
		Str("task", p.Task).
		Str("model", c.model).
		Int64("tokens_in", resp.Usage.PromptTokens).
		Int64("tokens_out", resp.Usage.CompletionTokens).
		Dur("took", time.Since(start)).
		Msg("llm completion")
	return resp.Choices[0].Message.Content, nil
}
