package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	logx "agenthub/pkg/logx"
)

// AnthropicBuilder prepares executors backed by the Anthropic Messages API.
// Model and MaxTokens act as defaults for specs that leave them unset.
type AnthropicBuilder struct {
	APIKey    string
	Model     string
	MaxTokens int64
	Log       logx.Logger
}

func (b AnthropicBuilder) Prepare(_ context.Context, spec BundleSpec) (Prepared, error) {
	if strings.TrimSpace(b.APIKey) == "" {
		return nil, fmt.Errorf("anthropic api key is not configured")
	}

	model := spec.Model
	if model == "" {
		model = b.Model
	}
	if model == "" {
		model = string(anthropic.ModelClaude3_5Sonnet20241022)
	}
	maxTokens := spec.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	client := anthropic.NewClient(option.WithAPIKey(b.APIKey))
	return &anthropicPrepared{
		client:    &client,
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
		system:    spec.SystemPrompt,
		log:       b.Log,
	}, nil
}

type anthropicPrepared struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string
	log       logx.Logger
}

func (p *anthropicPrepared) NewExecutor(_ context.Context, sessionID string) (Executor, error) {
	return &claudeExecutor{
		client:    p.client,
		model:     p.model,
		maxTokens: p.maxTokens,
		system:    p.system,
		log:       p.log.With(logx.String("session", sessionID)),
	}, nil
}

// claudeExecutor keeps an accumulating message history per session and runs
// prompts against the Anthropic Messages API. The registry serializes all
// calls; the internal mutex only protects history against stream producers
// that outlive the originating call.
type claudeExecutor struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string
	log       logx.Logger

	mu      sync.Mutex
	history []anthropic.MessageParam
}

func (c *claudeExecutor) params(msgs []anthropic.MessageParam) anthropic.MessageNewParams {
	p := anthropic.MessageNewParams{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: c.maxTokens,
	}
	if c.system != "" {
		p.System = []anthropic.TextBlockParam{{Text: c.system}}
	}
	return p
}

func (c *claudeExecutor) withPrompt(prompt string) []anthropic.MessageParam {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]anthropic.MessageParam, 0, len(c.history)+1)
	msgs = append(msgs, c.history...)
	return append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))
}

func (c *claudeExecutor) commit(msgs []anthropic.MessageParam, response string) {
	c.mu.Lock()
	c.history = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(response)))
	c.mu.Unlock()
}

func (c *claudeExecutor) Execute(ctx context.Context, prompt string) (string, error) {
	msgs := c.withPrompt(prompt)

	resp, err := c.client.Messages.New(ctx, c.params(msgs))
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	text := b.String()
	c.commit(msgs, text)
	return text, nil
}

func (c *claudeExecutor) ExecuteStream(_ context.Context, prompt string) (*Stream, error) {
	msgs := c.withPrompt(prompt)
	params := c.params(msgs)

	return newStream(func(ctx context.Context, emit func(string) error) error {
		stream := c.client.Messages.NewStreaming(ctx, params)

		acc := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				c.log.Warn("stream accumulate failed", logx.Err(err))
			}
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch d := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if d.Text != "" {
						if err := emit(d.Text); err != nil {
							return err
						}
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("anthropic stream error: %w", err)
		}

		var b strings.Builder
		for _, block := range acc.Content {
			if block.Type == "text" {
				b.WriteString(block.AsText().Text)
			}
		}
		c.commit(msgs, b.String())
		return nil
	}), nil
}

func (c *claudeExecutor) AppendMessage(_ context.Context, role, content string) error {
	var msg anthropic.MessageParam
	if role == "assistant" {
		msg = anthropic.NewAssistantMessage(anthropic.NewTextBlock(content))
	} else {
		msg = anthropic.NewUserMessage(anthropic.NewTextBlock(content))
	}
	c.mu.Lock()
	c.history = append(c.history, msg)
	c.mu.Unlock()
	return nil
}

func (c *claudeExecutor) ClearHistory(context.Context) error {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
	return nil
}

func (c *claudeExecutor) Cleanup(context.Context) error {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
	return nil
}
