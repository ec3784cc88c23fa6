package provider

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vibecore-ai/vibecore/internal/observability"
	"github.com/vibecore-ai/vibecore/internal/session"
)

// DefaultMaxTokens applies when a request does not set one.
const DefaultMaxTokens = 8192

// AnthropicClient implements Client against the Anthropic Messages API.
type AnthropicClient struct {
	client  anthropic.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// ClientOption configures an AnthropicClient.
type ClientOption func(*AnthropicClient)

// WithLogger sets the client's logger.
func WithLogger(l *observability.Logger) ClientOption {
	return func(c *AnthropicClient) { c.logger = l }
}

// WithMetrics sets the client's metrics.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *AnthropicClient) { c.metrics = m }
}

// NewAnthropicClient builds a streaming client. The interceptor supplies
// all auth; no API key is configured on the SDK itself.
func NewAnthropicClient(baseURL string, ic *Interceptor, opts ...ClientOption) *AnthropicClient {
	c := &AnthropicClient{
		logger: observability.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(""),
		option.WithMiddleware(ic.Middleware()),
	}
	if baseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(baseURL))
	}
	c.client = anthropic.NewClient(requestOpts...)
	return c
}

// Stream sends one model request and decodes the response into chunks. The
// returned channel closes after a Done or Error chunk.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	params := c.buildParams(req)

	chunks := make(chan *Chunk, 16)
	go func() {
		defer close(chunks)
		stream := c.client.Messages.NewStreaming(ctx, params)
		decodeStream(ctx, stream, chunks)
	}()
	return chunks, nil
}

func (c *AnthropicClient) buildParams(req *Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  BuildMessages(req.History),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.Thinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(10000)
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	AnnotateCacheControl(params.Messages, params.System)
	return params
}

// BuildMessages converts stored session items to API messages. Tool calls
// become assistant tool_use blocks and tool outputs become user tool_result
// blocks; adjacent blocks of the same role are coalesced into one message.
// Reasoning items are positional history only and are not sent back.
func BuildMessages(history []session.Item) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	var pending []anthropic.ContentBlockParamUnion
	var pendingRole anthropic.MessageParamRole

	flush := func() {
		if len(pending) == 0 {
			return
		}
		messages = append(messages, anthropic.MessageParam{Role: pendingRole, Content: pending})
		pending = nil
	}
	add := func(role anthropic.MessageParamRole, block anthropic.ContentBlockParamUnion) {
		if len(pending) > 0 && pendingRole != role {
			flush()
		}
		pendingRole = role
		pending = append(pending, block)
	}

	for _, it := range history {
		switch it.Kind {
		case session.KindUserText:
			add(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(it.User.Text))
		case session.KindAssistant:
			if it.Assistant.Text != "" {
				add(anthropic.MessageParamRoleAssistant, anthropic.NewTextBlock(it.Assistant.Text))
			}
		case session.KindToolCall:
			input := parseToolInput(it.ToolCall.Arguments)
			add(anthropic.MessageParamRoleAssistant,
				anthropic.NewToolUseBlock(it.ToolCall.CallID, input, it.ToolCall.Name))
		case session.KindToolOutput:
			add(anthropic.MessageParamRoleUser,
				anthropic.NewToolResultBlock(it.ToolOutput.CallID, it.ToolOutput.Output, false))
		}
	}
	flush()
	return messages
}

func parseToolInput(arguments string) any {
	var input map[string]any
	if err := json.Unmarshal([]byte(arguments), &input); err != nil || input == nil {
		return map[string]any{}
	}
	return input
}

func buildTools(defs []ToolDef) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		properties := def.Properties
		if properties == nil {
			properties = map[string]any{}
		}
		toolParam := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   def.Required,
			},
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return tools
}
