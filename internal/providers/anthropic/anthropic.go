// Package anthropic adapts the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"llmgateway/internal/core"
	"llmgateway/internal/engine"
	"llmgateway/internal/httpclient"
	"llmgateway/internal/providers"
)

// Registration provides factory registration for the Anthropic engine.
var Registration = providers.Registration{
	Family: engine.FamilyAnthropic,
	New:    New,
}

// defaultMaxTokens is sent when the caller sets no limit; the API requires one.
const defaultMaxTokens = 4096

// Adapter implements providers.Adapter for Anthropic.
type Adapter struct {
	name   string
	client sdk.Client
}

// New creates an Anthropic adapter.
func New(s providers.Settings) (providers.Adapter, error) {
	if s.BaseURL == "" {
		return nil, errors.New("anthropic: base URL is required")
	}
	httpClient := s.HTTPClient
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}
	breaker := s.Breaker
	// the SDK adds the /v1 path itself
	baseURL := strings.TrimSuffix(strings.TrimSuffix(s.BaseURL, "/"), "/v1")
	return &Adapter{
		name: s.Name,
		client: sdk.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(s.APIKey),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(s.Resilience.Retry.MaxRetries),
			option.WithMiddleware(func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
				if id := core.GetRequestID(req.Context()); id != "" {
					req.Header.Set("X-Request-Id", id)
				}
				return breaker.Guard(req, next)
			}),
		),
	}, nil
}

// Complete sends a non-streaming message request.
func (a *Adapter) Complete(ctx context.Context, call *providers.ChatCall) (*providers.ChatResult, error) {
	resp, err := a.client.Messages.New(ctx, buildParams(call))
	if err != nil {
		return nil, a.convertError(err)
	}

	result := &providers.ChatResult{
		ID:           resp.ID,
		Model:        string(resp.Model),
		FinishReason: finishReason(string(resp.StopReason)),
		Usage:        convertUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.CacheReadInputTokens),
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, core.ToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: core.FunctionCall{Name: block.Name, Arguments: inputArguments(block.Input)},
			})
		}
	}
	result.Content = text.String()
	return result, nil
}

// Stream starts a streaming message request.
func (a *Adapter) Stream(ctx context.Context, call *providers.ChatCall) (providers.ChunkStream, error) {
	s := a.client.Messages.NewStreaming(ctx, buildParams(call))
	return &chunkStream{adapter: a, stream: s, toolIndex: make(map[int64]int)}, nil
}

// Embeddings is not offered by Anthropic.
func (a *Adapter) Embeddings(context.Context, *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	return nil, providers.NotSupportedError(a.name, "embeddings")
}

// Images is not offered by Anthropic.
func (a *Adapter) Images(context.Context, *core.ImageRequest) (*core.ImageResponse, error) {
	return nil, providers.NotSupportedError(a.name, "image generation")
}

func buildParams(call *providers.ChatCall) sdk.MessageNewParams {
	p := call.Params
	maxTokens := defaultMaxTokens
	if p.MaxTokens != nil && *p.MaxTokens > 0 {
		maxTokens = *p.MaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.Model),
		MaxTokens: int64(maxTokens),
	}
	params.System, params.Messages = convertMessages(call.Messages)

	if p.Temperature != nil {
		params.Temperature = sdk.Float(*p.Temperature)
	}
	if p.TopP != nil {
		params.TopP = sdk.Float(*p.TopP)
	}
	if len(p.Stop) > 0 {
		params.StopSequences = p.Stop
	}
	if p.User != "" {
		params.Metadata = sdk.MetadataParam{UserID: sdk.String(p.User)}
	}
	if len(call.Tools) > 0 {
		params.Tools = convertTools(call.Tools)
		params.ToolChoice = convertToolChoice(p.ToolChoice, p.ParallelToolCalls)
	}
	return params
}

// convertMessages splits system text out and merges adjacent messages of the
// same role, since the API requires alternating user and assistant turns.
// Tool results travel as user content.
func convertMessages(msgs []engine.Message) ([]sdk.TextBlockParam, []sdk.MessageParam) {
	var system []sdk.TextBlockParam
	var out []sdk.MessageParam

	appendBlocks := func(role sdk.MessageParamRole, blocks []sdk.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		if role == sdk.MessageParamRoleAssistant {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case engine.RoleSystem, engine.RoleDeveloper:
			if text := m.Text(); text != "" {
				system = append(system, sdk.TextBlockParam{Text: text})
			}
		case engine.RoleUser:
			appendBlocks(sdk.MessageParamRoleUser, contentBlocks(m.Parts))
		case engine.RoleAssistant:
			blocks := contentBlocks(m.Parts)
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, toolInput(tc.Function.Arguments), tc.Function.Name))
			}
			appendBlocks(sdk.MessageParamRoleAssistant, blocks)
		case engine.RoleTool:
			appendBlocks(sdk.MessageParamRoleUser, []sdk.ContentBlockParamUnion{
				sdk.NewToolResultBlock(m.ToolCallID, m.Text(), false),
			})
		}
	}
	return system, out
}

func contentBlocks(parts []engine.Part) []sdk.ContentBlockParamUnion {
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case engine.PartText:
			if p.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(p.Text))
			}
		case engine.PartImage:
			blocks = append(blocks, sdk.NewImageBlock(sdk.URLImageSourceParam{URL: p.ImageURL}))
		}
	}
	return blocks
}

func toolInput(arguments string) any {
	if strings.TrimSpace(arguments) == "" {
		return map[string]any{}
	}
	return json.RawMessage(arguments)
}

func inputArguments(input json.RawMessage) string {
	if len(input) == 0 || string(input) == "null" {
		return "{}"
	}
	return string(input)
}

func convertTools(defs []core.FunctionDefinition) []sdk.ToolUnionParam {
	tools := make([]sdk.ToolUnionParam, len(defs))
	for i, def := range defs {
		schema := sdk.ToolInputSchemaParam{}
		if props, ok := def.Parameters["properties"]; ok {
			schema.Properties = props
		}
		switch required := def.Parameters["required"].(type) {
		case []string:
			schema.Required = required
		case []any:
			for _, r := range required {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		tools[i] = sdk.ToolUnionParamOfTool(schema, def.Name)
		if def.Description != "" {
			tools[i].OfTool.Description = sdk.String(def.Description)
		}
	}
	return tools
}

func convertToolChoice(tc *core.ToolChoice, parallel *bool) sdk.ToolChoiceUnionParam {
	disableParallel := parallel != nil && !*parallel
	switch {
	case tc != nil && tc.Function != "":
		choice := &sdk.ToolChoiceToolParam{Name: tc.Function}
		if disableParallel {
			choice.DisableParallelToolUse = sdk.Bool(true)
		}
		return sdk.ToolChoiceUnionParam{OfTool: choice}
	case tc != nil && tc.Mode == "none":
		return sdk.ToolChoiceUnionParam{OfNone: &sdk.ToolChoiceNoneParam{}}
	case tc != nil && tc.Mode == "required":
		choice := &sdk.ToolChoiceAnyParam{}
		if disableParallel {
			choice.DisableParallelToolUse = sdk.Bool(true)
		}
		return sdk.ToolChoiceUnionParam{OfAny: choice}
	default:
		choice := &sdk.ToolChoiceAutoParam{}
		if disableParallel {
			choice.DisableParallelToolUse = sdk.Bool(true)
		}
		return sdk.ToolChoiceUnionParam{OfAuto: choice}
	}
}

// finishReason maps Anthropic stop reasons onto OpenAI finish reasons.
func finishReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence", "pause_turn":
		return core.FinishReasonStop
	case "max_tokens":
		return core.FinishReasonLength
	case "tool_use":
		return core.FinishReasonToolCalls
	case "refusal":
		return core.FinishReasonContentFilter
	default:
		return stopReason
	}
}

func convertUsage(input, output, cacheRead int64) core.Usage {
	u := core.Usage{
		PromptTokens:     int(input + cacheRead),
		CompletionTokens: int(output),
		TotalTokens:      int(input + cacheRead + output),
	}
	if cacheRead > 0 {
		u.PromptTokensDetails = &core.PromptTokensDetails{CachedTokens: int(cacheRead)}
	}
	return u
}

func (a *Adapter) convertError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return core.ParseProviderError(a.name, apiErr.StatusCode, []byte(apiErr.RawJSON()), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.AsGatewayError(a.name, err)
}

// chunkStream turns message stream events into chunks. Events that carry no
// delta (ping, block stop, message stop) produce no chunk.
type chunkStream struct {
	adapter *Adapter
	stream  *ssestream.Stream[sdk.MessageStreamEventUnion]
	cur     providers.Chunk
	err     error

	id          string
	model       string
	inputTokens int64
	cacheRead   int64
	// content block index to tool call index
	toolIndex map[int64]int
}

func (s *chunkStream) Next() bool {
	if s.err != nil {
		return false
	}
	for s.stream.Next() {
		if chunk, ok := s.convert(s.stream.Current()); ok {
			s.cur = chunk
			return true
		}
	}
	if err := s.stream.Err(); err != nil {
		s.err = s.adapter.convertError(err)
	}
	return false
}

func (s *chunkStream) convert(ev sdk.MessageStreamEventUnion) (providers.Chunk, bool) {
	switch e := ev.AsAny().(type) {
	case sdk.MessageStartEvent:
		s.id = e.Message.ID
		s.model = string(e.Message.Model)
		s.inputTokens = e.Message.Usage.InputTokens
		s.cacheRead = e.Message.Usage.CacheReadInputTokens
		return s.chunk(providers.Chunk{Role: "assistant"}), true

	case sdk.ContentBlockStartEvent:
		if e.ContentBlock.Type != "tool_use" {
			return providers.Chunk{}, false
		}
		idx := len(s.toolIndex)
		s.toolIndex[e.Index] = idx
		return s.chunk(providers.Chunk{ToolCalls: []core.ToolCall{{
			Index:    &idx,
			ID:       e.ContentBlock.ID,
			Type:     "function",
			Function: core.FunctionCall{Name: e.ContentBlock.Name},
		}}}), true

	case sdk.ContentBlockDeltaEvent:
		switch d := e.Delta.AsAny().(type) {
		case sdk.TextDelta:
			return s.chunk(providers.Chunk{Content: d.Text}), true
		case sdk.InputJSONDelta:
			idx, ok := s.toolIndex[e.Index]
			if !ok {
				return providers.Chunk{}, false
			}
			return s.chunk(providers.Chunk{ToolCalls: []core.ToolCall{{
				Index:    &idx,
				Function: core.FunctionCall{Arguments: d.PartialJSON},
			}}}), true
		}
		return providers.Chunk{}, false

	case sdk.MessageDeltaEvent:
		usage := convertUsage(s.inputTokens, e.Usage.OutputTokens, s.cacheRead)
		return s.chunk(providers.Chunk{
			FinishReason: finishReason(string(e.Delta.StopReason)),
			Usage:        &usage,
		}), true
	}
	return providers.Chunk{}, false
}

func (s *chunkStream) chunk(c providers.Chunk) providers.Chunk {
	c.ID = s.id
	c.Model = s.model
	return c
}

func (s *chunkStream) Current() providers.Chunk { return s.cur }

func (s *chunkStream) Err() error { return s.err }

func (s *chunkStream) Close() error { return s.stream.Close() }
