// Package openai adapts OpenAI and every provider speaking its chat API
// (groq, xai, gemini, deepseek, mistral, openrouter, together, ollama).
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"llmgateway/internal/core"
	"llmgateway/internal/engine"
	"llmgateway/internal/httpclient"
	"llmgateway/internal/pkg/llmclient"
	"llmgateway/internal/providers"
)

// Registration provides factory registration for OpenAI-compatible engines.
var Registration = providers.Registration{
	Family: engine.FamilyOpenAI,
	New:    New,
}

// Adapter implements providers.Adapter on the OpenAI chat API. Chat goes
// through the official SDK; embeddings and images through llmclient.
type Adapter struct {
	name   string
	kind   string
	apiKey string
	client oai.Client
	raw    *llmclient.Client
}

// New creates an adapter for one OpenAI-compatible endpoint.
func New(s providers.Settings) (providers.Adapter, error) {
	if s.BaseURL == "" {
		return nil, errors.New("openai: base URL is required")
	}
	httpClient := s.HTTPClient
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}
	a := &Adapter{name: s.Name, kind: s.Kind, apiKey: s.APIKey}

	breaker := s.Breaker
	a.client = oai.NewClient(
		option.WithBaseURL(s.BaseURL),
		// always set, so OPENAI_API_KEY never leaks to other flavors
		option.WithAPIKey(s.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(s.Resilience.Retry.MaxRetries),
		option.WithMiddleware(func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
			a.setRequestID(req)
			return breaker.Guard(req, next)
		}),
	)
	a.raw = llmclient.NewWithHTTPClient(httpClient,
		llmclient.ConfigFromResilience(s.Name, s.BaseURL, s.Resilience), a.setHeaders, breaker)
	return a, nil
}

// setHeaders sets the required headers for raw API requests
func (a *Adapter) setHeaders(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	a.setRequestID(req)
}

// setRequestID forwards the gateway request ID using OpenAI's X-Client-Request-Id
// header. OpenAI requires ASCII-only characters and max 512 bytes, otherwise returns 400.
func (a *Adapter) setRequestID(req *http.Request) {
	if a.kind != "openai" {
		return
	}
	if id := core.GetRequestID(req.Context()); id != "" && isValidClientRequestID(id) {
		req.Header.Set("X-Client-Request-Id", id)
	}
}

// isValidClientRequestID checks if the request ID is valid for OpenAI's X-Client-Request-Id header.
func isValidClientRequestID(id string) bool {
	if len(id) > 512 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}

// isOSeriesModel reports whether the model is an OpenAI o-series model
// (o1, o3, o4) that does not support the temperature parameter.
func isOSeriesModel(model string) bool {
	m := strings.ToLower(model)
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

// Complete sends a non-streaming chat completion.
func (a *Adapter) Complete(ctx context.Context, call *providers.ChatCall) (*providers.ChatResult, error) {
	resp, err := a.client.Chat.Completions.New(ctx, a.buildParams(call, false))
	if err != nil {
		return nil, a.convertError(err)
	}
	return toResult(resp), nil
}

// Stream starts a streaming chat completion. Upstream errors surface from the
// returned stream's Err.
func (a *Adapter) Stream(ctx context.Context, call *providers.ChatCall) (providers.ChunkStream, error) {
	s := a.client.Chat.Completions.NewStreaming(ctx, a.buildParams(call, true))
	return &chunkStream{adapter: a, stream: s}, nil
}

// Embeddings sends an embeddings request.
func (a *Adapter) Embeddings(ctx context.Context, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	var resp core.EmbeddingResponse
	err := a.raw.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/embeddings",
		Body:     req,
	}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Provider = a.name
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// Images sends an image generation request.
func (a *Adapter) Images(ctx context.Context, req *core.ImageRequest) (*core.ImageResponse, error) {
	var resp core.ImageResponse
	err := a.raw.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/images/generations",
		Body:     req,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *Adapter) buildParams(call *providers.ChatCall, stream bool) oai.ChatCompletionNewParams {
	p := call.Params
	params := oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(p.Model),
		Messages: convertMessages(call.Messages),
	}
	if p.Temperature != nil && !isOSeriesModel(p.Model) {
		params.Temperature = oai.Float(*p.Temperature)
	}
	if p.TopP != nil {
		params.TopP = oai.Float(*p.TopP)
	}
	if p.MaxTokens != nil {
		// only OpenAI itself understands max_completion_tokens
		if a.kind == "openai" {
			params.MaxCompletionTokens = oai.Int(int64(*p.MaxTokens))
		} else {
			params.MaxTokens = oai.Int(int64(*p.MaxTokens))
		}
	}
	if len(p.Stop) > 0 {
		params.Stop = oai.ChatCompletionNewParamsStopUnion{OfStringArray: p.Stop}
	}
	if p.PresencePenalty != nil {
		params.PresencePenalty = oai.Float(*p.PresencePenalty)
	}
	if p.FrequencyPenalty != nil {
		params.FrequencyPenalty = oai.Float(*p.FrequencyPenalty)
	}
	if p.Seed != nil {
		params.Seed = oai.Int(*p.Seed)
	}
	if p.User != "" {
		params.User = oai.String(p.User)
	}
	if len(call.Tools) > 0 {
		params.Tools = convertTools(call.Tools)
		if p.ParallelToolCalls != nil {
			params.ParallelToolCalls = oai.Bool(*p.ParallelToolCalls)
		}
	}
	if tc := p.ToolChoice; tc != nil {
		if tc.Function != "" {
			params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{
				OfChatCompletionNamedToolChoice: &oai.ChatCompletionNamedToolChoiceParam{
					Function: oai.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.Function},
				},
			}
		} else if tc.Mode != "" {
			params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oai.String(tc.Mode)}
		}
	}
	if stream {
		params.StreamOptions = oai.ChatCompletionStreamOptionsParam{IncludeUsage: oai.Bool(true)}
	}
	return params
}

func convertTools(defs []core.FunctionDefinition) []oai.ChatCompletionToolParam {
	tools := make([]oai.ChatCompletionToolParam, len(defs))
	for i, def := range defs {
		fn := oai.FunctionDefinitionParam{
			Name:       def.Name,
			Parameters: oai.FunctionParameters(def.Parameters),
		}
		if def.Description != "" {
			fn.Description = oai.String(def.Description)
		}
		if def.Strict != nil {
			fn.Strict = oai.Bool(*def.Strict)
		}
		tools[i] = oai.ChatCompletionToolParam{Function: fn}
	}
	return tools
}

func convertMessages(msgs []engine.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case engine.RoleSystem:
			out = append(out, oai.SystemMessage(m.Text()))
		case engine.RoleDeveloper:
			out = append(out, oai.DeveloperMessage(m.Text()))
		case engine.RoleUser:
			var msg oai.ChatCompletionMessageParamUnion
			if m.HasImages() {
				msg = oai.UserMessage(contentParts(m.Parts))
			} else {
				msg = oai.UserMessage(m.Text())
			}
			if m.Name != "" {
				msg.OfUser.Name = oai.String(m.Name)
			}
			out = append(out, msg)
		case engine.RoleAssistant:
			out = append(out, assistantMessage(m))
		case engine.RoleTool:
			out = append(out, oai.ToolMessage(m.Text(), m.ToolCallID))
		}
	}
	return out
}

func contentParts(parts []engine.Part) []oai.ChatCompletionContentPartUnionParam {
	out := make([]oai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case engine.PartText:
			out = append(out, oai.TextContentPart(p.Text))
		case engine.PartImage:
			out = append(out, oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
				URL:    p.ImageURL,
				Detail: p.Detail,
			}))
		}
	}
	return out
}

func assistantMessage(m engine.Message) oai.ChatCompletionMessageParamUnion {
	if len(m.ToolCalls) == 0 {
		return oai.AssistantMessage(m.Text())
	}
	asst := oai.ChatCompletionAssistantMessageParam{
		ToolCalls: make([]oai.ChatCompletionMessageToolCallParam, len(m.ToolCalls)),
	}
	for i, tc := range m.ToolCalls {
		asst.ToolCalls[i] = oai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: oai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		}
	}
	if text := m.Text(); text != "" {
		asst.Content.OfString = oai.String(text)
	}
	return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

func toResult(resp *oai.ChatCompletion) *providers.ChatResult {
	result := &providers.ChatResult{
		ID:      resp.ID,
		Model:   resp.Model,
		Created: resp.Created,
		Usage:   convertUsage(resp.Usage),
	}
	if len(resp.Choices) == 0 {
		return result
	}
	choice := resp.Choices[0]
	result.Content = choice.Message.Content
	result.FinishReason = choice.FinishReason
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, core.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: core.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return result
}

func convertUsage(u oai.CompletionUsage) core.Usage {
	usage := core.Usage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
	if cached := u.PromptTokensDetails.CachedTokens; cached > 0 {
		usage.PromptTokensDetails = &core.PromptTokensDetails{CachedTokens: int(cached)}
	}
	return usage
}

func (a *Adapter) convertError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return core.ParseProviderError(a.name, apiErr.StatusCode, []byte(apiErr.RawJSON()), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.AsGatewayError(a.name, err)
}

// chunkStream maps SDK chunks one to one onto provider chunks.
type chunkStream struct {
	adapter *Adapter
	stream  *ssestream.Stream[oai.ChatCompletionChunk]
	cur     providers.Chunk
	err     error
}

func (s *chunkStream) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			s.err = s.adapter.convertError(err)
		}
		return false
	}
	s.cur = toChunk(s.stream.Current())
	return true
}

func (s *chunkStream) Current() providers.Chunk { return s.cur }

func (s *chunkStream) Err() error { return s.err }

func (s *chunkStream) Close() error { return s.stream.Close() }

func toChunk(c oai.ChatCompletionChunk) providers.Chunk {
	chunk := providers.Chunk{ID: c.ID, Model: c.Model, Created: c.Created}
	if len(c.Choices) > 0 {
		ch := c.Choices[0]
		chunk.Role = ch.Delta.Role
		chunk.Content = ch.Delta.Content
		chunk.FinishReason = ch.FinishReason
		for _, tc := range ch.Delta.ToolCalls {
			idx := int(tc.Index)
			chunk.ToolCalls = append(chunk.ToolCalls, core.ToolCall{
				Index: &idx,
				ID:    tc.ID,
				Type:  tc.Type,
				Function: core.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
	}
	if c.Usage.TotalTokens > 0 || c.Usage.PromptTokens > 0 {
		usage := convertUsage(c.Usage)
		chunk.Usage = &usage
	}
	return chunk
}
