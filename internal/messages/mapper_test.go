package messages

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgateway/internal/core"
	"llmgateway/internal/engine"
)

func TestMapAll_PreservesOrder(t *testing.T) {
	msgs := []core.Message{
		{Role: core.RoleSystem, Content: core.TextContent("be brief")},
		{Role: core.RoleUser, Content: core.TextContent("hi")},
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: "call_1", Function: core.FunctionCall{Name: "lookup"}}}},
		{Role: core.RoleTool, ToolCallID: "call_1", Content: core.TextContent(`{"ok":true}`)},
		{Role: core.RoleUser, Content: core.MessageContent{Parts: []core.ContentPart{
			{Type: core.ContentPartText, Text: "what is this?"},
			{Type: core.ContentPartImageURL, ImageURL: &core.ImageURL{URL: "https://img.test/a.png", Detail: "low"}},
		}}},
	}

	out, err := NewMapper("gpt-4o", "user-1").MapAll(msgs)
	require.NoError(t, err)
	require.Len(t, out, len(msgs))

	assert.Equal(t, engine.RoleSystem, out[0].Role)
	assert.Equal(t, "be brief", out[0].Text())
	assert.Equal(t, engine.RoleUser, out[1].Role)
	assert.Equal(t, engine.RoleAssistant, out[2].Role)
	require.Len(t, out[2].ToolCalls, 1)
	assert.Equal(t, "function", out[2].ToolCalls[0].Type)
	assert.Equal(t, "{}", out[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, engine.RoleTool, out[3].Role)
	assert.Equal(t, "call_1", out[3].ToolCallID)
	require.Len(t, out[4].Parts, 2)
	assert.Equal(t, engine.PartImage, out[4].Parts[1].Type)
	assert.Equal(t, "low", out[4].Parts[1].Detail)
}

func TestMap_DeveloperRole(t *testing.T) {
	msg := core.Message{Role: core.RoleDeveloper, Content: core.TextContent("rules")}

	got, err := NewMapper("o3-mini", "").Map(0, msg)
	require.NoError(t, err)
	assert.Equal(t, engine.RoleDeveloper, got.Role)

	got, err = NewMapper("llama-3.1-70b", "").Map(0, msg)
	require.NoError(t, err)
	assert.Equal(t, engine.RoleSystem, got.Role)
}

func TestMapAll_Errors(t *testing.T) {
	tests := []struct {
		name string
		msgs []core.Message
	}{
		{"unknown role", []core.Message{{Role: "robot", Content: core.TextContent("x")}}},
		{"missing role", []core.Message{{Content: core.TextContent("x")}}},
		{"tool without id", []core.Message{{Role: core.RoleTool, Content: core.TextContent("x")}}},
		{"empty assistant", []core.Message{{Role: core.RoleAssistant}}},
		{"tool call without id", []core.Message{{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{Function: core.FunctionCall{Name: "x"}}}}}},
		{"image without url", []core.Message{{Role: core.RoleUser, Content: core.MessageContent{Parts: []core.ContentPart{{Type: core.ContentPartImageURL}}}}}},
		{"unsupported part", []core.Message{{Role: core.RoleUser, Content: core.MessageContent{Parts: []core.ContentPart{{Type: "input_audio"}}}}}},
		{"image in system", []core.Message{{Role: core.RoleSystem, Content: core.MessageContent{Parts: []core.ContentPart{{Type: core.ContentPartImageURL, ImageURL: &core.ImageURL{URL: "u"}}}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// a valid message first shows that nothing partial is returned
			msgs := append([]core.Message{{Role: core.RoleUser, Content: core.TextContent("ok")}}, tt.msgs...)
			out, err := NewMapper("gpt-4o", "u").MapAll(msgs)
			assert.Nil(t, out)
			var gwErr *core.GatewayError
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, core.ErrorTypeMessageMapping, gwErr.Type)
			assert.Contains(t, gwErr.Message, "messages[1]")
		})
	}
}

func TestMapAll_Empty(t *testing.T) {
	_, err := NewMapper("m", "u").MapAll(nil)
	var gwErr *core.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, core.ErrorTypeInvalidRequest, gwErr.Type)
}
