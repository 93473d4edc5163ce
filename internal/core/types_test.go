package core

import (
	"encoding/json"
	"testing"
)

func TestMessageContent_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantText  string
		multipart bool
		wantErr   bool
	}{
		{name: "string", input: `"hello"`, wantText: "hello"},
		{name: "null", input: `null`, wantText: ""},
		{name: "parts", input: `[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"https://x/y.png"}},{"type":"text","text":"b"}]`, wantText: "ab", multipart: true},
		{name: "empty parts", input: `[]`, multipart: true},
		{name: "number", input: `42`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c MessageContent
			err := json.Unmarshal([]byte(tt.input), &c)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.PlainText() != tt.wantText {
				t.Errorf("PlainText() = %q, want %q", c.PlainText(), tt.wantText)
			}
			if c.IsMultipart() != tt.multipart {
				t.Errorf("IsMultipart() = %v, want %v", c.IsMultipart(), tt.multipart)
			}
		})
	}
}

func TestMessageContent_MarshalJSON(t *testing.T) {
	msg := Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Type: "function", Function: FunctionCall{Name: "lookup", Arguments: "{}"}}}}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["content"] != nil {
		t.Errorf("empty content should encode as null, got %v", decoded["content"])
	}
}

func TestStopSequences_UnmarshalJSON(t *testing.T) {
	var req ChatRequest
	if err := json.Unmarshal([]byte(`{"model":"m","messages":[],"stop":"END"}`), &req); err != nil {
		t.Fatal(err)
	}
	if len(req.Stop) != 1 || req.Stop[0] != "END" {
		t.Errorf("Stop = %v", req.Stop)
	}
	if err := json.Unmarshal([]byte(`{"model":"m","messages":[],"stop":["a","b"]}`), &req); err != nil {
		t.Fatal(err)
	}
	if len(req.Stop) != 2 {
		t.Errorf("Stop = %v", req.Stop)
	}
}

func TestToolChoice_JSON(t *testing.T) {
	var mode ToolChoice
	if err := json.Unmarshal([]byte(`"required"`), &mode); err != nil {
		t.Fatal(err)
	}
	if mode.Mode != ToolChoiceRequired {
		t.Errorf("Mode = %q", mode.Mode)
	}

	var named ToolChoice
	if err := json.Unmarshal([]byte(`{"type":"function","function":{"name":"lookup"}}`), &named); err != nil {
		t.Fatal(err)
	}
	if named.Function != "lookup" {
		t.Errorf("Function = %q", named.Function)
	}
	data, _ := json.Marshal(named)
	if string(data) != `{"function":{"name":"lookup"},"type":"function"}` {
		t.Errorf("marshal = %s", data)
	}

	var bad ToolChoice
	if err := json.Unmarshal([]byte(`{"type":"function"}`), &bad); err == nil {
		t.Error("expected error for missing function name")
	}
}

func TestChatRequest_CloneIsIndependent(t *testing.T) {
	req := &ChatRequest{
		Model:    "openai/gpt-4",
		Messages: []Message{{Role: RoleUser, Content: TextContent("hi")}},
	}
	clone := req.Clone()
	clone.Model = "gpt-4"
	clone.Messages[0].Role = RoleSystem

	if req.Model != "openai/gpt-4" {
		t.Errorf("original model mutated: %q", req.Model)
	}
	if req.Messages[0].Role != RoleUser {
		t.Errorf("original messages mutated")
	}
}

func TestChatRequest_MaxOutputTokens(t *testing.T) {
	a, b := 10, 20
	if (&ChatRequest{}).MaxOutputTokens() != nil {
		t.Error("expected nil")
	}
	if *(&ChatRequest{MaxTokens: &a}).MaxOutputTokens() != 10 {
		t.Error("expected max_tokens fallback")
	}
	if *(&ChatRequest{MaxTokens: &a, MaxCompletionTokens: &b}).MaxOutputTokens() != 20 {
		t.Error("max_completion_tokens should win")
	}
}
