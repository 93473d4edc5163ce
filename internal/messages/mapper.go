// Package messages maps caller chat messages to the engine's message form.
package messages

import (
	"fmt"
	"log/slog"
	"strings"

	"llmgateway/internal/core"
	"llmgateway/internal/engine"
)

// developerRoleModels lists upstream model prefixes that accept the developer
// role natively. Other models receive developer messages as system messages.
var developerRoleModels = []string{"o1", "o3", "o4", "gpt-4.1", "gpt-5"}

// Mapper converts messages for one upstream model on behalf of one caller.
type Mapper struct {
	Model  string
	UserID string
}

// NewMapper creates a mapper for the upstream model and caller id.
func NewMapper(model, userID string) Mapper {
	return Mapper{Model: model, UserID: userID}
}

// MapAll maps every message in order. The first failure aborts the whole list.
func (m Mapper) MapAll(msgs []core.Message) ([]engine.Message, error) {
	if len(msgs) == 0 {
		return nil, core.NewInvalidRequestError("messages must not be empty", nil)
	}
	out := make([]engine.Message, 0, len(msgs))
	for i, msg := range msgs {
		mapped, err := m.Map(i, msg)
		if err != nil {
			slog.Debug("message mapping failed", "model", m.Model, "user_id", m.UserID, "index", i, "error", err)
			return nil, err
		}
		out = append(out, mapped)
	}
	return out, nil
}

// Map converts message i.
func (m Mapper) Map(i int, msg core.Message) (engine.Message, error) {
	parts, err := mapParts(i, msg.Content)
	if err != nil {
		return engine.Message{}, err
	}
	out := engine.Message{Parts: parts, Name: msg.Name}

	switch msg.Role {
	case core.RoleSystem:
		out.Role = engine.RoleSystem
	case core.RoleDeveloper:
		out.Role = engine.RoleSystem
		if m.supportsDeveloperRole() {
			out.Role = engine.RoleDeveloper
		}
	case core.RoleUser:
		out.Role = engine.RoleUser
	case core.RoleAssistant:
		out.Role = engine.RoleAssistant
		for j, tc := range msg.ToolCalls {
			if tc.ID == "" || tc.Function.Name == "" {
				return engine.Message{}, core.NewMessageMappingError(i, fmt.Sprintf("tool_calls[%d] needs an id and a function name", j))
			}
			tc.Type = "function"
			tc.Index = nil
			if strings.TrimSpace(tc.Function.Arguments) == "" {
				tc.Function.Arguments = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, tc)
		}
		if len(parts) == 0 && len(out.ToolCalls) == 0 {
			return engine.Message{}, core.NewMessageMappingError(i, "assistant message needs content or tool_calls")
		}
	case core.RoleTool:
		if msg.ToolCallID == "" {
			return engine.Message{}, core.NewMessageMappingError(i, "tool message requires tool_call_id")
		}
		out.Role = engine.RoleTool
		out.ToolCallID = msg.ToolCallID
	case "":
		return engine.Message{}, core.NewMessageMappingError(i, "role is required")
	default:
		return engine.Message{}, core.NewMessageMappingError(i, fmt.Sprintf("unknown role %q", msg.Role))
	}

	if out.Role != engine.RoleUser && out.HasImages() {
		return engine.Message{}, core.NewMessageMappingError(i, fmt.Sprintf("image content is only supported in user messages, not %s", msg.Role))
	}
	return out, nil
}

func (m Mapper) supportsDeveloperRole() bool {
	for _, prefix := range developerRoleModels {
		if strings.HasPrefix(m.Model, prefix) {
			return true
		}
	}
	return false
}

func mapParts(i int, content core.MessageContent) ([]engine.Part, error) {
	if !content.IsMultipart() {
		if content.Text == "" {
			return nil, nil
		}
		return []engine.Part{{Type: engine.PartText, Text: content.Text}}, nil
	}

	parts := make([]engine.Part, 0, len(content.Parts))
	for j, p := range content.Parts {
		switch p.Type {
		case core.ContentPartText:
			parts = append(parts, engine.Part{Type: engine.PartText, Text: p.Text})
		case core.ContentPartImageURL:
			if p.ImageURL == nil || strings.TrimSpace(p.ImageURL.URL) == "" {
				return nil, core.NewMessageMappingError(i, fmt.Sprintf("content[%d] image_url.url is required", j))
			}
			parts = append(parts, engine.Part{Type: engine.PartImage, ImageURL: p.ImageURL.URL, Detail: p.ImageURL.Detail})
		default:
			return nil, core.NewMessageMappingError(i, fmt.Sprintf("content[%d] has unsupported type %q", j, p.Type))
		}
	}
	return parts, nil
}
