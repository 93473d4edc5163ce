package engine

import (
	"strings"

	"llmgateway/internal/core"
)

// Role is the author of an internal message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType distinguishes message parts.
type PartType int

const (
	PartText PartType = iota
	PartImage
)

// Part is one piece of message content.
type Part struct {
	Type     PartType
	Text     string
	ImageURL string
	Detail   string
}

// Message is the provider-agnostic form of a chat message.
type Message struct {
	Role       Role
	Parts      []Part
	Name       string
	ToolCalls  []core.ToolCall
	ToolCallID string
}

// Text concatenates the text parts.
func (m Message) Text() string {
	if len(m.Parts) == 1 && m.Parts[0].Type == PartText {
		return m.Parts[0].Text
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasImages reports whether any part is an image.
func (m Message) HasImages() bool {
	for _, p := range m.Parts {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}
