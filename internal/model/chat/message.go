package chat

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// PartType tags a content fragment.
type PartType string

const (
	PartText       PartType = "text"
	PartFile       PartType = "file"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
	PartReasoning  PartType = "reasoning"
	PartSource     PartType = "source"
)

// Part is a single typed fragment of message content.
type Part struct {
	Type       PartType        `json:"type"`
	Text       string          `json:"text,omitempty"`
	MediaType  string          `json:"mediaType,omitempty"`
	URL        string          `json:"url,omitempty"`
	Filename   string          `json:"filename,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	SourceID   string          `json:"sourceId,omitempty"`
	Title      string          `json:"title,omitempty"`
}

// TextPart is shorthand for a plain text fragment.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// Metadata carries the branch bookkeeping of a message.
// An empty ParentMessageID marks a root; an empty BranchID means the
// message belongs to no branch and is never matched by branch lookups.
type Metadata struct {
	BranchID        string `json:"branchId,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
}

// Message is one turn of a conversation.
type Message struct {
	ID       string   `json:"id"`
	Role     Role     `json:"role"`
	Parts    []Part   `json:"parts"`
	Metadata Metadata `json:"metadata"`
}

// Displayable reports whether the message has any content to show.
func (m Message) Displayable() bool {
	return len(m.Parts) > 0
}

// IsRoot reports whether the message has no parent.
func (m Message) IsRoot() bool {
	return m.Metadata.ParentMessageID == ""
}

// Text joins the text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, part := range m.Parts {
		if part.Type != PartText {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = make([]Part, len(m.Parts))
		copy(out.Parts, m.Parts)
	}
	return out
}
