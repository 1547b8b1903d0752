package types

import (
	"strings"
	"time"
)

// Logical model ids exposed to clients.
const (
	ChatModel          = "chat-model"
	ChatModelSmall     = "chat-model-small"
	ChatModelReasoning = "chat-model-reasoning"
	TitleModel         = "title-model"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	PartText       = "text"
	PartReasoning  = "reasoning"
	PartFile       = "file"
	PartToolCall   = "tool-call"
	PartToolResult = "tool-result"
)

// AttachmentAgentMetadata marks the expert that produced a message.
const AttachmentAgentMetadata = "agent-metadata"

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

type UserType string

const (
	UserTypeGuest   UserType = "guest"
	UserTypeRegular UserType = "regular"
)

type User struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Type  UserType `json:"type"`
}

type Part struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	MediaType  string `json:"mediaType,omitempty"`
	Name       string `json:"name,omitempty"`
	URL        string `json:"url,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Input      string `json:"input,omitempty"`
	Output     string `json:"output,omitempty"`
}

type Attachment struct {
	Kind      string `json:"kind"`
	AgentID   string `json:"agentId,omitempty"`
	AgentName string `json:"agentName,omitempty"`
	AgentSlug string `json:"agentSlug,omitempty"`
	Name      string `json:"name,omitempty"`
	URL       string `json:"url,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

type Message struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chatId"`
	Role        string       `json:"role"`
	Parts       []Part       `json:"parts"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Text joins the message's text parts.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// AgentMetadata returns the agent-metadata attachment, if any.
func (m *Message) AgentMetadata() *Attachment {
	for i := range m.Attachments {
		if m.Attachments[i].Kind == AttachmentAgentMetadata {
			return &m.Attachments[i]
		}
	}
	return nil
}

// Agent is an expert persona. The gateway only reads agents.
type Agent struct {
	ID               string `json:"id"`
	Slug             string `json:"slug"`
	Name             string `json:"name"`
	Persona          string `json:"persona"`
	RetrievalEnabled bool   `json:"retrievalEnabled"`
	Active           bool   `json:"active"`
}

// Tag returns the "[Name]" prefix that opens the agent's replies.
func (a *Agent) Tag() string {
	return "[" + a.Name + "]"
}

// MetadataAttachment builds the attachment recorded on the agent's messages.
func (a *Agent) MetadataAttachment() Attachment {
	return Attachment{
		Kind:      AttachmentAgentMetadata,
		AgentID:   a.ID,
		AgentName: a.Name,
		AgentSlug: a.Slug,
	}
}

type Chat struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Title            string    `json:"title"`
	Visibility       string    `json:"visibility"`
	SelectedAgentIDs []string  `json:"selectedAgentIds"`
	CreatedAt        time.Time `json:"createdAt"`
}
