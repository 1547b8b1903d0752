package core

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/Conversly/chat-gateway/internal/rag"
	"github.com/Conversly/chat-gateway/internal/types"
)

const basePrompt = `You are a friendly assistant for a business chat product. Keep your responses concise and helpful.
When asked to write, create, or edit content longer than a few paragraphs, use the document tools if they are available.`

func hintsPrompt(h Hints) string {
	var lines []string
	if h.Locale != "" {
		lines = append(lines, "- locale: "+h.Locale)
	}
	if h.City != "" {
		lines = append(lines, "- city: "+h.City)
	}
	if h.Country != "" {
		lines = append(lines, "- country: "+h.Country)
	}
	if h.Latitude != "" && h.Longitude != "" {
		lines = append(lines, fmt.Sprintf("- coordinates: %s, %s", h.Latitude, h.Longitude))
	}
	if len(lines) == 0 {
		return ""
	}
	return "About the origin of the user's request:\n" + strings.Join(lines, "\n")
}

// generalSystemPrompt builds the prompt for the single general responder.
func generalSystemPrompt(h Hints, override string) string {
	sections := []string{basePrompt}
	if hp := hintsPrompt(h); hp != "" {
		sections = append(sections, hp)
	}
	if o := strings.TrimSpace(override); o != "" {
		sections = append(sections, o)
	}
	return strings.Join(sections, "\n\n")
}

// agentSystemPrompt builds an expert's prompt. continuity is in scan order,
// most recent first. The admin override comes last, as for the general
// responder.
func agentSystemPrompt(agent *types.Agent, snippets []rag.Snippet, continuity []types.Message, h Hints, override string) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)

	sb.WriteString("\n\nYou are ")
	sb.WriteString(agent.Name)
	sb.WriteString(".")
	if p := strings.TrimSpace(agent.Persona); p != "" {
		sb.WriteString("\n")
		sb.WriteString(p)
	}
	sb.WriteString("\nDo not start your reply with your name; it is added for you.")

	if hp := hintsPrompt(h); hp != "" {
		sb.WriteString("\n\n")
		sb.WriteString(hp)
	}

	if len(snippets) > 0 {
		sb.WriteString("\n\nRelevant knowledge:\n")
		for i, s := range snippets {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, strings.TrimSpace(s.Text))
		}
	}

	if len(continuity) > 0 {
		sb.WriteString("\n\nYour most recent replies in this chat, newest first:\n")
		for _, m := range continuity {
			sb.WriteString("- ")
			sb.WriteString(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(m.Text()), agent.Tag())))
			sb.WriteString("\n")
		}
	}

	out := strings.TrimRight(sb.String(), "\n")
	if o := strings.TrimSpace(override); o != "" {
		out += "\n\n" + o
	}
	return out
}

// toSchemaMessages converts stored messages for the model. File parts are
// described inline because not every backend accepts remote media; the
// current message also carries any excerpts read from its files.
func toSchemaMessages(history []types.Message, current types.Message, excerpts map[string]string) []*schema.Message {
	out := make([]*schema.Message, 0, len(history)+1)
	for i := range history {
		if m := toSchemaMessage(&history[i], nil); m != nil {
			out = append(out, m)
		}
	}
	if m := toSchemaMessage(&current, excerpts); m != nil {
		out = append(out, m)
	}
	return out
}

func toSchemaMessage(m *types.Message, excerpts map[string]string) *schema.Message {
	var sb strings.Builder
	for _, p := range m.Parts {
		switch p.Type {
		case types.PartText:
			sb.WriteString(p.Text)
		case types.PartFile:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "[Attachment: %s (%s) %s]", p.Name, p.MediaType, p.URL)
			if ex := excerpts[p.URL]; ex != "" {
				sb.WriteString("\nContent excerpt:\n")
				sb.WriteString(ex)
			}
		}
	}
	content := sb.String()
	if strings.TrimSpace(content) == "" {
		return nil
	}
	switch m.Role {
	case types.RoleUser:
		return schema.UserMessage(content)
	case types.RoleAssistant:
		return schema.AssistantMessage(content, nil)
	default:
		return nil
	}
}
