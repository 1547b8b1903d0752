package core

import (
	"strings"

	"github.com/Conversly/chat-gateway/internal/types"
)

const continuityWindow = 3

// AttributeByPrefix returns the first agent whose "[Name]" tag opens text.
func AttributeByPrefix(text string, agents []types.Agent) *types.Agent {
	trimmed := strings.TrimSpace(text)
	for i := range agents {
		if strings.HasPrefix(trimmed, agents[i].Tag()) {
			return &agents[i]
		}
	}
	return nil
}

// attributedTo reports whether a stored assistant message came from agent.
// The metadata attachment wins; the text prefix is used for messages
// without one.
func attributedTo(m *types.Message, agent *types.Agent) bool {
	if m.Role != types.RoleAssistant {
		return false
	}
	if meta := m.AgentMetadata(); meta != nil {
		return meta.AgentID == agent.ID
	}
	return strings.HasPrefix(strings.TrimSpace(m.Text()), agent.Tag())
}

// continuityFor scans history backwards for the agent's latest replies.
func continuityFor(history []types.Message, agent *types.Agent) []types.Message {
	var out []types.Message
	for i := len(history) - 1; i >= 0 && len(out) < continuityWindow; i-- {
		if attributedTo(&history[i], agent) {
			out = append(out, history[i])
		}
	}
	return out
}
