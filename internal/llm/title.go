package llm

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/routing"
	"github.com/Conversly/chat-gateway/internal/utils"
)

const titlePrompt = `You will generate a short title based on the first message a user begins a conversation with.
Keep it under 80 characters. Do not use quotes or colons. Reply with the title only.`

const maxTitleLength = 80

// GenerateTitle asks each candidate in order for a chat title and falls back
// to a truncated copy of the message when none succeeds.
func GenerateTitle(ctx context.Context, models ModelSource, candidates []routing.Candidate, firstMessage string) string {
	for _, cand := range candidates {
		cm, err := models.ChatModel(ctx, cand)
		if err != nil {
			utils.Zlog.Warn("Title model unavailable", zap.String("candidate", cand.String()), zap.Error(err))
			continue
		}
		msg, err := cm.Generate(ctx, []*schema.Message{
			schema.SystemMessage(titlePrompt),
			schema.UserMessage(firstMessage),
		})
		if err != nil {
			utils.Zlog.Warn("Title generation failed, trying next", zap.String("candidate", cand.String()), zap.Error(err))
			continue
		}
		if title := cleanTitle(msg.Content); title != "" {
			return title
		}
	}
	return FallbackTitle(firstMessage)
}

func FallbackTitle(text string) string {
	title := cleanTitle(text)
	if title == "" {
		return "New chat"
	}
	return title
}

func cleanTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, `"'`)
	s = strings.ReplaceAll(s, ":", "")
	if r := []rune(s); len(r) > maxTitleLength {
		s = strings.TrimSpace(string(r[:maxTitleLength]))
	}
	return s
}
