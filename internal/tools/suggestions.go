package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/types"
	"github.com/Conversly/chat-gateway/internal/utils"
)

const (
	maxSuggestions    = 5
	longSentenceWords = 30
)

var sentenceSplit = regexp.MustCompile(`[^.!?]+[.!?]*`)

type requestSuggestionsInput struct {
	DocumentID string `json:"documentId"`
}

// RequestSuggestionsTool stores writing suggestions for a text document.
type RequestSuggestionsTool struct {
	store  DocumentStore
	userID string
}

func NewRequestSuggestionsTool(store DocumentStore, userID string) *RequestSuggestionsTool {
	return &RequestSuggestionsTool{store: store, userID: userID}
}

func (t *RequestSuggestionsTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "requestSuggestions",
		Desc: "Request suggestions for a document",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"documentId": {Type: schema.String, Desc: "The ID of the document to request suggestions for", Required: true},
		}),
	}, nil
}

func (t *RequestSuggestionsTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var input requestSuggestionsInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	doc, err := loadOwned(ctx, t.store, input.DocumentID, t.userID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	suggestions := make([]types.Suggestion, 0, maxSuggestions)
	for _, s := range suggestSentences(doc.Content) {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("failed to generate suggestion id: %w", err)
		}
		s.ID = id.String()
		s.DocumentID = doc.ID
		s.DocumentCreatedAt = doc.CreatedAt
		s.UserID = t.userID
		s.CreatedAt = now
		suggestions = append(suggestions, s)
	}

	if len(suggestions) > 0 {
		if err := t.store.SaveSuggestions(ctx, suggestions); err != nil {
			return "", fmt.Errorf("failed to save suggestions: %w", err)
		}
	}

	utils.Zlog.Info("Suggestions generated",
		zap.String("document_id", doc.ID),
		zap.Int("count", len(suggestions)))

	return marshalOutput(map[string]interface{}{
		"id":      doc.ID,
		"title":   doc.Title,
		"kind":    doc.Kind,
		"count":   len(suggestions),
		"message": "Suggestions have been added to the document",
	})
}

// suggestSentences flags repeated words and overly long sentences.
func suggestSentences(content string) []types.Suggestion {
	var out []types.Suggestion
	for _, raw := range sentenceSplit.FindAllString(content, -1) {
		if len(out) >= maxSuggestions {
			break
		}
		sentence := strings.TrimSpace(raw)
		if sentence == "" {
			continue
		}

		words := strings.Fields(sentence)
		if deduped, ok := dropRepeatedWords(words); ok {
			out = append(out, types.Suggestion{
				OriginalText:  sentence,
				SuggestedText: strings.Join(deduped, " "),
				Description:   "Remove the repeated word",
			})
			continue
		}

		if len(words) > longSentenceWords {
			half := len(words) / 2
			first := strings.TrimRight(strings.Join(words[:half], " "), ",;")
			out = append(out, types.Suggestion{
				OriginalText:  sentence,
				SuggestedText: first + ". " + capitalize(strings.Join(words[half:], " ")),
				Description:   "Split this long sentence for readability",
			})
		}
	}
	return out
}

// dropRepeatedWords removes immediate case-insensitive repeats such as
// "the the". ok is false when nothing was repeated.
func dropRepeatedWords(words []string) ([]string, bool) {
	out := make([]string, 0, len(words))
	for i, w := range words {
		if i > 0 && strings.EqualFold(normalizeWord(w), normalizeWord(words[i-1])) && normalizeWord(w) != "" {
			continue
		}
		out = append(out, w)
	}
	return out, len(out) != len(words)
}

func normalizeWord(w string) string {
	return strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

var _ tool.InvokableTool = (*RequestSuggestionsTool)(nil)
