package tools

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/types"
	"github.com/Conversly/chat-gateway/internal/utils"
)

// disabledFor lists logical models that never get tools.
var disabledFor = map[string]bool{
	types.ChatModelReasoning: true,
}

// Enabled reports whether turns on logicalModelID may call tools.
func Enabled(logicalModelID string) bool {
	return !disabledFor[logicalModelID]
}

// DocumentStore persists documents and suggestions written by tools.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc types.Document) error
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	SaveSuggestions(ctx context.Context, suggestions []types.Suggestion) error
}

type Deps struct {
	Documents      DocumentStore
	WeatherBaseURL string
	HTTPClient     *http.Client
}

// ForUser returns the full tool set bound to one user.
func ForUser(ctx context.Context, deps Deps, userID string) []tool.InvokableTool {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	enabled := []tool.InvokableTool{
		NewWeatherTool(deps.WeatherBaseURL, client),
	}
	if deps.Documents != nil {
		enabled = append(enabled,
			NewCreateDocumentTool(deps.Documents, userID),
			NewUpdateDocumentTool(deps.Documents, userID),
			NewRequestSuggestionsTool(deps.Documents, userID),
		)
	}

	utils.Zlog.Debug("Enabled tools for user",
		zap.String("user_id", userID),
		zap.Int("tool_count", len(enabled)))

	return enabled
}
