package chat

import (
	"fmt"
	"strings"

	"github.com/Conversly/chat-gateway/internal/attachments"
	"github.com/Conversly/chat-gateway/internal/types"
)

// Request is the body of POST /api/chat.
//
//	{
//	  "id": "<chat uuid>",
//	  "message": {"id": "<uuid>", "role": "user", "parts": [{"type": "text", "text": "hi"}]},
//	  "selectedChatModel": "chat-model",
//	  "selectedVisibilityType": "private",
//	  "selectedAgentIds": ["..."],
//	  "selectedProviderPreference": "load-balance"
//	}
//
// selectedAgentIds absent means "use the chat's remembered selection"; an
// empty list clears it.
type Request struct {
	ID                         string         `json:"id" binding:"required,uuid"`
	Message                    MessageRequest `json:"message"`
	SelectedChatModel          string         `json:"selectedChatModel" binding:"required,oneof=chat-model chat-model-small chat-model-reasoning"`
	SelectedVisibilityType     string         `json:"selectedVisibilityType" binding:"required,oneof=public private"`
	SelectedAgentIDs           []string       `json:"selectedAgentIds" binding:"omitempty,max=5,dive,required"`
	SelectedProviderPreference string         `json:"selectedProviderPreference" binding:"omitempty,oneof=load-balance gemini-only openai-only"`
}

type MessageRequest struct {
	ID    string        `json:"id" binding:"required,uuid"`
	Role  string        `json:"role" binding:"required,oneof=user"`
	Parts []PartRequest `json:"parts" binding:"required,min=1,dive"`
}

type PartRequest struct {
	Type      string `json:"type" binding:"required,oneof=text file"`
	Text      string `json:"text" binding:"max=2000"`
	MediaType string `json:"mediaType" binding:"max=100"`
	Name      string `json:"name" binding:"max=100"`
	URL       string `json:"url" binding:"omitempty,url"`
}

// Validate checks the per-type part rules the binding tags cannot express.
func (r *Request) Validate() error {
	for i, p := range r.Message.Parts {
		switch p.Type {
		case types.PartText:
			if strings.TrimSpace(p.Text) == "" {
				return fmt.Errorf("message.parts[%d]: text part needs text", i)
			}
		case types.PartFile:
			if p.MediaType == "" || p.Name == "" || p.URL == "" {
				return fmt.Errorf("message.parts[%d]: file part needs mediaType, name and url", i)
			}
			if !acceptedMediaType(p.MediaType) {
				return fmt.Errorf("message.parts[%d]: unsupported mediaType %q", i, p.MediaType)
			}
		}
	}
	return nil
}

// acceptedMediaType allows images, which are described to the model, and
// every type an excerpt can be read from.
func acceptedMediaType(mt string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mt)), "image/") || attachments.Readable(mt)
}

// UserMessage converts the request message for storage.
func (r *Request) UserMessage() types.Message {
	parts := make([]types.Part, 0, len(r.Message.Parts))
	for _, p := range r.Message.Parts {
		parts = append(parts, types.Part{
			Type:      p.Type,
			Text:      p.Text,
			MediaType: p.MediaType,
			Name:      p.Name,
			URL:       p.URL,
		})
	}
	return types.Message{
		ID:          r.Message.ID,
		ChatID:      r.ID,
		Role:        types.RoleUser,
		Parts:       parts,
		Attachments: []types.Attachment{},
	}
}
