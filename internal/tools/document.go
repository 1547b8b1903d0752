package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/types"
	"github.com/Conversly/chat-gateway/internal/utils"
)

var documentKinds = map[string]bool{
	types.DocumentKindText:  true,
	types.DocumentKindCode:  true,
	types.DocumentKindSheet: true,
}

type createDocumentInput struct {
	Title   string `json:"title"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type updateDocumentInput struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type documentOutput struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type CreateDocumentTool struct {
	store  DocumentStore
	userID string
}

func NewCreateDocumentTool(store DocumentStore, userID string) *CreateDocumentTool {
	return &CreateDocumentTool{store: store, userID: userID}
}

func (t *CreateDocumentTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "createDocument",
		Desc: "Create a document for writing or content creation activities. Write the full document content in the content field.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"title":   {Type: schema.String, Desc: "Document title", Required: true},
			"kind":    {Type: schema.String, Desc: "Document kind", Enum: []string{types.DocumentKindText, types.DocumentKindCode, types.DocumentKindSheet}, Required: true},
			"content": {Type: schema.String, Desc: "Full document content", Required: true},
		}),
	}, nil
}

func (t *CreateDocumentTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var input createDocumentInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if input.Title == "" {
		return "", fmt.Errorf("title is required")
	}
	if !documentKinds[input.Kind] {
		return "", fmt.Errorf("unsupported document kind %q", input.Kind)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate document id: %w", err)
	}
	doc := types.Document{
		ID:        id.String(),
		UserID:    t.userID,
		Title:     input.Title,
		Kind:      input.Kind,
		Content:   input.Content,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.store.CreateDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to save document: %w", err)
	}

	utils.Zlog.Info("Document created",
		zap.String("document_id", doc.ID),
		zap.String("user_id", t.userID),
		zap.String("kind", doc.Kind))

	return marshalOutput(documentOutput{
		ID:      doc.ID,
		Title:   doc.Title,
		Kind:    doc.Kind,
		Content: "A document was created and is now visible to the user.",
	})
}

type UpdateDocumentTool struct {
	store  DocumentStore
	userID string
}

func NewUpdateDocumentTool(store DocumentStore, userID string) *UpdateDocumentTool {
	return &UpdateDocumentTool{store: store, userID: userID}
}

func (t *UpdateDocumentTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "updateDocument",
		Desc: "Replace the content of an existing document. Provide the complete new content.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"id":      {Type: schema.String, Desc: "The ID of the document to update", Required: true},
			"content": {Type: schema.String, Desc: "The complete new content", Required: true},
		}),
	}, nil
}

// InvokableRun appends a new version; earlier versions are kept.
func (t *UpdateDocumentTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var input updateDocumentInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	current, err := loadOwned(ctx, t.store, input.ID, t.userID)
	if err != nil {
		return "", err
	}

	next := *current
	next.Content = input.Content
	next.CreatedAt = time.Now().UTC()
	if err := t.store.CreateDocument(ctx, next); err != nil {
		return "", fmt.Errorf("failed to save document version: %w", err)
	}

	utils.Zlog.Info("Document updated",
		zap.String("document_id", next.ID),
		zap.String("user_id", t.userID))

	return marshalOutput(documentOutput{
		ID:      next.ID,
		Title:   next.Title,
		Kind:    next.Kind,
		Content: "The document has been updated successfully.",
	})
}

func loadOwned(ctx context.Context, store DocumentStore, id, userID string) (*types.Document, error) {
	if id == "" {
		return nil, fmt.Errorf("document id is required")
	}
	doc, err := store.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if doc == nil || doc.UserID != userID {
		return nil, fmt.Errorf("document %s not found", id)
	}
	return doc, nil
}

func marshalOutput(v interface{}) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal output: %w", err)
	}
	return string(out), nil
}

var (
	_ tool.InvokableTool = (*CreateDocumentTool)(nil)
	_ tool.InvokableTool = (*UpdateDocumentTool)(nil)
)
