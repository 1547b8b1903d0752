package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/types"
	"github.com/Conversly/chat-gateway/internal/utils"
)

// MessageStore is the transcript store the finalizer writes to.
type MessageStore interface {
	SaveMessages(ctx context.Context, messages []types.Message) error
}

// Finalizer persists a turn's assistant messages once the stream has ended.
type Finalizer struct {
	store   MessageStore
	timeout time.Duration
}

func NewFinalizer(store MessageStore) *Finalizer {
	return &Finalizer{store: store, timeout: 10 * time.Second}
}

// Messages builds the rows for a finished turn. Expert outputs carry the
// agent-metadata attachment; general outputs never do, and a general
// output that failed is not stored.
func (f *Finalizer) Messages(turn *Turn, outputs []ResponderOutput) []types.Message {
	messages := make([]types.Message, 0, len(outputs))
	for i := range outputs {
		out := &outputs[i]
		if !turn.ExpertMode() && out.Failed {
			continue
		}
		if !out.hasContent() {
			continue
		}

		msg := types.Message{
			ID:          out.MessageID,
			ChatID:      turn.ChatID,
			Role:        types.RoleAssistant,
			Parts:       out.Parts,
			Attachments: []types.Attachment{},
			CreatedAt:   out.CreatedAt,
		}
		if turn.ExpertMode() {
			agent := out.Agent
			if agent == nil {
				agent = AttributeByPrefix(out.Text(), turn.Agents)
			}
			if agent != nil {
				msg.Attachments = append(msg.Attachments, agent.MetadataAttachment())
			}
		}
		messages = append(messages, msg)
	}
	return messages
}

// Finalize writes the turn's messages in one batch. It is attempted once;
// a failure is logged and returned, never retried.
func (f *Finalizer) Finalize(ctx context.Context, turn *Turn, outputs []ResponderOutput) error {
	messages := f.Messages(turn, outputs)
	if len(messages) == 0 {
		utils.Zlog.Debug("Nothing to persist for turn", zap.String("chat_id", turn.ChatID))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	if err := f.store.SaveMessages(ctx, messages); err != nil {
		utils.Zlog.Error("Failed to persist assistant messages",
			zap.String("chat_id", turn.ChatID),
			zap.Int("count", len(messages)),
			zap.Error(err))
		return err
	}
	utils.Zlog.Info("Persisted assistant messages",
		zap.String("chat_id", turn.ChatID),
		zap.Int("count", len(messages)))
	return nil
}
