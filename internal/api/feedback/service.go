package feedback

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/loaders"
	"github.com/Conversly/chat-gateway/internal/types"
	"github.com/Conversly/chat-gateway/internal/utils"
)

var (
	ErrForbidden     = errors.New("chat belongs to another user")
	ErrNotFound      = errors.New("message not found")
	ErrNotRateable   = errors.New("only assistant messages can be rated")
	ErrInvalidRating = errors.New("invalid feedback")
)

// Stored feedback values.
const (
	ratingNone    int16 = 0
	ratingLike    int16 = 1
	ratingDislike int16 = 2
	ratingNeutral int16 = 3
)

type Store interface {
	GetChat(ctx context.Context, id string) (*types.Chat, error)
	GetMessageByID(ctx context.Context, id string) (*types.Message, error)
	UpdateMessageFeedback(ctx context.Context, chatID, messageID string, feedback int16, comment *string) error
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func parseRating(s string) (int16, error) {
	switch s {
	case "like":
		return ratingLike, nil
	case "dislike":
		return ratingDislike, nil
	case "neutral":
		return ratingNeutral, nil
	case "", "none":
		return ratingNone, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidRating, s)
	}
}

// Submit records the user's rating of an assistant message in one of
// their chats. Clearing a rating also clears its comment.
func (s *Service) Submit(ctx context.Context, user *types.User, chatID, messageID string, req *Request) error {
	val, err := parseRating(req.Feedback)
	if err != nil {
		return err
	}

	chat, err := s.store.GetChat(ctx, chatID)
	if errors.Is(err, loaders.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if chat.UserID != user.ID {
		return ErrForbidden
	}

	msg, err := s.store.GetMessageByID(ctx, messageID)
	if errors.Is(err, loaders.ErrNotFound) || (err == nil && msg.ChatID != chatID) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if msg.Role != types.RoleAssistant {
		return ErrNotRateable
	}

	var comment *string
	if req.Comment != "" && val != ratingNone {
		comment = &req.Comment
	}
	if err := s.store.UpdateMessageFeedback(ctx, chatID, messageID, val, comment); err != nil {
		if errors.Is(err, loaders.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	utils.Zlog.Debug("Message feedback stored",
		zap.String("chat_id", chatID),
		zap.String("message_id", messageID),
		zap.Int16("feedback", val))
	return nil
}
