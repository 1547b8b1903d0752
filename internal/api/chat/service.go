package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/attachments"
	"github.com/Conversly/chat-gateway/internal/core"
	"github.com/Conversly/chat-gateway/internal/llm"
	"github.com/Conversly/chat-gateway/internal/loaders"
	"github.com/Conversly/chat-gateway/internal/resumable"
	"github.com/Conversly/chat-gateway/internal/routing"
	"github.com/Conversly/chat-gateway/internal/settings"
	"github.com/Conversly/chat-gateway/internal/stream"
	"github.com/Conversly/chat-gateway/internal/tools"
	"github.com/Conversly/chat-gateway/internal/types"
	"github.com/Conversly/chat-gateway/internal/utils"
)

var (
	ErrForbidden    = errors.New("chat belongs to another user")
	ErrRateLimited  = errors.New("daily message limit reached")
	ErrChatNotFound = errors.New("chat not found")
)

// recentReplayWindow bounds how old a finished reply may be to be
// re-sent to a client that reconnects after the stream ended.
const recentReplayWindow = 15 * time.Second

// Store is the persistence the chat flow needs.
type Store interface {
	GetChat(ctx context.Context, id string) (*types.Chat, error)
	CreateChat(ctx context.Context, chat types.Chat) error
	UpdateChatAgentSelection(ctx context.Context, chatID string, agentIDs []string) error
	GetAgentsByIDs(ctx context.Context, ids []string) ([]types.Agent, error)
	SaveMessages(ctx context.Context, messages []types.Message) error
	ListMessagesByChat(ctx context.Context, chatID string) ([]types.Message, error)
	DailyMessageCount(ctx context.Context, userID string) (int, error)
	CreateStreamID(ctx context.Context, chatID string) (string, error)
	LatestStreamID(ctx context.Context, chatID string) (string, error)
}

// SnapshotSource hands out one settings snapshot per turn.
type SnapshotSource interface {
	Snapshot(ctx context.Context) *settings.Snapshot
}

type Deps struct {
	Store        Store
	Orchestrator *core.Orchestrator
	Finalizer    *core.Finalizer
	Locks        *core.ChatLocks
	Streams      *resumable.Wrapper
	Settings     SnapshotSource
	// Models serves title generation.
	Models llm.ModelSource
	Tools  tools.Deps
	// Attachments is optional; without it files are only described.
	Attachments       *attachments.Reader
	GenerationTimeout time.Duration
	DailyLimits       map[types.UserType]int
}

type Service struct {
	Deps
	now func() time.Time
}

func NewService(d Deps) *Service {
	if d.GenerationTimeout <= 0 {
		d.GenerationTimeout = 5 * time.Minute
	}
	return &Service{Deps: d, now: time.Now}
}

// Accepted is a turn that passed every check and is now generating.
type Accepted struct {
	ChatID   string
	StreamID string
	Frames   <-chan []byte
}

// StartTurn validates and records the turn, then starts generation in the
// background. Generation outlives ctx; only delivery to this caller is
// tied to it.
func (s *Service) StartTurn(ctx context.Context, user *types.User, req *Request, hints core.Hints) (*Accepted, error) {
	if err := s.checkEntitlement(ctx, user); err != nil {
		return nil, err
	}

	snap := s.Settings.Snapshot(ctx)
	pref := routing.Preference(req.SelectedProviderPreference)
	userMsg := req.UserMessage()

	chat, created, err := s.getOrCreateChat(ctx, user, req, snap, pref, userMsg.Text())
	if err != nil {
		return nil, err
	}

	release, err := s.Locks.TryLock(chat.ID)
	if err != nil {
		return nil, err
	}
	accepted := false
	defer func() {
		if !accepted {
			release()
		}
	}()

	// The selection is only stored once this turn owns the chat.
	agentIDs := chat.SelectedAgentIDs
	if req.SelectedAgentIDs != nil {
		agentIDs = req.SelectedAgentIDs
		if !created {
			if err := s.Store.UpdateChatAgentSelection(ctx, chat.ID, agentIDs); err != nil {
				return nil, err
			}
		}
	}
	agents, err := s.activeAgents(ctx, agentIDs)
	if err != nil {
		return nil, err
	}

	history, err := s.Store.ListMessagesByChat(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	userMsg.CreatedAt = s.now()
	if err := s.Store.SaveMessages(ctx, []types.Message{userMsg}); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}
	streamID, err := s.Store.CreateStreamID(ctx, chat.ID)
	if err != nil {
		return nil, err
	}

	turn := &core.Turn{
		ChatID:      chat.ID,
		UserID:      user.ID,
		UserMessage: userMsg,
		History:     history,
		ModelID:     req.SelectedChatModel,
		Preference:  pref,
		Agents:      agents,
		Hints:       hints,
		Tools:       tools.ForUser(ctx, s.Tools, user.ID),
		Excerpts:    s.Attachments.Excerpts(ctx, userMsg),
	}

	merger := stream.NewMerger(64)
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.GenerationTimeout)
	go func() {
		defer release()
		defer cancel()
		outputs := s.Orchestrator.Run(genCtx, turn, snap, merger)
		_ = s.Finalizer.Finalize(genCtx, turn, outputs)
	}()
	accepted = true

	utils.Zlog.Info("Turn accepted",
		zap.String("chat_id", chat.ID),
		zap.String("stream_id", streamID),
		zap.String("model", req.SelectedChatModel),
		zap.Int("agents", len(agents)))

	return &Accepted{
		ChatID:   chat.ID,
		StreamID: streamID,
		Frames:   s.Streams.Attach(ctx, streamID, merger.Output()),
	}, nil
}

func (s *Service) checkEntitlement(ctx context.Context, user *types.User) error {
	limit, ok := s.DailyLimits[user.Type]
	if !ok || limit <= 0 {
		return nil
	}
	count, err := s.Store.DailyMessageCount(ctx, user.ID)
	if err != nil {
		return err
	}
	if count >= limit {
		utils.Zlog.Info("Daily message limit reached",
			zap.String("user_id", user.ID),
			zap.String("user_type", string(user.Type)),
			zap.Int("limit", limit))
		return ErrRateLimited
	}
	return nil
}

func (s *Service) getOrCreateChat(ctx context.Context, user *types.User, req *Request, snap *settings.Snapshot,
	pref routing.Preference, firstText string) (*types.Chat, bool, error) {
	chat, err := s.Store.GetChat(ctx, req.ID)
	if err == nil {
		if chat.UserID != user.ID {
			return nil, false, ErrForbidden
		}
		return chat, false, nil
	}
	if !errors.Is(err, loaders.ErrNotFound) {
		return nil, false, err
	}

	selected := req.SelectedAgentIDs
	if selected == nil {
		selected = []string{}
	}
	chat = &types.Chat{
		ID:               req.ID,
		UserID:           user.ID,
		Title:            llm.GenerateTitle(ctx, s.Models, snap.Candidates(types.TitleModel, pref), firstText),
		Visibility:       req.SelectedVisibilityType,
		SelectedAgentIDs: selected,
		CreatedAt:        s.now(),
	}
	if err := s.Store.CreateChat(ctx, *chat); err != nil {
		return nil, false, err
	}
	return chat, true, nil
}

func (s *Service) activeAgents(ctx context.Context, ids []string) ([]types.Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	all, err := s.Store.GetAgentsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	agents := make([]types.Agent, 0, len(all))
	for _, a := range all {
		if a.Active {
			agents = append(agents, a)
		}
	}
	return agents, nil
}

// Resume returns the frames for a reconnecting client, or nil when there
// is nothing to send.
func (s *Service) Resume(ctx context.Context, user *types.User, chatID string) (<-chan []byte, error) {
	chat, err := s.Store.GetChat(ctx, chatID)
	if errors.Is(err, loaders.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	if chat.Visibility == types.VisibilityPrivate && chat.UserID != user.ID {
		return nil, ErrForbidden
	}

	streamID, err := s.Store.LatestStreamID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if streamID == "" {
		return nil, nil
	}
	if frames, ok := s.Streams.Resume(ctx, streamID); ok {
		return frames, nil
	}

	messages, err := s.Store.ListMessagesByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	last := messages[len(messages)-1]
	if last.Role != types.RoleAssistant || s.now().Sub(last.CreatedAt) > recentReplayWindow {
		return nil, nil
	}

	chunk, err := stream.Encode(stream.Frame{Type: stream.FrameAppendMessage, Message: &last})
	if err != nil {
		return nil, err
	}
	out := make(chan []byte, 2)
	out <- chunk
	out <- stream.DoneMarker
	close(out)
	return out, nil
}
