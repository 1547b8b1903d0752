package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conversly/chat-gateway/internal/attachments"
	"github.com/Conversly/chat-gateway/internal/core"
	"github.com/Conversly/chat-gateway/internal/llm"
	"github.com/Conversly/chat-gateway/internal/loaders"
	"github.com/Conversly/chat-gateway/internal/middleware"
	"github.com/Conversly/chat-gateway/internal/resumable"
	"github.com/Conversly/chat-gateway/internal/routing"
	"github.com/Conversly/chat-gateway/internal/settings"
	"github.com/Conversly/chat-gateway/internal/stream"
	"github.com/Conversly/chat-gateway/internal/tools"
	"github.com/Conversly/chat-gateway/internal/types"
)

type memStore struct {
	mu       sync.Mutex
	chats    map[string]*types.Chat
	agents   map[string]types.Agent
	messages []types.Message
	streams  map[string][]string
	daily    int
}

func newMemStore() *memStore {
	return &memStore{
		chats: map[string]*types.Chat{},
		agents: map[string]types.Agent{
			"a1": {ID: "a1", Slug: "alpha", Name: "Alpha", Active: true},
			"a2": {ID: "a2", Slug: "retired", Name: "Retired", Active: false},
		},
		streams: map[string][]string{},
	}
}

func (s *memStore) GetChat(_ context.Context, id string) (*types.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat: %w", loaders.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) CreateChat(_ context.Context, chat types.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ID] = &chat
	return nil
}

func (s *memStore) UpdateChatAgentSelection(_ context.Context, chatID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chatID].SelectedAgentIDs = ids
	return nil
}

func (s *memStore) GetAgentsByIDs(_ context.Context, ids []string) ([]types.Agent, error) {
	var out []types.Agent
	for _, id := range ids {
		if a, ok := s.agents[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) SaveMessages(_ context.Context, msgs []types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
	return nil
}

func (s *memStore) ListMessagesByChat(_ context.Context, chatID string) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) DailyMessageCount(context.Context, string) (int, error) {
	return s.daily, nil
}

func (s *memStore) CreateStreamID(_ context.Context, chatID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.streams[chatID] = append(s.streams[chatID], id)
	return id, nil
}

func (s *memStore) LatestStreamID(_ context.Context, chatID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.streams[chatID]
	if len(ids) == 0 {
		return "", nil
	}
	return ids[len(ids)-1], nil
}

func (s *memStore) assistantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.Role == types.RoleAssistant {
			n++
		}
	}
	return n
}

// echoGen replies "ok" on every candidate.
type echoGen struct{}

func (echoGen) Generate(context.Context, routing.Candidate, llm.Request) (*schema.StreamReader[stream.Event], error) {
	return schema.StreamReaderFromArray([]stream.Event{{Type: stream.EventTextDelta, Delta: "ok"}}), nil
}

// recordingGen replies "ok" and keeps every request it was given.
type recordingGen struct {
	mu       sync.Mutex
	requests []llm.Request
}

func (g *recordingGen) Generate(_ context.Context, _ routing.Candidate, req llm.Request) (*schema.StreamReader[stream.Event], error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	return schema.StreamReaderFromArray([]stream.Event{{Type: stream.EventTextDelta, Delta: "ok"}}), nil
}

func (g *recordingGen) last() llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

type staticSettings struct{ snap *settings.Snapshot }

func (s staticSettings) Snapshot(context.Context) *settings.Snapshot { return s.snap }

type harness struct {
	store  *memStore
	svc    *Service
	router *gin.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, echoGen{}, nil)
}

func newHarnessWith(t *testing.T, gen core.Generator, reader *attachments.Reader) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	snap := &settings.Snapshot{
		GeminiModels:      map[string]string{types.ChatModel: "g-chat"},
		DefaultPreference: routing.PreferLoadBalance,
	}
	svc := NewService(Deps{
		Store:        store,
		Orchestrator: core.NewOrchestrator(gen, nil, 5),
		Finalizer:    core.NewFinalizer(store),
		Locks:        core.NewChatLocks(),
		Streams:      resumable.NewWrapper(nil),
		Settings:     staticSettings{snap: snap},
		Tools:        tools.Deps{},
		Attachments:  reader,
		DailyLimits:  map[types.UserType]int{types.UserTypeRegular: 3},
	})

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			middleware.SetUser(c, &types.User{ID: id, Type: types.UserTypeRegular})
		}
		c.Next()
	})
	RegisterRoutes(r, svc, func(c *gin.Context) { c.Next() })
	return &harness{store: store, svc: svc, router: r}
}

func body(chatID string, extra map[string]interface{}) map[string]interface{} {
	b := map[string]interface{}{
		"id": chatID,
		"message": map[string]interface{}{
			"id":    uuid.NewString(),
			"role":  "user",
			"parts": []map[string]string{{"type": "text", "text": "hello there"}},
		},
		"selectedChatModel":      "chat-model",
		"selectedVisibilityType": "private",
	}
	for k, v := range extra {
		b[k] = v
	}
	return b
}

func (h *harness) post(t *testing.T, user string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// waitIdle waits until n replies are stored and the chat lock is free.
func (h *harness) waitIdle(t *testing.T, chatID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		if h.store.assistantCount() < n {
			return false
		}
		release, err := h.svc.Locks.TryLock(chatID)
		if err != nil {
			return false
		}
		release()
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) chat(t *testing.T, chatID string) *types.Chat {
	t.Helper()
	c, err := h.store.GetChat(context.Background(), chatID)
	require.NoError(t, err)
	return c
}

func TestInvalidPayloadIsRejectedBeforeGeneration(t *testing.T) {
	h := newHarness(t)

	cases := map[string]interface{}{
		"not a uuid":     body("chat-1", nil),
		"unknown model":  body(uuid.NewString(), map[string]interface{}{"selectedChatModel": "gpt-9"}),
		"bad preference": body(uuid.NewString(), map[string]interface{}{"selectedProviderPreference": "cheapest"}),
		"no parts": body(uuid.NewString(), map[string]interface{}{
			"message": map[string]interface{}{"id": uuid.NewString(), "role": "user", "parts": []interface{}{}},
		}),
		"assistant role": body(uuid.NewString(), map[string]interface{}{
			"message": map[string]interface{}{"id": uuid.NewString(), "role": "assistant",
				"parts": []map[string]string{{"type": "text", "text": "hi"}}},
		}),
		"empty text part": body(uuid.NewString(), map[string]interface{}{
			"message": map[string]interface{}{"id": uuid.NewString(), "role": "user",
				"parts": []map[string]string{{"type": "text", "text": "  "}}},
		}),
		"unsupported file type": body(uuid.NewString(), map[string]interface{}{
			"message": map[string]interface{}{"id": uuid.NewString(), "role": "user",
				"parts": []map[string]string{{"type": "file", "mediaType": "application/zip", "name": "a.zip", "url": "https://files.test/a.zip"}}},
		}),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			w := h.post(t, "u1", payload)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), `"error":"bad_request"`)
		})
	}
	assert.Empty(t, h.store.chats)
	assert.Empty(t, h.store.messages)
}

func TestUnauthenticatedRequestIsRejected(t *testing.T) {
	h := newHarness(t)
	w := h.post(t, "", body(uuid.NewString(), nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTurnStreamsAndPersists(t *testing.T) {
	h := newHarness(t)
	chatID := uuid.NewString()

	w := h.post(t, "u1", body(chatID, nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Stream-ID"))
	out := w.Body.String()
	assert.Contains(t, out, `"type":"text-delta"`)
	assert.Contains(t, out, `"delta":"ok"`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))

	h.waitIdle(t, chatID, 1)
	chat := h.chat(t, chatID)
	assert.Equal(t, "u1", chat.UserID)
	assert.Equal(t, "hello there", chat.Title)

	msgs, _ := h.store.ListMessagesByChat(context.Background(), chatID)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	assert.Empty(t, msgs[1].Attachments)
}

func TestAgentSelectionRoundTrip(t *testing.T) {
	h := newHarness(t)
	chatID := uuid.NewString()

	w := h.post(t, "u1", body(chatID, map[string]interface{}{"selectedAgentIds": []string{"a1", "a2"}}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"type":"agent-start"`)
	assert.NotContains(t, w.Body.String(), `"agentId":"a2"`, "inactive agents never respond")
	h.waitIdle(t, chatID, 1)
	assert.Equal(t, []string{"a1", "a2"}, h.chat(t, chatID).SelectedAgentIDs)

	// Omitted selection recalls the stored one.
	w = h.post(t, "u1", body(chatID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"agentId":"a1"`)
	assert.Contains(t, w.Body.String(), `"delta":"[Alpha] "`)
	h.waitIdle(t, chatID, 2)

	// An explicit empty list clears it.
	w = h.post(t, "u1", body(chatID, map[string]interface{}{"selectedAgentIds": []string{}}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"type":"agent-start"`)
	h.waitIdle(t, chatID, 3)
	assert.Empty(t, h.chat(t, chatID).SelectedAgentIDs)

	msgs, _ := h.store.ListMessagesByChat(context.Background(), chatID)
	var attributed int
	for _, m := range msgs {
		if meta := m.AgentMetadata(); meta != nil {
			attributed++
			assert.Equal(t, "a1", meta.AgentID)
		}
	}
	assert.Equal(t, 2, attributed)
}

func TestOtherUsersChatIsForbidden(t *testing.T) {
	h := newHarness(t)
	chatID := uuid.NewString()
	require.Equal(t, http.StatusOK, h.post(t, "owner", body(chatID, nil)).Code)
	h.waitIdle(t, chatID, 1)

	w := h.post(t, "intruder", body(chatID, nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDailyLimit(t *testing.T) {
	h := newHarness(t)
	h.store.daily = 3
	w := h.post(t, "u1", body(uuid.NewString(), nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Empty(t, h.store.chats)
}

func TestConcurrentTurnOnSameChatIsRejected(t *testing.T) {
	h := newHarness(t)
	chatID := uuid.NewString()
	require.Equal(t, http.StatusOK, h.post(t, "u1", body(chatID, nil)).Code)
	h.waitIdle(t, chatID, 1)

	release, err := h.svc.Locks.TryLock(chatID)
	require.NoError(t, err)
	defer release()

	w := h.post(t, "u1", body(chatID, nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRejectedTurnKeepsStoredAgentSelection(t *testing.T) {
	h := newHarness(t)
	chatID := uuid.NewString()
	require.Equal(t, http.StatusOK, h.post(t, "u1", body(chatID, map[string]interface{}{"selectedAgentIds": []string{"a1"}})).Code)
	h.waitIdle(t, chatID, 1)

	release, err := h.svc.Locks.TryLock(chatID)
	require.NoError(t, err)
	defer release()

	w := h.post(t, "u1", body(chatID, map[string]interface{}{"selectedAgentIds": []string{}}))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []string{"a1"}, h.chat(t, chatID).SelectedAgentIDs)
}

func fileMessage(mediaType, url string) map[string]interface{} {
	return map[string]interface{}{
		"id":   uuid.NewString(),
		"role": "user",
		"parts": []map[string]string{
			{"type": "text", "text": "what does this say?"},
			{"type": "file", "mediaType": mediaType, "name": "manual", "url": url},
		},
	}
}

func TestReadableAndImageFilesAreAccepted(t *testing.T) {
	h := newHarness(t)
	for _, mt := range []string{"text/plain", "text/markdown", "application/pdf", "application/json", "image/png", "image/jpeg"} {
		t.Run(mt, func(t *testing.T) {
			chatID := uuid.NewString()
			w := h.post(t, "u1", body(chatID, map[string]interface{}{"message": fileMessage(mt, "https://files.test/manual")}))
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			h.waitIdle(t, chatID, 1)
			h.store.mu.Lock()
			h.store.messages = nil
			h.store.mu.Unlock()
		})
	}
}

func TestFileExcerptReachesTheModel(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Hold the reset button for ten seconds."))
	}))
	defer files.Close()

	reader, err := attachments.NewReader(context.Background(), attachments.Config{})
	require.NoError(t, err)
	gen := &recordingGen{}
	h := newHarnessWith(t, gen, reader)
	chatID := uuid.NewString()
	url := files.URL + "/manual.txt"

	w := h.post(t, "u1", body(chatID, map[string]interface{}{"message": fileMessage("text/plain", url)}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	h.waitIdle(t, chatID, 1)

	msgs := gen.last().Messages
	require.NotEmpty(t, msgs)
	current := msgs[len(msgs)-1].Content
	assert.Contains(t, current, "[Attachment: manual (text/plain) "+url+"]")
	assert.Contains(t, current, "Content excerpt:\nHold the reset button for ten seconds.")

	// Excerpts feed the prompt only; the stored message keeps the bare part.
	stored, _ := h.store.ListMessagesByChat(context.Background(), chatID)
	require.NotEmpty(t, stored)
	assert.NotContains(t, stored[0].Text(), "ten seconds")
}

func (h *harness) resume(chatID, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/chat/"+chatID+"/stream", nil)
	req.Header.Set("X-Test-User", user)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestResumeAfterCompletionReplaysRecentMessage(t *testing.T) {
	h := newHarness(t)
	chatID := uuid.NewString()
	require.Equal(t, http.StatusOK, h.post(t, "u1", body(chatID, nil)).Code)
	h.waitIdle(t, chatID, 1)

	w := h.resume(chatID, "u1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"type":"append-message"`)

	h.svc.now = func() time.Time { return time.Now().Add(time.Minute) }
	w = h.resume(chatID, "u1")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestResumeUnknownChat(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusNotFound, h.resume(uuid.NewString(), "u1").Code)
}
