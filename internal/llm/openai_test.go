package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completionRequest is the part of the chat completions body the tests
// inspect.
type completionRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Tools []struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
}

func sseServer(t *testing.T, status int, lines []string, seen *completionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", l)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chunk(delta string) string {
	return `{"id":"c1","object":"chat.completion.chunk","model":"gpt-test","choices":[{"index":0,"delta":` + delta + `}]}`
}

func streamAll(t *testing.T, cfg OpenAIConfig, tools []*schema.ToolInfo, input ...*schema.Message) (*schema.Message, error) {
	t.Helper()
	m, err := NewOpenAIChatModel(context.Background(), cfg, "gpt-test")
	require.NoError(t, err)
	if len(tools) > 0 {
		m, err = m.WithTools(tools)
		require.NoError(t, err)
	}
	sr, err := m.Stream(context.Background(), input)
	if err != nil {
		return nil, err
	}
	return schema.ConcatMessageStream(sr)
}

func TestOpenAIStream(t *testing.T) {
	var seen completionRequest
	srv := sseServer(t, http.StatusOK, []string{
		chunk(`{"role":"assistant","content":"Hel"}`),
		chunk(`{"content":"lo"}`),
	}, &seen)

	msg, err := streamAll(t, OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil,
		schema.SystemMessage("sys"),
		schema.UserMessage("hi"),
	)
	require.NoError(t, err)
	assert.Equal(t, "Hello", msg.Content)

	assert.Equal(t, "gpt-test", seen.Model)
	assert.True(t, seen.Stream)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, "hi", seen.Messages[1].Content)
}

func TestOpenAIStreamRejectsNonOKStatus(t *testing.T) {
	srv := sseServer(t, http.StatusTooManyRequests, nil, nil)

	_, err := streamAll(t, OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil, schema.UserMessage("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIStreamAssemblesToolCalls(t *testing.T) {
	var seen completionRequest
	srv := sseServer(t, http.StatusOK, []string{
		chunk(`{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"getWeather","arguments":"{\"latitude\":"}}]}`),
		chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"48.8}"}}]}`),
	}, &seen)

	weather := &schema.ToolInfo{
		Name: "getWeather",
		Desc: "weather",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"latitude": {Type: schema.Number, Required: true},
		}),
	}
	msg, err := streamAll(t, OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key"}, []*schema.ToolInfo{weather},
		schema.UserMessage("weather"))
	require.NoError(t, err)

	require.Len(t, seen.Tools, 1)
	assert.Equal(t, "getWeather", seen.Tools[0].Function.Name)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "getWeather", msg.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"latitude":48.8}`, msg.ToolCalls[0].Function.Arguments)
}

func TestOpenAIConfigRequiresKeyAndModel(t *testing.T) {
	_, err := NewOpenAIChatModel(context.Background(), OpenAIConfig{BaseURL: "http://unused"}, "gpt-test")
	assert.Error(t, err)
	_, err = NewOpenAIChatModel(context.Background(), OpenAIConfig{BaseURL: "http://unused", APIKey: "k"}, "")
	assert.Error(t, err)
}
