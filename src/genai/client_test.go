package genai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scaffoldhq/scaffold/src/aisdk"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "gemini-test",
	})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(Config{APIKey: "k"})
	require.NoError(t, err)

	assert.Equal(t, DefaultModel, client.Model())
	assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
	assert.Equal(t, DefaultMaxRetries, client.config.MaxRetries)
}

func TestStreamGenerateParsesChunks(t *testing.T) {
	body := `[
		{"candidates":[{"content":{"role":"model","parts":[{"text":"Creating "}]}}]},
		{"candidates":[{"content":{"role":"model","parts":[{"text":"your project."}]}}]},
		{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"update_project_requirements","args":{"project_type":"web"}}}]},"finishReason":"STOP"}]}
	]`

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-test:streamGenerateContent")
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Write([]byte(body))
	})

	stream, err := client.StreamGenerate(context.Background(), &aisdk.GenerateRequest{
		Messages: []*aisdk.Message{{Role: "user", Content: "make a web app"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var chunks []*aisdk.StreamChunk
	for {
		chunk, err := stream.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	require.Len(t, chunks, 4)
	assert.Equal(t, aisdk.ChunkText, chunks[0].Type)
	assert.Equal(t, "Creating ", chunks[0].Text)
	assert.Equal(t, aisdk.ChunkFunctionCall, chunks[2].Type)
	assert.Equal(t, "update_project_requirements", chunks[2].Call.Name)
	assert.JSONEq(t, `{"project_type":"web"}`, chunks[2].Call.Arguments)
	assert.Equal(t, aisdk.ChunkFinish, chunks[3].Type)
	assert.Equal(t, "STOP", chunks[3].FinishReason)
}

func TestStreamGenerateRequestShape(t *testing.T) {
	var captured generateContentRequest

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`[{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}]`))
	})

	stream, err := client.StreamGenerate(context.Background(), &aisdk.GenerateRequest{
		SystemPrompt: "you scaffold projects",
		Messages: []*aisdk.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "what type?", ToolCalls: []aisdk.ToolCall{
				{ID: "c1", Type: "function", Function: aisdk.FunctionCall{
					Name: "ask_user_preference", Arguments: json.RawMessage(`{"field":"project_type"}`),
				}},
			}},
			{Role: "tool", Name: "ask_user_preference", Content: `{"status":"answered"}`},
		},
		Tools: []*aisdk.ChatTool{
			{Type: "function", Function: aisdk.ChatToolFunction{Name: "ask_user_preference", Description: "ask"}},
		},
	})
	require.NoError(t, err)
	stream.Close()

	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "you scaffold projects", captured.SystemInstruction.Parts[0].Text)

	require.Len(t, captured.Contents, 3)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "model", captured.Contents[1].Role)
	require.Len(t, captured.Contents[1].Parts, 2)
	assert.Equal(t, "what type?", captured.Contents[1].Parts[0].Text)
	require.NotNil(t, captured.Contents[1].Parts[1].FunctionCall)
	assert.Equal(t, "ask_user_preference", captured.Contents[1].Parts[1].FunctionCall.Name)

	require.NotNil(t, captured.Contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "user", captured.Contents[2].Role)

	require.Len(t, captured.Tools, 1)
	require.Len(t, captured.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "ask_user_preference", captured.Tools[0].FunctionDeclarations[0].Name)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"code":500,"message":"backend blew up","status":"INTERNAL"}}`))
			return
		}
		w.Write([]byte(`[{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}]`))
	})

	stream, err := client.StreamGenerate(context.Background(), &aisdk.GenerateRequest{
		Messages: []*aisdk.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	stream.Close()

	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"bad request","status":"INVALID_ARGUMENT"}}`))
	})

	_, err := client.StreamGenerate(context.Background(), &aisdk.GenerateRequest{
		Messages: []*aisdk.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "INVALID_ARGUMENT", apiErr.Status)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestRateLimitCapturesRetryAfter(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	})
	client.config.MaxRetries = 1

	_, err := client.StreamGenerate(context.Background(), &aisdk.GenerateRequest{
		Messages: []*aisdk.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsRateLimit())
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int64(7), int64(apiErr.RetryAfter.Seconds()))
}

func TestEmptyResponseArray(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	stream, err := client.StreamGenerate(context.Background(), &aisdk.GenerateRequest{
		Messages: []*aisdk.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Read()
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestStreamReadAfterClose(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	stream, err := client.StreamGenerate(context.Background(), &aisdk.GenerateRequest{
		Messages: []*aisdk.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	_, err = stream.Read()
	assert.ErrorIs(t, err, ErrStreamClosed)
}
