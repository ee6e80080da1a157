// Package aisdk provides provider-neutral wire types for streaming AI
// conversations with function calling.
package aisdk

import (
	"context"
	"encoding/json"
	"time"

	jsonschema "github.com/swaggest/jsonschema-go"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Name identifies the function for function-result messages
	Name string `json:"name,omitempty"`
	// ToolCallID references the originating call for function-result messages
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolCalls contains function calls requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// Streaming marks an assistant message still being accumulated from
	// deltas. It is cleared when the final message replaces the partial.
	Streaming bool      `json:"streaming,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ToolCall represents a function call request from the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall contains the function name and arguments.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// FunctionExecutor executes a dispatched function call.
type FunctionExecutor func(ctx context.Context, call *ToolCall) (*FunctionResponse, error)

// FunctionResponse is the structured result of a function execution. It is
// always fed back to the model as content, including for failures.
type FunctionResponse struct {
	Content []byte `json:"content"`
	IsError bool   `json:"is_error"`
}

// ChunkType discriminates the payload of a StreamChunk.
type ChunkType string

const (
	// ChunkText carries an incremental text delta.
	ChunkText ChunkType = "text"
	// ChunkFunctionCall carries a fragment of a function call.
	ChunkFunctionCall ChunkType = "function_call"
	// ChunkFinish marks the end of the response.
	ChunkFinish ChunkType = "finish"
)

// StreamChunk is a single chunk in a streaming response. Exactly one of the
// payload fields is meaningful depending on Type.
type StreamChunk struct {
	Type ChunkType `json:"type"`

	// Text is the delta for ChunkText.
	Text string `json:"text,omitempty"`

	// Call is the fragment for ChunkFunctionCall.
	Call *CallFragment `json:"call,omitempty"`

	// FinishReason and FinalText are set for ChunkFinish. FinalText, when
	// present, is the provider's canonical full message text and supersedes
	// the concatenation of deltas.
	FinishReason string `json:"finish_reason,omitempty"`
	FinalText    string `json:"final_text,omitempty"`
}

// CallFragment is a piece of a function call. Providers may split a single
// call's arguments across multiple fragments; fragments for the same call
// share an Index.
type CallFragment struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// GenerateRequest is a provider-neutral streaming generation request.
type GenerateRequest struct {
	Model        string      `json:"model"`
	Messages     []*Message  `json:"messages"`
	SystemPrompt string      `json:"system_prompt,omitempty"`
	Temperature  *float64    `json:"temperature,omitempty"`
	MaxTokens    *int        `json:"max_tokens,omitempty"`
	Tools        []*ChatTool `json:"tools,omitempty"`
}

// StreamInterface defines the interface for reading streaming responses.
type StreamInterface interface {
	// Read reads the next chunk from the stream.
	Read() (*StreamChunk, error)

	// Close closes the stream.
	Close() error
}

// Provider generates streaming responses for a request.
type Provider interface {
	StreamGenerate(ctx context.Context, req *GenerateRequest) (StreamInterface, error)
}

// ChatTool declares a callable function in the format expected by chat APIs.
type ChatTool struct {
	Type     string           `json:"type"` // always "function"
	Function ChatToolFunction `json:"function"`
}

// ChatToolFunction is the function declaration for chat APIs.
type ChatToolFunction struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}
