// Package providers normalizes requests and responses across the ~20
// upstream LLM wire formats into one canonical OpenAI-shaped schema.
//
// Each upstream family is an Adapter implementation living in its own
// file (anthropic.go, gemini.go, bedrock.go, openai.go, ...), registered by
// provider id. OpenAI-compatible variants (Mistral, Groq, Together, ZAI,
// ...) compose a shared generic adapter (compatible.go) with small
// post-processing overrides instead of re-implementing the wire format.
package providers

import (
	"context"
	"encoding/json"
	"io"
)

// Message role constants shared by every provider's request construction.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"

	ContentTypeText = "text"

	SSEDone = "[DONE]"
)

// ContentPart is one element of a multipart message (vision/multimodal).
type ContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ImageURLPart `json:"image_url,omitempty"`
}

// ImageURLPart carries a URL or base64 data URI for an image content part.
type ImageURLPart struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Tool describes a function the model may call.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function is the callable function within a Tool.
type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      bool            `json:"strict,omitempty"`
}

// ToolCall is a function invocation, in either request history or a
// canonical response/chunk.
type ToolCall struct {
	Index    *int         `json:"index,omitempty"` // streaming only
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`

	// ThoughtSignature carries Google's opaque multi-turn replay token for
	// this call (spec.md §9 "Thought signatures"). It is gateway-internal:
	// never serialized to the client, only cached and re-injected on the
	// next turn's upstream request.
	ThoughtSignature string `json:"-"`
}

// FunctionCall holds the name/arguments of a model-generated call.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// ResponseFormat instructs the model how to format output.
type ResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// Annotation is a citation or grounding reference attached to content.
type Annotation struct {
	Type        string `json:"type"` // "url_citation"
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	StartIndex  int    `json:"start_index,omitempty"`
	EndIndex    int    `json:"end_index,omitempty"`
}

// Image is a generated or inline image surfaced in a response.
type Image struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
	Mime    string `json:"mime,omitempty"`
}

// Message is one turn in a conversation, on the request path.
type Message struct {
	Role         string
	Content      string
	ContentParts []ContentPart
	Name         string
	ToolCalls    []ToolCall
	ToolCallID   string
}

// MarshalJSON encodes a Message; content is a string unless ContentParts is set.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		Role       string          `json:"role"`
		Content    json.RawMessage `json:"content,omitempty"`
		Name       string          `json:"name,omitempty"`
		ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
		ToolCallID string          `json:"tool_call_id,omitempty"`
	}
	w := wire{Role: m.Role, Name: m.Name, ToolCalls: m.ToolCalls, ToolCallID: m.ToolCallID}
	var (
		b   []byte
		err error
	)
	if len(m.ContentParts) > 0 {
		b, err = json.Marshal(m.ContentParts)
	} else {
		b, err = json.Marshal(m.Content)
	}
	if err != nil {
		return nil, err
	}
	w.Content = b
	return json.Marshal(w)
}

// UnmarshalJSON decodes a Message; content may be a string or a part array.
func (m *Message) UnmarshalJSON(b []byte) error {
	type wire struct {
		Role       string          `json:"role"`
		Content    json.RawMessage `json:"content"`
		Name       string          `json:"name"`
		ToolCalls  []ToolCall      `json:"tool_calls"`
		ToolCallID string          `json:"tool_call_id"`
	}
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	m.Role, m.Name, m.ToolCalls, m.ToolCallID = w.Role, w.Name, w.ToolCalls, w.ToolCallID
	if len(w.Content) == 0 || string(w.Content) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(w.Content, &s); err == nil {
		m.Content = s
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(w.Content, &parts); err != nil {
		return err
	}
	m.ContentParts = parts
	for _, p := range parts {
		if p.Type == ContentTypeText {
			m.Content += p.Text
		}
	}
	return nil
}

// Request is the canonical, OpenAI-shaped inbound chat completion request.
type Request struct {
	Model               string
	Messages            []Message
	Temperature         *float64
	TopP                *float64
	N                   *int
	Seed                *int64
	MaxTokens           *int
	MaxCompletionTokens *int
	PresencePenalty     *float64
	FrequencyPenalty    *float64
	Stop                []string
	Tools               []Tool
	ToolChoice          interface{}
	ResponseFormat      *ResponseFormat
	Stream              bool
	User                string
	ReasoningEffort     string
	WebSearch           bool

	// ImageConfig carries image-generation options (size, quality, ...) for
	// the handful of providers/models that accept them (spec.md §6). Kept
	// as a raw payload rather than a typed struct since its shape is
	// provider-specific; only image-capable adapters look at it.
	ImageConfig json.RawMessage

	// ToolSignatures maps a tool-call id to its cached Google thought
	// signature (spec.md §9), looked up by the Dispatcher from thoughtcache
	// before BuildRequest. Only GeminiAdapter consults this; every other
	// adapter ignores it.
	ToolSignatures map[string]string
}

// CanonicalResponse is the normalized, non-streamed result of C5 (Response
// Parser): every field a provider's full JSON reduces to.
type CanonicalResponse struct {
	Content          string
	ReasoningContent string
	FinishReason     string // raw, provider-specific
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	ReasoningTokens  int64
	CachedTokens     int64
	ToolCalls        []ToolCall
	Images           []Image
	Annotations      []Annotation
	WebSearchCount   int64
}

// CanonicalChunk is one streamed delta, in the OpenAI chat.completion.chunk shape.
type CanonicalChunk struct {
	ID      string
	Object  string
	Created int64
	Model   string
	Choices []CanonicalChoice
	Usage   *CanonicalUsage
	Error   error
}

// CanonicalChoice is one choice's delta within a streamed chunk.
type CanonicalChoice struct {
	Index        int
	Delta        CanonicalDelta
	FinishReason string
}

// CanonicalDelta is the incremental content of one streamed choice.
type CanonicalDelta struct {
	Role        string
	Content     string
	Reasoning   string
	ToolCalls   []ToolCall
	Annotations []Annotation
	Images      []Image
}

// CanonicalUsage mirrors the token accounting carried on the terminal chunk.
type CanonicalUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	ReasoningTokens  int64
	CachedTokens     int64
}

// Adapter is the per-provider-family capability set: building the upstream
// wire request, and parsing its non-streamed or streamed response into the
// canonical shapes above. Streaming is the separate StreamingAdapter
// interface below; the image-generation-only adapters (DashScope, ZAI
// CogView) implement Adapter but not StreamingAdapter.
type Adapter interface {
	ID() string
	BuildRequest(req Request) (method, url string, headers map[string]string, body []byte, err error)
	ParseResponse(body []byte) (CanonicalResponse, error)
}

// StreamingAdapter is implemented by adapters whose provider can stream.
type StreamingAdapter interface {
	Adapter
	ParseStream(ctx context.Context, body io.Reader) (<-chan CanonicalChunk, error)
}
