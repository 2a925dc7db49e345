package llm

import "strings"

// Role indicates the author of a message. Narrative turns use "user" and
// "model"; system instructions are passed out-of-band in GenerateConfig.
type Role string

const (
	User  Role = "user"
	Model Role = "model"
)

func (r Role) String() string {
	return string(r)
}

// Part is a single piece of message content. Exactly one of Text,
// FunctionCall, FunctionResponse, or FileURI is set. Thought marks model reasoning
// text; ThoughtSignature is an opaque replay token that must be returned
// unmodified on the next turn for the provider's cache to replay the
// reasoning instead of re-billing it.
type Part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature []byte            `json:"thought_signature,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`

	// FileURI references provider-hosted file content by URI, with MIMEType
	// describing it. Used by the knowledge-base file fallback.
	FileURI  string `json:"file_uri,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// FunctionCall is a tool invocation emitted by the model.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries a tool result back to the model.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Message is one entry in the conversation sent to a provider.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewUserTextMessage creates a user message with a single text part.
func NewUserTextMessage(text string) *Message {
	return &Message{Role: User, Parts: []Part{{Text: text}}}
}

// NewModelTextMessage creates a model message with a single text part.
func NewModelTextMessage(text string) *Message {
	return &Message{Role: Model, Parts: []Part{{Text: text}}}
}

// Text returns the concatenation of all non-thought text parts.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Text != "" && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// PrependText inserts a text part at the front of the message.
func (m *Message) PrependText(text string) {
	m.Parts = append([]Part{{Text: text}}, m.Parts...)
}

// AppendText adds a text part at the end of the message.
func (m *Message) AppendText(text string) {
	m.Parts = append(m.Parts, Part{Text: text})
}

// Copy returns a deep copy of the message.
func (m *Message) Copy() *Message {
	cp := &Message{Role: m.Role, Parts: make([]Part, len(m.Parts))}
	copy(cp.Parts, m.Parts)
	for i, p := range m.Parts {
		if len(p.ThoughtSignature) > 0 {
			cp.Parts[i].ThoughtSignature = append([]byte(nil), p.ThoughtSignature...)
		}
	}
	return cp
}
