package collector

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

const unknownRole = "unknown"

// NormalizeMessages converts a pipeline's message list into role/content pairs.
// It accepts []Message, generic maps, and the OpenAI and Anthropic SDK message
// types. Anything else is stringified into a single message.
func NormalizeMessages(v any) []Message {
	switch m := v.(type) {
	case nil:
		return []Message{}
	case []Message:
		return append([]Message{}, m...)
	case Message:
		return []Message{m}
	case []map[string]any:
		out := make([]Message, 0, len(m))
		for _, item := range m {
			out = append(out, normalizeMessage(item))
		}
		return out
	case []map[string]string:
		out := make([]Message, 0, len(m))
		for _, item := range m {
			out = append(out, normalizeMessage(item))
		}
		return out
	case []openai.ChatCompletionMessage:
		out := make([]Message, 0, len(m))
		for _, item := range m {
			out = append(out, normalizeMessage(item))
		}
		return out
	case []anthropic.MessageParam:
		out := make([]Message, 0, len(m))
		for _, item := range m {
			out = append(out, normalizeMessage(item))
		}
		return out
	case []any:
		out := make([]Message, 0, len(m))
		for _, item := range m {
			out = append(out, normalizeMessage(item))
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]Message, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, normalizeMessage(rv.Index(i).Interface()))
		}
		return out
	}

	return []Message{normalizeMessage(v)}
}

func normalizeMessage(v any) Message {
	switch m := v.(type) {
	case Message:
		return m
	case *Message:
		if m == nil {
			return Message{Role: unknownRole}
		}
		return *m
	case map[string]any:
		role := stringify(m["role"])
		if role == "" {
			role = unknownRole
		}
		return Message{Role: role, Content: stringify(m["content"])}
	case map[string]string:
		role := m["role"]
		if role == "" {
			role = unknownRole
		}
		return Message{Role: role, Content: m["content"]}
	case openai.ChatCompletionMessage:
		return Message{Role: "assistant", Content: m.Content}
	case anthropic.MessageParam:
		return Message{Role: string(m.Role), Content: anthropicParamText(m.Content)}
	case *anthropic.Message:
		if m == nil {
			return Message{Role: unknownRole}
		}
		return Message{Role: "assistant", Content: AnthropicText(m)}
	default:
		return Message{Role: unknownRole, Content: stringify(v)}
	}
}

// NormalizeOutput converts a pipeline output into its JSON form. Strings stay
// strings, SDK responses become their raw JSON, and anything that cannot be
// marshaled is stringified.
func NormalizeOutput(v any) json.RawMessage {
	switch o := v.(type) {
	case nil:
		return quote("")
	case string:
		return quote(o)
	case []byte:
		return quote(string(o))
	case json.RawMessage:
		if json.Valid(o) {
			return append(json.RawMessage(nil), o...)
		}
		return quote(string(o))
	case error:
		return quote(o.Error())
	case *openai.ChatCompletion:
		if o == nil {
			return quote("")
		}
		if raw := o.RawJSON(); raw != "" && json.Valid([]byte(raw)) {
			return json.RawMessage(raw)
		}
	case *anthropic.Message:
		if o == nil {
			return quote("")
		}
		if raw := o.RawJSON(); raw != "" && json.Valid([]byte(raw)) {
			return json.RawMessage(raw)
		}
	case fmt.Stringer:
		return quote(o.String())
	}

	data, err := json.Marshal(v)
	if err != nil {
		return quote(fmt.Sprintf("%v", v))
	}
	return data
}

// AnthropicText concatenates the text blocks of an Anthropic response.
func AnthropicText(m *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range m.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func anthropicParamText(blocks []anthropic.ContentBlockParamUnion) string {
	var sb strings.Builder
	for _, block := range blocks {
		if block.OfText != nil {
			sb.WriteString(block.OfText.Text)
			continue
		}
		if data, err := json.Marshal(block); err == nil {
			sb.Write(data)
		}
	}
	return sb.String()
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func quote(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
