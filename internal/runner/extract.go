package runner

import (
	"encoding/json"
	"fmt"
)

// extractRule is one (predicate, extractor) pair for pulling a
// human-readable result out of a runner response. Rules are evaluated
// in priority order and the first match wins, which keeps the shape
// sniffing explicit instead of a cascade of conditionals.
type extractRule struct {
	name    string
	extract func(Body) (string, bool)
}

var extractRules = []extractRule{
	{
		// Chat-completion style: choices[0].message.content
		name: "chat_completion",
		extract: func(b Body) (string, bool) {
			choices, ok := b["choices"].([]any)
			if !ok || len(choices) == 0 {
				return "", false
			}
			first, ok := choices[0].(map[string]any)
			if !ok {
				return "", false
			}
			msg, ok := first["message"].(map[string]any)
			if !ok {
				return "", false
			}
			content, ok := msg["content"].(string)
			return content, ok
		},
	},
	{name: "output", extract: fieldExtractor("output")},
	{name: "content", extract: fieldExtractor("content")},
	{name: "message", extract: fieldExtractor("message")},
	{name: "result", extract: fieldExtractor("result")},
}

func fieldExtractor(key string) func(Body) (string, bool) {
	return func(b Body) (string, bool) {
		v, ok := b[key]
		if !ok || v == nil {
			return "", false
		}
		return stringify(v), true
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// ExtractOutput pulls the best-effort human-readable result from a
// runner response. The second return value is false when no rule
// matched.
func ExtractOutput(b Body) (string, bool) {
	for _, rule := range extractRules {
		if text, ok := rule.extract(b); ok {
			return text, true
		}
	}
	return "", false
}
