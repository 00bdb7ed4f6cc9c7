package agent

import (
	"encoding/json"
	"strings"
)

// StreamMessage is one line of the agent's stream-json output.
type StreamMessage struct {
	Type string
	Raw  map[string]any
}

// ParseStreamMessage decodes a single JSON line.
func ParseStreamMessage(line []byte) (StreamMessage, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return StreamMessage{}, err
	}
	msgType, _ := raw["type"].(string)
	return StreamMessage{Type: strings.TrimSpace(msgType), Raw: raw}, nil
}

// Text returns the text carried by the message, if any.
func (m StreamMessage) Text() string {
	if m.Raw == nil {
		return ""
	}
	if val, ok := m.Raw["result"].(string); ok {
		return val
	}
	if msg, ok := m.Raw["message"].(map[string]any); ok {
		return contentText(msg["content"])
	}
	if content, ok := m.Raw["content"]; ok {
		return contentText(content)
	}
	return ""
}

// Cost returns the reported cost in USD, preferring total_cost_usd.
func (m StreamMessage) Cost() float64 {
	if m.Raw == nil {
		return 0
	}
	for _, key := range []string{"total_cost_usd", "cost_usd"} {
		if v, ok := m.Raw[key].(float64); ok {
			return v
		}
	}
	return 0
}

// IsError reports whether a result message flagged itself as an error.
func (m StreamMessage) IsError() bool {
	v, _ := m.Raw["is_error"].(bool)
	return v
}

func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if entryType, _ := entry["type"].(string); entryType == "text" {
				if text, ok := entry["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		return sb.String()
	default:
		return ""
	}
}

// FinalText reconstructs the worker's result from its raw output lines.
// It scans backwards for the last parseable result event; when none exists
// the whole raw stream is the result.
func FinalText(lines []string) (text string, cost float64) {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		msg, err := ParseStreamMessage([]byte(line))
		if err != nil || msg.Type != "result" {
			continue
		}
		if _, ok := msg.Raw["result"].(string); !ok {
			continue
		}
		return msg.Text(), msg.Cost()
	}
	return strings.Join(lines, "\n"), 0
}
