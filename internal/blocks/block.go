// Package blocks models renderable chat content and splits it into
// message-sized chunks.
package blocks

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Block is a single renderable unit of chat content. Implementations are
// treated as immutable once handed to the engine; callers replace blocks,
// they never mutate them in place.
type Block interface {
	// Wire returns the platform wire form of the block.
	Wire() map[string]any
	// Fallback returns the plain-text rendering used for notifications and
	// length accounting.
	Fallback() string
}

// Section is a markdown text block.
type Section struct {
	Text string
}

func (s Section) Wire() map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": s.Text},
	}
}

func (s Section) Fallback() string { return s.Text }

// Header is a prominent plain-text block.
type Header struct {
	Text string
}

func (h Header) Wire() map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{"type": "plain_text", "text": h.Text},
	}
}

func (h Header) Fallback() string { return h.Text }

// Context is a muted annotation block.
type Context struct {
	Text string
}

func (c Context) Wire() map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []any{
			map[string]any{"type": "mrkdwn", "text": c.Text},
		},
	}
}

func (c Context) Fallback() string { return c.Text }

// Divider is a horizontal rule.
type Divider struct{}

func (Divider) Wire() map[string]any { return map[string]any{"type": "divider"} }

func (Divider) Fallback() string { return "---" }

type wireBlock struct {
	Type     string     `json:"type"`
	Text     *wireText  `json:"text,omitempty"`
	Elements []wireText `json:"elements,omitempty"`
}

type wireText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Decode converts wire-form JSON blocks (as received from producers) back
// into Blocks. Unknown block types are rejected.
func Decode(raw []json.RawMessage) ([]Block, error) {
	decoded := make([]Block, 0, len(raw))
	for i, item := range raw {
		var wire wireBlock
		if err := json.Unmarshal(item, &wire); err != nil {
			return nil, fmt.Errorf("decode block %d: %w", i, err)
		}
		switch wire.Type {
		case "section":
			if wire.Text == nil {
				return nil, fmt.Errorf("decode block %d: section requires text", i)
			}
			decoded = append(decoded, Section{Text: wire.Text.Text})
		case "header":
			if wire.Text == nil {
				return nil, fmt.Errorf("decode block %d: header requires text", i)
			}
			decoded = append(decoded, Header{Text: wire.Text.Text})
		case "context":
			texts := make([]string, 0, len(wire.Elements))
			for _, element := range wire.Elements {
				texts = append(texts, element.Text)
			}
			decoded = append(decoded, Context{Text: strings.Join(texts, " ")})
		case "divider":
			decoded = append(decoded, Divider{})
		case "":
			return nil, fmt.Errorf("decode block %d: missing type", i)
		default:
			return nil, fmt.Errorf("decode block %d: unsupported type %q", i, wire.Type)
		}
	}
	return decoded, nil
}
