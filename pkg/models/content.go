package models

import (
	"encoding/json"
	"fmt"
)

// Block types for structured message content.
const (
	BlockTypeText       = "text"
	BlockTypeThinking   = "thinking"
	BlockTypeImage      = "image"
	BlockTypeAudio      = "audio"
	BlockTypeVideo      = "video"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// Media source types for image/audio/video blocks.
const (
	SourceTypeBase64 = "base64"
	SourceTypeURL    = "url"
)

// MediaSource is the source of an image/audio/video block — either inline
// base64 data or a URL.
type MediaSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ContentBlock is one typed block of structured message content.
// Exactly the fields relevant to Type are populated.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`

	// image / audio / video
	Source *MediaSource `json:"source,omitempty"`

	// tool_use / tool_result
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
	// tool_result output: raw text or nested blocks
	Output json.RawMessage `json:"output,omitempty"`
}

// Validate checks that the block carries a known type and the fields that
// type requires.
func (b *ContentBlock) Validate() error {
	switch b.Type {
	case BlockTypeText, BlockTypeThinking:
		return nil
	case BlockTypeImage, BlockTypeAudio, BlockTypeVideo:
		if b.Source == nil {
			return fmt.Errorf("%s block requires a source", b.Type)
		}
		if b.Source.Type != SourceTypeBase64 && b.Source.Type != SourceTypeURL {
			return fmt.Errorf("unknown media source type %q", b.Source.Type)
		}
		return nil
	case BlockTypeToolUse:
		if b.ID == "" || b.Name == "" {
			return fmt.Errorf("tool_use block requires id and name")
		}
		return nil
	case BlockTypeToolResult:
		if b.ID == "" {
			return fmt.Errorf("tool_result block requires id")
		}
		return nil
	default:
		return fmt.Errorf("unknown content block type %q", b.Type)
	}
}

// Content is message content: either raw text or a sequence of typed blocks.
// It marshals to a JSON string or a JSON array, matching whichever form the
// producer sent.
type Content struct {
	Raw    string
	Blocks []ContentBlock
	// IsRaw distinguishes an empty raw string from an empty block list.
	IsRaw bool
}

// TextContent builds raw-text content.
func TextContent(s string) Content {
	return Content{Raw: s, IsRaw: true}
}

// BlockContent builds structured content.
func BlockContent(blocks ...ContentBlock) Content {
	return Content{Blocks: blocks}
}

// Validate checks structured content block-by-block; raw text is always valid.
func (c *Content) Validate() error {
	if c.IsRaw {
		return nil
	}
	for i := range c.Blocks {
		if err := c.Blocks[i].Validate(); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}

// MarshalJSON emits a JSON string for raw content, a JSON array otherwise.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsRaw {
		return json.Marshal(c.Raw)
	}
	if c.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

// UnmarshalJSON accepts either a JSON string or an array of blocks.
func (c *Content) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		c.Raw = raw
		c.IsRaw = true
		c.Blocks = nil
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or an array of blocks: %w", err)
	}
	c.Blocks = blocks
	c.IsRaw = false
	c.Raw = ""
	return nil
}
