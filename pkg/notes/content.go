package notes

import (
	"encoding/json"
	"strings"
)

// BlockType enumerates the content block kinds.
type BlockType string

const (
	BlockTypeParagraph      BlockType = "paragraph"
	BlockTypeHeading1       BlockType = "heading1"
	BlockTypeHeading2       BlockType = "heading2"
	BlockTypeCollectionView BlockType = "collection_view"
)

const (
	contentKeyText   = "text"
	contentKeyBlocks = "blocks"
)

// IsValid reports whether the block type is known.
func (t BlockType) IsValid() bool {
	switch t {
	case BlockTypeParagraph, BlockTypeHeading1, BlockTypeHeading2, BlockTypeCollectionView:
		return true
	}
	return false
}

// HasText reports whether blocks of this type carry editable text.
func (t BlockType) HasText() bool {
	return t.IsValid() && t != BlockTypeCollectionView
}

// ContentBlock is one typed block of a note's content.
type ContentBlock struct {
	ID           string    `json:"id"`
	Type         BlockType `json:"type"`
	Text         string    `json:"text,omitempty"`
	CollectionID string    `json:"collection_id,omitempty"`
}

func (b ContentBlock) valid() bool {
	if strings.TrimSpace(b.ID) == "" || !b.Type.IsValid() {
		return false
	}
	if b.Type == BlockTypeCollectionView {
		return b.CollectionID != ""
	}
	return true
}

// Content is a note document: a free text buffer plus ordered blocks. Unknown stored keys are
// kept so that merging a new text never drops them.
type Content struct {
	Text   string
	Blocks []ContentBlock
	extra  map[string]json.RawMessage
}

// WithText returns a copy with the text replaced.
func (c Content) WithText(text string) Content {
	next := c.Clone()
	next.Text = text
	return next
}

// WithBlocks returns a copy with the blocks replaced.
func (c Content) WithBlocks(blocks []ContentBlock) Content {
	next := c.Clone()
	next.Blocks = append([]ContentBlock{}, blocks...)
	return next
}

// MergeContentText layers text onto base, keeping every other key of base.
func MergeContentText(base Content, text string) Content {
	return base.WithText(text)
}

// Extra returns a preserved key that is neither text nor blocks.
func (c Content) Extra(key string) (json.RawMessage, bool) {
	raw, ok := c.extra[key]
	return raw, ok
}

// WithExtra returns a copy carrying an additional preserved key.
func (c Content) WithExtra(key string, raw json.RawMessage) Content {
	next := c.Clone()
	if key == contentKeyText || key == contentKeyBlocks {
		return next
	}
	if next.extra == nil {
		next.extra = make(map[string]json.RawMessage, 1)
	}
	next.extra[key] = append(json.RawMessage(nil), raw...)
	return next
}

// Clone returns a deep copy.
func (c Content) Clone() Content {
	next := Content{Text: c.Text}
	if c.Blocks != nil {
		next.Blocks = append([]ContentBlock{}, c.Blocks...)
	}
	if len(c.extra) > 0 {
		next.extra = make(map[string]json.RawMessage, len(c.extra))
		for key, raw := range c.extra {
			next.extra[key] = append(json.RawMessage(nil), raw...)
		}
	}
	return next
}

// MarshalJSON writes the preserved keys plus text, and blocks when present.
func (c Content) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(c.extra)+2)
	for key, raw := range c.extra {
		fields[key] = raw
	}
	fields[contentKeyText] = c.Text
	if len(c.Blocks) > 0 {
		fields[contentKeyBlocks] = c.Blocks
	}
	return json.Marshal(fields)
}

// UnmarshalJSON never fails. Non-object input yields empty content and malformed blocks are
// dropped.
func (c *Content) UnmarshalJSON(data []byte) error {
	*c = DecodeContent(data)
	return nil
}

// DecodeContent parses stored content JSON, failing closed.
func DecodeContent(raw []byte) Content {
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil || fields == nil {
		return Content{}
	}

	content := Content{}
	if rawText, ok := fields[contentKeyText]; ok {
		var text string
		if json.Unmarshal(rawText, &text) == nil {
			content.Text = text
		}
		delete(fields, contentKeyText)
	}
	if rawBlocks, ok := fields[contentKeyBlocks]; ok {
		var items []json.RawMessage
		if json.Unmarshal(rawBlocks, &items) == nil {
			for _, item := range items {
				var block ContentBlock
				if json.Unmarshal(item, &block) != nil || !block.valid() {
					continue
				}
				if block.Type == BlockTypeCollectionView {
					block.Text = ""
				} else {
					block.CollectionID = ""
				}
				content.Blocks = append(content.Blocks, block)
			}
		}
		delete(fields, contentKeyBlocks)
	}
	if len(fields) > 0 {
		content.extra = fields
	}
	return content
}
