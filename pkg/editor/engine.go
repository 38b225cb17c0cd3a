// Package editor implements the block and slash-command state machine of a note body.
package editor

import (
	"strings"

	"github.com/insanus-notes/backend/pkg/notes"
)

// State is the command-menu state.
type State int

const (
	StateIdle State = iota
	StateCommandOpen
)

// AnchorKind tells whether an open menu targets a raw buffer line or an existing block.
type AnchorKind int

const (
	AnchorNone AnchorKind = iota
	AnchorBufferLine
	AnchorBlock
)

// Anchor locates the target of an open command menu. Line is the buffer line for
// AnchorBufferLine and Block the block index for AnchorBlock.
type Anchor struct {
	Kind     AnchorKind
	Line     int
	Block    int
	LineText string
	index    int
}

// Index places the anchor on a single axis: block indexes first, then buffer lines after
// the last block.
func (a Anchor) Index() int {
	return a.index
}

// MenuMode selects between the block-type list and the collection picker.
type MenuMode int

const (
	MenuRoot MenuMode = iota
	MenuCollections
)

// Command is one entry of the root menu.
type Command struct {
	Trigger string
	Label   string
	Type    notes.BlockType
}

var commands = []Command{
	{Trigger: "/text", Label: "Text", Type: notes.BlockTypeParagraph},
	{Trigger: "/h1", Label: "Heading 1", Type: notes.BlockTypeHeading1},
	{Trigger: "/h2", Label: "Heading 2", Type: notes.BlockTypeHeading2},
	{Trigger: "/table", Label: "Table", Type: notes.BlockTypeCollectionView},
}

// Commands lists the root menu entries in display order.
func Commands() []Command {
	return append([]Command{}, commands...)
}

// CollectionOption is an entry of the collection picker.
type CollectionOption struct {
	ID   string
	Name string
}

// Menu is what an open command menu shows.
type Menu struct {
	Mode        MenuMode
	Commands    []Command
	Collections []CollectionOption
}

// FocusKind tells which control should receive input focus.
type FocusKind int

const (
	FocusBuffer FocusKind = iota
	FocusBlock
)

// FocusTarget is a control that may not exist yet when focus is requested.
type FocusTarget struct {
	Kind    FocusKind
	BlockID string
}

// Key is a key press inside a block control.
type Key int

const (
	KeyEnter Key = iota
	KeyBackspace
	KeySlash
)

// Engine holds the buffer, blocks and menu state of one note body.
type Engine struct {
	ids         notes.IDProvider
	base        notes.Content
	buffer      string
	blocks      []notes.ContentBlock
	state       State
	anchor      Anchor
	mode        MenuMode
	collections []CollectionOption
	focus       *FocusTarget
}

// New starts an engine over content. ids issues identifiers for inserted blocks.
func New(content notes.Content, ids notes.IDProvider) *Engine {
	if ids == nil {
		ids = notes.NewUUIDProvider()
	}
	return &Engine{
		ids:    ids,
		base:   content.Clone(),
		buffer: content.Text,
		blocks: append([]notes.ContentBlock{}, content.Blocks...),
	}
}

// SetCollections replaces the options offered by the table command.
func (e *Engine) SetCollections(options []CollectionOption) {
	e.collections = append([]CollectionOption{}, options...)
}

// Buffer returns the raw text buffer.
func (e *Engine) Buffer() string {
	return e.buffer
}

// Blocks returns a copy of the block list.
func (e *Engine) Blocks() []notes.ContentBlock {
	return append([]notes.ContentBlock{}, e.blocks...)
}

// Document returns the content to persist, keeping any keys the engine does not manage.
func (e *Engine) Document() notes.Content {
	return e.base.WithText(e.buffer).WithBlocks(e.blocks)
}

// State returns the menu state.
func (e *Engine) State() State {
	return e.state
}

// Anchor returns the anchor of the open menu, or the zero Anchor when idle.
func (e *Engine) Anchor() Anchor {
	return e.anchor
}

// Menu returns the entries of the open menu. The second result is false when idle.
func (e *Engine) Menu() (Menu, bool) {
	if e.state != StateCommandOpen {
		return Menu{}, false
	}
	if e.mode == MenuCollections {
		return Menu{Mode: MenuCollections, Collections: append([]CollectionOption{}, e.collections...)}, true
	}
	return Menu{Mode: MenuRoot, Commands: Commands()}, true
}

// OnBufferChange records a buffer edit. cursor is a rune offset. The menu opens when the
// rune before the cursor is a slash and closes on any edit where that no longer holds.
func (e *Engine) OnBufferChange(text string, cursor int) {
	e.buffer = text

	runes := []rune(text)
	if cursor <= 0 || cursor > len(runes) || runes[cursor-1] != '/' {
		e.CloseMenu()
		return
	}

	before := string(runes[:cursor])
	line := strings.Count(before, "\n")
	lineStart := strings.LastIndex(before, "\n") + 1
	lineText := strings.TrimSuffix(before[lineStart:], "/")

	e.open(Anchor{Kind: AnchorBufferLine, Line: line, Block: -1, LineText: lineText, index: len(e.blocks) + line})
}

// BlockKey handles a key press inside the block at index. It reports whether the key was
// consumed.
func (e *Engine) BlockKey(index int, key Key) bool {
	if index < 0 || index >= len(e.blocks) {
		return false
	}
	block := e.blocks[index]

	switch key {
	case KeyEnter:
		inserted := notes.ContentBlock{ID: e.newBlockID(), Type: notes.BlockTypeParagraph}
		e.insertBlock(index+1, inserted)
		e.requestFocus(FocusTarget{Kind: FocusBlock, BlockID: inserted.ID})
		return true
	case KeyBackspace:
		if block.Text != "" {
			return false
		}
		e.removeBlock(index)
		if index > 0 {
			e.requestFocus(FocusTarget{Kind: FocusBlock, BlockID: e.blocks[index-1].ID})
		} else {
			e.requestFocus(FocusTarget{Kind: FocusBuffer})
		}
		return true
	case KeySlash:
		if block.Text != "" || !block.Type.HasText() {
			return false
		}
		e.open(Anchor{Kind: AnchorBlock, Line: -1, Block: index, index: index})
		return true
	}
	return false
}

// SelectCommand applies a root menu entry. The table command switches the menu to the
// collection picker instead of transforming anything.
func (e *Engine) SelectCommand(blockType notes.BlockType) bool {
	if e.state != StateCommandOpen || !blockType.IsValid() {
		return false
	}
	if blockType == notes.BlockTypeCollectionView {
		e.mode = MenuCollections
		return true
	}
	return e.apply(blockType, "")
}

// OpenCollections switches an open menu to the collection picker.
func (e *Engine) OpenCollections() bool {
	if e.state != StateCommandOpen {
		return false
	}
	e.mode = MenuCollections
	return true
}

// SelectCollection embeds the chosen collection as a table block. Unknown ids are ignored.
func (e *Engine) SelectCollection(collectionID string) bool {
	if e.state != StateCommandOpen || e.mode != MenuCollections {
		return false
	}
	for _, option := range e.collections {
		if option.ID == collectionID {
			return e.apply(notes.BlockTypeCollectionView, collectionID)
		}
	}
	return false
}

// CloseMenu returns to idle and clears the anchor.
func (e *Engine) CloseMenu() {
	e.state = StateIdle
	e.anchor = Anchor{}
	e.mode = MenuRoot
}

// SetBlockText replaces the text of a text-bearing block.
func (e *Engine) SetBlockText(index int, text string) bool {
	if index < 0 || index >= len(e.blocks) || !e.blocks[index].Type.HasText() {
		return false
	}
	e.blocks[index].Text = text
	if text != "" && e.state == StateCommandOpen && e.anchor.Kind == AnchorBlock && e.anchor.Block == index {
		e.CloseMenu()
	}
	return true
}

// RemoveBlock deletes the block at index.
func (e *Engine) RemoveBlock(index int) bool {
	if index < 0 || index >= len(e.blocks) {
		return false
	}
	e.removeBlock(index)
	return true
}

// PendingFocus returns the focus request waiting for its control, if any.
func (e *Engine) PendingFocus() (FocusTarget, bool) {
	if e.focus == nil {
		return FocusTarget{}, false
	}
	return *e.focus, true
}

// DrainFocus hands over the pending focus request once exists reports that its control is
// available. The request stays queued otherwise.
func (e *Engine) DrainFocus(exists func(FocusTarget) bool) (FocusTarget, bool) {
	if e.focus == nil {
		return FocusTarget{}, false
	}
	target := *e.focus
	if exists != nil && !exists(target) {
		return FocusTarget{}, false
	}
	e.focus = nil
	return target, true
}

func (e *Engine) open(anchor Anchor) {
	e.state = StateCommandOpen
	e.anchor = anchor
	e.mode = MenuRoot
}

func (e *Engine) apply(blockType notes.BlockType, collectionID string) bool {
	switch e.anchor.Kind {
	case AnchorBufferLine:
		e.applyToLine(blockType, collectionID)
	case AnchorBlock:
		if !e.applyToBlock(blockType, collectionID) {
			return false
		}
	default:
		return false
	}
	e.CloseMenu()
	return true
}

func (e *Engine) applyToLine(blockType notes.BlockType, collectionID string) {
	lines := strings.Split(e.buffer, "\n")
	initial := ""
	if e.anchor.Line < len(lines) {
		line := lines[e.anchor.Line]
		if slash := strings.LastIndex(line, "/"); slash >= 0 {
			line = line[:slash]
		}
		initial = strings.TrimRight(line, " \t")
		lines = append(lines[:e.anchor.Line], lines[e.anchor.Line+1:]...)
	}
	e.buffer = strings.Join(lines, "\n")

	block := notes.ContentBlock{ID: e.newBlockID(), Type: blockType}
	if blockType == notes.BlockTypeCollectionView {
		block.CollectionID = collectionID
		e.requestFocus(FocusTarget{Kind: FocusBuffer})
	} else {
		block.Text = initial
		e.requestFocus(FocusTarget{Kind: FocusBlock, BlockID: block.ID})
	}
	e.blocks = append(e.blocks, block)
}

func (e *Engine) applyToBlock(blockType notes.BlockType, collectionID string) bool {
	index := e.anchor.Block
	if index < 0 || index >= len(e.blocks) {
		return false
	}
	block := e.blocks[index]
	block.Type = blockType
	block.Text = ""
	block.CollectionID = ""
	if blockType == notes.BlockTypeCollectionView {
		block.CollectionID = collectionID
		e.requestFocus(FocusTarget{Kind: FocusBuffer})
	} else {
		e.requestFocus(FocusTarget{Kind: FocusBlock, BlockID: block.ID})
	}
	e.blocks[index] = block
	return true
}

func (e *Engine) removeBlock(index int) {
	e.blocks = append(e.blocks[:index], e.blocks[index+1:]...)
	if e.state == StateCommandOpen && e.anchor.Kind == AnchorBlock {
		e.CloseMenu()
	}
}

func (e *Engine) requestFocus(target FocusTarget) {
	e.focus = &target
}

func (e *Engine) newBlockID() string {
	id, err := e.ids.NewID()
	if err != nil || id == "" {
		fallback, _ := notes.NewUUIDProvider().NewID()
		return fallback
	}
	return id
}

// insertBlock keeps an open anchor on the block it was opened on.
func (e *Engine) insertBlock(index int, block notes.ContentBlock) {
	e.blocks = insertBlock(e.blocks, index, block)
	if e.state != StateCommandOpen {
		return
	}
	switch e.anchor.Kind {
	case AnchorBlock:
		if index <= e.anchor.Block {
			e.anchor.Block++
			e.anchor.index++
		}
	case AnchorBufferLine:
		e.anchor.index++
	}
}

func insertBlock(blocks []notes.ContentBlock, index int, block notes.ContentBlock) []notes.ContentBlock {
	blocks = append(blocks, notes.ContentBlock{})
	copy(blocks[index+1:], blocks[index:])
	blocks[index] = block
	return blocks
}
