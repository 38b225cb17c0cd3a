package editor

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/insanus-notes/backend/pkg/notes"
)

type counterIDs struct {
	next int
}

func (c *counterIDs) NewID() (string, error) {
	c.next++
	return fmt.Sprintf("block-%d", c.next), nil
}

func newEngine(content notes.Content) *Engine {
	return New(content, &counterIDs{})
}

func TestSlashOnBufferLineOpensMenu(t *testing.T) {
	engine := newEngine(notes.Content{})
	engine.OnBufferChange("Hello\nnote /", len([]rune("Hello\nnote /")))

	if engine.State() != StateCommandOpen {
		t.Fatalf("expected command menu to open")
	}
	anchor := engine.Anchor()
	if anchor.Kind != AnchorBufferLine || anchor.Line != 1 || anchor.LineText != "note " {
		t.Fatalf("unexpected anchor: %#v", anchor)
	}
	if anchor.Index() != 1 {
		t.Fatalf("expected buffer line to sit after zero blocks, got %d", anchor.Index())
	}
	menu, ok := engine.Menu()
	if !ok || menu.Mode != MenuRoot || len(menu.Commands) != 4 {
		t.Fatalf("unexpected menu: %#v", menu)
	}
}

func TestEditWithoutTriggerClosesMenu(t *testing.T) {
	engine := newEngine(notes.Content{})
	engine.OnBufferChange("/", 1)
	engine.OnBufferChange("/h", 2)

	if engine.State() != StateIdle {
		t.Fatalf("expected menu to close once the trigger no longer precedes the cursor")
	}
	if engine.Anchor().Kind != AnchorNone {
		t.Fatalf("expected anchor to clear")
	}
}

func TestSelectParagraphConsumesTriggerLine(t *testing.T) {
	engine := newEngine(notes.Content{})
	engine.OnBufferChange("Hello\n/", 7)

	if !engine.SelectCommand(notes.BlockTypeParagraph) {
		t.Fatalf("expected selection to apply")
	}
	if engine.Buffer() != "Hello" {
		t.Fatalf("expected trigger line to be removed, got %q", engine.Buffer())
	}
	blocks := engine.Blocks()
	if len(blocks) != 1 || blocks[0].Type != notes.BlockTypeParagraph || blocks[0].Text != "" {
		t.Fatalf("unexpected blocks: %#v", blocks)
	}
	if engine.State() != StateIdle {
		t.Fatalf("expected idle after selection")
	}
	focus, ok := engine.PendingFocus()
	if !ok || focus.Kind != FocusBlock || focus.BlockID != blocks[0].ID {
		t.Fatalf("expected focus on the new block, got %#v", focus)
	}
}

func TestSelectHeadingKeepsLineText(t *testing.T) {
	engine := newEngine(notes.Content{})
	engine.OnBufferChange("Intro\nChapter one /", len([]rune("Intro\nChapter one /")))

	engine.SelectCommand(notes.BlockTypeHeading1)
	blocks := engine.Blocks()
	if len(blocks) != 1 || blocks[0].Type != notes.BlockTypeHeading1 || blocks[0].Text != "Chapter one" {
		t.Fatalf("unexpected blocks: %#v", blocks)
	}
	if engine.Buffer() != "Intro" {
		t.Fatalf("unexpected buffer: %q", engine.Buffer())
	}
}

func TestTableCommandUsesCollectionPicker(t *testing.T) {
	engine := newEngine(notes.Content{})
	engine.SetCollections([]CollectionOption{{ID: "col-1", Name: "Tasks"}})
	engine.OnBufferChange("/", 1)

	if !engine.SelectCommand(notes.BlockTypeCollectionView) {
		t.Fatalf("expected table command to open the picker")
	}
	menu, _ := engine.Menu()
	if menu.Mode != MenuCollections || len(menu.Collections) != 1 {
		t.Fatalf("unexpected menu: %#v", menu)
	}
	if len(engine.Blocks()) != 0 {
		t.Fatalf("expected no block before a collection is chosen")
	}

	if engine.SelectCollection("unknown") {
		t.Fatalf("expected unknown collection to be ignored")
	}
	if !engine.SelectCollection("col-1") {
		t.Fatalf("expected collection selection to apply")
	}
	blocks := engine.Blocks()
	if len(blocks) != 1 || blocks[0].Type != notes.BlockTypeCollectionView || blocks[0].CollectionID != "col-1" || blocks[0].Text != "" {
		t.Fatalf("unexpected blocks: %#v", blocks)
	}
	focus, _ := engine.PendingFocus()
	if focus.Kind != FocusBuffer {
		t.Fatalf("expected focus to return to the buffer, got %#v", focus)
	}
}

func TestTableCommandWithoutCollectionsSelectsNothing(t *testing.T) {
	engine := newEngine(notes.Content{})
	engine.OnBufferChange("/", 1)
	engine.OpenCollections()

	menu, ok := engine.Menu()
	if !ok || menu.Mode != MenuCollections || len(menu.Collections) != 0 {
		t.Fatalf("expected an empty picker, got %#v", menu)
	}
	if engine.SelectCollection("") {
		t.Fatalf("expected selection to be disabled")
	}
}

func TestSlashInEmptyBlockChangesTypeInPlace(t *testing.T) {
	content := notes.Content{Blocks: []notes.ContentBlock{
		{ID: "a", Type: notes.BlockTypeParagraph, Text: "first"},
		{ID: "b", Type: notes.BlockTypeParagraph},
	}}
	engine := newEngine(content)

	if !engine.BlockKey(1, KeySlash) {
		t.Fatalf("expected slash in empty block to open the menu")
	}
	if anchor := engine.Anchor(); anchor.Kind != AnchorBlock || anchor.Block != 1 || anchor.Index() != 1 {
		t.Fatalf("unexpected anchor: %#v", anchor)
	}
	engine.SelectCommand(notes.BlockTypeHeading1)

	blocks := engine.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("expected block count to stay at 2, got %d", len(blocks))
	}
	if blocks[1].ID != "b" || blocks[1].Type != notes.BlockTypeHeading1 {
		t.Fatalf("expected block b to become a heading, got %#v", blocks[1])
	}
}

func TestEnterBeforeOpenMenuKeepsAnchorOnItsBlock(t *testing.T) {
	engine := newEngine(notes.Content{Blocks: []notes.ContentBlock{
		{ID: "b0", Type: notes.BlockTypeParagraph, Text: "intro"},
		{ID: "b1", Type: notes.BlockTypeParagraph},
	}})

	engine.BlockKey(1, KeySlash)
	engine.BlockKey(0, KeyEnter)
	if anchor := engine.Anchor(); anchor.Block != 2 || anchor.Index() != 2 {
		t.Fatalf("expected anchor to follow block b1, got %#v", anchor)
	}
	if !engine.SelectCommand(notes.BlockTypeHeading1) {
		t.Fatalf("expected command to apply")
	}

	blocks := engine.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("expected three blocks, got %d", len(blocks))
	}
	if blocks[1].Type != notes.BlockTypeParagraph {
		t.Fatalf("expected inserted block to stay a paragraph, got %#v", blocks[1])
	}
	if blocks[2].ID != "b1" || blocks[2].Type != notes.BlockTypeHeading1 {
		t.Fatalf("expected b1 to become a heading, got %#v", blocks[2])
	}
}

func TestEnterAfterOpenMenuLeavesAnchor(t *testing.T) {
	engine := newEngine(notes.Content{Blocks: []notes.ContentBlock{
		{ID: "b0", Type: notes.BlockTypeParagraph},
		{ID: "b1", Type: notes.BlockTypeParagraph, Text: "tail"},
	}})

	engine.BlockKey(0, KeySlash)
	engine.BlockKey(1, KeyEnter)
	if anchor := engine.Anchor(); anchor.Kind != AnchorBlock || anchor.Block != 0 {
		t.Fatalf("expected anchor to stay on b0, got %#v", anchor)
	}
}

func TestSlashInNonEmptyBlockIsIgnored(t *testing.T) {
	engine := newEngine(notes.Content{Blocks: []notes.ContentBlock{{ID: "a", Type: notes.BlockTypeParagraph, Text: "x"}}})
	if engine.BlockKey(0, KeySlash) {
		t.Fatalf("expected slash to be ignored")
	}
	if engine.State() != StateIdle {
		t.Fatalf("expected menu to stay closed")
	}
}

func TestBlockTransformToTableClearsText(t *testing.T) {
	engine := newEngine(notes.Content{Blocks: []notes.ContentBlock{{ID: "a", Type: notes.BlockTypeHeading2}}})
	engine.SetCollections([]CollectionOption{{ID: "col-9", Name: "Reading"}})
	engine.BlockKey(0, KeySlash)
	engine.OpenCollections()
	engine.SelectCollection("col-9")

	block := engine.Blocks()[0]
	if block.ID != "a" || block.Type != notes.BlockTypeCollectionView || block.CollectionID != "col-9" || block.Text != "" {
		t.Fatalf("unexpected block: %#v", block)
	}
}

func TestEnterInsertsParagraphAfterBlock(t *testing.T) {
	engine := newEngine(notes.Content{Blocks: []notes.ContentBlock{
		{ID: "a", Type: notes.BlockTypeHeading1, Text: "Title"},
		{ID: "b", Type: notes.BlockTypeParagraph, Text: "Body"},
	}})

	engine.BlockKey(0, KeyEnter)
	blocks := engine.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("expected exactly one inserted block, got %d", len(blocks))
	}
	inserted := blocks[1]
	if inserted.Type != notes.BlockTypeParagraph || inserted.Text != "" || blocks[2].ID != "b" {
		t.Fatalf("unexpected block order: %#v", blocks)
	}
	focus, _ := engine.PendingFocus()
	if focus.BlockID != inserted.ID {
		t.Fatalf("expected focus on inserted block, got %#v", focus)
	}
}

func TestBackspaceRemovesEmptyBlock(t *testing.T) {
	engine := newEngine(notes.Content{Blocks: []notes.ContentBlock{
		{ID: "a", Type: notes.BlockTypeParagraph, Text: "keep"},
		{ID: "b", Type: notes.BlockTypeParagraph},
	}})

	if !engine.BlockKey(1, KeyBackspace) {
		t.Fatalf("expected backspace on empty block to be consumed")
	}
	if len(engine.Blocks()) != 1 {
		t.Fatalf("expected block to be removed")
	}
	focus, _ := engine.PendingFocus()
	if focus.Kind != FocusBlock || focus.BlockID != "a" {
		t.Fatalf("expected focus on previous block, got %#v", focus)
	}

	if engine.BlockKey(0, KeyBackspace) {
		t.Fatalf("expected backspace on non-empty block to pass through")
	}
	engine.SetBlockText(0, "")
	engine.BlockKey(0, KeyBackspace)
	focus, _ = engine.PendingFocus()
	if len(engine.Blocks()) != 0 || focus.Kind != FocusBuffer {
		t.Fatalf("expected focus to return to the buffer, got %#v", focus)
	}
}

func TestDrainFocusWaitsForControl(t *testing.T) {
	engine := newEngine(notes.Content{Blocks: []notes.ContentBlock{{ID: "a", Type: notes.BlockTypeParagraph}}})
	engine.BlockKey(0, KeyEnter)

	if _, ok := engine.DrainFocus(func(FocusTarget) bool { return false }); ok {
		t.Fatalf("expected focus to stay queued while the control is missing")
	}
	target, ok := engine.DrainFocus(func(FocusTarget) bool { return true })
	if !ok || target.Kind != FocusBlock {
		t.Fatalf("expected focus to drain, got %#v", target)
	}
	if _, ok := engine.PendingFocus(); ok {
		t.Fatalf("expected focus queue to be empty")
	}
}

func TestDocumentKeepsUnmanagedKeys(t *testing.T) {
	content := notes.DecodeContent([]byte(`{"text":"old","cover":"blue"}`))
	engine := newEngine(content)
	engine.OnBufferChange("new", 3)

	encoded, err := json.Marshal(engine.Document())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded["text"] != "new" || decoded["cover"] != "blue" {
		t.Fatalf("unexpected document: %s", encoded)
	}
}
