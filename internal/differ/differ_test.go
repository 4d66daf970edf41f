package differ

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
)

func testDiffer() *Differ {
	return New(config.NewDefaultConfig().Differ, zap.NewNop())
}

func descriptor(tag, id, text string, x, y float64) schemas.ElementDescriptor {
	return schemas.ElementDescriptor{
		ElementID: "e0",
		Tag:       tag,
		ID:        id,
		Text:      text,
		Position:  schemas.Position{X: x, Y: y, Width: 100, Height: 20, InViewport: true},
		Visibility: schemas.Visibility{
			Display: "block", Visibility: "visible", Opacity: 1,
		},
		Selectors: []string{"#" + id},
	}
}

func snapshot(elements ...schemas.ElementDescriptor) *schemas.Snapshot {
	return &schemas.Snapshot{Elements: elements, URL: "https://example.test/"}
}

func TestFirstComputeIsFullReplace(t *testing.T) {
	d := testDiffer()
	diff := d.Compute(snapshot(
		descriptor("button", "go", "Search", 10, 10),
		descriptor("input", "q", "", 10, 40),
	))

	assert.Len(t, diff.Added, 2)
	assert.Empty(t, diff.Removed)
	assert.Empty(t, diff.Modified)
	assert.Empty(t, diff.Unchanged)
	assert.True(t, diff.FullReplace())
	assert.Equal(t, 1.0, diff.Metadata.ChangeRatio)
}

func TestStableElementsLandInUnchanged(t *testing.T) {
	d := testDiffer()
	snap := snapshot(descriptor("button", "go", "Search", 10, 10))
	d.Compute(snap)
	diff := d.Compute(snap)

	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
	assert.Empty(t, diff.Modified)
	require.Len(t, diff.Unchanged, 1)
	assert.Equal(t, "go", diff.Unchanged[0].ID)
	assert.Equal(t, 0.0, diff.Metadata.ChangeRatio)
}

func TestRemovedIsExactSetDifference(t *testing.T) {
	d := testDiffer()
	first := snapshot(
		descriptor("button", "go", "Search", 10, 10),
		descriptor("a", "about", "About", 10, 40),
	)
	d.Compute(first)

	gone := d.hash(first.Elements[1])
	diff := d.Compute(snapshot(first.Elements[0]))

	require.Len(t, diff.Removed, 1)
	assert.Equal(t, gone, diff.Removed[0])
}

func TestModifiedOnTextChange(t *testing.T) {
	d := testDiffer()
	// Text beyond the hashed prefix changes; identity is preserved.
	prefix := strings.Repeat("a", 60)
	before := descriptor("button", "go", prefix+"-old", 10, 10)
	after := descriptor("button", "go", prefix+"-new", 10, 10)

	d.Compute(snapshot(before))
	diff := d.Compute(snapshot(after))

	require.Len(t, diff.Modified, 1)
	assert.Contains(t, diff.Modified[0].Changes, "text")
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
}

func TestSmallMoveIsNotModified(t *testing.T) {
	d := testDiffer()
	before := descriptor("button", "go", "Search", 10, 10)
	after := descriptor("button", "go", "Search", 13, 12)

	d.Compute(snapshot(before))
	diff := d.Compute(snapshot(after))

	assert.Empty(t, diff.Modified)
	assert.Len(t, diff.Unchanged, 1)
}

func TestSubBucketMoveAboveThresholdIsModified(t *testing.T) {
	// With a threshold tighter than the hash bucket, a drift that stays
	// inside one bucket still classifies as a position change.
	cfg := config.DifferConfig{PositionThreshold: 5, UnchangedCeiling: 300, TextPrefixLen: 50}
	d := New(cfg, zap.NewNop())

	before := descriptor("button", "go", "Search", 96, 10)
	after := descriptor("button", "go", "Search", 104, 10)
	require.Equal(t, d.hash(before), d.hash(after))

	d.Compute(snapshot(before))
	diff := d.Compute(snapshot(after))

	require.Len(t, diff.Modified, 1)
	assert.Contains(t, diff.Modified[0].Changes, "position")
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
}

func TestInteractionStateChangeIsModified(t *testing.T) {
	d := testDiffer()
	before := descriptor("input", "q", "", 10, 10)
	after := before
	after.InteractionState.Focused = true

	d.Compute(snapshot(before))
	diff := d.Compute(snapshot(after))

	require.Len(t, diff.Modified, 1)
	assert.Contains(t, diff.Modified[0].Changes, "interactionState")
}

func TestAttributeChangeIsModified(t *testing.T) {
	d := testDiffer()
	before := descriptor("input", "q", "", 10, 10)
	before.Attributes = map[string]string{"placeholder": "Search..."}
	after := before
	after.Attributes = map[string]string{"placeholder": "Type here"}

	d.Compute(snapshot(before))
	diff := d.Compute(snapshot(after))

	require.Len(t, diff.Modified, 1)
	assert.Contains(t, diff.Modified[0].Changes, "attributes")
}

func TestDisplayChangeIsModified(t *testing.T) {
	d := testDiffer()
	before := descriptor("div", "modal", "Dialog", 10, 10)
	after := before
	after.Visibility.Display = "none"

	d.Compute(snapshot(before))
	diff := d.Compute(snapshot(after))

	require.Len(t, diff.Modified, 1)
	assert.Contains(t, diff.Modified[0].Changes, "display")
}

func TestHashDeterminism(t *testing.T) {
	d := testDiffer()
	a := descriptor("button", "go", "Search", 11, 12)
	b := descriptor("button", "go", "Search", 11, 12)
	b.ElementID = "e99"
	b.Selectors = []string{"button[name='go']"}

	// Per-snapshot fields do not participate in identity.
	assert.Equal(t, d.hash(a), d.hash(b))

	c := descriptor("button", "go", "Search", 300, 12)
	assert.NotEqual(t, d.hash(a), d.hash(c))
}

func TestDiffCompleteness(t *testing.T) {
	d := testDiffer()
	first := snapshot(
		descriptor("button", "go", "Search", 10, 10),
		descriptor("a", "about", "About", 10, 40),
		descriptor("input", "q", "", 10, 70),
	)
	d.Compute(first)

	second := snapshot(
		descriptor("button", "go", "Search", 10, 10), // unchanged
		descriptor("input", "q", "typed", 10, 70),    // text changed -> hash changed: added
		descriptor("a", "new", "New", 10, 100),       // added
	)
	diff := d.Compute(second)

	seen := make(map[string]int)
	for _, el := range diff.Added {
		seen[d.hash(el)]++
	}
	for _, el := range diff.Modified {
		seen[d.hash(el.ElementDescriptor)]++
	}
	for _, el := range diff.Unchanged {
		seen[d.hash(el)]++
	}
	for _, el := range second.Elements {
		assert.Equal(t, 1, seen[d.hash(el)], "element %s must appear exactly once", el.ID)
	}
	for _, h := range diff.Removed {
		_, inCurrent := seen[h]
		assert.False(t, inCurrent, "removed hash must not be a current hash")
	}
}

func TestUnchangedImportanceFilter(t *testing.T) {
	d := testDiffer()
	important := descriptor("button", "go", "Search", 10, 10)
	boring := descriptor("div", "", "filler", 10, 40)
	boring.Position.InViewport = false
	boring.Selectors = []string{"/html[1]/body[1]/div[1]"}

	snap := snapshot(important, boring)
	d.Compute(snap)
	diff := d.Compute(snap)

	require.Len(t, diff.Unchanged, 1)
	assert.Equal(t, "button", diff.Unchanged[0].Tag)
	// The dropped element still counts in metadata.
	assert.Equal(t, 2, diff.Metadata.UnchangedCount)
}

func TestUnchangedCap(t *testing.T) {
	d := testDiffer()
	var elements []schemas.ElementDescriptor
	for i := 0; i < 900; i++ {
		el := descriptor("button", fmt.Sprintf("b%d", i), "x", 10, float64(i*30))
		elements = append(elements, el)
	}
	snap := snapshot(elements...)
	d.Compute(snap)
	diff := d.Compute(snap)

	// 900 unchanged: 20% = 180, floored at 100, so 180 retained.
	assert.Len(t, diff.Unchanged, 180)
	assert.Equal(t, 900, diff.Metadata.UnchangedCount)
}

func TestResetForcesFullReplace(t *testing.T) {
	d := testDiffer()
	snap := snapshot(descriptor("button", "go", "Search", 10, 10))
	d.Compute(snap)
	d.Reset()
	diff := d.Compute(snap)
	assert.True(t, diff.FullReplace())
}
