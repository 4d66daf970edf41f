// Package page abstracts the live document the pipeline observes and acts on.
// Two implementations exist: a static in-memory DOM used for offline runs and
// tests, and a chromedp-backed adapter driving a real browser. The pipeline
// only ever sees the Document and Element interfaces.
package page

import (
	"context"
	"errors"
	"time"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// ErrUnsupported is returned by capability probes the backing document does
// not honour (e.g. clipboard paste on the static DOM). The executor treats it
// as "try the next tier", not as a hard failure.
var ErrUnsupported = errors.New("operation not supported by this document")

// ErrDetached is returned when an element handle no longer resolves to a live
// node.
var ErrDetached = errors.New("element detached from document")

// PageInfo is the document-level metadata captured alongside a snapshot.
type PageInfo struct {
	URL    string
	Title  string
	Scroll schemas.ScrollPosition
}

// NodeLayout is the per-node geometry and style a Document reports for
// extraction. Focused marks the node owning keyboard focus.
type NodeLayout struct {
	Position   schemas.Position
	Visibility schemas.Visibility
	Focused    bool
}

// ElementInfo is a point-in-time description of a resolved element.
type ElementInfo struct {
	Tag        string
	Text       string
	Value      string
	Attributes map[string]string
	Position   schemas.Position
	Visibility schemas.Visibility
	State      schemas.InteractionState
}

// Element is a handle on a single resolved node. Mutating calls act on the
// live document; reads always reflect current state, never a cached copy.
type Element interface {
	// Selector returns the locator this handle was resolved from.
	Selector() string

	Describe(ctx context.Context) (ElementInfo, error)
	Text(ctx context.Context) (string, error)
	Value(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, bool, error)
	SetAttr(ctx context.Context, name, value string) error

	Click(ctx context.Context) error
	DoubleClick(ctx context.Context) error
	RightClick(ctx context.Context) error
	Hover(ctx context.Context) error
	Focus(ctx context.Context) error
	Blur(ctx context.Context) error
	SelectText(ctx context.Context) error
	Clear(ctx context.Context) error
	SelectOption(ctx context.Context, value string) error
	// ToggleChecked flips a checkbox/radio and returns the new state.
	ToggleChecked(ctx context.Context) (bool, error)

	// Text-insertion tiers, most faithful first. Each is a capability probe:
	// a tier that the surface does not honour returns ErrUnsupported and the
	// caller moves on. Verification of the post-condition is the caller's job.
	InsertText(ctx context.Context, text string) error
	PasteText(ctx context.Context, text string) error
	InsertViaRange(ctx context.Context, text string) error
	SetContent(ctx context.Context, text string) error
}

// Document is the pipeline's view of one live page.
type Document interface {
	Info(ctx context.Context) (PageInfo, error)

	// Root returns the parsed element tree for extraction. The returned tree
	// is a read-only view; implementations may rebuild it per call.
	Root(ctx context.Context) (*html.Node, error)
	// NodeLayout reports geometry and style for a node of the tree most
	// recently returned by Root.
	NodeLayout(n *html.Node) NodeLayout

	// Query resolves a selector to zero or one element. A selector that
	// matches nothing yields (nil, nil); only resolution machinery failures
	// yield an error.
	Query(ctx context.Context, selector string) (Element, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)

	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	ScrollBy(ctx context.Context, dx, dy float64) error
	MoveMouse(ctx context.Context, x, y float64) error
	// PressKey dispatches a key at the currently focused target.
	PressKey(ctx context.Context, key string) error

	// WaitStable polls until DOM mutations quiesce or the timeout elapses.
	WaitStable(ctx context.Context, timeout time.Duration) error
	// MutationCount reads the passive mutation-observer counter. Recorded for
	// diagnostics; nothing in the diff path consumes it.
	MutationCount(ctx context.Context) (int64, error)
}

// IsXPath reports whether a selector string should be resolved as XPath
// rather than CSS.
func IsXPath(selector string) bool {
	if len(selector) == 0 {
		return false
	}
	return selector[0] == '/' || selector[0] == '(' ||
		(len(selector) > 6 && selector[:6] == "xpath=")
}

// TrimXPathPrefix strips an explicit "xpath=" scheme if present.
func TrimXPathPrefix(selector string) string {
	if len(selector) > 6 && selector[:6] == "xpath=" {
		return selector[6:]
	}
	return selector
}
