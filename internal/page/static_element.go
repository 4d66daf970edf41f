package page

import (
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// staticElement is a handle on one node of a StaticDocument. All operations
// lock the owning document; reads reflect the tree as it currently stands.
type staticElement struct {
	doc      *StaticDocument
	node     *html.Node
	selector string
}

var _ Element = (*staticElement)(nil)

func (e *staticElement) Selector() string { return e.selector }

func (e *staticElement) Describe(ctx context.Context) (ElementInfo, error) {
	if err := ctx.Err(); err != nil {
		return ElementInfo{}, err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.ensureLayoutLocked()

	attrs := make(map[string]string, len(e.node.Attr))
	for _, a := range e.node.Attr {
		attrs[a.Key] = a.Val
	}
	layout := e.doc.layout[e.node]
	return ElementInfo{
		Tag:        strings.ToLower(e.node.Data),
		Text:       strings.TrimSpace(htmlquery.InnerText(e.node)),
		Value:      e.valueLocked(),
		Attributes: attrs,
		Position:   layout.Position,
		Visibility: layout.Visibility,
		State: schemas.InteractionState{
			Disabled: hasAttr(e.node, "disabled"),
			ReadOnly: hasAttr(e.node, "readonly"),
			Checked:  hasAttr(e.node, "checked"),
			Focused:  e.node == e.doc.focused,
		},
	}, nil
}

func (e *staticElement) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return strings.TrimSpace(htmlquery.InnerText(e.node)), nil
}

func (e *staticElement) Value(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.valueLocked(), nil
}

func (e *staticElement) valueLocked() string {
	switch strings.ToLower(e.node.Data) {
	case "input", "select":
		return attrValue(e.node, "value")
	case "textarea":
		return htmlquery.InnerText(e.node)
	default:
		if isContentEditable(e.node) {
			return htmlquery.InnerText(e.node)
		}
		return ""
	}
}

func (e *staticElement) Attr(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attrValue(e.node, name), hasAttr(e.node, name), nil
}

func (e *staticElement) SetAttr(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setAttr(e.node, name, value)
	e.doc.mutate()
	e.doc.record(fmt.Sprintf("setattr:%s:%s=%s", nodeIdentity(e.node), name, value))
	return nil
}

// -- pointer interactions --

func (e *staticElement) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	if hasAttr(e.node, "disabled") {
		e.doc.mu.Unlock()
		return fmt.Errorf("element %s is disabled", nodeIdentity(e.node))
	}
	e.doc.record("click:" + nodeIdentity(e.node))
	e.doc.focused = e.node

	tag := strings.ToLower(e.node.Data)
	typ := strings.ToLower(attrValue(e.node, "type"))
	if tag == "input" && (typ == "checkbox" || typ == "radio") {
		e.toggleLocked()
		e.doc.mu.Unlock()
		return nil
	}

	// Following a link is the one click with side effects beyond the node.
	if tag == "a" {
		if href := attrValue(e.node, "href"); href != "" && !strings.HasPrefix(href, "#") {
			e.doc.mu.Unlock()
			return e.doc.Navigate(ctx, href)
		}
	}
	e.doc.mu.Unlock()
	return nil
}

func (e *staticElement) DoubleClick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.record("dblclick:" + nodeIdentity(e.node))
	e.doc.focused = e.node
	return nil
}

func (e *staticElement) RightClick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.record("rightclick:" + nodeIdentity(e.node))
	return nil
}

func (e *staticElement) Hover(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.record("hover:" + nodeIdentity(e.node))
	return nil
}

func (e *staticElement) Focus(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.focused = e.node
	e.doc.record("focus:" + nodeIdentity(e.node))
	return nil
}

func (e *staticElement) Blur(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.doc.focused == e.node {
		e.doc.focused = nil
	}
	e.doc.record("blur:" + nodeIdentity(e.node))
	return nil
}

func (e *staticElement) SelectText(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.record("selecttext:" + nodeIdentity(e.node))
	return nil
}

func (e *staticElement) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	switch {
	case strings.EqualFold(e.node.Data, "input"):
		setAttr(e.node, "value", "")
	case strings.EqualFold(e.node.Data, "textarea") || isContentEditable(e.node):
		replaceText(e.node, "")
	default:
		return fmt.Errorf("element %s holds no clearable content", nodeIdentity(e.node))
	}
	e.doc.mutate()
	e.doc.record("clear:" + nodeIdentity(e.node))
	return nil
}

func (e *staticElement) SelectOption(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if !strings.EqualFold(e.node.Data, "select") {
		return fmt.Errorf("element %s is not a select", nodeIdentity(e.node))
	}
	options, err := htmlquery.QueryAll(e.node, ".//option")
	if err != nil {
		return err
	}
	for _, opt := range options {
		optValue := attrValue(opt, "value")
		if optValue == "" {
			optValue = strings.TrimSpace(htmlquery.InnerText(opt))
		}
		if optValue == value {
			for _, other := range options {
				removeAttr(other, "selected")
			}
			setAttr(opt, "selected", "selected")
			setAttr(e.node, "value", optValue)
			e.doc.mutate()
			e.doc.record(fmt.Sprintf("select:%s=%s", nodeIdentity(e.node), optValue))
			return nil
		}
	}
	return fmt.Errorf("select %s has no option %q", nodeIdentity(e.node), value)
}

func (e *staticElement) ToggleChecked(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	typ := strings.ToLower(attrValue(e.node, "type"))
	if !strings.EqualFold(e.node.Data, "input") || (typ != "checkbox" && typ != "radio") {
		return false, fmt.Errorf("element %s is not a checkbox or radio", nodeIdentity(e.node))
	}
	return e.toggleLocked(), nil
}

func (e *staticElement) toggleLocked() bool {
	checked := hasAttr(e.node, "checked")
	if checked {
		removeAttr(e.node, "checked")
	} else {
		setAttr(e.node, "checked", "checked")
	}
	e.doc.mutate()
	e.doc.record(fmt.Sprintf("toggle:%s=%t", nodeIdentity(e.node), !checked))
	return !checked
}

// -- text insertion tiers --

// InsertText models the native insertion command: honoured for textual inputs
// only, appending at the (implicit end-of-content) caret.
func (e *staticElement) InsertText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if !isTextualInput(e.node) {
		return ErrUnsupported
	}
	if hasAttr(e.node, "readonly") || hasAttr(e.node, "disabled") {
		return fmt.Errorf("element %s does not accept input", nodeIdentity(e.node))
	}
	e.doc.focused = e.node
	if strings.EqualFold(e.node.Data, "textarea") {
		appendText(e.node, text)
	} else {
		setAttr(e.node, "value", attrValue(e.node, "value")+text)
	}
	e.doc.mutate()
	e.doc.record(fmt.Sprintf("insert:%s", nodeIdentity(e.node)))
	return nil
}

// PasteText models a simulated clipboard paste. The static DOM has no
// clipboard unless explicitly enabled.
func (e *staticElement) PasteText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if !e.doc.allowPaste {
		return ErrUnsupported
	}
	if isTextualInput(e.node) {
		if strings.EqualFold(e.node.Data, "textarea") {
			appendText(e.node, text)
		} else {
			setAttr(e.node, "value", attrValue(e.node, "value")+text)
		}
	} else if isContentEditable(e.node) {
		appendText(e.node, text)
	} else {
		return ErrUnsupported
	}
	e.doc.mutate()
	e.doc.record(fmt.Sprintf("paste:%s", nodeIdentity(e.node)))
	return nil
}

// InsertViaRange models selection/range node insertion: it only makes sense
// for rich-text surfaces.
func (e *staticElement) InsertViaRange(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if !isContentEditable(e.node) {
		return ErrUnsupported
	}
	appendText(e.node, text)
	e.doc.mutate()
	e.doc.record(fmt.Sprintf("rangeinsert:%s", nodeIdentity(e.node)))
	return nil
}

// SetContent is the last-ditch direct replacement.
func (e *staticElement) SetContent(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	switch {
	case strings.EqualFold(e.node.Data, "input"):
		setAttr(e.node, "value", text)
	case strings.EqualFold(e.node.Data, "textarea") || isContentEditable(e.node):
		replaceText(e.node, text)
	default:
		return ErrUnsupported
	}
	e.doc.mutate()
	e.doc.record(fmt.Sprintf("setcontent:%s", nodeIdentity(e.node)))
	return nil
}
