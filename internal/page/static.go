package page

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// StaticDocument is an in-memory DOM backing the Document interface. It is
// the offline/test surface: selector resolution, attribute and text mutation
// are real, geometry comes from a simple synthetic flow layout, and the
// clipboard/selection insertion tiers report ErrUnsupported unless enabled.
type StaticDocument struct {
	mu      sync.Mutex
	url     string
	title   string
	scroll  schemas.ScrollPosition
	root    *html.Node
	focused *html.Node

	history []string
	histPos int

	mutations int64
	events    []string

	allowPaste bool
	viewportW  float64
	viewportH  float64

	// fetch supplies page source for navigations; nil means navigation only
	// updates the URL and history.
	fetch func(url string) (string, error)

	layout map[*html.Node]NodeLayout
}

// StaticOption customises a StaticDocument.
type StaticOption func(*StaticDocument)

// WithFetcher supplies page source for navigate/reload.
func WithFetcher(fetch func(url string) (string, error)) StaticOption {
	return func(d *StaticDocument) { d.fetch = fetch }
}

// WithViewport overrides the synthetic viewport size.
func WithViewport(w, h float64) StaticOption {
	return func(d *StaticDocument) { d.viewportW, d.viewportH = w, h }
}

// WithPasteSupport makes the simulated clipboard tier succeed. Off by
// default so tier fallback is observable.
func WithPasteSupport() StaticOption {
	return func(d *StaticDocument) { d.allowPaste = true }
}

// NewStaticDocument parses rawHTML into a live static page.
func NewStaticDocument(rawHTML, pageURL string, opts ...StaticOption) (*StaticDocument, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	d := &StaticDocument{
		url:       pageURL,
		root:      root,
		history:   []string{pageURL},
		histPos:   0,
		viewportW: 1280,
		viewportH: 720,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.title = extractTitle(root)
	return d, nil
}

// Events returns the interaction log accumulated so far.
func (d *StaticDocument) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.events))
	copy(out, d.events)
	return out
}

func (d *StaticDocument) record(event string) {
	d.events = append(d.events, event)
}

func (d *StaticDocument) mutate() {
	d.mutations++
	d.layout = nil
}

// -- Document interface --

func (d *StaticDocument) Info(ctx context.Context) (PageInfo, error) {
	if err := ctx.Err(); err != nil {
		return PageInfo{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return PageInfo{URL: d.url, Title: d.title, Scroll: d.scroll}, nil
}

func (d *StaticDocument) Root(ctx context.Context) (*html.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensureLayoutLocked()
	return d.root, nil
}

func (d *StaticDocument) NodeLayout(n *html.Node) NodeLayout {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensureLayoutLocked()
	l, ok := d.layout[n]
	if !ok {
		return NodeLayout{Visibility: schemas.Visibility{Display: "none"}}
	}
	l.Focused = n == d.focused
	return l
}

func (d *StaticDocument) Query(ctx context.Context, selector string) (Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	node, err := d.resolveLocked(selector)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}
	return &staticElement{doc: d, node: node, selector: selector}, nil
}

func (d *StaticDocument) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes, err := d.resolveAllLocked(selector)
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &staticElement{doc: d, node: n, selector: selector})
	}
	return out, nil
}

func (d *StaticDocument) Navigate(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	resolved := d.resolveURLLocked(target)
	if err := d.loadLocked(resolved); err != nil {
		return err
	}
	// A navigation truncates any forward history.
	d.history = append(d.history[:d.histPos+1], resolved)
	d.histPos = len(d.history) - 1
	d.record("navigate:" + resolved)
	return nil
}

func (d *StaticDocument) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("reload:" + d.url)
	return d.loadLocked(d.url)
}

func (d *StaticDocument) Back(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.histPos == 0 {
		return fmt.Errorf("no earlier history entry")
	}
	d.histPos--
	d.record("back:" + d.history[d.histPos])
	return d.loadLocked(d.history[d.histPos])
}

func (d *StaticDocument) Forward(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.histPos >= len(d.history)-1 {
		return fmt.Errorf("no later history entry")
	}
	d.histPos++
	d.record("forward:" + d.history[d.histPos])
	return d.loadLocked(d.history[d.histPos])
}

func (d *StaticDocument) ScrollBy(ctx context.Context, dx, dy float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scroll.X += dx
	d.scroll.Y += dy
	if d.scroll.X < 0 {
		d.scroll.X = 0
	}
	if d.scroll.Y < 0 {
		d.scroll.Y = 0
	}
	d.layout = nil // viewport membership depends on scroll
	d.record(fmt.Sprintf("scroll:%.0f,%.0f", dx, dy))
	return nil
}

func (d *StaticDocument) MoveMouse(ctx context.Context, x, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(fmt.Sprintf("mousemove:%.0f,%.0f", x, y))
	return nil
}

func (d *StaticDocument) PressKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("key:" + key)
	if key == "Enter" && d.focused != nil && enclosingForm(d.focused) != nil {
		d.record("submit:" + nodeIdentity(enclosingForm(d.focused)))
	}
	return nil
}

// WaitStable is trivially satisfied: the static DOM only mutates through this
// API, synchronously.
func (d *StaticDocument) WaitStable(ctx context.Context, timeout time.Duration) error {
	return ctx.Err()
}

func (d *StaticDocument) MutationCount(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutations, nil
}

// -- navigation helpers --

func (d *StaticDocument) resolveURLLocked(target string) string {
	base, err := url.Parse(d.url)
	if err != nil {
		return target
	}
	ref, err := url.Parse(target)
	if err != nil {
		return target
	}
	return base.ResolveReference(ref).String()
}

func (d *StaticDocument) loadLocked(target string) error {
	d.url = target
	d.focused = nil
	d.scroll = schemas.ScrollPosition{}
	if d.fetch == nil {
		return nil
	}
	src, err := d.fetch(target)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", target, err)
	}
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", target, err)
	}
	d.root = root
	d.title = extractTitle(root)
	d.mutate()
	return nil
}

// -- selector resolution --

func (d *StaticDocument) resolveLocked(selector string) (*html.Node, error) {
	nodes, err := d.resolveAllLocked(selector)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

func (d *StaticDocument) resolveAllLocked(selector string) ([]*html.Node, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, fmt.Errorf("empty selector")
	}
	if IsXPath(selector) {
		nodes, err := htmlquery.QueryAll(d.root, TrimXPathPrefix(selector))
		if err != nil {
			return nil, fmt.Errorf("invalid xpath %q: %w", selector, err)
		}
		return nodes, nil
	}
	sel := goquery.NewDocumentFromNode(d.root).Find(selector)
	return sel.Nodes, nil
}

// -- synthetic flow layout --

// ensureLayoutLocked lays out rendered elements top to bottom. It is a crude
// flow model: enough for viewport math and zero-area detection, nothing more.
func (d *StaticDocument) ensureLayoutLocked() {
	if d.layout != nil {
		return
	}
	d.layout = make(map[*html.Node]NodeLayout)
	cursorY := 8.0
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			tag := strings.ToLower(c.Data)
			switch tag {
			case "head", "script", "style", "meta", "link", "title", "template", "noscript":
				continue
			}
			if isRenderHidden(c) {
				d.layout[c] = NodeLayout{Visibility: hiddenVisibility(c)}
				walk(c, depth+1)
				continue
			}
			w, h := intrinsicSize(c)
			y := cursorY
			d.layout[c] = NodeLayout{
				Position: schemas.Position{
					X:          8 + float64(depth)*4,
					Y:          y,
					Width:      w,
					Height:     h,
					InViewport: y >= d.scroll.Y && y < d.scroll.Y+d.viewportH,
				},
				Visibility: schemas.Visibility{Display: "block", Visibility: "visible", Opacity: 1},
			}
			if h > 0 {
				cursorY += h + 4
			}
			walk(c, depth+1)
		}
	}
	walk(d.root, 0)
}

func isRenderHidden(n *html.Node) bool {
	if attrValue(n, "hidden") != "" || hasAttr(n, "hidden") {
		return true
	}
	if strings.ToLower(n.Data) == "input" && strings.EqualFold(attrValue(n, "type"), "hidden") {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(attrValue(n, "style")), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func hiddenVisibility(n *html.Node) schemas.Visibility {
	style := strings.ReplaceAll(strings.ToLower(attrValue(n, "style")), " ", "")
	v := schemas.Visibility{Display: "block", Visibility: "visible", Opacity: 1}
	if strings.Contains(style, "visibility:hidden") {
		v.Visibility = "hidden"
	} else {
		v.Display = "none"
	}
	return v
}

func intrinsicSize(n *html.Node) (w, h float64) {
	switch strings.ToLower(n.Data) {
	case "textarea":
		return 320, 72
	case "input", "select":
		return 200, 24
	case "button":
		return 120, 28
	case "h1":
		return 600, 36
	case "h2", "h3":
		return 500, 30
	case "img", "iframe", "canvas", "video":
		return 300, 200
	case "br", "wbr":
		return 0, 0
	default:
		text := strings.TrimSpace(htmlquery.InnerText(n))
		if text == "" && !hasAttr(n, "id") && !hasAttr(n, "role") {
			// Bare structural wrapper: give it token size so children decide.
			return 600, 0
		}
		return 600, 24
	}
}

// -- node helpers --

func extractTitle(root *html.Node) string {
	if t := htmlquery.FindOne(root, "//title"); t != nil {
		return strings.TrimSpace(htmlquery.InnerText(t))
	}
	return ""
}

func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, name, value string) {
	for i := range n.Attr {
		if n.Attr[i].Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	for i := range n.Attr {
		if n.Attr[i].Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func replaceText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func appendText(n *html.Node, text string) {
	if last := n.LastChild; last != nil && last.Type == html.TextNode {
		last.Data += text
		return
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func enclosingForm(n *html.Node) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && strings.EqualFold(p.Data, "form") {
			return p
		}
	}
	return nil
}

func nodeIdentity(n *html.Node) string {
	if id := attrValue(n, "id"); id != "" {
		return "#" + id
	}
	if name := attrValue(n, "name"); name != "" {
		return strings.ToLower(n.Data) + "[name=" + name + "]"
	}
	return strings.ToLower(n.Data)
}

func isTextualInput(n *html.Node) bool {
	switch strings.ToLower(n.Data) {
	case "textarea":
		return true
	case "input":
		switch strings.ToLower(attrValue(n, "type")) {
		case "hidden", "submit", "button", "reset", "image", "checkbox", "radio", "file":
			return false
		default:
			return true
		}
	}
	return false
}

func isContentEditable(n *html.Node) bool {
	if !hasAttr(n, "contenteditable") {
		return false
	}
	v := strings.TrimSpace(strings.ToLower(attrValue(n, "contenteditable")))
	return v == "" || v == "true"
}
