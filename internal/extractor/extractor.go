// Package extractor turns a live document into a bounded Snapshot: element
// descriptors for the interactive and structural parts of the page, plus a
// curated markup excerpt for model context.
package extractor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/page"
)

// minElementCap is the floor of the dynamic element budget: the effective cap
// is max(minElementCap, 30% of discovered) bounded by cfg.MaxElements.
const minElementCap = 150

var interactiveTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true,
	"textarea": true, "option": true, "label": true, "form": true,
	"details": true, "summary": true,
}

var landmarkTags = map[string]bool{
	"nav": true, "main": true, "header": true, "footer": true,
	"aside": true, "section": true, "article": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

var skipTags = map[string]bool{
	"head": true, "script": true, "style": true, "meta": true, "link": true,
	"title": true, "noscript": true, "template": true, "svg": true, "path": true,
}

// Extractor captures Snapshots from a Document.
type Extractor struct {
	cfg    config.ExtractorConfig
	logger *zap.Logger
}

func New(cfg config.ExtractorConfig, logger *zap.Logger) *Extractor {
	return &Extractor{cfg: cfg, logger: logger.Named("extractor")}
}

// Capture reads the document once and builds an immutable Snapshot. Individual
// nodes that fail to describe are skipped; capture itself only fails when the
// document cannot be read at all.
func (e *Extractor) Capture(ctx context.Context, doc page.Document) (*schemas.Snapshot, error) {
	info, err := doc.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page info: %w", err)
	}
	root, err := doc.Root(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read document tree: %w", err)
	}

	// Discovery pass: every relevant node in document order, depth bounded.
	candidates := e.discover(root)
	budget := minElementCap
	if dynamic := (len(candidates) * 3) / 10; dynamic > budget {
		budget = dynamic
	}
	if budget > e.cfg.MaxElements {
		budget = e.cfg.MaxElements
	}

	labels := collectLabelText(root)
	elements := make([]schemas.ElementDescriptor, 0, budget)
	for _, n := range candidates {
		if len(elements) >= budget {
			e.logger.Debug("Element cap reached",
				zap.Int("cap", budget), zap.Int("discovered", len(candidates)))
			break
		}
		desc, ok := e.describe(doc, n, labels, len(elements))
		if !ok {
			continue
		}
		elements = append(elements, desc)
	}

	mutations, err := doc.MutationCount(ctx)
	if err != nil {
		e.logger.Debug("Mutation counter unavailable", zap.Error(err))
	}

	snap := &schemas.Snapshot{
		Elements:       elements,
		HTMLContext:    e.buildHTMLContext(root, info),
		URL:            info.URL,
		Title:          info.Title,
		Scroll:         info.Scroll,
		Timestamp:      time.Now().UTC(),
		CaptchaPresent: detectCaptcha(root),
		MutationCount:  mutations,
	}
	e.logger.Debug("Snapshot captured",
		zap.String("url", info.URL),
		zap.Int("elements", len(elements)),
		zap.Int("discovered", len(candidates)),
		zap.Bool("captcha", snap.CaptchaPresent))
	return snap, nil
}

// discover walks the tree depth-first and returns relevant element nodes in
// document order. Depth beyond the configured bound is not descended into.
func (e *Extractor) discover(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if depth > e.cfg.MaxDepth {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			tag := strings.ToLower(c.Data)
			if skipTags[tag] {
				continue
			}
			if isRelevant(c, tag) {
				out = append(out, c)
			}
			walk(c, depth+1)
		}
	}
	walk(root, 0)
	return out
}

// isRelevant decides whether a node deserves a descriptor at all.
func isRelevant(n *html.Node, tag string) bool {
	if interactiveTags[tag] || landmarkTags[tag] {
		return true
	}
	if hasAttr(n, "contenteditable") && attr(n, "contenteditable") != "false" {
		return true
	}
	for _, key := range []string{"role", "data-testid", "data-test-id", "data-test", "aria-label", "tabindex", "onclick"} {
		if hasAttr(n, key) {
			return true
		}
	}
	return false
}

// describe builds one descriptor. Any per-node failure skips the node and
// keeps the capture going.
func (e *Extractor) describe(doc page.Document, n *html.Node, labels map[string]string, index int) (desc schemas.ElementDescriptor, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("Skipping element after describe failure", zap.Any("panic", r))
			ok = false
		}
	}()

	tag := strings.ToLower(n.Data)
	layout := doc.NodeLayout(n)

	if !layout.Position.HasArea() && !zeroAreaException(n, tag) {
		return schemas.ElementDescriptor{}, false
	}

	desc = schemas.ElementDescriptor{
		ElementID:  fmt.Sprintf("e%d", index),
		Tag:        tag,
		Text:       truncateRunes(collapseSpace(innerText(n)), e.cfg.TextLimit),
		ID:         attr(n, "id"),
		ClassList:  splitClasses(attr(n, "class")),
		Position:   layout.Position,
		Visibility: layout.Visibility,
		InteractionState: schemas.InteractionState{
			Disabled: hasAttr(n, "disabled"),
			ReadOnly: hasAttr(n, "readonly"),
			Checked:  hasAttr(n, "checked"),
			Focused:  layout.Focused,
		},
		Attributes: filteredAttrs(n),
		Selectors:  buildSelectors(n, tag),
	}

	switch tag {
	case "input":
		desc.InputType = strings.ToLower(attr(n, "type"))
		if desc.InputType == "" {
			desc.InputType = "text"
		}
	case "a":
		desc.Href = attr(n, "href")
	}
	if form := enclosingForm(n); form != nil {
		desc.FormID = attr(form, "id")
	}
	desc.LabelText = labelFor(n, labels)
	return desc, true
}

// zeroAreaException keeps select zero-area nodes: landmarks, identified
// elements, and hidden-but-relevant inputs.
func zeroAreaException(n *html.Node, tag string) bool {
	if landmarkTags[tag] {
		return true
	}
	for _, key := range []string{"role", "data-testid", "data-test-id", "data-test", "aria-label"} {
		if hasAttr(n, key) {
			return true
		}
	}
	if tag == "input" && strings.EqualFold(attr(n, "type"), "hidden") && attr(n, "name") != "" {
		return true
	}
	return false
}

// -- selector generation --

var safeIdentRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// buildSelectors returns candidate locators ordered most specific first. The
// list always ends with a unique XPath, so it is never empty.
func buildSelectors(n *html.Node, tag string) []string {
	var out []string
	if id := attr(n, "id"); id != "" && safeIdentRe.MatchString(id) {
		out = append(out, "#"+id)
	}
	for _, key := range []string{"data-testid", "data-test-id", "data-test"} {
		if v := attr(n, key); v != "" {
			out = append(out, fmt.Sprintf("[%s='%s']", key, escapeAttr(v)))
			break
		}
	}
	if name := attr(n, "name"); name != "" {
		out = append(out, fmt.Sprintf("%s[name='%s']", tag, escapeAttr(name)))
	}
	if label := attr(n, "aria-label"); label != "" {
		out = append(out, fmt.Sprintf("%s[aria-label='%s']", tag, escapeAttr(label)))
	}
	if classes := stableClasses(splitClasses(attr(n, "class"))); len(classes) > 0 {
		out = append(out, tag+"."+strings.Join(classes, "."))
	}
	out = append(out, generateUniqueXPath(n))
	return out
}

// stableClasses filters class names down to ones that look hand-written
// rather than generated, keeping at most two.
func stableClasses(classes []string) []string {
	var out []string
	for _, c := range classes {
		if len(c) > 30 || !safeIdentRe.MatchString(c) {
			continue
		}
		if digitHeavy(c) {
			continue
		}
		out = append(out, c)
		if len(out) == 2 {
			break
		}
	}
	return out
}

func digitHeavy(s string) bool {
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits*3 > len(s)
}

func escapeAttr(v string) string {
	return strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), `'`, `\'`)
}

// generateUniqueXPath builds a unique path for the node, anchoring on the
// nearest ancestor id to keep it short and resilient.
func generateUniqueXPath(node *html.Node) string {
	var path []string
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(n.Data)
		if tag == "" {
			continue
		}
		// An id containing a quote cannot anchor the literal; fall through to
		// the positional segment instead.
		if id := attr(n, "id"); id != "" && !strings.Contains(id, "'") {
			path = append(path, fmt.Sprintf(`//*[@id='%s']`, id))
			break
		}
		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.EqualFold(prev.Data, tag) {
				index++
			}
		}
		path = append(path, fmt.Sprintf("%s[%d]", tag, index))
	}
	if len(path) == 0 {
		return "/"
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	xpath := strings.Join(path, "/")
	if !strings.HasPrefix(xpath, "//*[@id=") {
		xpath = "/" + xpath
	}
	return xpath
}

// -- labels --

// collectLabelText maps control ids to the text of their <label for=...>.
func collectLabelText(root *html.Node) map[string]string {
	out := make(map[string]string)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && strings.EqualFold(c.Data, "label") {
				if target := attr(c, "for"); target != "" {
					out[target] = collapseSpace(innerText(c))
				}
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// labelFor resolves the human label of a control: explicit label[for],
// wrapping label, then aria-label.
func labelFor(n *html.Node, labels map[string]string) string {
	if id := attr(n, "id"); id != "" {
		if text, ok := labels[id]; ok {
			return text
		}
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && strings.EqualFold(p.Data, "label") {
			return collapseSpace(innerText(p))
		}
	}
	return attr(n, "aria-label")
}

// -- captcha --

var captchaMarkers = []string{"g-recaptcha", "h-captcha", "cf-turnstile", "recaptcha", "hcaptcha", "turnstile"}

// detectCaptcha scans the tree for the well-known widget markers.
func detectCaptcha(root *html.Node) bool {
	found := false
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				class := strings.ToLower(attr(c, "class"))
				src := strings.ToLower(attr(c, "src"))
				for _, m := range captchaMarkers {
					if strings.Contains(class, m) || (src != "" && strings.Contains(src, m)) {
						found = true
						return
					}
				}
			}
			walk(c)
		}
	}
	walk(root)
	return found
}

// -- node helpers --

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// filteredAttrs copies identifying attributes, dropping style, geometry
// stamps, and anything surfaced through a dedicated descriptor field.
func filteredAttrs(n *html.Node) map[string]string {
	out := make(map[string]string)
	for _, a := range n.Attr {
		switch {
		case a.Key == "id" || a.Key == "class" || a.Key == "style":
		case strings.HasPrefix(a.Key, "data-pp-"):
		default:
			out[a.Key] = truncateRunes(a.Val, 200)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func innerText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode && skipTags[strings.ToLower(n.Data)] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func splitClasses(class string) []string {
	fields := strings.Fields(class)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func enclosingForm(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && strings.EqualFold(p.Data, "form") {
			return p
		}
	}
	return nil
}
