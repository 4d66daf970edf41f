package extractor

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagepilot/internal/page"
)

// Attributes worth keeping in the curated markup excerpt.
var contextAttrs = []string{
	"id", "name", "type", "role", "placeholder", "aria-label",
	"data-testid", "value", "href", "alt", "for", "action",
}

var headingTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// buildHTMLContext renders the compressed page excerpt the prompt builder
// embeds: page metadata first, then form field lists, the heading outline,
// the focused element, and finally attribute-stripped markup of interactive
// elements. Truncated to the configured rune limit.
func (e *Extractor) buildHTMLContext(root *html.Node, info page.PageInfo) string {
	var sb strings.Builder

	if info.Title != "" {
		fmt.Fprintf(&sb, "[title] %s\n", collapseSpace(info.Title))
	}
	if desc := metaDescription(root); desc != "" {
		fmt.Fprintf(&sb, "[meta] %s\n", truncateRunes(desc, 200))
	}

	if outline := headingOutline(root); len(outline) > 0 {
		sb.WriteString("[headings]\n")
		for _, h := range outline {
			sb.WriteString("  " + h + "\n")
		}
	}

	if forms := formSummaries(root); len(forms) > 0 {
		sb.WriteString("[forms]\n")
		for _, f := range forms {
			sb.WriteString("  " + f + "\n")
		}
	}

	if focused := findFocused(root); focused != nil {
		fmt.Fprintf(&sb, "[focused] %s\n", renderNode(focused))
	}

	sb.WriteString("[interactive]\n")
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			tag := strings.ToLower(c.Data)
			if skipTags[tag] {
				continue
			}
			if interactiveTags[tag] && tag != "option" && tag != "form" {
				sb.WriteString("  " + renderNode(c) + "\n")
			}
			walk(c)
		}
	}
	walk(root)

	return truncateRunes(sb.String(), e.cfg.HTMLContextLimit)
}

// renderNode prints one element with only its identifying attributes and a
// short text excerpt.
func renderNode(n *html.Node) string {
	tag := strings.ToLower(n.Data)
	var sb strings.Builder
	sb.WriteString("<" + tag)
	for _, key := range contextAttrs {
		if v := attr(n, key); v != "" {
			fmt.Fprintf(&sb, " %s=%q", key, truncateRunes(v, 80))
		}
	}
	text := truncateRunes(collapseSpace(innerText(n)), 60)
	if text == "" {
		sb.WriteString("/>")
		return sb.String()
	}
	fmt.Fprintf(&sb, ">%s</%s>", text, tag)
	return sb.String()
}

func metaDescription(root *html.Node) string {
	var out string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if out != "" {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && strings.EqualFold(c.Data, "meta") &&
				strings.EqualFold(attr(c, "name"), "description") {
				out = collapseSpace(attr(c, "content"))
				return
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func headingOutline(root *html.Node) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				tag := strings.ToLower(c.Data)
				if headingTags[tag] {
					if text := collapseSpace(innerText(c)); text != "" {
						out = append(out, fmt.Sprintf("%s: %s", tag, truncateRunes(text, 80)))
					}
				}
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// formSummaries lists each form with its field roster, the shape a model
// needs to decide what to fill.
func formSummaries(root *html.Node) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && strings.EqualFold(c.Data, "form") {
				out = append(out, summarizeForm(c))
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func summarizeForm(form *html.Node) string {
	name := "form"
	if id := attr(form, "id"); id != "" {
		name = "form#" + id
	} else if n := attr(form, "name"); n != "" {
		name = "form[name=" + n + "]"
	}
	var fields []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				switch strings.ToLower(c.Data) {
				case "input":
					typ := strings.ToLower(attr(c, "type"))
					if typ == "" {
						typ = "text"
					}
					field := "input[" + typ
					if fn := attr(c, "name"); fn != "" {
						field += " name=" + fn
					}
					fields = append(fields, field+"]")
				case "select":
					field := "select"
					if fn := attr(c, "name"); fn != "" {
						field += "[name=" + fn + "]"
					}
					fields = append(fields, field)
				case "textarea":
					field := "textarea"
					if fn := attr(c, "name"); fn != "" {
						field += "[name=" + fn + "]"
					}
					fields = append(fields, field)
				case "button":
					label := collapseSpace(innerText(c))
					fields = append(fields, fmt.Sprintf("button(%q)", truncateRunes(label, 30)))
				}
			}
			walk(c)
		}
	}
	walk(form)
	if len(fields) == 0 {
		return name
	}
	return name + ": " + strings.Join(fields, ", ")
}

// findFocused locates the node carrying focus at capture time, via either the
// geometry stamp a live browser leaves or the autofocus attribute.
func findFocused(root *html.Node) *html.Node {
	var out *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if out != nil {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (hasAttr(c, "data-pp-focus") || hasAttr(c, "autofocus")) {
				out = c
				return
			}
			walk(c)
		}
	}
	walk(root)
	return out
}
