// Package prompt assembles the system/user prompt pair for one pipeline turn.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// historyTailLen bounds how much action history the user prompt carries.
const historyTailLen = 8

// ErrInvalidSnapshot is returned when Build receives no usable snapshot.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// systemPrompt is fixed for every turn: the tool contract, selector strategy,
// and the completion protocol.
var systemPrompt = buildSystemPrompt()

func buildSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString(`You are a web page interaction agent. Each turn you receive the current page state and must respond with a single JSON object, no prose before or after:

{"actions": [{"tool": "...", "params": {...}, "description": "..."}], "taskComplete": false, "result": null, "currentStep": "...", "reasoning": "..."}

Available tools:
`)
	for _, tool := range schemas.KnownTools() {
		fmt.Fprintf(&sb, "- %s: %s\n", tool, toolHelp[tool])
	}
	sb.WriteString(`
Selector strategy:
- Use the selectors listed for each element verbatim; the first listed is the most reliable.
- Prefer #id, [data-testid='...'] and [name='...'] selectors over class or positional ones.
- If an action fails with alternative selectors in its result, retry with one of them.

Completion protocol:
- Never set taskComplete to true in the same turn as the action that supposedly finishes the task.
- Mark the task complete only after a later page state confirms the outcome (navigation happened, confirmation text appeared, form cleared).
- When taskComplete is true, put the final answer or outcome summary in result.
- If a CAPTCHA is reported, attempt solveCaptcha once; if it fails, report the blockage in result.

Act in small steps: at most a few actions per turn, re-observe, then continue.`)
	return sb.String()
}

var toolHelp = map[string]string{
	schemas.ToolClick:          "click an element; params: {selector}",
	schemas.ToolType:           "type text into a field; params: {selector, text, pressEnter?}",
	schemas.ToolPressEnter:     "press Enter at the focused element; params: {}",
	schemas.ToolScroll:         "scroll the page; params: {direction: up|down, amount?}",
	schemas.ToolMoveMouse:      "move the pointer; params: {x, y}",
	schemas.ToolSolveCaptcha:   "attempt a captcha checkbox; params: {}",
	schemas.ToolNavigate:       "open a URL; params: {url}",
	schemas.ToolSearchGoogle:   "search the web; params: {query}",
	schemas.ToolWaitForElement: "wait for a selector to appear; params: {selector, timeout?}",
	schemas.ToolRightClick:     "right-click an element; params: {selector}",
	schemas.ToolDoubleClick:    "double-click an element; params: {selector}",
	schemas.ToolKeyPress:       "press a named key; params: {key, selector?}",
	schemas.ToolSelectText:     "select an element's text; params: {selector}",
	schemas.ToolFocus:          "focus an element; params: {selector}",
	schemas.ToolBlur:           "unfocus an element; params: {selector}",
	schemas.ToolHover:          "hover over an element; params: {selector}",
	schemas.ToolSelectOption:   "choose a select option; params: {selector, value}",
	schemas.ToolToggleCheckbox: "toggle a checkbox or radio; params: {selector}",
	schemas.ToolRefresh:        "reload the page; params: {}",
	schemas.ToolGoBack:         "history back; params: {}",
	schemas.ToolGoForward:      "history forward; params: {}",
	schemas.ToolGetText:        "read an element's text; params: {selector}",
	schemas.ToolGetAttribute:   "read an attribute; params: {selector, attribute}",
	schemas.ToolSetAttribute:   "write an attribute; params: {selector, attribute, value}",
	schemas.ToolClearInput:     "clear a field; params: {selector}",
}

// Builder renders prompt pairs. Stateless; safe for reuse.
type Builder struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Builder {
	return &Builder{logger: logger.Named("prompt")}
}

// Build assembles the pair for one turn. The diff and context are optional;
// the snapshot is not.
func (b *Builder) Build(task string, snap *schemas.Snapshot, diff *schemas.Diff, autoCtx *schemas.AutomationContext) (schemas.PromptPair, error) {
	if snap == nil {
		return schemas.PromptPair{}, fmt.Errorf("%w: snapshot is missing", ErrInvalidSnapshot)
	}
	if snap.URL == "" && snap.Title == "" && len(snap.Elements) == 0 {
		return schemas.PromptPair{}, fmt.Errorf("%w: snapshot is empty", ErrInvalidSnapshot)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "TASK: %s\n\n", strings.TrimSpace(task))

	fmt.Fprintf(&sb, "PAGE: %s\n", snap.URL)
	if snap.Title != "" {
		fmt.Fprintf(&sb, "TITLE: %s\n", snap.Title)
	}
	fmt.Fprintf(&sb, "SCROLL: (%.0f, %.0f)\n", snap.Scroll.X, snap.Scroll.Y)
	if snap.CaptchaPresent {
		sb.WriteString("CAPTCHA: a captcha widget is present on this page.\n")
	}
	sb.WriteString("\n")

	if autoCtx != nil {
		writeContext(&sb, autoCtx)
	}
	if diff != nil && !diff.FullReplace() {
		writeDiffSummary(&sb, diff)
	}

	sb.WriteString("ELEMENTS:\n")
	for _, el := range snap.Elements {
		sb.WriteString(renderElement(el))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if snap.HTMLContext != "" {
		sb.WriteString("PAGE CONTEXT:\n")
		sb.WriteString(snap.HTMLContext)
		if !strings.HasSuffix(snap.HTMLContext, "\n") {
			sb.WriteString("\n")
		}
	}

	pair := schemas.PromptPair{SystemPrompt: systemPrompt, UserPrompt: sb.String()}
	b.logger.Debug("Prompt built",
		zap.Int("elements", len(snap.Elements)),
		zap.Int("userPromptLen", len(pair.UserPrompt)))
	return pair, nil
}

// writeContext renders the run-so-far sections in escalating order of
// urgency: warnings first, then flags, then history.
func writeContext(sb *strings.Builder, c *schemas.AutomationContext) {
	if c.IsStuck {
		fmt.Fprintf(sb, "WARNING: progress appears stuck (%d turns without effect). Change approach: try different selectors, scroll, or navigate.\n", c.StuckCounter)
	}
	for _, seq := range c.RepeatedSequences {
		fmt.Fprintf(sb, "WARNING: action sequence repeating without progress: %s\n", seq)
	}

	fmt.Fprintf(sb, "ITERATION: %d\n", c.IterationCount)
	if c.DOMChanged {
		sb.WriteString("NOTE: the page content changed since the last action.\n")
	}
	if c.URLChanged {
		sb.WriteString("NOTE: the page URL changed since the last action.\n")
	}

	if tail := c.HistoryTail(historyTailLen); len(tail) > 0 {
		sb.WriteString("RECENT ACTIONS:\n")
		for _, rec := range tail {
			status := "ok"
			if !rec.Success {
				status = "FAILED"
				if rec.Error != "" {
					status += ": " + rec.Error
				}
			}
			desc := rec.Description
			if desc != "" {
				desc = " (" + desc + ")"
			}
			fmt.Fprintf(sb, "- %s%s -> %s\n", rec.Tool, desc, status)
		}
	}
	if len(c.FailedAttempts) > 0 {
		sb.WriteString("FAILED TOOL TALLY:")
		for _, tool := range schemas.KnownTools() {
			if n := c.FailedAttempts[tool]; n > 0 {
				fmt.Fprintf(sb, " %s=%d", tool, n)
			}
		}
		sb.WriteString("\n")
	}
	if len(c.URLHistory) > 0 {
		fmt.Fprintf(sb, "URL HISTORY: %s\n", strings.Join(c.URLHistory, " -> "))
	}
	sb.WriteString("\n")
}

func writeDiffSummary(sb *strings.Builder, diff *schemas.Diff) {
	fmt.Fprintf(sb, "PAGE CHANGES: +%d added, -%d removed, ~%d modified (change ratio %.2f)\n",
		diff.Metadata.AddedCount, diff.Metadata.RemovedCount,
		diff.Metadata.ModifiedCount, diff.Metadata.ChangeRatio)
	for i, mod := range diff.Modified {
		if i == 5 {
			sb.WriteString("  ...\n")
			break
		}
		keys := make([]string, 0, len(mod.Changes))
		for k := range mod.Changes {
			keys = append(keys, k)
		}
		fmt.Fprintf(sb, "  ~ %s %s changed: %s\n", mod.Tag, mod.PrimarySelector(), strings.Join(keys, ","))
	}
	sb.WriteString("\n")
}

// renderElement prints the one-line descriptor the model acts on.
func renderElement(el schemas.ElementDescriptor) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", el.ElementID, el.Tag)
	if el.ID != "" {
		sb.WriteString("#" + el.ID)
	}
	if el.InputType != "" {
		fmt.Fprintf(&sb, "(%s)", el.InputType)
	}
	if el.LabelText != "" {
		fmt.Fprintf(&sb, " label=%q", clip(el.LabelText, 40))
	} else if name := el.Attributes["name"]; name != "" {
		fmt.Fprintf(&sb, " name=%q", name)
	} else if aria := el.Attributes["aria-label"]; aria != "" {
		fmt.Fprintf(&sb, " aria=%q", clip(aria, 40))
	}
	if el.Text != "" {
		fmt.Fprintf(&sb, " %q", clip(el.Text, 60))
	}
	if el.Href != "" {
		fmt.Fprintf(&sb, " href=%q", clip(el.Href, 60))
	}

	var flags []string
	if el.InteractionState.Disabled {
		flags = append(flags, "disabled")
	}
	if el.InteractionState.ReadOnly {
		flags = append(flags, "readonly")
	}
	if el.InteractionState.Checked {
		flags = append(flags, "checked")
	}
	if el.InteractionState.Focused {
		flags = append(flags, "focused")
	}
	if !el.Visibility.Visible() {
		flags = append(flags, "hidden")
	} else if !el.Position.InViewport {
		flags = append(flags, "offscreen")
	}
	if len(flags) > 0 {
		fmt.Fprintf(&sb, " [%s]", strings.Join(flags, ","))
	}

	fmt.Fprintf(&sb, " @(%.0f,%.0f)", el.Position.X, el.Position.Y)
	fmt.Fprintf(&sb, " sel: %s", el.PrimarySelector())
	return sb.String()
}

func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
