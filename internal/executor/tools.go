package executor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

func (e *Executor) click(ctx context.Context, params map[string]any) schemas.ActionResult {
	selector, ok := paramString(params, "selector")
	if !ok {
		return missingParam(schemas.ToolClick, "selector")
	}
	el, fail := e.resolve(ctx, schemas.ToolClick, selector, clickCandidates)
	if fail != nil {
		return *fail
	}

	info, err := el.Describe(ctx)
	if err == nil && info.State.Disabled {
		return schemas.FailedResult(schemas.ToolClick, schemas.ErrCodeElementNotInteractable,
			fmt.Sprintf("element %q is disabled", selector))
	}
	if err := el.Click(ctx); err != nil {
		return schemas.FailedResult(schemas.ToolClick, schemas.ErrCodeExecutionFailure, err.Error())
	}
	return schemas.OKResult(schemas.ToolClick, map[string]any{"selector": el.Selector()})
}

func (e *Executor) typeText(ctx context.Context, params map[string]any) schemas.ActionResult {
	selector, ok := paramString(params, "selector")
	if !ok {
		return missingParam(schemas.ToolType, "selector")
	}
	text, ok := paramString(params, "text")
	if !ok {
		return missingParam(schemas.ToolType, "text")
	}
	el, fail := e.resolve(ctx, schemas.ToolType, selector, typeCandidates)
	if fail != nil {
		return *fail
	}

	if info, err := el.Describe(ctx); err == nil && (info.State.Disabled || info.State.ReadOnly) {
		return schemas.FailedResult(schemas.ToolType, schemas.ErrCodeElementNotInteractable,
			fmt.Sprintf("element %q does not accept input", selector))
	}

	if paramBool(params, "clearFirst") {
		if err := el.Clear(ctx); err != nil {
			return schemas.FailedResult(schemas.ToolType, schemas.ErrCodeExecutionFailure,
				fmt.Sprintf("failed to clear before typing: %v", err))
		}
	}

	method, err := e.insertText(ctx, el, text)
	if err != nil {
		return schemas.FailedResult(schemas.ToolType, schemas.ErrCodeExecutionFailure, err.Error())
	}

	pressedEnter := false
	if paramBool(params, "pressEnter") {
		if err := el.Focus(ctx); err == nil {
			if err := e.doc.PressKey(ctx, "Enter"); err == nil {
				pressedEnter = true
			}
		}
	}
	return schemas.OKResult(schemas.ToolType, map[string]any{
		"typed":        text,
		"pressedEnter": pressedEnter,
		"method":       method,
	})
}

func (e *Executor) pressEnter(ctx context.Context) schemas.ActionResult {
	if err := e.doc.PressKey(ctx, "Enter"); err != nil {
		return schemas.FailedResult(schemas.ToolPressEnter, schemas.ErrCodeExecutionFailure, err.Error())
	}
	return schemas.OKResult(schemas.ToolPressEnter, nil)
}

func (e *Executor) scroll(ctx context.Context, params map[string]any) schemas.ActionResult {
	direction, _ := paramString(params, "direction")
	amount, ok := paramFloat(params, "amount")
	if !ok || amount <= 0 {
		amount = e.cfg.ScrollStep
	}

	dy := amount
	switch strings.ToLower(direction) {
	case "up":
		dy = -amount
	case "", "down":
	default:
		return schemas.FailedResult(schemas.ToolScroll, schemas.ErrCodeInvalidParameters,
			fmt.Sprintf("direction must be up or down, got %q", direction))
	}
	if err := e.doc.ScrollBy(ctx, 0, dy); err != nil {
		return schemas.FailedResult(schemas.ToolScroll, schemas.ErrCodeExecutionFailure, err.Error())
	}
	return schemas.OKResult(schemas.ToolScroll, map[string]any{"dy": dy})
}

func (e *Executor) moveMouse(ctx context.Context, params map[string]any) schemas.ActionResult {
	x, okX := paramFloat(params, "x")
	y, okY := paramFloat(params, "y")
	if !okX || !okY {
		return missingParam(schemas.ToolMoveMouse, "x/y")
	}
	if err := e.doc.MoveMouse(ctx, x, y); err != nil {
		return schemas.FailedResult(schemas.ToolMoveMouse, schemas.ErrCodeExecutionFailure, err.Error())
	}
	return schemas.OKResult(schemas.ToolMoveMouse, map[string]any{"x": x, "y": y})
}

// captchaAnchors are the well-known checkbox targets, tried in order.
var captchaAnchors = []string{
	"#recaptcha-anchor",
	".recaptcha-checkbox",
	".g-recaptcha",
	".h-captcha",
	".cf-turnstile",
}

// solveCaptcha is best effort: click the checkbox if one is addressable,
// otherwise report that a human has to take over.
func (e *Executor) solveCaptcha(ctx context.Context) schemas.ActionResult {
	for _, anchor := range captchaAnchors {
		el, err := e.doc.Query(ctx, anchor)
		if err != nil || el == nil {
			continue
		}
		if err := el.Click(ctx); err != nil {
			continue
		}
		return schemas.OKResult(schemas.ToolSolveCaptcha, map[string]any{"clicked": anchor})
	}
	return schemas.FailedResult(schemas.ToolSolveCaptcha, schemas.ErrCodeCaptchaManualIntervention,
		"captcha requires manual intervention: no clickable checkbox found")
}

func (e *Executor) navigate(ctx context.Context, params map[string]any) schemas.ActionResult {
	target, ok := paramString(params, "url")
	if !ok {
		return missingParam(schemas.ToolNavigate, "url")
	}
	if err := e.doc.Navigate(ctx, target); err != nil {
		return schemas.FailedResult(schemas.ToolNavigate, schemas.ErrCodeNavigationError, err.Error())
	}
	return schemas.OKResult(schemas.ToolNavigate, map[string]any{"url": target})
}

func (e *Executor) searchGoogle(ctx context.Context, params map[string]any) schemas.ActionResult {
	query, ok := paramString(params, "query")
	if !ok {
		return missingParam(schemas.ToolSearchGoogle, "query")
	}
	target := "https://www.google.com/search?q=" + url.QueryEscape(query)
	if err := e.doc.Navigate(ctx, target); err != nil {
		return schemas.FailedResult(schemas.ToolSearchGoogle, schemas.ErrCodeNavigationError, err.Error())
	}
	return schemas.OKResult(schemas.ToolSearchGoogle, map[string]any{"url": target, "query": query})
}

func (e *Executor) waitForElement(ctx context.Context, params map[string]any) schemas.ActionResult {
	selector, ok := paramString(params, "selector")
	if !ok {
		return missingParam(schemas.ToolWaitForElement, "selector")
	}
	timeout := e.cfg.DefaultWaitTimeout
	if seconds, ok := paramFloat(params, "timeout"); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	deadline := time.Now().Add(timeout)
	for {
		el, err := e.doc.Query(ctx, selector)
		if err != nil {
			return schemas.FailedResult(schemas.ToolWaitForElement, schemas.ErrCodeExecutionFailure, err.Error())
		}
		if el != nil {
			return schemas.OKResult(schemas.ToolWaitForElement, map[string]any{
				"selector": selector,
				"waitedMs": timeout.Milliseconds() - time.Until(deadline).Milliseconds(),
			})
		}
		if time.Now().After(deadline) {
			return schemas.FailedResult(schemas.ToolWaitForElement, schemas.ErrCodeTimeout,
				fmt.Sprintf("element %q did not appear within %s", selector, timeout))
		}
		select {
		case <-ctx.Done():
			return schemas.FailedResult(schemas.ToolWaitForElement, schemas.ErrCodeTimeout, ctx.Err().Error())
		case <-time.After(e.cfg.WaitPollInterval):
		}
	}
}

// pointer covers the single-element gestures that share a shape: resolve,
// invoke, report.
func (e *Executor) pointer(ctx context.Context, tool string, params map[string]any) schemas.ActionResult {
	selector, ok := paramString(params, "selector")
	if !ok {
		return missingParam(tool, "selector")
	}
	kind := clickCandidates
	if tool == schemas.ToolFocus || tool == schemas.ToolBlur || tool == schemas.ToolSelectText {
		kind = typeCandidates
	}
	el, fail := e.resolve(ctx, tool, selector, kind)
	if fail != nil {
		return *fail
	}

	var err error
	switch tool {
	case schemas.ToolRightClick:
		err = el.RightClick(ctx)
	case schemas.ToolDoubleClick:
		err = el.DoubleClick(ctx)
	case schemas.ToolHover:
		err = el.Hover(ctx)
	case schemas.ToolFocus:
		err = el.Focus(ctx)
	case schemas.ToolBlur:
		err = el.Blur(ctx)
	case schemas.ToolSelectText:
		err = el.SelectText(ctx)
	}
	if err != nil {
		return schemas.FailedResult(tool, schemas.ErrCodeExecutionFailure, err.Error())
	}
	return schemas.OKResult(tool, map[string]any{"selector": el.Selector()})
}

func (e *Executor) keyPress(ctx context.Context, params map[string]any) schemas.ActionResult {
	key, ok := paramString(params, "key")
	if !ok {
		return missingParam(schemas.ToolKeyPress, "key")
	}
	if selector, ok := paramString(params, "selector"); ok {
		el, fail := e.resolve(ctx, schemas.ToolKeyPress, selector, typeCandidates)
		if fail != nil {
			return *fail
		}
		if err := el.Focus(ctx); err != nil {
			return schemas.FailedResult(schemas.ToolKeyPress, schemas.ErrCodeExecutionFailure, err.Error())
		}
	}
	if err := e.doc.PressKey(ctx, key); err != nil {
		return schemas.FailedResult(schemas.ToolKeyPress, schemas.ErrCodeExecutionFailure, err.Error())
	}
	return schemas.OKResult(schemas.ToolKeyPress, map[string]any{"key": key})
}

func (e *Executor) selectOption(ctx context.Context, params map[string]any) schemas.ActionResult {
	selector, ok := paramString(params, "selector")
	if !ok {
		return missingParam(schemas.ToolSelectOption, "selector")
	}
	value, ok := paramString(params, "value")
	if !ok {
		return missingParam(schemas.ToolSelectOption, "value")
	}
	el, fail := e.resolve(ctx, schemas.ToolSelectOption, selector, typeCandidates)
	if fail != nil {
		return *fail
	}
	if err := el.SelectOption(ctx, value); err != nil {
		return schemas.FailedResult(schemas.ToolSelectOption, schemas.ErrCodeExecutionFailure, err.Error())
	}
	return schemas.OKResult(schemas.ToolSelectOption, map[string]any{"value": value})
}

func (e *Executor) toggleCheckbox(ctx context.Context, params map[string]any) schemas.ActionResult {
	selector, ok := paramString(params, "selector")
	if !ok {
		return missingParam(schemas.ToolToggleCheckbox, "selector")
	}
	el, fail := e.resolve(ctx, schemas.ToolToggleCheckbox, selector, clickCandidates)
	if fail != nil {
		return *fail
	}
	checked, err := el.ToggleChecked(ctx)
	if err != nil {
		return schemas.FailedResult(schemas.ToolToggleCheckbox, schemas.ErrCodeExecutionFailure, err.Error())
	}
	return schemas.OKResult(schemas.ToolToggleCheckbox, map[string]any{"checked": checked})
}

func (e *Executor) history(ctx context.Context, tool string) schemas.ActionResult {
	var err error
	switch tool {
	case schemas.ToolRefresh:
		err = e.doc.Reload(ctx)
	case schemas.ToolGoBack:
		err = e.doc.Back(ctx)
	case schemas.ToolGoForward:
		err = e.doc.Forward(ctx)
	}
	if err != nil {
		return schemas.FailedResult(tool, schemas.ErrCodeNavigationError, err.Error())
	}
	return schemas.OKResult(tool, nil)
}

func (e *Executor) getText(ctx context.Context, params map[string]any) schemas.ActionResult {
	selector, ok := paramString(params, "selector")
	if !ok {
		return missingParam(schemas.ToolGetText, "selector")
	}
	el, fail := e.resolve(ctx, schemas.ToolGetText, selector, anyCandidates)
	if fail != nil {
		return *fail
	}
	text, err := el.Text(ctx)
	if err != nil {
		return schemas.FailedResult(schemas.ToolGetText, schemas.ErrCodeExecutionFailure, err.Error())
	}
	return schemas.OKResult(schemas.ToolGetText, map[string]any{"text": text})
}

func (e *Executor) getAttribute(ctx context.Context, params map[string]any) schemas.ActionResult {
	selector, ok := paramString(params, "selector")
	if !ok {
		return missingParam(schemas.ToolGetAttribute, "selector")
	}
	attribute, ok := paramString(params, "attribute")
	if !ok {
		return missingParam(schemas.ToolGetAttribute, "attribute")
	}
	el, fail := e.resolve(ctx, schemas.ToolGetAttribute, selector, anyCandidates)
	if fail != nil {
		return *fail
	}
	value, present, err := el.Attr(ctx, attribute)
	if err != nil {
		return schemas.FailedResult(schemas.ToolGetAttribute, schemas.ErrCodeExecutionFailure, err.Error())
	}
	return schemas.OKResult(schemas.ToolGetAttribute, map[string]any{
		"attribute": attribute,
		"value":     value,
		"present":   present,
	})
}

func (e *Executor) setAttribute(ctx context.Context, params map[string]any) schemas.ActionResult {
	selector, ok := paramString(params, "selector")
	if !ok {
		return missingParam(schemas.ToolSetAttribute, "selector")
	}
	attribute, ok := paramString(params, "attribute")
	if !ok {
		return missingParam(schemas.ToolSetAttribute, "attribute")
	}
	value, _ := paramString(params, "value")
	el, fail := e.resolve(ctx, schemas.ToolSetAttribute, selector, anyCandidates)
	if fail != nil {
		return *fail
	}
	if err := el.SetAttr(ctx, attribute, value); err != nil {
		return schemas.FailedResult(schemas.ToolSetAttribute, schemas.ErrCodeExecutionFailure, err.Error())
	}
	return schemas.OKResult(schemas.ToolSetAttribute, map[string]any{"attribute": attribute, "value": value})
}

func (e *Executor) clearInput(ctx context.Context, params map[string]any) schemas.ActionResult {
	selector, ok := paramString(params, "selector")
	if !ok {
		return missingParam(schemas.ToolClearInput, "selector")
	}
	el, fail := e.resolve(ctx, schemas.ToolClearInput, selector, typeCandidates)
	if fail != nil {
		return *fail
	}
	if err := el.Clear(ctx); err != nil {
		return schemas.FailedResult(schemas.ToolClearInput, schemas.ErrCodeExecutionFailure, err.Error())
	}
	return schemas.OKResult(schemas.ToolClearInput, nil)
}
