// Package executor runs validated actions against the live document. It is a
// never-throw boundary: every tool call returns a structured ActionResult and
// no failure escapes as a Go error or panic.
package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/page"
)

// Executor binds the tool set to one document.
type Executor struct {
	doc    page.Document
	cfg    config.ExecutorConfig
	logger *zap.Logger
}

func New(doc page.Document, cfg config.ExecutorConfig, logger *zap.Logger) *Executor {
	return &Executor{doc: doc, cfg: cfg, logger: logger.Named("executor")}
}

// Execute dispatches one action. Panics inside tool handlers are converted to
// failure results; the pipeline never dies on a bad page.
func (e *Executor) Execute(ctx context.Context, action schemas.ActionRequest) (result schemas.ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Tool handler panicked",
				zap.String("tool", action.Tool), zap.Any("panic", r))
			result = schemas.FailedResult(action.Tool, schemas.ErrCodeExecutionFailure,
				fmt.Sprintf("internal failure: %v", r))
		}
	}()

	e.logger.Debug("Executing action",
		zap.String("tool", action.Tool),
		zap.String("description", action.Description))

	switch action.Tool {
	case schemas.ToolClick:
		result = e.click(ctx, action.Params)
	case schemas.ToolType:
		result = e.typeText(ctx, action.Params)
	case schemas.ToolPressEnter:
		result = e.pressEnter(ctx)
	case schemas.ToolScroll:
		result = e.scroll(ctx, action.Params)
	case schemas.ToolMoveMouse:
		result = e.moveMouse(ctx, action.Params)
	case schemas.ToolSolveCaptcha:
		result = e.solveCaptcha(ctx)
	case schemas.ToolNavigate:
		result = e.navigate(ctx, action.Params)
	case schemas.ToolSearchGoogle:
		result = e.searchGoogle(ctx, action.Params)
	case schemas.ToolWaitForElement:
		result = e.waitForElement(ctx, action.Params)
	case schemas.ToolRightClick:
		result = e.pointer(ctx, schemas.ToolRightClick, action.Params)
	case schemas.ToolDoubleClick:
		result = e.pointer(ctx, schemas.ToolDoubleClick, action.Params)
	case schemas.ToolKeyPress:
		result = e.keyPress(ctx, action.Params)
	case schemas.ToolSelectText:
		result = e.pointer(ctx, schemas.ToolSelectText, action.Params)
	case schemas.ToolFocus:
		result = e.pointer(ctx, schemas.ToolFocus, action.Params)
	case schemas.ToolBlur:
		result = e.pointer(ctx, schemas.ToolBlur, action.Params)
	case schemas.ToolHover:
		result = e.pointer(ctx, schemas.ToolHover, action.Params)
	case schemas.ToolSelectOption:
		result = e.selectOption(ctx, action.Params)
	case schemas.ToolToggleCheckbox:
		result = e.toggleCheckbox(ctx, action.Params)
	case schemas.ToolRefresh:
		result = e.history(ctx, schemas.ToolRefresh)
	case schemas.ToolGoBack:
		result = e.history(ctx, schemas.ToolGoBack)
	case schemas.ToolGoForward:
		result = e.history(ctx, schemas.ToolGoForward)
	case schemas.ToolGetText:
		result = e.getText(ctx, action.Params)
	case schemas.ToolGetAttribute:
		result = e.getAttribute(ctx, action.Params)
	case schemas.ToolSetAttribute:
		result = e.setAttribute(ctx, action.Params)
	case schemas.ToolClearInput:
		result = e.clearInput(ctx, action.Params)
	default:
		// The parser whitelists tools; this is the safety net behind it.
		result = schemas.FailedResult(action.Tool, schemas.ErrCodeUnsupportedTool,
			fmt.Sprintf("tool %q is not implemented", action.Tool))
	}

	if !result.Success {
		e.logger.Debug("Action failed",
			zap.String("tool", action.Tool),
			zap.String("code", result.ErrorCode),
			zap.String("error", result.Error))
	}
	return result
}

// resolve looks the selector up and, on a miss, runs the fallback search so
// the failure result carries ranked alternatives.
func (e *Executor) resolve(ctx context.Context, tool, selector string, kind candidateKind) (page.Element, *schemas.ActionResult) {
	el, err := e.doc.Query(ctx, selector)
	if err != nil {
		res := schemas.FailedResult(tool, schemas.ErrCodeExecutionFailure,
			fmt.Sprintf("selector resolution failed: %v", err))
		return nil, &res
	}
	if el == nil {
		alternatives := e.findAlternatives(ctx, selector, kind)
		res := schemas.FailedResult(tool, schemas.ErrCodeElementNotFound,
			fmt.Sprintf("no element matches selector %q", selector))
		res.AlternativeSelectors = alternatives
		return nil, &res
	}
	return el, nil
}

// -- param access --

func paramString(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func paramBool(params map[string]any, key string) bool {
	v, ok := params[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func missingParam(tool, key string) schemas.ActionResult {
	return schemas.FailedResult(tool, schemas.ErrCodeInvalidParameters,
		fmt.Sprintf("required parameter %q is missing or not usable", key))
}
