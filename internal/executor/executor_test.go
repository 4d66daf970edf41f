package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/page"
)

const searchPage = `<!DOCTYPE html>
<html><head><title>Find</title></head><body>
<form id="searchform" action="/search">
  <label for="q">Query</label>
  <input type="text" id="q" name="q" placeholder="Search the site">
  <button type="submit" id="submit">Submit</button>
</form>
<a href="/about" id="about">About us</a>
<a href="#">Submit feedback</a>
<select id="lang" name="lang">
  <option value="en">English</option>
  <option value="de">German</option>
</select>
<input type="checkbox" id="agree" name="agree">
<input type="text" id="frozen" disabled>
<div id="note" contenteditable="true"></div>
<p id="blurb">Welcome to the demo page.</p>
</body></html>`

func testConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		DefaultWaitTimeout: 200 * time.Millisecond,
		WaitPollInterval:   10 * time.Millisecond,
		MaxAlternatives:    3,
		ScrollStep:         400,
	}
}

func newTestExecutor(t *testing.T, opts ...page.StaticOption) (*Executor, *page.StaticDocument) {
	t.Helper()
	doc, err := page.NewStaticDocument(searchPage, "https://example.test/", opts...)
	require.NoError(t, err)
	return New(doc, testConfig(), zap.NewNop()), doc
}

func TestExecuteTypeWithEnter(t *testing.T) {
	exec, doc := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolType,
		Params: map[string]any{"selector": "#q", "text": "cats", "pressEnter": true},
	})

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, "cats", res.Diagnostics["typed"])
	assert.Equal(t, true, res.Diagnostics["pressedEnter"])
	assert.Equal(t, "insertText", res.Diagnostics["method"])

	el, err := doc.Query(context.Background(), "#q")
	require.NoError(t, err)
	value, err := el.Value(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cats", value)
	assert.Contains(t, doc.Events(), "submit:#searchform")
}

func TestExecuteTypeClearFirst(t *testing.T) {
	exec, doc := newTestExecutor(t)

	for _, text := range []string{"old", "new"} {
		res := exec.Execute(context.Background(), schemas.ActionRequest{
			Tool:   schemas.ToolType,
			Params: map[string]any{"selector": "#q", "text": text, "clearFirst": true},
		})
		require.True(t, res.Success)
	}

	el, _ := doc.Query(context.Background(), "#q")
	value, _ := el.Value(context.Background())
	assert.Equal(t, "new", value)
}

func TestExecuteTypeRejectsDisabled(t *testing.T) {
	exec, _ := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolType,
		Params: map[string]any{"selector": "#frozen", "text": "x"},
	})

	assert.False(t, res.Success)
	assert.Equal(t, schemas.ErrCodeElementNotInteractable, res.ErrorCode)
}

func TestInsertionFallsBackToRangeTier(t *testing.T) {
	// Contenteditable host, no clipboard: insertText and paste are
	// unsupported, the range tier lands it.
	exec, doc := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolType,
		Params: map[string]any{"selector": "#note", "text": "hello"},
	})

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, "range", res.Diagnostics["method"])

	el, _ := doc.Query(context.Background(), "#note")
	text, _ := el.Text(context.Background())
	assert.Equal(t, "hello", text)
}

func TestInsertionPrefersPasteWhenAvailable(t *testing.T) {
	exec, _ := newTestExecutor(t, page.WithPasteSupport())

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolType,
		Params: map[string]any{"selector": "#note", "text": "hello"},
	})

	require.True(t, res.Success)
	assert.Equal(t, "paste", res.Diagnostics["method"])
}

func TestExecuteClickFollowsLink(t *testing.T) {
	exec, doc := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolClick,
		Params: map[string]any{"selector": "#about"},
	})

	require.True(t, res.Success)
	info, err := doc.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/about", info.URL)
}

func TestSelectorFallbackRanksAlternatives(t *testing.T) {
	exec, _ := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolClick,
		Params: map[string]any{"selector": "#submit-btn"},
	})

	assert.False(t, res.Success)
	assert.Equal(t, schemas.ErrCodeElementNotFound, res.ErrorCode)
	require.NotEmpty(t, res.AlternativeSelectors)
	assert.LessOrEqual(t, len(res.AlternativeSelectors), 3)
	// The real submit button wins; the anchor with matching text but no
	// identifying attribute trails with a positional locator.
	assert.Equal(t, "#submit", res.AlternativeSelectors[0])
	assert.Contains(t, res.AlternativeSelectors, "(//a)[2]")
}

func TestSelectorFallbackWithoutIdentifyingAttributes(t *testing.T) {
	// A bare submit button with no id, name or label still has to surface as
	// an alternative that resolves on retry.
	const barePage = `<!DOCTYPE html>
<html><head><title>Bare</title></head><body>
<form action="/search"><input name="q"><button type="submit">Submit</button></form>
</body></html>`
	doc, err := page.NewStaticDocument(barePage, "https://example.test/")
	require.NoError(t, err)
	exec := New(doc, testConfig(), zap.NewNop())

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolClick,
		Params: map[string]any{"selector": "#submit-btn"},
	})

	assert.False(t, res.Success)
	assert.Equal(t, schemas.ErrCodeElementNotFound, res.ErrorCode)
	require.NotEmpty(t, res.AlternativeSelectors)

	el, err := doc.Query(context.Background(), res.AlternativeSelectors[0])
	require.NoError(t, err)
	require.NotNil(t, el)
	text, err := el.Text(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Submit", text)
}

func TestSelectorFallbackNothingRecognisable(t *testing.T) {
	exec, _ := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolClick,
		Params: map[string]any{"selector": "#zzyzx"},
	})

	assert.False(t, res.Success)
	assert.Empty(t, res.AlternativeSelectors)
}

func TestExecuteUnknownTool(t *testing.T) {
	exec, _ := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{Tool: "teleport", Params: map[string]any{}})

	assert.False(t, res.Success)
	assert.Equal(t, schemas.ErrCodeUnsupportedTool, res.ErrorCode)
}

func TestExecuteMissingParams(t *testing.T) {
	exec, _ := newTestExecutor(t)

	for _, req := range []schemas.ActionRequest{
		{Tool: schemas.ToolClick, Params: map[string]any{}},
		{Tool: schemas.ToolType, Params: map[string]any{"selector": "#q"}},
		{Tool: schemas.ToolNavigate, Params: map[string]any{}},
		{Tool: schemas.ToolGetAttribute, Params: map[string]any{"selector": "#q"}},
	} {
		res := exec.Execute(context.Background(), req)
		assert.False(t, res.Success, "tool %s", req.Tool)
		assert.Equal(t, schemas.ErrCodeInvalidParameters, res.ErrorCode, "tool %s", req.Tool)
	}
}

func TestExecuteScroll(t *testing.T) {
	exec, doc := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolScroll,
		Params: map[string]any{"direction": "down", "amount": float64(250)},
	})
	require.True(t, res.Success)
	assert.Equal(t, float64(250), res.Diagnostics["dy"])

	info, _ := doc.Info(context.Background())
	assert.Equal(t, float64(250), info.Scroll.Y)

	res = exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolScroll,
		Params: map[string]any{"direction": "sideways"},
	})
	assert.False(t, res.Success)
	assert.Equal(t, schemas.ErrCodeInvalidParameters, res.ErrorCode)
}

func TestExecuteToggleCheckbox(t *testing.T) {
	exec, _ := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolToggleCheckbox,
		Params: map[string]any{"selector": "#agree"},
	})
	require.True(t, res.Success)
	assert.Equal(t, true, res.Diagnostics["checked"])

	res = exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolToggleCheckbox,
		Params: map[string]any{"selector": "#agree"},
	})
	require.True(t, res.Success)
	assert.Equal(t, false, res.Diagnostics["checked"])
}

func TestExecuteSelectOption(t *testing.T) {
	exec, doc := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolSelectOption,
		Params: map[string]any{"selector": "#lang", "value": "de"},
	})
	require.True(t, res.Success)

	el, _ := doc.Query(context.Background(), "#lang")
	value, _ := el.Value(context.Background())
	assert.Equal(t, "de", value)

	res = exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolSelectOption,
		Params: map[string]any{"selector": "#lang", "value": "fr"},
	})
	assert.False(t, res.Success)
	assert.Equal(t, schemas.ErrCodeExecutionFailure, res.ErrorCode)
}

func TestExecuteAttributeTools(t *testing.T) {
	exec, _ := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolGetAttribute,
		Params: map[string]any{"selector": "#q", "attribute": "placeholder"},
	})
	require.True(t, res.Success)
	assert.Equal(t, "Search the site", res.Diagnostics["value"])
	assert.Equal(t, true, res.Diagnostics["present"])

	res = exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolGetAttribute,
		Params: map[string]any{"selector": "#q", "attribute": "maxlength"},
	})
	require.True(t, res.Success)
	assert.Equal(t, false, res.Diagnostics["present"])

	res = exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolSetAttribute,
		Params: map[string]any{"selector": "#q", "attribute": "data-marker", "value": "seen"},
	})
	require.True(t, res.Success)

	res = exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolGetAttribute,
		Params: map[string]any{"selector": "#q", "attribute": "data-marker"},
	})
	require.True(t, res.Success)
	assert.Equal(t, "seen", res.Diagnostics["value"])
}

func TestExecuteGetText(t *testing.T) {
	exec, _ := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolGetText,
		Params: map[string]any{"selector": "#blurb"},
	})
	require.True(t, res.Success)
	assert.Equal(t, "Welcome to the demo page.", res.Diagnostics["text"])
}

func TestExecuteHistoryTools(t *testing.T) {
	exec, doc := newTestExecutor(t)
	ctx := context.Background()

	require.True(t, exec.Execute(ctx, schemas.ActionRequest{
		Tool:   schemas.ToolNavigate,
		Params: map[string]any{"selector": "", "url": "https://example.test/page2"},
	}).Success)

	require.True(t, exec.Execute(ctx, schemas.ActionRequest{Tool: schemas.ToolGoBack}).Success)
	info, _ := doc.Info(ctx)
	assert.Equal(t, "https://example.test/", info.URL)

	require.True(t, exec.Execute(ctx, schemas.ActionRequest{Tool: schemas.ToolGoForward}).Success)
	info, _ = doc.Info(ctx)
	assert.Equal(t, "https://example.test/page2", info.URL)

	require.True(t, exec.Execute(ctx, schemas.ActionRequest{Tool: schemas.ToolRefresh}).Success)

	// Past the start of history there is nothing.
	require.True(t, exec.Execute(ctx, schemas.ActionRequest{Tool: schemas.ToolGoBack}).Success)
	res := exec.Execute(ctx, schemas.ActionRequest{Tool: schemas.ToolGoBack})
	assert.False(t, res.Success)
	assert.Equal(t, schemas.ErrCodeNavigationError, res.ErrorCode)
}

func TestExecuteSearchGoogle(t *testing.T) {
	exec, doc := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolSearchGoogle,
		Params: map[string]any{"query": "weather today"},
	})
	require.True(t, res.Success)

	info, _ := doc.Info(context.Background())
	assert.Equal(t, "https://www.google.com/search?q=weather+today", info.URL)
}

func TestExecuteKeyPressFocusesTarget(t *testing.T) {
	exec, doc := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolKeyPress,
		Params: map[string]any{"selector": "#q", "key": "Escape"},
	})
	require.True(t, res.Success)
	assert.Contains(t, doc.Events(), "focus:#q")
	assert.Contains(t, doc.Events(), "key:Escape")
}

func TestWaitForElementTimesOut(t *testing.T) {
	exec, _ := newTestExecutor(t)

	start := time.Now()
	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolWaitForElement,
		Params: map[string]any{"selector": "#later", "timeout": 0.05},
	})
	assert.False(t, res.Success)
	assert.Equal(t, schemas.ErrCodeTimeout, res.ErrorCode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitForElementFindsExisting(t *testing.T) {
	exec, _ := newTestExecutor(t)

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolWaitForElement,
		Params: map[string]any{"selector": "#q"},
	})
	assert.True(t, res.Success)
}

func TestExecuteSolveCaptcha(t *testing.T) {
	exec, _ := newTestExecutor(t)
	res := exec.Execute(context.Background(), schemas.ActionRequest{Tool: schemas.ToolSolveCaptcha})
	assert.False(t, res.Success)
	assert.Equal(t, schemas.ErrCodeCaptchaManualIntervention, res.ErrorCode)

	captchaPage := `<html><body><div class="g-recaptcha" id="cap"></div></body></html>`
	doc, err := page.NewStaticDocument(captchaPage, "https://example.test/")
	require.NoError(t, err)
	exec = New(doc, testConfig(), zap.NewNop())

	res = exec.Execute(context.Background(), schemas.ActionRequest{Tool: schemas.ToolSolveCaptcha})
	require.True(t, res.Success)
	assert.Equal(t, ".g-recaptcha", res.Diagnostics["clicked"])
}

// panicDoc blows up on lookup; everything else is inherited from the nil
// embedded interface and never reached.
type panicDoc struct{ page.Document }

func (panicDoc) Query(ctx context.Context, selector string) (page.Element, error) {
	panic("document gone")
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	exec := New(panicDoc{}, testConfig(), zap.NewNop())

	res := exec.Execute(context.Background(), schemas.ActionRequest{
		Tool:   schemas.ToolClick,
		Params: map[string]any{"selector": "#go"},
	})

	assert.False(t, res.Success)
	assert.Equal(t, schemas.ErrCodeExecutionFailure, res.ErrorCode)
	assert.Contains(t, res.Error, "document gone")
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"submit", "order"}, tokenize("#submit-order-btn"))
	assert.Empty(t, tokenize("div > a"))
}
