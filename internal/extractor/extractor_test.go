package extractor

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/page"
)

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	return New(config.NewDefaultConfig().Extractor, zap.NewNop())
}

func mustStaticDoc(t *testing.T, rawHTML string) *page.StaticDocument {
	t.Helper()
	doc, err := page.NewStaticDocument(rawHTML, "https://example.test/search")
	require.NoError(t, err)
	return doc
}

const searchPage = `<!DOCTYPE html>
<html><head>
  <title>Search - Example</title>
  <meta name="description" content="Find things fast.">
</head><body>
  <nav id="top-nav"><a href="/home">Home</a></nav>
  <h1>Search</h1>
  <form id="search-form" action="/search">
    <label for="q">Query</label>
    <input id="q" name="q" placeholder="Search..." data-pp-rect="1,2,3,4">
    <input type="hidden" name="csrf" value="tok">
    <button id="go" type="submit" class="btn primary">Search</button>
  </form>
</body></html>`

func findByID(elements []schemas.ElementDescriptor, id string) (schemas.ElementDescriptor, bool) {
	for _, el := range elements {
		if el.ID == id {
			return el, true
		}
	}
	return schemas.ElementDescriptor{}, false
}

func TestCaptureBuildsDescriptors(t *testing.T) {
	doc := mustStaticDoc(t, searchPage)
	snap, err := testExtractor(t).Capture(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/search", snap.URL)
	assert.Equal(t, "Search - Example", snap.Title)
	assert.False(t, snap.Timestamp.IsZero())
	assert.False(t, snap.CaptchaPresent)

	input, ok := findByID(snap.Elements, "q")
	require.True(t, ok, "input#q should be captured")
	assert.Equal(t, "input", input.Tag)
	assert.Equal(t, "text", input.InputType)
	assert.Equal(t, "search-form", input.FormID)
	assert.Equal(t, "Query", input.LabelText)
	assert.Equal(t, "#q", input.PrimarySelector())

	button, ok := findByID(snap.Elements, "go")
	require.True(t, ok)
	assert.Equal(t, "Search", button.Text)
	assert.Contains(t, button.ClassList, "btn")
}

func TestCaptureElementIDsAreSequential(t *testing.T) {
	doc := mustStaticDoc(t, searchPage)
	snap, err := testExtractor(t).Capture(context.Background(), doc)
	require.NoError(t, err)

	for i, el := range snap.Elements {
		assert.Equal(t, fmt.Sprintf("e%d", i), el.ElementID)
	}
}

func TestCaptureStripsGeometryStamps(t *testing.T) {
	doc := mustStaticDoc(t, searchPage)
	snap, err := testExtractor(t).Capture(context.Background(), doc)
	require.NoError(t, err)

	input, ok := findByID(snap.Elements, "q")
	require.True(t, ok)
	for key := range input.Attributes {
		assert.False(t, strings.HasPrefix(key, "data-pp-"), "attribute %s should be stripped", key)
	}
	assert.Equal(t, "Search...", input.Attributes["placeholder"])
}

func TestCaptureKeepsHiddenRelevantInput(t *testing.T) {
	doc := mustStaticDoc(t, searchPage)
	snap, err := testExtractor(t).Capture(context.Background(), doc)
	require.NoError(t, err)

	var hidden *schemas.ElementDescriptor
	for i := range snap.Elements {
		if snap.Elements[i].Attributes["name"] == "csrf" {
			hidden = &snap.Elements[i]
		}
	}
	require.NotNil(t, hidden, "named hidden input should survive the zero-area filter")
	assert.Equal(t, "hidden", hidden.InputType)
}

func TestCaptureSkipsAnonymousZeroAreaNodes(t *testing.T) {
	raw := `<html><body>
	  <div role="dialog" style="display:none">modal</div>
	  <span onclick="x()" style="display:none">ghost</span>
	</body></html>`
	doc := mustStaticDoc(t, raw)
	snap, err := testExtractor(t).Capture(context.Background(), doc)
	require.NoError(t, err)

	var sawDialog, sawGhost bool
	for _, el := range snap.Elements {
		if el.Attributes["role"] == "dialog" {
			sawDialog = true
		}
		if el.Tag == "span" {
			sawGhost = true
		}
	}
	assert.True(t, sawDialog, "role-carrying node survives despite zero area")
	assert.False(t, sawGhost, "anonymous hidden span is dropped")
}

func TestCaptureTruncatesText(t *testing.T) {
	long := strings.Repeat("x", 300)
	doc := mustStaticDoc(t, `<html><body><button id="b">`+long+`</button></body></html>`)
	ex := testExtractor(t)
	snap, err := ex.Capture(context.Background(), doc)
	require.NoError(t, err)

	button, ok := findByID(snap.Elements, "b")
	require.True(t, ok)
	assert.Len(t, []rune(button.Text), ex.cfg.TextLimit)
}

func TestCaptureDetectsCaptcha(t *testing.T) {
	raw := `<html><body><div class="g-recaptcha" data-sitekey="k"></div></body></html>`
	doc := mustStaticDoc(t, raw)
	snap, err := testExtractor(t).Capture(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, snap.CaptchaPresent)
}

func TestSelectorOrdering(t *testing.T) {
	raw := `<html><body>
	  <input id="email" name="email" data-testid="login-email" aria-label="Email" class="field a1b2c3d4e5">
	</body></html>`
	doc := mustStaticDoc(t, raw)
	snap, err := testExtractor(t).Capture(context.Background(), doc)
	require.NoError(t, err)

	input, ok := findByID(snap.Elements, "email")
	require.True(t, ok)
	require.GreaterOrEqual(t, len(input.Selectors), 4)
	assert.Equal(t, "#email", input.Selectors[0])
	assert.Equal(t, "[data-testid='login-email']", input.Selectors[1])
	assert.Equal(t, "input[name='email']", input.Selectors[2])
	// Hash-like class names never become selectors; the XPath closes the list.
	last := input.Selectors[len(input.Selectors)-1]
	assert.True(t, strings.HasPrefix(last, "/"), "final selector should be xpath, got %q", last)
	for _, sel := range input.Selectors {
		assert.NotContains(t, sel, "a1b2c3d4e5")
	}
}

func TestGenerateUniqueXPathAnchorsOnID(t *testing.T) {
	raw := `<html><body><div id="wrap"><ul><li>a</li><li><a href="/x">b</a></li></ul></div></body></html>`
	doc := mustStaticDoc(t, raw)
	ctx := context.Background()

	el, err := doc.Query(ctx, "//a")
	require.NoError(t, err)
	require.NotNil(t, el)

	snap, err := testExtractor(t).Capture(ctx, doc)
	require.NoError(t, err)
	var link schemas.ElementDescriptor
	var found bool
	for _, e := range snap.Elements {
		if e.Tag == "a" {
			link, found = e, true
		}
	}
	require.True(t, found)
	xpath := link.Selectors[len(link.Selectors)-1]
	assert.Equal(t, `//*[@id='wrap']/ul[1]/li[2]/a[1]`, xpath)

	// The generated path must resolve back to the same node.
	resolved, err := doc.Query(ctx, xpath)
	require.NoError(t, err)
	require.NotNil(t, resolved)
}

func TestGenerateUniqueXPathSkipsQuotedID(t *testing.T) {
	// An id with an apostrophe cannot be embedded in the @id literal; the
	// path falls back to positional segments and still resolves.
	raw := `<html><body><div><button id="don't">Hi</button></div></body></html>`
	doc := mustStaticDoc(t, raw)
	ctx := context.Background()

	snap, err := testExtractor(t).Capture(ctx, doc)
	require.NoError(t, err)

	var button schemas.ElementDescriptor
	var found bool
	for _, e := range snap.Elements {
		if e.Tag == "button" {
			button, found = e, true
		}
	}
	require.True(t, found)

	xpath := button.Selectors[len(button.Selectors)-1]
	assert.Equal(t, "/html[1]/body[1]/div[1]/button[1]", xpath)
	for _, sel := range button.Selectors {
		assert.NotContains(t, sel, "@id=")
	}

	resolved, err := doc.Query(ctx, xpath)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	text, err := resolved.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hi", text)
}

func TestHTMLContextSections(t *testing.T) {
	doc := mustStaticDoc(t, searchPage)
	snap, err := testExtractor(t).Capture(context.Background(), doc)
	require.NoError(t, err)

	assert.Contains(t, snap.HTMLContext, "[title] Search - Example")
	assert.Contains(t, snap.HTMLContext, "[meta] Find things fast.")
	assert.Contains(t, snap.HTMLContext, "h1: Search")
	assert.Contains(t, snap.HTMLContext, "form#search-form")
	assert.Contains(t, snap.HTMLContext, "input[text name=q]")
	assert.Contains(t, snap.HTMLContext, `button("Search")`)
	assert.Contains(t, snap.HTMLContext, `<input id="q" name="q"`)
	assert.NotContains(t, snap.HTMLContext, "data-pp-rect")
}

func TestHTMLContextTruncated(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&sb, `<button id="btn-%d">Button number %d with some padding text</button>`, i, i)
	}
	sb.WriteString("</body></html>")

	doc := mustStaticDoc(t, sb.String())
	ex := testExtractor(t)
	snap, err := ex.Capture(context.Background(), doc)
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(snap.HTMLContext)), ex.cfg.HTMLContextLimit)
}

func TestElementCapScalesWithDiscovery(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&sb, `<a href="/p/%d">link %d</a>`, i, i)
	}
	sb.WriteString("</body></html>")

	doc := mustStaticDoc(t, sb.String())
	ex := testExtractor(t)
	snap, err := ex.Capture(context.Background(), doc)
	require.NoError(t, err)

	// 1000 discovered: 30% = 300, within the 500 ceiling.
	assert.Len(t, snap.Elements, 300)
}

func TestCaptureDeterministic(t *testing.T) {
	doc := mustStaticDoc(t, searchPage)
	ex := testExtractor(t)
	ctx := context.Background()

	first, err := ex.Capture(ctx, doc)
	require.NoError(t, err)
	second, err := ex.Capture(ctx, doc)
	require.NoError(t, err)

	require.Equal(t, len(first.Elements), len(second.Elements))
	for i := range first.Elements {
		assert.Equal(t, first.Elements[i].Selectors, second.Elements[i].Selectors)
		assert.Equal(t, first.Elements[i].Text, second.Elements[i].Text)
	}
	assert.Equal(t, first.HTMLContext, second.HTMLContext)
}
