package page

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// mutationObserverJS installs the passive mutation counter. The counter is
// surfaced in snapshot metadata and WaitStable polling; the differ never
// reads it.
const mutationObserverJS = `(function() {
	if (window.__ppMutations !== undefined) { return; }
	window.__ppMutations = 0;
	var obs = new MutationObserver(function(list) { window.__ppMutations += list.length; });
	obs.observe(document.documentElement || document, {
		childList: true, subtree: true, attributes: true, characterData: true
	});
})();`

// stampAndCaptureJS annotates every element with its geometry and computed
// style, then returns the page markup. The extractor reads the stamps off the
// parsed tree and strips them from descriptors.
const stampAndCaptureJS = `(function() {
	var all = document.querySelectorAll('*');
	for (var i = 0; i < all.length; i++) {
		var el = all[i];
		var r = el.getBoundingClientRect();
		var cs = window.getComputedStyle(el);
		el.setAttribute('data-pp-rect', [
			Math.round((r.x + window.scrollX) * 100) / 100,
			Math.round((r.y + window.scrollY) * 100) / 100,
			Math.round(r.width * 100) / 100,
			Math.round(r.height * 100) / 100
		].join(','));
		el.setAttribute('data-pp-style', [
			cs.display, cs.visibility, cs.opacity,
			cs.zIndex === 'auto' ? '0' : cs.zIndex
		].join('|'));
		var inVp = r.bottom > 0 && r.right > 0 &&
			r.top < window.innerHeight && r.left < window.innerWidth;
		el.setAttribute('data-pp-vp', inVp ? '1' : '0');
	}
	if (document.activeElement && document.activeElement !== document.body) {
		document.activeElement.setAttribute('data-pp-focus', '1');
	}
	return document.documentElement.outerHTML;
})()`

const unstampJS = `(function() {
	var all = document.querySelectorAll('[data-pp-rect]');
	for (var i = 0; i < all.length; i++) {
		all[i].removeAttribute('data-pp-rect');
		all[i].removeAttribute('data-pp-style');
		all[i].removeAttribute('data-pp-vp');
		all[i].removeAttribute('data-pp-focus');
	}
})();`

// jsResolver resolves a selector (CSS or XPath) to an element inside an
// evaluated snippet. Selector is injected via %q.
const jsResolver = `function __ppResolve(s) {
	if (s[0] === '/' || s[0] === '(') {
		return document.evaluate(s, document, null,
			XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	}
	try { return document.querySelector(s); } catch (e) { return null; }
}`

// ChromeDocument drives a real browser tab through chromedp.
type ChromeDocument struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

var _ Document = (*ChromeDocument)(nil)

// ChromeOptions configures browser launch.
type ChromeOptions struct {
	Headless  bool
	UserAgent string
}

// NewChromeDocument launches a browser tab and installs the mutation
// observer. The returned document owns the tab; Close releases it.
func NewChromeDocument(parent context.Context, opts ChromeOptions, logger *zap.Logger) (*ChromeDocument, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelTab()
		cancelAlloc()
	}

	d := &ChromeDocument{ctx: tabCtx, cancel: cancel, logger: logger.Named("chrome_page")}

	// Arm the observer for every future navigation, and for the current
	// (blank) document.
	err := chromedp.Run(tabCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(mutationObserverJS).Do(ctx)
			return err
		}),
		chromedp.Evaluate(mutationObserverJS, nil),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser tab: %w", err)
	}
	return d, nil
}

// Close releases the tab and browser.
func (d *ChromeDocument) Close() {
	d.cancel()
}

func (d *ChromeDocument) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := d.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(d.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (d *ChromeDocument) Info(ctx context.Context) (PageInfo, error) {
	var info PageInfo
	var scroll [2]float64
	err := d.run(ctx,
		chromedp.Location(&info.URL),
		chromedp.Title(&info.Title),
		chromedp.Evaluate(`[window.scrollX, window.scrollY]`, &scroll),
	)
	if err != nil {
		return PageInfo{}, fmt.Errorf("failed to read page info: %w", err)
	}
	info.Scroll = schemas.ScrollPosition{X: scroll[0], Y: scroll[1]}
	return info, nil
}

func (d *ChromeDocument) Root(ctx context.Context) (*html.Node, error) {
	var markup string
	if err := d.run(ctx, chromedp.Evaluate(stampAndCaptureJS, &markup)); err != nil {
		return nil, fmt.Errorf("failed to capture page markup: %w", err)
	}
	// Best effort: stamps are only needed in the captured copy.
	if err := d.run(ctx, chromedp.Evaluate(unstampJS, nil)); err != nil {
		d.logger.Debug("Failed to remove geometry stamps", zap.Error(err))
	}
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse captured markup: %w", err)
	}
	return root, nil
}

// NodeLayout reads the geometry stamps left by Root.
func (d *ChromeDocument) NodeLayout(n *html.Node) NodeLayout {
	layout := NodeLayout{
		Visibility: schemas.Visibility{Display: "block", Visibility: "visible", Opacity: 1},
	}
	if rect := attrValue(n, "data-pp-rect"); rect != "" {
		parts := strings.Split(rect, ",")
		if len(parts) == 4 {
			layout.Position.X, _ = strconv.ParseFloat(parts[0], 64)
			layout.Position.Y, _ = strconv.ParseFloat(parts[1], 64)
			layout.Position.Width, _ = strconv.ParseFloat(parts[2], 64)
			layout.Position.Height, _ = strconv.ParseFloat(parts[3], 64)
		}
	}
	if style := attrValue(n, "data-pp-style"); style != "" {
		parts := strings.Split(style, "|")
		if len(parts) == 4 {
			layout.Visibility.Display = parts[0]
			layout.Visibility.Visibility = parts[1]
			layout.Visibility.Opacity, _ = strconv.ParseFloat(parts[2], 64)
			layout.Visibility.ZIndex, _ = strconv.Atoi(parts[3])
		}
	}
	layout.Position.InViewport = attrValue(n, "data-pp-vp") == "1"
	layout.Focused = attrValue(n, "data-pp-focus") == "1"
	return layout
}

func (d *ChromeDocument) Query(ctx context.Context, selector string) (Element, error) {
	selector = strings.TrimSpace(TrimXPathPrefix(selector))
	if selector == "" {
		return nil, fmt.Errorf("empty selector")
	}
	var found bool
	js := fmt.Sprintf(`(function() { %s; return __ppResolve(%q) !== null; })()`, jsResolver, selector)
	if err := d.run(ctx, chromedp.Evaluate(js, &found)); err != nil {
		return nil, fmt.Errorf("selector resolution failed for %q: %w", selector, err)
	}
	if !found {
		return nil, nil
	}
	return &chromeElement{doc: d, selector: selector}, nil
}

func (d *ChromeDocument) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	selector = strings.TrimSpace(TrimXPathPrefix(selector))
	// Materialise a stable per-match locator so each handle addresses exactly
	// one node even when the original selector matches many.
	js := fmt.Sprintf(`(function() {
		function cssPath(el) {
			if (el.id) { return '#' + CSS.escape(el.id); }
			var path = [];
			while (el && el.nodeType === 1 && el.tagName.toLowerCase() !== 'html') {
				var idx = 1, sib = el;
				while ((sib = sib.previousElementSibling) !== null) {
					if (sib.tagName === el.tagName) { idx++; }
				}
				path.unshift(el.tagName.toLowerCase() + ':nth-of-type(' + idx + ')');
				el = el.parentElement;
			}
			return 'html > ' + path.join(' > ');
		}
		var out = [];
		var sel = %q;
		var matches;
		if (sel[0] === '/' || sel[0] === '(') {
			matches = [];
			var it = document.evaluate(sel, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
			for (var i = 0; i < it.snapshotLength; i++) { matches.push(it.snapshotItem(i)); }
		} else {
			try { matches = Array.prototype.slice.call(document.querySelectorAll(sel)); }
			catch (e) { matches = []; }
		}
		for (var j = 0; j < matches.length; j++) { out.push(cssPath(matches[j])); }
		return out;
	})()`, selector)

	var locators []string
	if err := d.run(ctx, chromedp.Evaluate(js, &locators)); err != nil {
		return nil, fmt.Errorf("selector resolution failed for %q: %w", selector, err)
	}
	out := make([]Element, 0, len(locators))
	for _, loc := range locators {
		out = append(out, &chromeElement{doc: d, selector: loc})
	}
	return out, nil
}

func (d *ChromeDocument) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (d *ChromeDocument) Reload(ctx context.Context) error {
	return d.run(ctx, chromedp.Reload())
}

func (d *ChromeDocument) Back(ctx context.Context) error {
	return d.run(ctx, chromedp.NavigateBack())
}

func (d *ChromeDocument) Forward(ctx context.Context) error {
	return d.run(ctx, chromedp.NavigateForward())
}

func (d *ChromeDocument) ScrollBy(ctx context.Context, dx, dy float64) error {
	js := fmt.Sprintf(`window.scrollBy(%f, %f);`, dx, dy)
	return d.run(ctx, chromedp.Evaluate(js, nil))
}

func (d *ChromeDocument) MoveMouse(ctx context.Context, x, y float64) error {
	return d.run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y))
}

func (d *ChromeDocument) PressKey(ctx context.Context, key string) error {
	return d.run(ctx, chromedp.KeyEvent(mapKey(key)))
}

// mapKey translates well-known key names to their kb runes; everything else
// is dispatched as typed.
func mapKey(key string) string {
	switch key {
	case "Enter":
		return kb.Enter
	case "Tab":
		return kb.Tab
	case "Escape":
		return kb.Escape
	case "Backspace":
		return kb.Backspace
	case "Delete":
		return kb.Delete
	case "ArrowUp":
		return kb.ArrowUp
	case "ArrowDown":
		return kb.ArrowDown
	case "ArrowLeft":
		return kb.ArrowLeft
	case "ArrowRight":
		return kb.ArrowRight
	default:
		return key
	}
}

// WaitStable polls the mutation counter until two consecutive readings agree
// or the timeout elapses.
func (d *ChromeDocument) WaitStable(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	prev, err := d.MutationCount(ctx)
	if err != nil {
		return err
	}
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
		cur, err := d.MutationCount(ctx)
		if err != nil {
			return err
		}
		if cur == prev {
			return nil
		}
		prev = cur
	}
	// Quiescence never arrived; the caller proceeds with whatever state the
	// page is in.
	d.logger.Debug("DOM did not quiesce within timeout", zap.Duration("timeout", timeout))
	return nil
}

func (d *ChromeDocument) MutationCount(ctx context.Context) (int64, error) {
	var count int64
	if err := d.run(ctx, chromedp.Evaluate(`window.__ppMutations || 0`, &count)); err != nil {
		return 0, fmt.Errorf("failed to read mutation counter: %w", err)
	}
	return count, nil
}
