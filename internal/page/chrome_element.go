package page

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// chromeElement addresses one node by selector. Handles hold no remote object
// id: every call re-resolves, so reads are always live and a handle survives
// re-renders as long as the selector still matches.
type chromeElement struct {
	doc      *ChromeDocument
	selector string
}

var _ Element = (*chromeElement)(nil)

func (e *chromeElement) Selector() string { return e.selector }

func (e *chromeElement) queryOpt() chromedp.QueryOption {
	if IsXPath(e.selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// eval runs a snippet with `el` bound to the resolved node. The snippet body
// must `return` its result; a nil node maps to ErrDetached.
func (e *chromeElement) eval(ctx context.Context, body string, res interface{}) error {
	js := fmt.Sprintf(`(function() {
		%s;
		var el = __ppResolve(%q);
		if (el === null) { return {"__detached": true}; }
		var out = (function(el) { %s })(el);
		return out === undefined ? {} : out;
	})()`, jsResolver, e.selector, body)

	var raw map[string]interface{}
	target := res
	if target == nil {
		target = &raw
	}
	if err := e.doc.run(ctx, chromedp.Evaluate(js, target)); err != nil {
		return fmt.Errorf("script evaluation on %q failed: %w", e.selector, err)
	}
	if m, ok := target.(*map[string]interface{}); ok && (*m)["__detached"] == true {
		return ErrDetached
	}
	return nil
}

type chromeElementInfo struct {
	Detached bool              `json:"__detached"`
	Tag      string            `json:"tag"`
	Text     string            `json:"text"`
	Value    string            `json:"value"`
	Attrs    map[string]string `json:"attrs"`
	Rect     []float64         `json:"rect"`
	Display  string            `json:"display"`
	Visible  string            `json:"visible"`
	Opacity  float64           `json:"opacity"`
	ZIndex   int               `json:"zIndex"`
	InVp     bool              `json:"inVp"`
	Disabled bool              `json:"disabled"`
	ReadOnly bool              `json:"readOnly"`
	Checked  bool              `json:"checked"`
	Focused  bool              `json:"focused"`
}

func (e *chromeElement) Describe(ctx context.Context) (ElementInfo, error) {
	var info chromeElementInfo
	err := e.eval(ctx, `
		var r = el.getBoundingClientRect();
		var cs = window.getComputedStyle(el);
		var attrs = {};
		for (var i = 0; i < el.attributes.length; i++) {
			attrs[el.attributes[i].name] = el.attributes[i].value;
		}
		var zi = cs.zIndex === 'auto' ? 0 : parseInt(cs.zIndex, 10);
		return {
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.textContent || '').trim(),
			value: el.value !== undefined ? String(el.value) :
				(el.isContentEditable ? (el.textContent || '') : ''),
			attrs: attrs,
			rect: [r.x + window.scrollX, r.y + window.scrollY, r.width, r.height],
			display: cs.display, visible: cs.visibility,
			opacity: parseFloat(cs.opacity), zIndex: zi,
			inVp: r.bottom > 0 && r.right > 0 &&
				r.top < window.innerHeight && r.left < window.innerWidth,
			disabled: el.disabled === true,
			readOnly: el.readOnly === true || el.getAttribute('contenteditable') === 'false',
			checked: el.checked === true,
			focused: document.activeElement === el
		};`, &info)
	if err != nil {
		return ElementInfo{}, err
	}
	if info.Detached {
		return ElementInfo{}, ErrDetached
	}
	out := ElementInfo{
		Tag:        info.Tag,
		Text:       info.Text,
		Value:      info.Value,
		Attributes: info.Attrs,
		Visibility: schemas.Visibility{
			Display:    info.Display,
			Visibility: info.Visible,
			Opacity:    info.Opacity,
			ZIndex:     info.ZIndex,
		},
		State: schemas.InteractionState{
			Disabled: info.Disabled,
			ReadOnly: info.ReadOnly,
			Checked:  info.Checked,
			Focused:  info.Focused,
		},
	}
	if len(info.Rect) == 4 {
		out.Position = schemas.Position{
			X: info.Rect[0], Y: info.Rect[1],
			Width: info.Rect[2], Height: info.Rect[3],
			InViewport: info.InVp,
		}
	}
	return out, nil
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var out struct {
		Detached bool   `json:"__detached"`
		Text     string `json:"text"`
	}
	err := e.eval(ctx, `return {text: (el.innerText || el.textContent || '').trim()};`, &out)
	if err != nil {
		return "", err
	}
	if out.Detached {
		return "", ErrDetached
	}
	return out.Text, nil
}

func (e *chromeElement) Value(ctx context.Context) (string, error) {
	var out struct {
		Detached bool   `json:"__detached"`
		Value    string `json:"value"`
	}
	err := e.eval(ctx, `
		if (el.value !== undefined) { return {value: String(el.value)}; }
		if (el.isContentEditable) { return {value: el.textContent || ''}; }
		return {value: ''};`, &out)
	if err != nil {
		return "", err
	}
	if out.Detached {
		return "", ErrDetached
	}
	return out.Value, nil
}

func (e *chromeElement) Attr(ctx context.Context, name string) (string, bool, error) {
	var out struct {
		Detached bool   `json:"__detached"`
		Present  bool   `json:"present"`
		Value    string `json:"value"`
	}
	body := fmt.Sprintf(`
		var v = el.getAttribute(%q);
		return {present: v !== null, value: v === null ? '' : v};`, name)
	if err := e.eval(ctx, body, &out); err != nil {
		return "", false, err
	}
	if out.Detached {
		return "", false, ErrDetached
	}
	return out.Value, out.Present, nil
}

func (e *chromeElement) SetAttr(ctx context.Context, name, value string) error {
	return e.eval(ctx, fmt.Sprintf(`el.setAttribute(%q, %q);`, name, value), nil)
}

func (e *chromeElement) Click(ctx context.Context) error {
	if err := e.doc.run(ctx, chromedp.Click(e.selector, e.queryOpt())); err != nil {
		return fmt.Errorf("click on %q failed: %w", e.selector, err)
	}
	return nil
}

func (e *chromeElement) DoubleClick(ctx context.Context) error {
	if err := e.doc.run(ctx, chromedp.DoubleClick(e.selector, e.queryOpt())); err != nil {
		return fmt.Errorf("double click on %q failed: %w", e.selector, err)
	}
	return nil
}

func (e *chromeElement) RightClick(ctx context.Context) error {
	return e.eval(ctx, `
		var r = el.getBoundingClientRect();
		el.dispatchEvent(new MouseEvent('contextmenu', {
			bubbles: true, cancelable: true, button: 2,
			clientX: r.x + r.width / 2, clientY: r.y + r.height / 2
		}));`, nil)
}

func (e *chromeElement) Hover(ctx context.Context) error {
	return e.eval(ctx, `
		var r = el.getBoundingClientRect();
		var opts = {bubbles: true, cancelable: true,
			clientX: r.x + r.width / 2, clientY: r.y + r.height / 2};
		el.dispatchEvent(new MouseEvent('mouseover', opts));
		el.dispatchEvent(new MouseEvent('mouseenter', opts));
		el.dispatchEvent(new MouseEvent('mousemove', opts));`, nil)
}

func (e *chromeElement) Focus(ctx context.Context) error {
	if err := e.doc.run(ctx, chromedp.Focus(e.selector, e.queryOpt())); err != nil {
		return fmt.Errorf("focus on %q failed: %w", e.selector, err)
	}
	return nil
}

func (e *chromeElement) Blur(ctx context.Context) error {
	return e.eval(ctx, `el.blur();`, nil)
}

func (e *chromeElement) SelectText(ctx context.Context) error {
	return e.eval(ctx, `
		if (typeof el.select === 'function') { el.select(); return; }
		var range = document.createRange();
		range.selectNodeContents(el);
		var sel = window.getSelection();
		sel.removeAllRanges();
		sel.addRange(range);`, nil)
}

func (e *chromeElement) Clear(ctx context.Context) error {
	var out struct {
		Detached bool `json:"__detached"`
		OK       bool `json:"ok"`
	}
	err := e.eval(ctx, `
		if (el.value !== undefined) {
			el.value = '';
		} else if (el.isContentEditable) {
			el.textContent = '';
		} else {
			return {ok: false};
		}
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return {ok: true};`, &out)
	if err != nil {
		return err
	}
	if out.Detached {
		return ErrDetached
	}
	if !out.OK {
		return fmt.Errorf("element %q holds no clearable content", e.selector)
	}
	return nil
}

func (e *chromeElement) SelectOption(ctx context.Context, value string) error {
	var out struct {
		Detached bool `json:"__detached"`
		OK       bool `json:"ok"`
	}
	body := fmt.Sprintf(`
		if (el.tagName.toLowerCase() !== 'select') { return {ok: false}; }
		var want = %q;
		for (var i = 0; i < el.options.length; i++) {
			var opt = el.options[i];
			if (opt.value === want || opt.text.trim() === want) {
				el.value = opt.value;
				el.dispatchEvent(new Event('input', {bubbles: true}));
				el.dispatchEvent(new Event('change', {bubbles: true}));
				return {ok: true};
			}
		}
		return {ok: false};`, value)
	if err := e.eval(ctx, body, &out); err != nil {
		return err
	}
	if out.Detached {
		return ErrDetached
	}
	if !out.OK {
		return fmt.Errorf("select %q has no option %q", e.selector, value)
	}
	return nil
}

func (e *chromeElement) ToggleChecked(ctx context.Context) (bool, error) {
	var out struct {
		Detached bool `json:"__detached"`
		OK       bool `json:"ok"`
		Checked  bool `json:"checked"`
	}
	err := e.eval(ctx, `
		if (el.type !== 'checkbox' && el.type !== 'radio') { return {ok: false}; }
		el.checked = !el.checked;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return {ok: true, checked: el.checked};`, &out)
	if err != nil {
		return false, err
	}
	if out.Detached {
		return false, ErrDetached
	}
	if !out.OK {
		return false, fmt.Errorf("element %q is not a checkbox or radio", e.selector)
	}
	return out.Checked, nil
}

// -- text insertion tiers --

// InsertText asks the browser's native insertion command to type at the
// caret. Surfaces that refuse the command report ErrUnsupported so the
// executor falls through to the next tier.
func (e *chromeElement) InsertText(ctx context.Context, text string) error {
	var out struct {
		Detached bool `json:"__detached"`
		OK       bool `json:"ok"`
	}
	body := fmt.Sprintf(`
		el.focus();
		if (typeof el.setSelectionRange === 'function' && el.value !== undefined) {
			try { el.setSelectionRange(el.value.length, el.value.length); } catch (err) {}
		}
		var ok = false;
		try { ok = document.execCommand('insertText', false, %q); } catch (err) {}
		return {ok: ok};`, text)
	if err := e.eval(ctx, body, &out); err != nil {
		return err
	}
	if out.Detached {
		return ErrDetached
	}
	if !out.OK {
		return ErrUnsupported
	}
	return nil
}

// PasteText dispatches a synthetic clipboard paste. Only pages that handle
// the paste event themselves will take the content; whether anything landed
// is for the caller's verification pass.
func (e *chromeElement) PasteText(ctx context.Context, text string) error {
	var out struct {
		Detached bool `json:"__detached"`
		OK       bool `json:"ok"`
	}
	body := fmt.Sprintf(`
		var ok = false;
		try {
			el.focus();
			var dt = new DataTransfer();
			dt.setData('text/plain', %q);
			var ev = new ClipboardEvent('paste', {clipboardData: dt, bubbles: true, cancelable: true});
			el.dispatchEvent(ev);
			ok = true;
		} catch (err) {}
		return {ok: ok};`, text)
	if err := e.eval(ctx, body, &out); err != nil {
		return err
	}
	if out.Detached {
		return ErrDetached
	}
	if !out.OK {
		return ErrUnsupported
	}
	return nil
}

// InsertViaRange splices a text node through the selection API. Only
// meaningful for rich-text surfaces.
func (e *chromeElement) InsertViaRange(ctx context.Context, text string) error {
	var out struct {
		Detached bool `json:"__detached"`
		OK       bool `json:"ok"`
	}
	body := fmt.Sprintf(`
		if (!el.isContentEditable) { return {ok: false}; }
		el.focus();
		var sel = window.getSelection();
		var range;
		if (sel.rangeCount > 0 && el.contains(sel.anchorNode)) {
			range = sel.getRangeAt(0);
		} else {
			range = document.createRange();
			range.selectNodeContents(el);
			range.collapse(false);
		}
		range.deleteContents();
		range.insertNode(document.createTextNode(%q));
		el.dispatchEvent(new Event('input', {bubbles: true}));
		return {ok: true};`, text)
	if err := e.eval(ctx, body, &out); err != nil {
		return err
	}
	if out.Detached {
		return ErrDetached
	}
	if !out.OK {
		return ErrUnsupported
	}
	return nil
}

// SetContent writes the value directly and fires the framework-visible
// events. Uses the native value setter so controlled inputs observe the
// change.
func (e *chromeElement) SetContent(ctx context.Context, text string) error {
	var out struct {
		Detached bool `json:"__detached"`
		OK       bool `json:"ok"`
	}
	body := fmt.Sprintf(`
		var v = %q;
		var tag = el.tagName.toLowerCase();
		if (tag === 'input' || tag === 'textarea') {
			var proto = tag === 'input' ? window.HTMLInputElement.prototype
				: window.HTMLTextAreaElement.prototype;
			var desc = Object.getOwnPropertyDescriptor(proto, 'value');
			if (desc && desc.set) { desc.set.call(el, v); } else { el.value = v; }
		} else if (el.isContentEditable) {
			el.textContent = v;
		} else {
			return {ok: false};
		}
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return {ok: true};`, text)
	if err := e.eval(ctx, body, &out); err != nil {
		return err
	}
	if out.Detached {
		return ErrDetached
	}
	if !out.OK {
		return ErrUnsupported
	}
	return nil
}
