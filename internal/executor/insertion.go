package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/internal/page"
)

// insertionTier is one strategy for getting text into an element. Tiers are
// ordered from most event-faithful to most forceful; the walk stops at the
// first tier that verifiably changes the element's content.
type insertionTier struct {
	method string
	apply  func(ctx context.Context, el page.Element, text string) error
}

var insertionTiers = []insertionTier{
	{"insertText", func(ctx context.Context, el page.Element, text string) error { return el.InsertText(ctx, text) }},
	{"paste", func(ctx context.Context, el page.Element, text string) error { return el.PasteText(ctx, text) }},
	{"range", func(ctx context.Context, el page.Element, text string) error { return el.InsertViaRange(ctx, text) }},
	{"direct", func(ctx context.Context, el page.Element, text string) error { return el.SetContent(ctx, text) }},
}

// insertText walks the insertion tiers until one both succeeds and leaves the
// text readable back from the element. The method name of the winning tier is
// returned for diagnostics.
func (e *Executor) insertText(ctx context.Context, el page.Element, text string) (string, error) {
	var lastErr error
	for _, tier := range insertionTiers {
		err := tier.apply(ctx, el, text)
		if errors.Is(err, page.ErrUnsupported) {
			continue
		}
		if err != nil {
			e.logger.Debug("Insertion tier failed",
				zap.String("method", tier.method), zap.Error(err))
			lastErr = err
			continue
		}
		if e.contentContains(ctx, el, text) {
			return tier.method, nil
		}
		e.logger.Debug("Insertion tier did not stick", zap.String("method", tier.method))
	}
	if lastErr != nil {
		return "", fmt.Errorf("all insertion methods failed, last error: %w", lastErr)
	}
	return "", errors.New("no insertion method changed the element's content")
}

// contentContains verifies insertion through whichever read the element
// supports: form value first, visible text for contenteditable hosts.
func (e *Executor) contentContains(ctx context.Context, el page.Element, text string) bool {
	if v, err := el.Value(ctx); err == nil && strings.Contains(v, text) {
		return true
	}
	if t, err := el.Text(ctx); err == nil && strings.Contains(t, text) {
		return true
	}
	return false
}
