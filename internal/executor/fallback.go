package executor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// candidateKind selects which element population a fallback search scans.
type candidateKind int

const (
	clickCandidates candidateKind = iota
	typeCandidates
	anyCandidates
)

var candidatePools = map[candidateKind][]string{
	clickCandidates: {"button", "[role='button']", "a", "input[type='submit']", "input[type='button']"},
	typeCandidates:  {"input", "textarea", "[contenteditable]"},
	anyCandidates: {
		"button", "[role='button']", "a", "input", "textarea",
		"select", "[contenteditable]",
	},
}

// poolXPath mirrors candidatePools so attribute-less candidates can still be
// reported through a positional locator.
var poolXPath = map[string]string{
	"button":               "//button",
	"[role='button']":      "//*[@role='button']",
	"a":                    "//a",
	"input[type='submit']": "//input[@type='submit']",
	"input[type='button']": "//input[@type='button']",
	"input":                "//input",
	"textarea":             "//textarea",
	"select":               "//select",
	"[contenteditable]":    "//*[@contenteditable]",
}

var tokenSplitRe = regexp.MustCompile(`[^a-z0-9]+`)

// noiseTokens never score: they name markup, not intent.
var noiseTokens = map[string]bool{
	"div": true, "span": true, "input": true, "button": true, "a": true,
	"btn": true, "the": true, "id": true, "class": true, "type": true,
}

// tokenize breaks a failed selector into searchable words.
func tokenize(selector string) []string {
	parts := tokenSplitRe.Split(strings.ToLower(selector), -1)
	var out []string
	for _, p := range parts {
		if len(p) < 2 || noiseTokens[p] {
			continue
		}
		out = append(out, p)
	}
	return out
}

type scoredCandidate struct {
	selector string
	score    int
}

// findAlternatives scans the candidate pool for elements whose identity
// overlaps the failed selector's tokens, returning up to MaxAlternatives
// addressable selectors, best match first.
func (e *Executor) findAlternatives(ctx context.Context, failed string, kind candidateKind) []string {
	tokens := tokenize(failed)
	if len(tokens) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var ranked []scoredCandidate
	for _, pool := range candidatePools[kind] {
		elements, err := e.doc.QueryAll(ctx, pool)
		if err != nil {
			continue
		}
		for i, el := range elements {
			info, err := el.Describe(ctx)
			if err != nil {
				continue
			}
			score := scoreCandidate(tokens, info.Text, info.Attributes)
			if score == 0 {
				continue
			}
			selector := addressableSelector(info.Tag, info.Attributes)
			if selector == "" {
				selector = structuralSelector(pool, i)
			}
			if selector == "" || seen[selector] {
				continue
			}
			seen[selector] = true
			ranked = append(ranked, scoredCandidate{selector: selector, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	max := e.cfg.MaxAlternatives
	if max <= 0 || max > len(ranked) {
		max = len(ranked)
	}
	out := make([]string, 0, max)
	for _, c := range ranked[:max] {
		out = append(out, c.selector)
	}
	return out
}

// scoreCandidate weighs token overlap: visible text and labels dominate,
// ids and names follow, class names barely count.
func scoreCandidate(tokens []string, text string, attrs map[string]string) int {
	loweredText := strings.ToLower(text)
	score := 0
	for _, token := range tokens {
		if loweredText != "" && strings.Contains(loweredText, token) {
			score += 3
		}
		for _, key := range []string{"aria-label", "placeholder"} {
			if v := strings.ToLower(attrs[key]); v != "" && strings.Contains(v, token) {
				score += 3
			}
		}
		for _, key := range []string{"id", "name", "value"} {
			if v := strings.ToLower(attrs[key]); v != "" && strings.Contains(v, token) {
				score += 2
			}
		}
		if v := strings.ToLower(attrs["class"]); v != "" && strings.Contains(v, token) {
			score++
		}
	}
	return score
}

// addressableSelector builds a locator from identifying attributes. An
// element carrying none returns ""; the caller falls back to a positional
// locator instead.
func addressableSelector(tag string, attrs map[string]string) string {
	if id := attrs["id"]; id != "" && !strings.ContainsAny(id, " '\"") {
		return "#" + id
	}
	for _, key := range []string{"data-testid", "data-test-id", "data-test"} {
		if v := attrs[key]; v != "" {
			return fmt.Sprintf("[%s='%s']", key, v)
		}
	}
	if name := attrs["name"]; name != "" {
		return fmt.Sprintf("%s[name='%s']", tag, name)
	}
	if label := attrs["aria-label"]; label != "" {
		return fmt.Sprintf("%s[aria-label='%s']", tag, label)
	}
	if placeholder := attrs["placeholder"]; placeholder != "" {
		return fmt.Sprintf("%s[placeholder='%s']", tag, placeholder)
	}
	return ""
}

// structuralSelector addresses a candidate by its document-order position
// within the pool query. QueryAll returns document order on both backends, so
// the index maps onto a parenthesized positional XPath over the same pool.
func structuralSelector(pool string, index int) string {
	xp, ok := poolXPath[pool]
	if !ok {
		return ""
	}
	return fmt.Sprintf("(%s)[%d]", xp, index+1)
}
