package parser

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// maxHeuristicActions bounds how many actions the degraded text scan will
// synthesize.
const maxHeuristicActions = 3

var (
	clickRe  = regexp.MustCompile(`(?i)click(?:s|ing|ed)?\s+(?:on\s+)?(?:the\s+)?[^."]*?"([^"]+)"`)
	typeRe   = regexp.MustCompile(`(?i)(?:typ(?:e|es|ing|ed)|enter(?:s|ing|ed)?)\s+[^."]*?"([^"]+)"[^."]*?"([^"]+)"`)
	scrollRe = regexp.MustCompile(`(?i)\bscroll(?:s|ing|ed)?\b(?:\s+(up|down))?`)
)

// heuristicActions pattern-matches unstructured prose for action verbs and
// synthesizes best-guess actions. Nil means nothing recognisable was found
// and parsing fails terminally.
func heuristicActions(text string) *schemas.ParsedResponse {
	var actions []schemas.ActionRequest

	if m := typeRe.FindStringSubmatch(text); m != nil {
		// First quoted string is the text, second the target.
		actions = append(actions, schemas.ActionRequest{
			Tool:        schemas.ToolType,
			Params:      map[string]any{"text": m[1], "selector": m[2]},
			Description: "recovered from text: type " + m[1],
		})
	}
	if m := clickRe.FindStringSubmatch(text); m != nil {
		lowered := strings.ToLower(text)
		if strings.Contains(lowered, "button") || strings.Contains(lowered, "link") || len(actions) == 0 {
			actions = append(actions, schemas.ActionRequest{
				Tool:        schemas.ToolClick,
				Params:      map[string]any{"selector": m[1]},
				Description: "recovered from text: click " + m[1],
			})
		}
	}
	if m := scrollRe.FindStringSubmatch(text); m != nil && len(actions) < maxHeuristicActions {
		direction := strings.ToLower(m[1])
		if direction == "" {
			direction = "down"
		}
		actions = append(actions, schemas.ActionRequest{
			Tool:        schemas.ToolScroll,
			Params:      map[string]any{"direction": direction},
			Description: "recovered from text: scroll " + direction,
		})
	}

	if len(actions) == 0 {
		return nil
	}
	if len(actions) > maxHeuristicActions {
		actions = actions[:maxHeuristicActions]
	}
	return &schemas.ParsedResponse{
		Actions:   actions,
		Reasoning: "recovered from unstructured model output",
		Path:      schemas.ParsePathHeuristic,
	}
}
