// Package parser turns raw model output into a validated ParsedResponse. It
// degrades through a fixed ladder of extraction layers and records which one
// produced the result, so a heuristic parse is never mistaken for a strict
// one.
package parser

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Parser is stateless; safe for reuse across turns.
type Parser struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Parser {
	return &Parser{logger: logger.Named("parser")}
}

// rawResponse is the permissive decode target: actions stays raw until
// validation, and the recovery fields ride along.
type rawResponse struct {
	Actions      jsoniter.RawMessage `json:"actions"`
	TaskComplete bool                `json:"taskComplete"`
	Result       *string             `json:"result"`
	CurrentStep  *string             `json:"currentStep"`
	Reasoning    string              `json:"reasoning"`

	Message jsoniter.RawMessage `json:"message"`
	Content string              `json:"content"`
}

type rawAction struct {
	Tool        string              `json:"tool"`
	Params      jsoniter.RawMessage `json:"params"`
	Description string              `json:"description"`
}

// Parse runs the extraction ladder: direct JSON, fence-stripped, the
// message/content recovery paths, an embedded-object scan, mechanical JSON
// repair, and finally the verb heuristic. Validation errors from a decoded
// action list are terminal; only undecodable text falls further down.
func (p *Parser) Parse(raw string) (*schemas.ParsedResponse, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &schemas.ResponseFormatError{Reason: "empty response"}
	}

	path := schemas.ParsePathDirect
	body := trimmed
	if stripped, ok := stripFence(trimmed); ok {
		body = stripped
		path = schemas.ParsePathFenced
	}

	var decoded rawResponse
	if err := json.Unmarshal([]byte(body), &decoded); err == nil {
		resp, err := p.assemble(decoded, path)
		if err == nil {
			p.logger.Debug("Response parsed", zap.String("path", string(resp.Path)))
		}
		return resp, err
	}

	// The body is not a JSON object at all: look for one buried in prose.
	if embedded := firstBalancedObject(body); embedded != "" && embedded != body {
		if err := json.Unmarshal([]byte(embedded), &decoded); err == nil {
			resp, err := p.assemble(decoded, schemas.ParsePathEmbedded)
			if err == nil {
				p.logger.Debug("Response parsed", zap.String("path", string(resp.Path)))
			}
			return resp, err
		}
	}

	// Mechanical repair of almost-JSON (trailing commas, single quotes,
	// unquoted keys).
	if repaired, err := jsonrepair.JSONRepair(body); err == nil {
		if err := json.Unmarshal([]byte(repaired), &decoded); err == nil {
			if resp, err := p.assemble(decoded, schemas.ParsePathRepaired); err == nil {
				p.logger.Debug("Response parsed", zap.String("path", string(resp.Path)))
				return resp, nil
			}
		}
	}

	if resp := heuristicActions(trimmed); resp != nil {
		p.logger.Warn("Response recovered via text heuristic",
			zap.Int("actions", len(resp.Actions)))
		return resp, nil
	}
	return nil, &schemas.ResponseFormatError{Reason: "no extraction layer produced an action list"}
}

// assemble resolves the actions source (top level, message.actions, or nested
// content string) and validates every action.
func (p *Parser) assemble(decoded rawResponse, path schemas.ParsePath) (*schemas.ParsedResponse, error) {
	actionsRaw := decoded.Actions

	if isAbsent(actionsRaw) && !isAbsent(decoded.Message) {
		var inner rawResponse
		if err := json.Unmarshal(decoded.Message, &inner); err == nil && !isAbsent(inner.Actions) {
			actionsRaw = inner.Actions
			if inner.TaskComplete {
				decoded.TaskComplete = true
			}
			if decoded.Result == nil {
				decoded.Result = inner.Result
			}
			if decoded.CurrentStep == nil {
				decoded.CurrentStep = inner.CurrentStep
			}
			path = schemas.ParsePathMessage
		}
	}

	if isAbsent(actionsRaw) && decoded.Content != "" {
		var inner rawResponse
		if err := json.Unmarshal([]byte(decoded.Content), &inner); err == nil && !isAbsent(inner.Actions) {
			actionsRaw = inner.Actions
			decoded.TaskComplete = inner.TaskComplete
			decoded.Result = inner.Result
			decoded.CurrentStep = inner.CurrentStep
			if inner.Reasoning != "" {
				decoded.Reasoning = inner.Reasoning
			}
			path = schemas.ParsePathNested
		}
	}

	if isAbsent(actionsRaw) {
		return nil, &schemas.ResponseFormatError{Reason: "response carries no actions field"}
	}

	actions, err := validateActions(actionsRaw)
	if err != nil {
		return nil, err
	}
	return &schemas.ParsedResponse{
		Actions:      actions,
		TaskComplete: decoded.TaskComplete,
		Result:       decoded.Result,
		CurrentStep:  decoded.CurrentStep,
		Reasoning:    decoded.Reasoning,
		Path:         path,
	}, nil
}

// validateActions enforces the whitelist and the params-must-be-an-object
// rule, identifying the offending index.
func validateActions(raw jsoniter.RawMessage) ([]schemas.ActionRequest, error) {
	var rawActions []rawAction
	if err := json.Unmarshal(raw, &rawActions); err != nil {
		return nil, &schemas.ResponseFormatError{Reason: fmt.Sprintf("actions is not an array: %v", err)}
	}

	out := make([]schemas.ActionRequest, 0, len(rawActions))
	for i, ra := range rawActions {
		if !schemas.IsKnownTool(ra.Tool) {
			return nil, &schemas.ToolValidationError{Index: i, Tool: ra.Tool, Reason: "tool is not in the whitelist"}
		}

		params := map[string]any{}
		if !isAbsent(ra.Params) {
			if first := firstByte(ra.Params); first != '{' {
				return nil, &schemas.ToolValidationError{Index: i, Tool: ra.Tool, Reason: "params is not a JSON object"}
			}
			if err := json.Unmarshal(ra.Params, &params); err != nil {
				return nil, &schemas.ToolValidationError{Index: i, Tool: ra.Tool, Reason: fmt.Sprintf("params is not a JSON object: %v", err)}
			}
		}
		out = append(out, schemas.ActionRequest{
			Tool:        ra.Tool,
			Params:      params,
			Description: ra.Description,
		})
	}
	return out, nil
}

func isAbsent(raw jsoniter.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func firstByte(raw jsoniter.RawMessage) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}

// stripFence removes one leading/trailing markdown code fence, language tag
// or not.
func stripFence(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		return s, false
	}
	body := s[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(body[:nl])
		// A language tag occupies the rest of the fence line.
		if firstLine == "" || !strings.ContainsAny(firstLine, "{}") {
			body = body[nl+1:]
		}
	} else {
		body = strings.TrimPrefix(body, "json")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body), true
}

// firstBalancedObject finds the first complete {...} in the text, honouring
// string literals and escapes.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
