package schemas

// Tool names the Action Executor accepts. The whitelist is closed: the parser
// rejects anything outside it before an action ever reaches the executor.
const (
	ToolClick          = "click"
	ToolType           = "type"
	ToolPressEnter     = "pressEnter"
	ToolScroll         = "scroll"
	ToolMoveMouse      = "moveMouse"
	ToolSolveCaptcha   = "solveCaptcha"
	ToolNavigate       = "navigate"
	ToolSearchGoogle   = "searchGoogle"
	ToolWaitForElement = "waitForElement"
	ToolRightClick     = "rightClick"
	ToolDoubleClick    = "doubleClick"
	ToolKeyPress       = "keyPress"
	ToolSelectText     = "selectText"
	ToolFocus          = "focus"
	ToolBlur           = "blur"
	ToolHover          = "hover"
	ToolSelectOption   = "selectOption"
	ToolToggleCheckbox = "toggleCheckbox"
	ToolRefresh        = "refresh"
	ToolGoBack         = "goBack"
	ToolGoForward      = "goForward"
	ToolGetText        = "getText"
	ToolGetAttribute   = "getAttribute"
	ToolSetAttribute   = "setAttribute"
	ToolClearInput     = "clearInput"
)

// toolWhitelist is the closed set of executable tools.
var toolWhitelist = map[string]struct{}{
	ToolClick:          {},
	ToolType:           {},
	ToolPressEnter:     {},
	ToolScroll:         {},
	ToolMoveMouse:      {},
	ToolSolveCaptcha:   {},
	ToolNavigate:       {},
	ToolSearchGoogle:   {},
	ToolWaitForElement: {},
	ToolRightClick:     {},
	ToolDoubleClick:    {},
	ToolKeyPress:       {},
	ToolSelectText:     {},
	ToolFocus:          {},
	ToolBlur:           {},
	ToolHover:          {},
	ToolSelectOption:   {},
	ToolToggleCheckbox: {},
	ToolRefresh:        {},
	ToolGoBack:         {},
	ToolGoForward:      {},
	ToolGetText:        {},
	ToolGetAttribute:   {},
	ToolSetAttribute:   {},
	ToolClearInput:     {},
}

// IsKnownTool reports whether name belongs to the tool whitelist.
func IsKnownTool(name string) bool {
	_, ok := toolWhitelist[name]
	return ok
}

// KnownTools returns the whitelist in a stable order for prompt rendering.
func KnownTools() []string {
	return []string{
		ToolClick, ToolType, ToolPressEnter, ToolScroll, ToolMoveMouse,
		ToolSolveCaptcha, ToolNavigate, ToolSearchGoogle, ToolWaitForElement,
		ToolRightClick, ToolDoubleClick, ToolKeyPress, ToolSelectText,
		ToolFocus, ToolBlur, ToolHover, ToolSelectOption, ToolToggleCheckbox,
		ToolRefresh, ToolGoBack, ToolGoForward, ToolGetText, ToolGetAttribute,
		ToolSetAttribute, ToolClearInput,
	}
}

// ActionRequest is one tool invocation chosen by the model. Params is an open
// map validated per tool at execution time; parse time only guarantees it is
// an object.
type ActionRequest struct {
	Tool        string         `json:"tool"`
	Params      map[string]any `json:"params"`
	Description string         `json:"description,omitempty"`
}

// ParsePath identifies which extraction layer produced a ParsedResponse, so a
// degraded-mode parse is never silently mistaken for a strict one.
type ParsePath string

const (
	ParsePathDirect    ParsePath = "direct"
	ParsePathFenced    ParsePath = "fenced"
	ParsePathMessage   ParsePath = "message"
	ParsePathNested    ParsePath = "nested_content"
	ParsePathEmbedded  ParsePath = "embedded"
	ParsePathRepaired  ParsePath = "repaired"
	ParsePathHeuristic ParsePath = "heuristic"
)

// ParsedResponse is the validated decision extracted from raw model output.
type ParsedResponse struct {
	Actions      []ActionRequest `json:"actions"`
	TaskComplete bool            `json:"taskComplete"`
	Result       *string         `json:"result"`
	CurrentStep  *string         `json:"currentStep"`
	Reasoning    string          `json:"reasoning,omitempty"`

	// Path records the extraction layer that produced this response.
	Path ParsePath `json:"-"`
}

// Executor error codes reported in ActionResult. Execution failures are never
// raised as Go errors past the executor boundary.
const (
	ErrCodeElementNotFound           = "ELEMENT_NOT_FOUND"
	ErrCodeElementNotInteractable    = "ELEMENT_NOT_INTERACTABLE"
	ErrCodeInvalidParameters         = "INVALID_PARAMETERS"
	ErrCodeNavigationError           = "NAVIGATION_ERROR"
	ErrCodeTimeout                   = "TIMEOUT_ERROR"
	ErrCodeUnsupportedTool           = "UNSUPPORTED_TOOL"
	ErrCodeExecutionFailure          = "EXECUTION_FAILURE"
	ErrCodeCaptchaManualIntervention = "CAPTCHA_MANUAL_INTERVENTION"
)

// ActionResult is the structured outcome of one tool execution.
type ActionResult struct {
	Success   bool   `json:"success"`
	Tool      string `json:"tool"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`

	// AlternativeSelectors carries up to three ranked fallback locators when
	// the requested selector resolved to nothing.
	AlternativeSelectors []string `json:"alternativeSelectors,omitempty"`

	// Diagnostics holds tool-specific fields (typed text, pressedEnter,
	// attribute values, scroll deltas and the like).
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

// FailedResult builds a failure outcome for a tool.
func FailedResult(tool, code, msg string) ActionResult {
	return ActionResult{Success: false, Tool: tool, ErrorCode: code, Error: msg}
}

// OKResult builds a success outcome with optional diagnostics.
func OKResult(tool string, diagnostics map[string]any) ActionResult {
	return ActionResult{Success: true, Tool: tool, Diagnostics: diagnostics}
}
