package schemas

import "fmt"

// ProviderAuthError indicates no usable credential is configured for a
// backend. Raised at construction or connection-test time, never mid-queue.
type ProviderAuthError struct {
	Provider string
}

func (e *ProviderAuthError) Error() string {
	return fmt.Sprintf("provider %s: no API credential configured", e.Provider)
}

// ProviderHTTPError carries the status and body text of a non-2xx provider
// response. The orchestrator rejects the waiting caller with it verbatim;
// retry policy belongs to the control loop.
type ProviderHTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderHTTPError) Error() string {
	return fmt.Sprintf("provider %s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// ResponseFormatError indicates model output that could not be coerced into a
// valid action list by any extraction layer, including the degraded heuristic.
type ResponseFormatError struct {
	Reason string
}

func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("unparseable model response: %s", e.Reason)
}

// ToolValidationError identifies the action that failed validation: a tool
// outside the whitelist or params that are not a JSON object.
type ToolValidationError struct {
	Index  int
	Tool   string
	Reason string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("action %d (tool %q): %s", e.Index, e.Tool, e.Reason)
}
