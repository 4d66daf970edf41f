package schemas

// ActionRecord is one entry in the iteration history supplied by the control
// loop: what was attempted and how it went.
type ActionRecord struct {
	Tool        string `json:"tool"`
	Description string `json:"description,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// AutomationContext is owned by the external control loop and consumed
// read-only by the prompt builder and orchestrator. It carries everything the
// model should know about how the run has been going.
type AutomationContext struct {
	Task           string         `json:"task"`
	CurrentURL     string         `json:"currentUrl,omitempty"`
	IterationCount int            `json:"iterationCount"`
	IsStuck        bool           `json:"isStuck"`
	StuckCounter   int            `json:"stuckCounter"`
	DOMChanged     bool           `json:"domChanged"`
	URLChanged     bool           `json:"urlChanged"`
	ActionHistory  []ActionRecord `json:"actionHistory,omitempty"`
	// FailedAttempts tallies failures per tool name.
	FailedAttempts    map[string]int `json:"failedAttempts,omitempty"`
	RepeatedSequences []string       `json:"repeatedSequences,omitempty"`
	URLHistory        []string       `json:"urlHistory,omitempty"`
}

// HistoryTail returns the last n history entries without copying the rest.
// A non-positive n yields nothing.
func (c *AutomationContext) HistoryTail(n int) []ActionRecord {
	if c == nil || n <= 0 {
		return nil
	}
	if len(c.ActionHistory) <= n {
		return c.ActionHistory
	}
	return c.ActionHistory[len(c.ActionHistory)-n:]
}
