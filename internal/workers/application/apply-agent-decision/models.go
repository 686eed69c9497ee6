// internal/workers/application/apply-agent-decision/models.go
package applyagentdecision

type Input struct {
	ApplicationID string `json:"applicationId"`
	Status        string `json:"status"`
	ProgramName   string `json:"programName,omitempty"`
	AgentID       string `json:"agentId,omitempty"`
}

type Output struct {
	ApplicationID string `json:"applicationId"`
	Status        string `json:"status"`
	AppliedAt     string `json:"appliedAt"` // RFC 3339
}
