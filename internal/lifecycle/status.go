package lifecycle

// Status is the lifecycle state stored at auto_filled_form_data.status.
type Status string

const (
	StatusSubmitted             Status = "submitted"
	StatusRequestDocs           Status = "request_docs"
	StatusRequestAdditionalDocs Status = "request_additional_docs"
	StatusApproved              Status = "approved"
	StatusServiceSubmitted      Status = "service_submitted"
	StatusRejected              Status = "rejected"
	StatusServiceReceived       Status = "service_received"

	// StatusProgramApproved is recognised when read but no transition in
	// this service produces it. Ownership sits with the agent-side writer.
	StatusProgramApproved Status = "program_approved"
)

var transitions = map[Status][]Status{
	StatusSubmitted:             {StatusRequestDocs, StatusRequestAdditionalDocs, StatusApproved, StatusRejected},
	StatusRequestDocs:           {StatusRequestAdditionalDocs, StatusApproved, StatusRejected},
	StatusRequestAdditionalDocs: {StatusRequestDocs, StatusApproved, StatusRejected},
	StatusApproved:              {StatusServiceSubmitted, StatusRejected},
	StatusRejected:              {StatusRequestDocs, StatusApproved},
	StatusServiceSubmitted:      {StatusServiceReceived},
	StatusServiceReceived:       {},
}

// IsValid reports whether s is a status this service can store.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsKnown also accepts the read-only program_approved value.
func (s Status) IsKnown() bool {
	return s.IsValid() || s == StatusProgramApproved
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

func (s Status) IsDocsRequest() bool {
	return s == StatusRequestDocs || s == StatusRequestAdditionalDocs
}

func (s Status) IsTerminal() bool {
	return s == StatusServiceReceived
}

func (s Status) String() string {
	return string(s)
}

// AgentDriven reports whether the transition into target is made by an agent
// rather than by the client acting in the portal.
func AgentDriven(target Status) bool {
	return target != StatusServiceReceived && target != StatusSubmitted
}
