package models

import "time"

const (
	CollectionClients      = "Clients"
	CollectionAgents       = "Agents"
	CollectionApplications = "Applications"
	CollectionVisits       = "Visits"
	CollectionTickets      = "Tickets"
	CollectionAgentChat    = "AgentChat"
	CollectionPrograms     = "Programs"
	CollectionForms        = "FormsScreening"
)

const (
	FieldStatus           = "auto_filled_form_data.status"
	FieldClientID         = "auto_filled_form_data.client_id"
	FieldFinalProgramName = "auto_filled_form_data.final_program_name"
	FieldFormCreatedAt    = "auto_filled_form_data.created_at"
	FieldFormUpdatedAt    = "auto_filled_form_data.updated_at"
	FieldDocuments        = "uploaded_documents_path"
	FieldContactBack      = "agent_contact_back.timestamps"
	FieldCommentResponses = "agent_comment.agent_comment_response"
	FieldSummary          = "application_summary"
	FieldScreening        = "form_screening_data"
)

type Application struct {
	ID                    string              `json:"-"`
	AutoFilledFormData    FormData            `json:"auto_filled_form_data"`
	UploadedDocumentsPath map[string][]string `json:"uploaded_documents_path"`
	AgentContactBack      ContactBack         `json:"agent_contact_back"`
	AgentComment          AgentComment        `json:"agent_comment"`
	ApplicationSummary    string              `json:"application_summary"`
	FormScreeningData     []ScreeningAnswer   `json:"form_screening_data,omitempty"`
	AIEvaluation          string              `json:"ai_evaluation,omitempty"`
	SystemSuggestProgram  string              `json:"system_suggest_program,omitempty"`
	AgentServiceSubmit    []string            `json:"agent_service_submit,omitempty"`
}

type FormData struct {
	ClientID          string    `json:"client_id"`
	Status            string    `json:"status"`
	FinalProgramName  string    `json:"final_program_name"`
	PreApprovedReason string    `json:"pre_approved_reason"`
	PreRejectedReason string    `json:"pre_rejected_reason"`
	RecordedVoicePath string    `json:"recorded_voice_path"`
	AgentComment      []string  `json:"agent_comment"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type ContactBack struct {
	Timestamps []ContactBackEntry `json:"timestamps"`
}

type AgentComment struct {
	AgentCommentResponse  []string `json:"agent_comment_response"`
	ClientCommentResponse []string `json:"client_comment_response"`
}

type ScreeningAnswer struct {
	Question        string `json:"Question"`
	Answer          string `json:"Answer"`
	AudioURL        string `json:"audio_url,omitempty"`
	TranscribedText string `json:"transcribed_text,omitempty"`
}

type Program struct {
	Name          string `json:"-"`
	ProgramDetail string `json:"program_detail"`
}
