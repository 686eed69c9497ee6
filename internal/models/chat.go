package models

import "time"

const (
	FieldAgentChat  = "Agent_chat"
	FieldClientChat = "Client_chat"
)

type ChatDocument struct {
	AgentChat  []ChatEntry `json:"Agent_chat"`
	ClientChat []ChatEntry `json:"Client_chat"`
}

type ChatEntry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Read      bool      `json:"read"`
}
