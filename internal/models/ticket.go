package models

import "time"

const (
	TicketStatusOpen   = "open"
	TicketStatusClosed = "closed"
)

type Ticket struct {
	ID               string        `json:"-"`
	ClientID         string        `json:"client_id"`
	AgentID          string        `json:"agent_id"`
	IssueDescription string        `json:"issue_description"`
	Status           string        `json:"status"`
	ChatLog          []TicketEntry `json:"chat_log"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type TicketEntry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
}
