package models

import "time"

const (
	VisitStatusProposed  = "proposed"
	VisitStatusConfirmed = "confirmed"
	VisitStatusRejected  = "rejected"
	VisitStatusVisited   = "visited"

	InitiatedByClient = "client"
	InitiatedByAgent  = "agent"
)

type Visit struct {
	ID            string    `json:"-"`
	AgentID       string    `json:"agent_id"`
	ClientID      string    `json:"client_id"`
	ScheduledDate time.Time `json:"scheduled_date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	Topic         string    `json:"topic"`
	Status        string    `json:"status"`
	InitiatedBy   string    `json:"initiated_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
