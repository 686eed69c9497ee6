package models

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"

	NotificationStatusSent     = "sent"
	NotificationStatusFailed   = "failed"
	NotificationStatusDisabled = "disabled"
)

type NotificationTemplate struct {
	Type    string `json:"type"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
