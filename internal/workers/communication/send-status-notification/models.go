// internal/workers/communication/send-status-notification/models.go
package sendstatusnotification

type Input struct {
	ApplicationID string   `json:"applicationId"`
	Status        string   `json:"status"`
	Channels      []string `json:"channels,omitempty"` // defaults to email and sms
}

type Output struct {
	NotificationID string   `json:"notificationId"`
	Status         string   `json:"status"` // "sent", "disabled"
	Channels       []string `json:"channels"`
	SentAt         string   `json:"sentAt"` // RFC 3339
}
