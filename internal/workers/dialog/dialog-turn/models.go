package dialogturn

import "crm-dialogs/internal/models"

const (
	EventBegin   = "begin"
	EventMessage = "message"
)

type Input struct {
	ConversationID string `json:"conversationId"`
	Dialog         string `json:"dialog,omitempty"`
	AccountName    string `json:"accountName,omitempty"`
	Event          Event  `json:"event"`
}

type Event struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Output struct {
	DialogStatus    string           `json:"dialogStatus"`
	DialogOutcome   interface{}      `json:"dialogOutcome,omitempty"`
	Messages        []models.Message `json:"messages"`
	DialogError     string           `json:"dialogError,omitempty"`
	DialogErrorCode string           `json:"dialogErrorCode,omitempty"`
}
