package models

import "time"

const (
	ContentTypeAdaptiveCard = "application/vnd.microsoft.card.adaptive"
	ContentTypeHeroCard     = "application/vnd.microsoft.card.hero"

	ActionTypeImBack = "imBack"
)

// Message is one outbound bot activity.
type Message struct {
	ID               string       `json:"id"`
	ConversationID   string       `json:"conversationId"`
	Text             string       `json:"text,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	SuggestedActions []CardAction `json:"suggestedActions,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}

type Attachment struct {
	ContentType string      `json:"contentType"`
	Name        string      `json:"name,omitempty"`
	Content     interface{} `json:"content"`
}

type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Value string `json:"value"`
}
