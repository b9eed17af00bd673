// Package dialog is the host runtime for stacked, resumable chat dialogs.
//
// A dialog is an explicit state machine. The runtime starts it, delivers typed
// events to it (user text, or the result of a child dialog it called) and
// persists its state between turns. Each step ends with at most one of
// Wait, Call, Done or Fail; a step that ends with none leaves the dialog open.
package dialog

import (
	"context"

	"crm-dialogs/internal/models"
)

type EventKind string

const (
	EventUserText    EventKind = "user_text"
	EventChildResult EventKind = "child_result"
)

// Event is delivered to Dialog.Resume.
type Event struct {
	Kind EventKind

	// Text is set for EventUserText.
	Text string

	// Result and Err carry a child's completion for EventChildResult.
	Result interface{}
	Err    error
}

func UserText(text string) Event {
	return Event{Kind: EventUserText, Text: text}
}

func ChildResult(result interface{}, err error) Event {
	return Event{Kind: EventChildResult, Result: result, Err: err}
}

type Dialog interface {
	Kind() string
	Start(ctx context.Context, dc Context) error
	Resume(ctx context.Context, dc Context, ev Event) error
	// State serializes everything Restore needs to continue the dialog.
	State() ([]byte, error)
}

// Context is what a dialog sees of the host during one step.
type Context interface {
	ConversationID() string
	MakeMessage() *models.Message
	Post(ctx context.Context, msg *models.Message) error
	PostText(ctx context.Context, text string) error
	ConversationData() ConversationData

	Wait() error
	Call(child Dialog) error
	Done(result interface{}) error
	Fail(err error) error
}

// ConversationData is key/value storage private to one conversation.
type ConversationData interface {
	Set(ctx context.Context, key string, value interface{}) error
	Get(ctx context.Context, key string, out interface{}) (bool, error)
}
