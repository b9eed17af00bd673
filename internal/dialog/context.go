package dialog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"crm-dialogs/internal/models"
)

// ErrMultipleSuspensions is returned when a step ends itself more than once.
var ErrMultipleSuspensions = errors.New("dialog step already suspended or completed")

type action int

const (
	actionNone action = iota
	actionWait
	actionCall
	actionDone
	actionFail
)

// TurnContext implements Context for one turn. Messages accumulate across every
// step of the turn; the action is reset per step.
type TurnContext struct {
	conversationID string
	data           ConversationData
	now            func() time.Time

	messages []models.Message

	action action
	child  Dialog
	result interface{}
	err    error
}

func NewTurnContext(conversationID string, data ConversationData) *TurnContext {
	return &TurnContext{
		conversationID: conversationID,
		data:           data,
		now:            time.Now,
	}
}

func (t *TurnContext) ConversationID() string { return t.conversationID }

func (t *TurnContext) ConversationData() ConversationData { return t.data }

func (t *TurnContext) MakeMessage() *models.Message {
	return &models.Message{
		ID:             uuid.NewString(),
		ConversationID: t.conversationID,
		Timestamp:      t.now().UTC(),
	}
}

func (t *TurnContext) Post(_ context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	out := *msg
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.ConversationID == "" {
		out.ConversationID = t.conversationID
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = t.now().UTC()
	}
	t.messages = append(t.messages, out)
	return nil
}

func (t *TurnContext) PostText(ctx context.Context, text string) error {
	msg := t.MakeMessage()
	msg.Text = text
	return t.Post(ctx, msg)
}

func (t *TurnContext) set(a action) error {
	if t.action != actionNone {
		return ErrMultipleSuspensions
	}
	t.action = a
	return nil
}

func (t *TurnContext) Wait() error {
	return t.set(actionWait)
}

func (t *TurnContext) Call(child Dialog) error {
	if child == nil {
		return errors.New("nil child dialog")
	}
	if err := t.set(actionCall); err != nil {
		return err
	}
	t.child = child
	return nil
}

func (t *TurnContext) Done(result interface{}) error {
	if err := t.set(actionDone); err != nil {
		return err
	}
	t.result = result
	return nil
}

func (t *TurnContext) Fail(err error) error {
	if err == nil {
		err = errors.New("dialog failed")
	}
	if setErr := t.set(actionFail); setErr != nil {
		return setErr
	}
	t.err = err
	return nil
}

// Messages returns everything posted so far in this turn.
func (t *TurnContext) Messages() []models.Message { return t.messages }

func (t *TurnContext) Waiting() bool { return t.action == actionWait }

// Open reports whether the last step ended without any action.
func (t *TurnContext) Open() bool { return t.action == actionNone }

// Called returns the child passed to Call in the last step.
func (t *TurnContext) Called() Dialog {
	if t.action != actionCall {
		return nil
	}
	return t.child
}

// Completed returns the result passed to Done in the last step.
func (t *TurnContext) Completed() (interface{}, bool) {
	return t.result, t.action == actionDone
}

// Failed returns the error passed to Fail in the last step.
func (t *TurnContext) Failed() error {
	if t.action != actionFail {
		return nil
	}
	return t.err
}

func (t *TurnContext) resetStep() {
	t.action = actionNone
	t.child = nil
	t.result = nil
	t.err = nil
}
