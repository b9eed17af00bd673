// Package searchcontact finds open contacts by account name and shows the chosen one.
package searchcontact

import (
	"context"
	"encoding/json"
	"fmt"

	"crm-dialogs/internal/common/crm"
	"crm-dialogs/internal/common/errors"
	"crm-dialogs/internal/common/logger"
	"crm-dialogs/internal/dialog"
	"crm-dialogs/internal/models"
)

const (
	Kind = "search-contact"

	ArgAccountName = "accountName"

	PromptAccountName     = "Enter account name"
	MessageNoContacts     = "No recent open Contacts for account %s"
	MessageFoundContacts  = "I found %d Contacts for account %s"
	MessageNoForm         = "No form found to display result."
	ActionShowProducts    = "Show me products associated with this Contact"
	DefaultFormsPerRecord = 2
)

type State string

const (
	StateStart          State = "start"
	StateAwaitingFilter State = "awaiting_filter"
	StateAwaitingChoice State = "awaiting_choice"
	// StateOpen is left when a record had no form to show; the dialog does not complete.
	StateOpen State = "open"
	StateDone State = "done"
)

// ChooseRecordFactory creates the sub-dialog used when several contacts match.
// The sub-dialog completes with the chosen models.RecordReference.
type ChooseRecordFactory interface {
	CreateChooseRecordDialog(records []models.Record) (dialog.Dialog, error)
}

type Config struct {
	FormsPerRecord int
}

type persisted struct {
	State       State  `json:"state"`
	AccountName string `json:"accountName"`
}

type Dialog struct {
	crm     crm.Client
	factory ChooseRecordFactory
	cfg     Config
	logger  logger.Logger

	st persisted
}

// New creates the dialog. An empty accountName makes it ask for one first.
func New(client crm.Client, factory ChooseRecordFactory, cfg Config, log logger.Logger, accountName string) *Dialog {
	if cfg.FormsPerRecord <= 0 {
		cfg.FormsPerRecord = DefaultFormsPerRecord
	}
	return &Dialog{
		crm:     client,
		factory: factory,
		cfg:     cfg,
		logger:  log.WithFields(map[string]interface{}{"dialog": Kind}),
		st:      persisted{State: StateStart, AccountName: accountName},
	}
}

// Restore rebuilds a dialog from State output.
func Restore(client crm.Client, factory ChooseRecordFactory, cfg Config, log logger.Logger, state []byte) (*Dialog, error) {
	d := New(client, factory, cfg, log, "")
	if err := json.Unmarshal(state, &d.st); err != nil {
		return nil, err
	}
	switch d.st.State {
	case StateStart, StateAwaitingFilter, StateAwaitingChoice, StateOpen, StateDone:
	default:
		return nil, fmt.Errorf("unknown state %q", d.st.State)
	}
	return d, nil
}

// Definition registers the dialog; it starts with the accountName argument.
func Definition(client crm.Client, factory ChooseRecordFactory, cfg Config, log logger.Logger) dialog.Definition {
	return dialog.Definition{
		Kind: Kind,
		New: func(args map[string]string) (dialog.Dialog, error) {
			return New(client, factory, cfg, log, args[ArgAccountName]), nil
		},
		Restore: func(state []byte) (dialog.Dialog, error) {
			return Restore(client, factory, cfg, log, state)
		},
	}
}

func (d *Dialog) Kind() string { return Kind }

func (d *Dialog) State() ([]byte, error) { return json.Marshal(d.st) }

func (d *Dialog) CurrentState() State { return d.st.State }

func (d *Dialog) AccountName() string { return d.st.AccountName }

func (d *Dialog) Start(ctx context.Context, dc dialog.Context) error {
	if d.st.State != StateStart {
		return d.fail(dc, errors.NewDialogStateInvalidError(Kind, fmt.Errorf("start in state %s", d.st.State)))
	}

	if d.st.AccountName == "" {
		if err := dc.PostText(ctx, PromptAccountName); err != nil {
			return d.fail(dc, errors.NewMessageSendFailedError(err))
		}
		d.st.State = StateAwaitingFilter
		return dc.Wait()
	}
	return d.Search(ctx, dc)
}

func (d *Dialog) Resume(ctx context.Context, dc dialog.Context, ev dialog.Event) error {
	switch d.st.State {
	case StateAwaitingFilter:
		if ev.Kind != dialog.EventUserText {
			return d.fail(dc, errors.NewInvalidTurnEventError(fmt.Sprintf("%s while awaiting account name", ev.Kind)))
		}
		d.st.AccountName = ev.Text
		return d.Search(ctx, dc)

	case StateAwaitingChoice:
		if ev.Kind != dialog.EventChildResult {
			return d.fail(dc, errors.NewInvalidTurnEventError(fmt.Sprintf("%s while awaiting record choice", ev.Kind)))
		}
		if ev.Err != nil {
			return d.fail(dc, ev.Err)
		}
		ref, ok := ev.Result.(models.RecordReference)
		if !ok {
			return d.fail(dc, errors.NewInvalidTurnEventError(fmt.Sprintf("choice result %T is not a record reference", ev.Result)))
		}

		record, err := d.crm.RetrieveRecord(ctx, ref)
		if err != nil {
			return d.fail(dc, err)
		}
		return d.Present(ctx, dc, *record)
	}

	return d.fail(dc, errors.NewDialogStateInvalidError(Kind, fmt.Errorf("%s event in state %s", ev.Kind, d.st.State)))
}

// Search queries open contacts for the account name and dispatches on the count.
func (d *Dialog) Search(ctx context.Context, dc dialog.Context) error {
	name := d.st.AccountName

	records, err := d.crm.RetrieveRecords(ctx, EntityContact, RecentContactsForAccount(name, true))
	if err != nil {
		return d.fail(dc, err)
	}
	d.logger.Info("Contact search finished", map[string]interface{}{
		"conversationId": dc.ConversationID(),
		"count":          len(records),
	})

	switch {
	case len(records) == 0:
		if err := dc.PostText(ctx, fmt.Sprintf(MessageNoContacts, name)); err != nil {
			return d.fail(dc, errors.NewMessageSendFailedError(err))
		}
		d.st.State = StateDone
		return dc.Done(false)

	case len(records) > 1:
		if err := dc.PostText(ctx, fmt.Sprintf(MessageFoundContacts, len(records), name)); err != nil {
			return d.fail(dc, errors.NewMessageSendFailedError(err))
		}
		child, err := d.factory.CreateChooseRecordDialog(records)
		if err != nil {
			return d.fail(dc, err)
		}
		d.st.State = StateAwaitingChoice
		return dc.Call(child)
	}

	return d.Present(ctx, dc, records[0])
}

// Present remembers record for the conversation and shows it with its first form.
// Without a form it reports so and leaves the dialog open.
func (d *Dialog) Present(ctx context.Context, dc dialog.Context, record models.Record) error {
	if err := dialog.StoreRecordReference(ctx, dc.ConversationData(), record.Reference()); err != nil {
		return d.fail(dc, err)
	}

	forms, err := d.crm.RetrieveFormsOf(ctx, record.LogicalName, d.cfg.FormsPerRecord)
	if err != nil {
		return d.fail(dc, err)
	}

	if len(forms) == 0 {
		d.logger.Warn("No form for record", map[string]interface{}{
			"conversationId": dc.ConversationID(),
			"entityType":     record.LogicalName,
			"recordId":       record.ID,
		})
		if err := dc.PostText(ctx, MessageNoForm); err != nil {
			return d.fail(dc, errors.NewMessageSendFailedError(err))
		}
		d.st.State = StateOpen
		return nil
	}

	attachment, err := d.crm.RenderReadOnlyForm(ctx, &record, forms[0])
	if err != nil {
		return d.fail(dc, errors.NewCRMRenderFailedError(err))
	}

	msg := dc.MakeMessage()
	msg.Attachments = []models.Attachment{*attachment}
	msg.SuggestedActions = []models.CardAction{{
		Type:  models.ActionTypeImBack,
		Title: ActionShowProducts,
		Value: ActionShowProducts,
	}}
	if err := dc.Post(ctx, msg); err != nil {
		return d.fail(dc, errors.NewMessageSendFailedError(err))
	}

	d.st.State = StateDone
	return dc.Done(true)
}

func (d *Dialog) fail(dc dialog.Context, err error) error {
	d.st.State = StateDone
	return dc.Fail(err)
}
