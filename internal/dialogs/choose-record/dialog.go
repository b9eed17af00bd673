// Package chooserecord asks the user to pick one of several CRM records.
package chooserecord

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"crm-dialogs/internal/common/errors"
	"crm-dialogs/internal/common/logger"
	"crm-dialogs/internal/dialog"
	"crm-dialogs/internal/models"
)

const (
	Kind = "choose-record"

	CardTitle          = "Which one did you mean?"
	MessageRetry       = "Please choose one of the listed records."
	DefaultMaxAttempts = 3
)

type Config struct {
	MaxAttempts int
}

// Factory creates choose-record dialogs and restores them between turns.
type Factory struct {
	cfg    Config
	logger logger.Logger
}

func NewFactory(cfg Config, log logger.Logger) *Factory {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Factory{cfg: cfg, logger: log.WithFields(map[string]interface{}{"dialog": Kind})}
}

// CreateChooseRecordDialog offers records in order. The dialog completes with
// the chosen models.RecordReference.
func (f *Factory) CreateChooseRecordDialog(records []models.Record) (dialog.Dialog, error) {
	if len(records) == 0 {
		return nil, errors.NewInputValidationError("no records to choose from")
	}

	d := &Dialog{factory: f}
	for i, r := range records {
		name := r.PrimaryName()
		d.st.Options = append(d.st.Options, Option{
			Label:     fmt.Sprintf("%d. %s", i+1, name),
			Name:      name,
			Reference: r.Reference(),
		})
	}
	return d, nil
}

func (f *Factory) Restore(state []byte) (dialog.Dialog, error) {
	d := &Dialog{factory: f}
	if err := json.Unmarshal(state, &d.st); err != nil {
		return nil, err
	}
	if len(d.st.Options) == 0 {
		return nil, fmt.Errorf("no options in state")
	}
	return d, nil
}

// Definition registers the dialog as a child-only kind.
func (f *Factory) Definition() dialog.Definition {
	return dialog.Definition{Kind: Kind, Restore: f.Restore}
}

type Option struct {
	Label     string                 `json:"label"`
	Name      string                 `json:"name"`
	Reference models.RecordReference `json:"reference"`
}

type persisted struct {
	Options  []Option `json:"options"`
	Attempts int      `json:"attempts"`
}

type Dialog struct {
	factory *Factory
	st      persisted
}

func (d *Dialog) Kind() string { return Kind }

func (d *Dialog) State() ([]byte, error) { return json.Marshal(d.st) }

func (d *Dialog) Options() []Option { return d.st.Options }

func (d *Dialog) Start(ctx context.Context, dc dialog.Context) error {
	if err := d.postChoices(ctx, dc, ""); err != nil {
		return dc.Fail(errors.NewMessageSendFailedError(err))
	}
	return dc.Wait()
}

func (d *Dialog) Resume(ctx context.Context, dc dialog.Context, ev dialog.Event) error {
	if ev.Kind != dialog.EventUserText {
		return dc.Fail(errors.NewInvalidTurnEventError(fmt.Sprintf("%s while awaiting a choice", ev.Kind)))
	}

	if opt, ok := d.match(ev.Text); ok {
		return dc.Done(opt.Reference)
	}

	d.st.Attempts++
	d.factory.logger.Debug("Choice not recognised", map[string]interface{}{
		"conversationId": dc.ConversationID(),
		"attempts":       d.st.Attempts,
	})
	if d.st.Attempts >= d.factory.cfg.MaxAttempts {
		return dc.Fail(errors.NewChoiceNotResolvedError(d.st.Attempts))
	}
	if err := d.postChoices(ctx, dc, MessageRetry); err != nil {
		return dc.Fail(errors.NewMessageSendFailedError(err))
	}
	return dc.Wait()
}

// match accepts an ordinal, a button label or a unique record name.
func (d *Dialog) match(text string) (Option, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Option{}, false
	}

	if n, err := strconv.Atoi(text); err == nil {
		if n >= 1 && n <= len(d.st.Options) {
			return d.st.Options[n-1], true
		}
		return Option{}, false
	}

	for _, opt := range d.st.Options {
		if strings.EqualFold(opt.Label, text) {
			return opt, true
		}
	}

	var found []Option
	for _, opt := range d.st.Options {
		if strings.EqualFold(opt.Name, text) {
			found = append(found, opt)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return Option{}, false
}

func (d *Dialog) postChoices(ctx context.Context, dc dialog.Context, text string) error {
	buttons := make([]models.CardAction, 0, len(d.st.Options))
	for i, opt := range d.st.Options {
		buttons = append(buttons, models.CardAction{
			Type:  models.ActionTypeImBack,
			Title: opt.Label,
			Value: strconv.Itoa(i + 1),
		})
	}

	msg := dc.MakeMessage()
	msg.Text = text
	msg.Attachments = []models.Attachment{{
		ContentType: models.ContentTypeHeroCard,
		Content: map[string]interface{}{
			"title":   CardTitle,
			"buttons": buttons,
		},
	}}
	return dc.Post(ctx, msg)
}
