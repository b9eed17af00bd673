package dialog

import (
	"context"
	stderrors "errors"
	"fmt"

	"crm-dialogs/internal/common/errors"
	"crm-dialogs/internal/common/logger"
	"crm-dialogs/internal/common/metrics"
	"crm-dialogs/internal/models"
)

// ErrNotWaiting fails a dialog that receives user text while it is open but not
// waiting for any.
var ErrNotWaiting = stderrors.New("dialog is not waiting for user input")

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusOpen      Status = "open"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TurnResult is what one Begin or Deliver produced.
type TurnResult struct {
	ConversationID string           `json:"conversationId"`
	Dialog         string           `json:"dialog"`
	Status         Status           `json:"status"`
	Outcome        interface{}      `json:"outcome,omitempty"`
	Messages       []models.Message `json:"messages"`
	Err            error            `json:"-"`
	Error          string           `json:"error,omitempty"`
}

// Runtime drives dialog stacks persisted in a Store.
type Runtime struct {
	registry *Registry
	store    Store
	logger   logger.Logger
}

func NewRuntime(registry *Registry, store Store, log logger.Logger) *Runtime {
	return &Runtime{registry: registry, store: store, logger: log}
}

func (r *Runtime) Registry() *Registry { return r.registry }

// Data returns the conversation-scoped storage of conversationID.
func (r *Runtime) Data(conversationID string) ConversationData {
	return NewConversationData(r.store, conversationID)
}

type liveFrame struct {
	dialog  Dialog
	waiting bool
}

type turn struct {
	rt    *Runtime
	cid   string
	root  string
	tc    *TurnContext
	stack []*liveFrame
	log   logger.Logger
}

// Begin starts d as the root dialog of conversationID, replacing any stack.
func (r *Runtime) Begin(ctx context.Context, conversationID string, d Dialog) (*TurnResult, error) {
	if d == nil {
		return nil, errors.NewInvalidTurnEventError("no dialog to begin")
	}
	unlock, err := r.lock(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := r.store.DeleteStack(ctx, conversationID); err != nil {
		return nil, storeErr(err)
	}

	t := r.newTurn(conversationID, d.Kind())
	t.log.Info("Beginning dialog", nil)
	t.stack = append(t.stack, &liveFrame{dialog: d})
	return t.run(ctx, func(d Dialog) error { return d.Start(ctx, t.tc) })
}

// BeginKind creates a root dialog of kind from args and begins it.
func (r *Runtime) BeginKind(ctx context.Context, conversationID, kind string, args map[string]string) (*TurnResult, error) {
	d, err := r.registry.New(kind, args)
	if err != nil {
		return nil, err
	}
	return r.Begin(ctx, conversationID, d)
}

// Deliver hands user text to the top dialog of conversationID.
func (r *Runtime) Deliver(ctx context.Context, conversationID, text string) (*TurnResult, error) {
	unlock, err := r.lock(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	frames, err := r.store.LoadStack(ctx, conversationID)
	if err != nil {
		return nil, storeErr(err)
	}
	if len(frames) == 0 {
		return nil, errors.NewNoActiveDialogError(conversationID)
	}

	t := r.newTurn(conversationID, frames[0].Kind)
	for _, f := range frames {
		d, err := r.registry.Restore(f)
		if err != nil {
			return nil, err
		}
		t.stack = append(t.stack, &liveFrame{dialog: d, waiting: f.Waiting})
	}

	top := t.stack[len(t.stack)-1]
	t.log.Debug("Delivering user text", map[string]interface{}{
		"dialog":  top.dialog.Kind(),
		"waiting": top.waiting,
	})
	if !top.waiting {
		return t.run(ctx, func(Dialog) error { return ErrNotWaiting })
	}
	return t.run(ctx, func(d Dialog) error { return d.Resume(ctx, t.tc, UserText(text)) })
}

// lock serializes turns of one conversation. A second turn arriving while one
// runs is rejected with CONVERSATION_BUSY rather than queued.
func (r *Runtime) lock(ctx context.Context, conversationID string) (func(), error) {
	unlock, err := r.store.Lock(ctx, conversationID)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeConversationBusy {
			r.logger.Warn("Turn rejected, conversation busy", map[string]interface{}{
				"conversationId": conversationID,
			})
		}
		return nil, storeErr(err)
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("Failed to release conversation lock", map[string]interface{}{
				"conversationId": conversationID,
				"error":          err.Error(),
			})
		}
	}, nil
}

func (r *Runtime) newTurn(conversationID, root string) *turn {
	return &turn{
		rt:   r,
		cid:  conversationID,
		root: root,
		tc:   NewTurnContext(conversationID, r.Data(conversationID)),
		log: r.logger.WithFields(map[string]interface{}{
			"conversationId": conversationID,
			"rootDialog":     root,
		}),
	}
}

// run executes step on the top frame and follows the action it ends with until
// the stack suspends, stays open or empties.
func (t *turn) run(ctx context.Context, step func(Dialog) error) (*TurnResult, error) {
	for {
		top := t.stack[len(t.stack)-1]
		t.tc.resetStep()

		if err := step(top.dialog); err != nil {
			t.tc.resetStep()
			_ = t.tc.Fail(err)
		}

		switch t.tc.action {
		case actionWait:
			top.waiting = true
			return t.suspend(ctx, StatusWaiting)

		case actionNone:
			top.waiting = false
			return t.suspend(ctx, StatusOpen)

		case actionCall:
			top.waiting = false
			child := t.tc.child
			t.log.Debug("Calling child dialog", map[string]interface{}{
				"parent": top.dialog.Kind(),
				"child":  child.Kind(),
			})
			t.stack = append(t.stack, &liveFrame{dialog: child})
			step = func(d Dialog) error { return d.Start(ctx, t.tc) }

		case actionDone, actionFail:
			result, err := t.tc.result, t.tc.err
			t.stack = t.stack[:len(t.stack)-1]
			t.recordOutcome(top.dialog.Kind(), err)

			if len(t.stack) == 0 {
				return t.finish(ctx, result, err)
			}
			step = func(d Dialog) error { return d.Resume(ctx, t.tc, ChildResult(result, err)) }

		default:
			return nil, fmt.Errorf("unknown dialog action %d", t.tc.action)
		}
	}
}

func (t *turn) recordOutcome(kind string, err error) {
	outcome := string(StatusCompleted)
	if err != nil {
		outcome = string(StatusFailed)
		t.log.Warn("Dialog failed", map[string]interface{}{
			"dialog":    kind,
			"error":     err.Error(),
			"errorCode": string(errors.CodeOf(err)),
		})
	}
	metrics.DialogOutcomes.WithLabelValues(kind, outcome).Inc()
}

func (t *turn) suspend(ctx context.Context, status Status) (*TurnResult, error) {
	frames := make([]Frame, 0, len(t.stack))
	for _, f := range t.stack {
		state, err := f.dialog.State()
		if err != nil {
			return nil, errors.NewDialogStateInvalidError(f.dialog.Kind(), err)
		}
		frames = append(frames, Frame{Kind: f.dialog.Kind(), State: state, Waiting: f.waiting})
	}
	if err := t.rt.store.SaveStack(ctx, t.cid, frames); err != nil {
		return nil, storeErr(err)
	}
	if status == StatusOpen {
		metrics.DialogOutcomes.WithLabelValues(t.stack[len(t.stack)-1].dialog.Kind(), string(StatusOpen)).Inc()
	}
	return t.result(status, nil, nil), nil
}

func (t *turn) finish(ctx context.Context, outcome interface{}, err error) (*TurnResult, error) {
	if delErr := t.rt.store.DeleteStack(ctx, t.cid); delErr != nil {
		return nil, storeErr(delErr)
	}
	if err != nil {
		return t.result(StatusFailed, nil, err), nil
	}
	return t.result(StatusCompleted, outcome, nil), nil
}

func (t *turn) result(status Status, outcome interface{}, err error) *TurnResult {
	metrics.DialogTurns.WithLabelValues(t.root, string(status)).Inc()
	t.log.Info("Dialog turn finished", map[string]interface{}{
		"status":   string(status),
		"messages": len(t.tc.Messages()),
	})

	res := &TurnResult{
		ConversationID: t.cid,
		Dialog:         t.root,
		Status:         status,
		Outcome:        outcome,
		Messages:       t.tc.Messages(),
		Err:            err,
	}
	if res.Messages == nil {
		res.Messages = []models.Message{}
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}
