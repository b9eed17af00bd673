package dialog

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"crm-dialogs/internal/common/errors"
	"crm-dialogs/internal/common/logger"
)

// ==========================
// Test Dialogs
// ==========================

// askDialog asks a question and completes with the answer, or delegates to
// pickDialog when the answer is "child".
type askDialog struct {
	Asked bool `json:"asked"`
}

func (d *askDialog) Kind() string { return "ask" }

func (d *askDialog) State() ([]byte, error) { return json.Marshal(d) }

func (d *askDialog) Start(ctx context.Context, dc Context) error {
	d.Asked = true
	if err := dc.PostText(ctx, "question?"); err != nil {
		return err
	}
	return dc.Wait()
}

func (d *askDialog) Resume(ctx context.Context, dc Context, ev Event) error {
	switch ev.Kind {
	case EventUserText:
		switch ev.Text {
		case "child":
			return dc.Call(&pickDialog{})
		case "open":
			return dc.PostText(ctx, "left open")
		case "boom":
			return stderrors.New("boom")
		}
		return dc.Done(ev.Text)
	case EventChildResult:
		if ev.Err != nil {
			return dc.Fail(ev.Err)
		}
		return dc.Done(ev.Result)
	}
	return nil
}

type pickDialog struct {
	Prompted bool `json:"prompted"`
}

func (d *pickDialog) Kind() string { return "pick" }

func (d *pickDialog) State() ([]byte, error) { return json.Marshal(d) }

func (d *pickDialog) Start(ctx context.Context, dc Context) error {
	d.Prompted = true
	_ = dc.PostText(ctx, "pick one")
	return dc.Wait()
}

func (d *pickDialog) Resume(ctx context.Context, dc Context, ev Event) error {
	if ev.Text == "bad" {
		return dc.Fail(stderrors.New("bad pick"))
	}
	return dc.Done("picked:" + ev.Text)
}

// gateDialog waits for text, then holds its Resume open until release closes.
type gateDialog struct {
	entered chan<- string
	release <-chan struct{}
}

func (d *gateDialog) Kind() string { return "gate" }

func (d *gateDialog) State() ([]byte, error) { return []byte(`{}`), nil }

func (d *gateDialog) Start(_ context.Context, dc Context) error { return dc.Wait() }

func (d *gateDialog) Resume(_ context.Context, dc Context, ev Event) error {
	d.entered <- ev.Text
	<-d.release
	return dc.Done(ev.Text)
}

func restoreJSON[T any](state []byte) (Dialog, error) {
	var d T
	if err := json.Unmarshal(state, &d); err != nil {
		return nil, err
	}
	return any(&d).(Dialog), nil
}

func newTestRuntime(t *testing.T) (*Runtime, *MemoryStore) {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister(Definition{
		Kind:    "ask",
		New:     func(map[string]string) (Dialog, error) { return &askDialog{}, nil },
		Restore: restoreJSON[askDialog],
	})
	reg.MustRegister(Definition{Kind: "pick", Restore: restoreJSON[pickDialog]})

	store := NewMemoryStore()
	return NewRuntime(reg, store, logger.NewZapAdapter(zaptest.NewLogger(t))), store
}

func texts(res *TurnResult) []string {
	out := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		out = append(out, m.Text)
	}
	return out
}

// ==========================
// Runtime
// ==========================

func TestRuntime_BeginWaitsAndPersists(t *testing.T) {
	rt, store := newTestRuntime(t)
	ctx := context.Background()

	res, err := rt.Begin(ctx, "conv-1", &askDialog{})
	require.NoError(t, err)

	assert.Equal(t, StatusWaiting, res.Status)
	assert.Equal(t, "ask", res.Dialog)
	assert.Equal(t, []string{"question?"}, texts(res))
	assert.Equal(t, "conv-1", res.Messages[0].ConversationID)
	assert.NotEmpty(t, res.Messages[0].ID)

	frames, _ := store.LoadStack(ctx, "conv-1")
	require.Len(t, frames, 1)
	assert.Equal(t, "ask", frames[0].Kind)
	assert.True(t, frames[0].Waiting)
	assert.JSONEq(t, `{"asked":true}`, string(frames[0].State))
}

func TestRuntime_DeliverCompletes(t *testing.T) {
	rt, store := newTestRuntime(t)
	ctx := context.Background()

	_, err := rt.Begin(ctx, "conv-1", &askDialog{})
	require.NoError(t, err)

	res, err := rt.Deliver(ctx, "conv-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "hello", res.Outcome)
	assert.Empty(t, res.Messages)

	frames, _ := store.LoadStack(ctx, "conv-1")
	assert.Empty(t, frames, "completed stacks are removed")
}

func TestRuntime_ChildResultResumesParent(t *testing.T) {
	rt, store := newTestRuntime(t)
	ctx := context.Background()

	_, err := rt.Begin(ctx, "conv-1", &askDialog{})
	require.NoError(t, err)

	res, err := rt.Deliver(ctx, "conv-1", "child")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, res.Status)
	assert.Equal(t, []string{"pick one"}, texts(res))

	frames, _ := store.LoadStack(ctx, "conv-1")
	require.Len(t, frames, 2)
	assert.Equal(t, "ask", frames[0].Kind)
	assert.False(t, frames[0].Waiting)
	assert.Equal(t, "pick", frames[1].Kind)
	assert.True(t, frames[1].Waiting)

	res, err = rt.Deliver(ctx, "conv-1", "2")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "picked:2", res.Outcome)
}

func TestRuntime_ChildFailurePropagates(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	_, _ = rt.Begin(ctx, "conv-1", &askDialog{})
	_, _ = rt.Deliver(ctx, "conv-1", "child")

	res, err := rt.Deliver(ctx, "conv-1", "bad")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.EqualError(t, res.Err, "bad pick")
	assert.Equal(t, "bad pick", res.Error)
}

func TestRuntime_ReturnedErrorBecomesFailure(t *testing.T) {
	rt, store := newTestRuntime(t)
	ctx := context.Background()

	_, _ = rt.Begin(ctx, "conv-1", &askDialog{})

	res, err := rt.Deliver(ctx, "conv-1", "boom")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.EqualError(t, res.Err, "boom")

	frames, _ := store.LoadStack(ctx, "conv-1")
	assert.Empty(t, frames)
}

func TestRuntime_OpenDialogStaysOnStack(t *testing.T) {
	rt, store := newTestRuntime(t)
	ctx := context.Background()

	_, _ = rt.Begin(ctx, "conv-1", &askDialog{})

	res, err := rt.Deliver(ctx, "conv-1", "open")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, res.Status)
	assert.Equal(t, []string{"left open"}, texts(res))

	frames, _ := store.LoadStack(ctx, "conv-1")
	require.Len(t, frames, 1)
	assert.False(t, frames[0].Waiting)

	res, err = rt.Deliver(ctx, "conv-1", "anything")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrNotWaiting)
}

func TestRuntime_ConcurrentDeliverResumesOnce(t *testing.T) {
	rt, store := newTestRuntime(t)
	entered := make(chan string, 2)
	release := make(chan struct{})
	gate := func() Dialog { return &gateDialog{entered: entered, release: release} }
	rt.Registry().MustRegister(Definition{
		Kind:    "gate",
		New:     func(map[string]string) (Dialog, error) { return gate(), nil },
		Restore: func([]byte) (Dialog, error) { return gate(), nil },
	})
	ctx := context.Background()

	res, err := rt.BeginKind(ctx, "conv-1", "gate", nil)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, res.Status)

	first := make(chan *TurnResult, 1)
	go func() {
		res, err := rt.Deliver(ctx, "conv-1", "Acme")
		assert.NoError(t, err)
		first <- res
	}()
	assert.Equal(t, "Acme", <-entered)

	_, err = rt.Deliver(ctx, "conv-1", "Globex")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConversationBusy, errors.CodeOf(err))

	_, err = rt.Begin(ctx, "conv-1", &askDialog{})
	assert.Equal(t, errors.ErrCodeConversationBusy, errors.CodeOf(err))

	close(release)
	res = <-first
	require.NotNil(t, res)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "Acme", res.Outcome)
	assert.Empty(t, entered, "only one delivery resumed the waiting frame")

	frames, _ := store.LoadStack(ctx, "conv-1")
	assert.Empty(t, frames)

	_, err = rt.Deliver(ctx, "conv-1", "Globex")
	assert.Equal(t, errors.ErrCodeNoActiveDialog, errors.CodeOf(err), "lock is released after the turn")
}

func TestRuntime_BeginKind(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	res, err := rt.BeginKind(ctx, "conv-1", "ask", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, res.Status)

	_, err = rt.BeginKind(ctx, "conv-1", "pick", nil)
	assert.Equal(t, errors.ErrCodeUnknownDialog, errors.CodeOf(err))
}

func TestRuntime_DeliverWithoutDialog(t *testing.T) {
	rt, _ := newTestRuntime(t)

	_, err := rt.Deliver(context.Background(), "nobody", "hi")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoActiveDialog, errors.CodeOf(err))
}

func TestRuntime_BeginReplacesStack(t *testing.T) {
	rt, store := newTestRuntime(t)
	ctx := context.Background()

	_, _ = rt.Begin(ctx, "conv-1", &askDialog{})
	_, _ = rt.Deliver(ctx, "conv-1", "child")

	_, err := rt.Begin(ctx, "conv-1", &askDialog{})
	require.NoError(t, err)

	frames, _ := store.LoadStack(ctx, "conv-1")
	require.Len(t, frames, 1)
	assert.Equal(t, "ask", frames[0].Kind)
}

func TestRuntime_UnknownFrameKind(t *testing.T) {
	rt, store := newTestRuntime(t)
	ctx := context.Background()
	require.NoError(t, store.SaveStack(ctx, "conv-1", []Frame{{Kind: "gone", State: json.RawMessage(`{}`), Waiting: true}}))

	_, err := rt.Deliver(ctx, "conv-1", "hi")
	assert.Equal(t, errors.ErrCodeUnknownDialog, errors.CodeOf(err))
}

func TestRuntime_CorruptState(t *testing.T) {
	rt, store := newTestRuntime(t)
	ctx := context.Background()
	require.NoError(t, store.SaveStack(ctx, "conv-1", []Frame{{Kind: "ask", State: json.RawMessage(`[]`), Waiting: true}}))

	_, err := rt.Deliver(ctx, "conv-1", "hi")
	assert.Equal(t, errors.ErrCodeDialogStateInvalid, errors.CodeOf(err))
}

// ==========================
// TurnContext
// ==========================

func TestTurnContext_SingleActionPerStep(t *testing.T) {
	tc := NewTurnContext("conv-1", NewConversationData(NewMemoryStore(), "conv-1"))

	require.NoError(t, tc.Wait())
	assert.ErrorIs(t, tc.Done(true), ErrMultipleSuspensions)
	assert.ErrorIs(t, tc.Call(&pickDialog{}), ErrMultipleSuspensions)
	assert.True(t, tc.Waiting())

	tc.resetStep()
	assert.True(t, tc.Open())
	require.NoError(t, tc.Done(false))
	result, ok := tc.Completed()
	assert.True(t, ok)
	assert.Equal(t, false, result)
}

// ==========================
// Registry
// ==========================

func TestRegistry(t *testing.T) {
	rt, _ := newTestRuntime(t)
	reg := rt.Registry()

	assert.Equal(t, []string{"ask"}, reg.Kinds(), "child-only dialogs cannot be started")
	assert.Error(t, reg.Register(Definition{Kind: "ask", Restore: restoreJSON[askDialog]}))

	d, err := reg.New("ask", nil)
	require.NoError(t, err)
	assert.Equal(t, "ask", d.Kind())

	_, err = reg.New("pick", nil)
	assert.Equal(t, errors.ErrCodeUnknownDialog, errors.CodeOf(err))
}
