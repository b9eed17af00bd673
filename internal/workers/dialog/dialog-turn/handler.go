package dialogturn

import (
	"context"
	"fmt"
	"time"

	"crm-dialogs/internal/common/errors"
	"crm-dialogs/internal/common/logger"
	"crm-dialogs/internal/common/metrics"
	"crm-dialogs/internal/common/observability"
	"crm-dialogs/internal/dialog"
	searchcontact "crm-dialogs/internal/dialogs/search-contact"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "crm.dialog.turn"

// Handler runs one dialog turn per job: a begin event starts a dialog and a
// message event delivers user text to the conversation's active dialog.
type Handler struct {
	config       *Config
	runtime      *dialog.Runtime
	obs          *observability.Observability
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
}

func NewHandler(cfg *Config, rt *dialog.Runtime, obs *observability.Observability, log logger.Logger) *Handler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DefaultDialog == "" {
		cfg.DefaultDialog = searchcontact.Kind
	}
	return &Handler{
		config:       cfg,
		runtime:      rt,
		obs:          obs,
		logger:       log.With(map[string]interface{}{"taskType": TaskType}),
		errorHandler: errors.NewErrorHandler(log),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("Processing dialog turn", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInputParsingError(err)
	}
	return parseVariables(variables)
}

func parseVariables(variables map[string]interface{}) (*Input, error) {
	result := GetInputSchema().Validate(variables)
	if !result.Valid {
		return nil, errors.NewInputValidationError(fmt.Sprintf("Validation errors: %v", result.GetErrorMessages()))
	}

	input := &Input{ConversationID: variables["conversationId"].(string)}
	if d, ok := variables["dialog"].(string); ok {
		input.Dialog = d
	}
	if name, ok := variables["accountName"].(string); ok {
		input.AccountName = name
	}
	event := variables["event"].(map[string]interface{})
	input.Event.Type = event["type"].(string)
	if text, ok := event["text"].(string); ok {
		input.Event.Text = text
	}
	return input, nil
}

// execute runs the turn. Dialog failures are part of the Output; only
// infrastructure and input errors are returned.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	start := time.Now()

	var (
		res *dialog.TurnResult
		err error
	)
	switch input.Event.Type {
	case EventBegin:
		kind := input.Dialog
		if kind == "" {
			kind = h.config.DefaultDialog
		}
		res, err = h.runtime.BeginKind(ctx, input.ConversationID, kind, map[string]string{
			searchcontact.ArgAccountName: input.AccountName,
		})
	case EventMessage:
		res, err = h.runtime.Deliver(ctx, input.ConversationID, input.Event.Text)
	default:
		return nil, errors.NewInvalidTurnEventError(fmt.Sprintf("event type %q", input.Event.Type))
	}
	if err != nil {
		return nil, err
	}

	h.obs.RecordTurn(ctx, res.Dialog, string(res.Status), time.Since(start))

	output := &Output{
		DialogStatus:  string(res.Status),
		DialogOutcome: res.Outcome,
		Messages:      res.Messages,
	}
	if res.Err != nil {
		output.DialogError = res.Error
		output.DialogErrorCode = string(errors.CodeOf(res.Err))
	}
	return output, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	if _, err := request.Send(ctx); err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	h.logger.Info("Completed dialog turn", map[string]interface{}{
		"jobKey":       job.GetKey(),
		"dialogStatus": output.DialogStatus,
		"messages":     len(output.Messages),
	})
}
