// internal/common/errors/handler.go
package errors

import (
	"context"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// JobError is the Zeebe-facing form of a StandardError.
type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
	Retries   int    `json:"retries"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("JobError[%s]: %s", e.Code, e.Message)
}

func (e *JobError) ToErrorVariables() map[string]interface{} {
	return map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
}

// ToJobError converts err to a JobError with the retry budget for its code.
func ToJobError(err error) *JobError {
	stdErr := Wrap(err)
	retries := 0
	if stdErr.Retryable {
		retries = GetRetryCount(stdErr.Code)
	}
	return &JobError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
	}
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

// ErrorHandler fails or throws Zeebe jobs from worker errors.
type ErrorHandler struct {
	logger Logger
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleJobError fails the job with retries when the error is retryable and the job
// still has retries left, otherwise throws a BPMN error.
func (h *ErrorHandler) HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	jobErr := ToJobError(err)

	h.logger.Error("Job failed", map[string]interface{}{
		"jobKey":           job.Key,
		"jobType":          job.Type,
		"errorCode":        jobErr.Code,
		"message":          jobErr.Message,
		"details":          jobErr.Details,
		"retryable":        jobErr.Retryable,
		"retries":          jobErr.Retries,
		"errorCategory":    GetErrorCategory(ErrorCode(jobErr.Code)),
		"workflowInstance": job.ProcessInstanceKey,
	})

	if jobErr.Retries > 0 && job.Retries > 0 {
		h.failJob(ctx, client, job, jobErr)
		return
	}
	h.throwError(ctx, client, job, jobErr)
}

func (h *ErrorHandler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, jobErr *JobError) {
	retries := jobErr.Retries
	if int(job.Retries)-1 < retries {
		retries = int(job.Retries) - 1
	}

	cmd := client.NewFailJobCommand().
		JobKey(job.Key).
		Retries(int32(retries)).
		ErrorMessage(fmt.Sprintf("[%s] %s", jobErr.Code, jobErr.Message))

	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("Failed to send fail job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

func (h *ErrorHandler) throwError(ctx context.Context, client worker.JobClient, job entities.Job, jobErr *JobError) {
	cmd := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(jobErr.Code).
		ErrorMessage(jobErr.Message)

	if withVars, err := cmd.VariablesFromMap(jobErr.ToErrorVariables()); err == nil {
		if _, err := withVars.Send(ctx); err != nil {
			h.logger.Error("Failed to throw error", map[string]interface{}{
				"jobKey": job.Key,
				"error":  err.Error(),
			})
		}
		return
	}

	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("Failed to throw error", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}
