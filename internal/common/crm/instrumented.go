package crm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"crm-dialogs/internal/common/logger"
	"crm-dialogs/internal/common/metrics"
	"crm-dialogs/internal/models"
)

// Instrumented wraps a Client with a span, a duration histogram and a failure log per call.
type Instrumented struct {
	next    Client
	backend string
	tracer  trace.Tracer
	logger  logger.Logger
}

func NewInstrumented(next Client, backend string, tracer trace.Tracer, log logger.Logger) *Instrumented {
	return &Instrumented{next: next, backend: backend, tracer: tracer, logger: log}
}

func (c *Instrumented) observe(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := c.tracer.Start(ctx, "crm."+operation, trace.WithAttributes(
		append(attrs, attribute.String("crm.backend", c.backend))...,
	))
	start := time.Now()
	return ctx, func(err error) {
		metrics.CRMRequestDuration.WithLabelValues(c.backend, operation).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CRMRequestsFailed.WithLabelValues(c.backend, operation).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger.Warn("CRM call failed", map[string]interface{}{
				"backend":   c.backend,
				"operation": operation,
				"error":     err.Error(),
			})
		}
		span.End()
	}
}

func (c *Instrumented) RetrieveRecords(ctx context.Context, entityType string, query models.RecordQuery) (records []models.Record, err error) {
	ctx, done := c.observe(ctx, "retrieve_records", attribute.String("crm.entity", entityType))
	defer func() { done(err) }()
	return c.next.RetrieveRecords(ctx, entityType, query)
}

func (c *Instrumented) RetrieveRecord(ctx context.Context, ref models.RecordReference) (record *models.Record, err error) {
	ctx, done := c.observe(ctx, "retrieve_record", attribute.String("crm.entity", ref.LogicalName))
	defer func() { done(err) }()
	return c.next.RetrieveRecord(ctx, ref)
}

func (c *Instrumented) RetrieveFormsOf(ctx context.Context, entityType string, max int) (forms []models.FormDefinition, err error) {
	ctx, done := c.observe(ctx, "retrieve_forms", attribute.String("crm.entity", entityType))
	defer func() { done(err) }()
	return c.next.RetrieveFormsOf(ctx, entityType, max)
}

func (c *Instrumented) RenderReadOnlyForm(ctx context.Context, record *models.Record, form models.FormDefinition) (attachment *models.Attachment, err error) {
	ctx, done := c.observe(ctx, "render_form", attribute.String("crm.form", form.Name))
	defer func() { done(err) }()
	return c.next.RenderReadOnlyForm(ctx, record, form)
}
