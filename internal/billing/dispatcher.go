package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/courseledger/internal/ledger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is the terminal disposition of one dispatched event.
type Outcome string

const (
	// OutcomeProcessed: the handler ran and the ledger entry is done.
	OutcomeProcessed Outcome = "processed"
	// OutcomeDuplicate: the event id was already done; no work performed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeConcurrent: another invocation holds the claim; no work performed.
	OutcomeConcurrent Outcome = "concurrent"
	// OutcomeIgnored: unknown event type, acknowledged as a no-op.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeFailed: the handler failed; the ledger entry is errored and the
	// event is still acknowledged to the provider.
	OutcomeFailed Outcome = "failed"
)

// Dispatcher drives one event through Claimed -> HandlerRun -> Finalized.
// Signature verification happens before events reach the dispatcher.
type Dispatcher struct {
	ledger    ledger.Ledger
	processor *Processor
	logger    *slog.Logger
	metrics   *Metrics
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(led ledger.Ledger, processor *Processor, logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		ledger:    led,
		processor: processor,
		logger:    logger,
		metrics:   metrics,
	}
}

// Dispatch processes one verified event. The returned error is non-nil only
// when the claim transaction itself failed, i.e. no state exists yet and the
// provider should retry delivery. Every other failure mode is finalized in the
// ledger and acknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) (Outcome, error) {
	start := time.Now()

	tracer := otel.Tracer("courseledger/billing")
	ctx, span := tracer.Start(ctx, "dispatch "+string(ev.Type),
		trace.WithAttributes(
			attribute.String("billing.event_id", ev.ID),
			attribute.String("billing.event_type", string(ev.Type)),
		))
	outcome, err := d.dispatch(ctx, ev)
	span.SetAttributes(attribute.String("billing.outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if err == nil {
		d.metrics.ObserveEvent(string(ev.Type), outcomeLabel(outcome), time.Since(start))
	}
	return outcome, err
}

func (d *Dispatcher) dispatch(ctx context.Context, ev *Event) (Outcome, error) {
	claim, err := d.ledger.Claim(ctx, ev.ID, string(ev.Type), ev.Raw)
	if err != nil {
		return "", fmt.Errorf("claim failed for event %s: %w", ev.ID, err)
	}

	switch claim {
	case ledger.AlreadyDone:
		d.logger.InfoContext(ctx, "event already processed, ignoring",
			"event_id", ev.ID, "event_type", ev.Type)
		return OutcomeDuplicate, nil
	case ledger.AlreadyProcessing:
		d.logger.InfoContext(ctx, "event being processed concurrently, ignoring",
			"event_id", ev.ID, "event_type", ev.Type)
		return OutcomeConcurrent, nil
	case ledger.PreviouslyErrored:
		d.logger.InfoContext(ctx, "retrying previously errored event",
			"event_id", ev.ID, "event_type", ev.Type)
	}

	if !ev.Handled() {
		// Forward-compatible no-op: unknown event types are recorded and
		// acknowledged, never treated as errors.
		d.logger.InfoContext(ctx, "ignoring unhandled event type",
			"event_id", ev.ID, "event_type", ev.Type)
		if err := d.ledger.MarkDone(ctx, ev.ID); err != nil {
			return "", fmt.Errorf("failed to finalize ignored event %s: %w", ev.ID, err)
		}
		return OutcomeIgnored, nil
	}

	if err := d.runHandler(ctx, ev); err != nil {
		d.metrics.RecordHandlerError(string(ev.Type))
		d.logger.ErrorContext(ctx, "event handler failed",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"error", err)
		if markErr := d.ledger.MarkError(ctx, ev.ID, err.Error()); markErr != nil {
			d.logger.ErrorContext(ctx, "failed to finalize errored event",
				"event_id", ev.ID, "error", markErr)
		}
		// Acknowledged anyway: a provider retry storm cannot fix a handler
		// bug. The errored entry is picked up by the reconciliation job.
		return OutcomeFailed, nil
	}

	if err := d.ledger.MarkDone(ctx, ev.ID); err != nil {
		// Side effects are applied but the entry is stuck in processing; a
		// redelivery will short-circuit on AlreadyProcessing. Surface loudly.
		return "", fmt.Errorf("failed to finalize event %s: %w", ev.ID, err)
	}
	return OutcomeProcessed, nil
}

// runHandler invokes the processor, converting panics into errors so a bad
// enum or handler bug ends as a ledger error instead of taking the request
// down without finalizing.
func (d *Dispatcher) runHandler(ctx context.Context, ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.processor.Process(ctx, ev)
}

func outcomeLabel(o Outcome) string {
	switch o {
	case OutcomeProcessed:
		return OutcomeLabelProcessed
	case OutcomeDuplicate:
		return OutcomeLabelDuplicate
	case OutcomeConcurrent:
		return OutcomeLabelConcurrent
	case OutcomeIgnored:
		return OutcomeLabelIgnored
	case OutcomeFailed:
		return OutcomeLabelError
	default:
		return string(o)
	}
}
