package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DeliveryMetrics records webhook delivery and circuit breaker activity.
type DeliveryMetrics interface {
	// RecordAttempt counts one outbound call attempt against target.
	// Outcome examples: "success", "retryable", "permanent", "not_sent", "short_circuited"
	RecordAttempt(ctx context.Context, target, outcome string)

	// RecordCircuitTransition counts a circuit breaker state change for target.
	RecordCircuitTransition(ctx context.Context, target, from, to string)

	// RecordNotificationOutcome counts notifications leaving DELIVERING, labelled by the new status.
	RecordNotificationOutcome(ctx context.Context, status string)
}

type deliveryMetrics struct {
	attemptCounter    metric.Int64Counter
	transitionCounter metric.Int64Counter
	outcomeCounter    metric.Int64Counter
}

// NewDeliveryMetrics creates a DeliveryMetrics implementation using the provided meter provider.
func NewDeliveryMetrics(meterProvider metric.MeterProvider, namespace string) (DeliveryMetrics, error) {
	meter := meterProvider.Meter(namespace)

	attemptCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_delivery_attempts_total", namespace),
		metric.WithDescription("Total number of outbound call attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery attempt counter: %w", err)
	}

	transitionCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_circuit_transitions_total", namespace),
		metric.WithDescription("Total number of circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit transition counter: %w", err)
	}

	outcomeCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_notification_outcomes_total", namespace),
		metric.WithDescription("Total number of notifications leaving the delivering state"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification outcome counter: %w", err)
	}

	return &deliveryMetrics{
		attemptCounter:    attemptCounter,
		transitionCounter: transitionCounter,
		outcomeCounter:    outcomeCounter,
	}, nil
}

func (d *deliveryMetrics) RecordAttempt(ctx context.Context, target, outcome string) {
	d.attemptCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("target", target),
			attribute.String("outcome", outcome),
		),
	)
}

func (d *deliveryMetrics) RecordCircuitTransition(ctx context.Context, target, from, to string) {
	d.transitionCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("target", target),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

func (d *deliveryMetrics) RecordNotificationOutcome(ctx context.Context, status string) {
	d.outcomeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// NoOpDeliveryMetrics is a no-op implementation of DeliveryMetrics for when metrics are disabled.
type NoOpDeliveryMetrics struct{}

// NewNoOpDeliveryMetrics creates a no-op DeliveryMetrics implementation.
func NewNoOpDeliveryMetrics() DeliveryMetrics {
	return &NoOpDeliveryMetrics{}
}

// RecordAttempt does nothing when metrics are disabled.
func (n *NoOpDeliveryMetrics) RecordAttempt(ctx context.Context, target, outcome string) {}

// RecordCircuitTransition does nothing when metrics are disabled.
func (n *NoOpDeliveryMetrics) RecordCircuitTransition(ctx context.Context, target, from, to string) {}

// RecordNotificationOutcome does nothing when metrics are disabled.
func (n *NoOpDeliveryMetrics) RecordNotificationOutcome(ctx context.Context, status string) {}
