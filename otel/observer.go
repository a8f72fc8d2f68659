// Package otel records geolocation lookups and availability probes with
// OpenTelemetry metrics and spans.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/naligeo/geo"
)

// Observer implements geo.Observer on top of a meter and tracer.
type Observer struct {
	tracer trace.Tracer

	lookups   metric.Int64Counter
	retries   metric.Int64Counter
	probes    metric.Int64Counter
	latency   metric.Float64Histogram
	overflows metric.Int64Counter
}

// NewObserver creates an observer bound to the provided meter/tracer.
func NewObserver(meter metric.Meter, tracer trace.Tracer) (*Observer, error) {
	lookups, err := meter.Int64Counter(
		"naligeo.lookups",
		metric.WithDescription("Number of nali lookups"),
	)
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter(
		"naligeo.lookup.retries",
		metric.WithDescription("Number of retried nali lookup attempts"),
	)
	if err != nil {
		return nil, err
	}
	probes, err := meter.Int64Counter(
		"naligeo.probes",
		metric.WithDescription("Number of nali availability probes"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"naligeo.latency",
		metric.WithDescription("nali process latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	overflows, err := meter.Int64Counter(
		"naligeo.lookup.output_overflows",
		metric.WithDescription("Lookups whose stdout exceeded the capture capacity"),
	)
	if err != nil {
		return nil, err
	}

	return &Observer{
		tracer:    tracer,
		lookups:   lookups,
		retries:   retries,
		probes:    probes,
		latency:   latency,
		overflows: overflows,
	}, nil
}

// ObserveLookup records one lookup result.
func (o *Observer) ObserveLookup(observation geo.LookupObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool", observation.Tool),
		attribute.String("operation", "lookup"),
		attribute.Bool("success", observation.Success),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.lookups.Add(ctx, 1, options)
	o.latency.Record(ctx, observation.Duration.Seconds(), options)
	if observation.Overflowed {
		o.overflows.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", observation.Tool)))
	}

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "nali.lookup", trace.WithAttributes(append(attrs,
		attribute.Int("attempts", observation.Attempts),
		attribute.Int("output_size", observation.OutputSize),
	)...))
	if !observation.Success {
		span.SetStatus(codes.Error, observation.ErrorCode)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// ObserveRetry records one retried attempt.
func (o *Observer) ObserveRetry(observation geo.RetryObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool", observation.Tool),
		attribute.Int("attempt", observation.Attempt),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}
	o.retries.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// ObserveProbe records one availability probe.
func (o *Observer) ObserveProbe(observation geo.ProbeObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool", observation.Tool),
		attribute.String("operation", "probe"),
		attribute.Bool("available", observation.Available),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.probes.Add(ctx, 1, options)
	o.latency.Record(ctx, observation.Duration.Seconds(), options)

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "nali.probe", trace.WithAttributes(attrs...))
	if !observation.Available {
		span.SetStatus(codes.Error, observation.ErrorCode)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

var _ geo.Observer = (*Observer)(nil)
