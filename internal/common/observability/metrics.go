package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider     *metric.MeterProvider
	meter             otelmetric.Meter
	reconcileCounter  otelmetric.Int64Counter
	reconcileDuration otelmetric.Float64Histogram
	lockWait          otelmetric.Float64Histogram
}

// New wires an otel meter provider onto the default prometheus registry. On
// exporter failure it returns an Observability whose methods are no-ops.
func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	reconcileCounter, _ := meter.Int64Counter(
		"lifecycle.reconcile.calls",
		otelmetric.WithDescription("Number of reconcile calls"),
	)

	reconcileDuration, _ := meter.Float64Histogram(
		"lifecycle.reconcile.duration",
		otelmetric.WithDescription("Reconcile duration including side effects"),
		otelmetric.WithUnit("ms"),
	)

	lockWait, _ := meter.Float64Histogram(
		"lifecycle.reconcile.lock_wait",
		otelmetric.WithDescription("Time spent waiting for the per-application lock"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider:     provider,
		meter:             meter,
		reconcileCounter:  reconcileCounter,
		reconcileDuration: reconcileDuration,
		lockWait:          lockWait,
	}
}

// Noop returns an Observability that records nothing.
func Noop() *Observability {
	return &Observability{}
}

func (o *Observability) RecordReconcile(ctx context.Context, duration time.Duration, trigger, outcome string) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	)
	if o.reconcileCounter != nil {
		o.reconcileCounter.Add(ctx, 1, attrs)
	}
	if o.reconcileDuration != nil {
		o.reconcileDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	}
}

func (o *Observability) RecordLockWait(ctx context.Context, wait time.Duration) {
	if o == nil || o.lockWait == nil {
		return
	}
	o.lockWait.Record(ctx, float64(wait.Microseconds())/1000)
}

func (o *Observability) Shutdown() {
	if o != nil && o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
