package checkout

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/kart-marketplace/internal/domain/order"
)

const (
	instrumentationName = "github.com/xenking/kart-marketplace/internal/domain/checkout"

	// DefaultTimeout bounds a checkout transaction when no timeout is set.
	DefaultTimeout = 10 * time.Second
)

type options struct {
	clock         func() time.Time
	newID         func() string
	numbers       order.NumberGenerator
	timeout       time.Duration
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
}

func defaultOptions() options {
	return options{
		clock:         time.Now,
		newID:         newID,
		numbers:       order.GenerateNumber,
		timeout:       DefaultTimeout,
		meterProvider: metricnoop.NewMeterProvider(),
		tracer:        tracenoop.NewTracerProvider().Tracer(instrumentationName),
	}
}

// Option configures an Engine.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithIDGenerator overrides how order and line ids are generated.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		o.newID = gen
	}
}

// WithNumberGenerator overrides how order numbers are generated.
func WithNumberGenerator(gen order.NumberGenerator) Option {
	return func(o *options) {
		o.numbers = gen
	}
}

// WithTimeout bounds each checkout. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithMeterProvider sets the provider for checkout metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// WithTracerProvider sets the provider for checkout spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(instrumentationName)
		}
	}
}
