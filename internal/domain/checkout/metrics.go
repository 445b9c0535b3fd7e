package checkout

import (
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
)

type engineMetrics struct {
	orders   metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

func newEngineMetrics(m metric.Meter) (engineMetrics, error) {
	var (
		out engineMetrics
		err error
	)
	if out.orders, err = m.Int64Counter("market.checkout.orders",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return out, errors.Wrap(err, "orders counter")
	}
	if out.failures, err = m.Int64Counter("market.checkout.failures",
		metric.WithDescription("Failed checkouts by error kind"),
	); err != nil {
		return out, errors.Wrap(err, "failures counter")
	}
	if out.duration, err = m.Float64Histogram("market.checkout.duration",
		metric.WithDescription("Checkout duration"),
		metric.WithUnit("s"),
	); err != nil {
		return out, errors.Wrap(err, "duration histogram")
	}
	return out, nil
}
