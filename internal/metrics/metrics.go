// Package metrics records training scalars (losses, learning rates) through
// OpenTelemetry. A Prometheus exporter lets the values be scraped while
// training runs.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ChizhovVadim/StarganVC"

// Recorder receives scalar summaries of the training loop.
type Recorder interface {
	// Scalar records value under tag, for example "D/loss_real", at step.
	Scalar(ctx context.Context, tag string, value float64, step int)
	// Iteration counts one finished training iteration.
	Iteration(ctx context.Context)
}

type Nop struct{}

func (Nop) Scalar(context.Context, string, float64, int) {}
func (Nop) Iteration(context.Context)                    {}

// OTel is a Recorder backed by OpenTelemetry instruments. Safe for
// concurrent use.
type OTel struct {
	loss       metric.Float64Gauge
	step       metric.Int64Gauge
	iterations metric.Int64Counter
}

func NewOTel(mp metric.MeterProvider) (*OTel, error) {
	var m = mp.Meter(meterName)
	var r = &OTel{}
	var err error
	if r.loss, err = m.Float64Gauge("stargan.loss",
		metric.WithDescription("Last logged value of a training scalar by tag."),
	); err != nil {
		return nil, err
	}
	if r.step, err = m.Int64Gauge("stargan.step",
		metric.WithDescription("Iteration of the last logged scalars."),
	); err != nil {
		return nil, err
	}
	if r.iterations, err = m.Int64Counter("stargan.iterations",
		metric.WithDescription("Training iterations finished by this process."),
	); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OTel) Scalar(ctx context.Context, tag string, value float64, step int) {
	r.loss.Record(ctx, value, metric.WithAttributes(attribute.String("tag", tag)))
	r.step.Record(ctx, int64(step))
}

func (r *OTel) Iteration(ctx context.Context) {
	r.iterations.Add(ctx, 1)
}
