package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestRecorder(t *testing.T) (*OTel, *sdkmetric.ManualReader) {
	t.Helper()
	var reader = sdkmetric.NewManualReader()
	var mp = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	r, err := NewOTel(mp)
	if err != nil {
		t.Fatalf("NewOTel: %v", err)
	}
	return r, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	t.Fatalf("metric %q not found", name)
	return nil
}

func TestScalar(t *testing.T) {
	var r, reader = newTestRecorder(t)
	var ctx = context.Background()
	r.Scalar(ctx, "D/loss_real", 1.5, 10)
	r.Scalar(ctx, "G/loss_rec", 0.25, 10)
	r.Scalar(ctx, "D/loss_real", 0.5, 20)

	var gauge, ok = findMetric(t, reader, "stargan.loss").Data.(metricdata.Gauge[float64])
	if !ok {
		t.Fatal("stargan.loss is not a float gauge")
	}
	var values = make(map[string]float64)
	for _, dp := range gauge.DataPoints {
		tag, _ := dp.Attributes.Value(attribute.Key("tag"))
		values[tag.AsString()] = dp.Value
	}
	if values["D/loss_real"] != 0.5 || values["G/loss_rec"] != 0.25 || len(values) != 2 {
		t.Errorf("values %v", values)
	}

	step, ok := findMetric(t, reader, "stargan.step").Data.(metricdata.Gauge[int64])
	if !ok || len(step.DataPoints) != 1 || step.DataPoints[0].Value != 20 {
		t.Errorf("step %+v", step)
	}
}

func TestIteration(t *testing.T) {
	var r, reader = newTestRecorder(t)
	for i := 0; i < 3; i++ {
		r.Iteration(context.Background())
	}
	var sum, ok = findMetric(t, reader, "stargan.iterations").Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
		t.Errorf("iterations %+v", sum)
	}
}

func TestPrometheusHandler(t *testing.T) {
	p, err := NewPrometheusProvider("test-run")
	if err != nil {
		t.Fatal(err)
	}
	defer p.Shutdown(context.Background())
	r, err := NewOTel(p.MeterProvider)
	if err != nil {
		t.Fatal(err)
	}
	r.Scalar(context.Background(), "G/loss_fake", 2, 1)

	var rec = httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "stargan_loss") || !strings.Contains(string(body), `tag="G/loss_fake"`) {
		t.Errorf("unexpected exposition:\n%s", body)
	}
}
