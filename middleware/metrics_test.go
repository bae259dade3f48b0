package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	mw "github.com/xraph/tether/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// dispatchesByOutcome sums tether.job.dispatches per outcome attribute.
func dispatchesByOutcome(t *testing.T, rm metricdata.ResourceMetrics) map[string]int64 {
	t.Helper()
	m := findMetric(rm, "tether.job.dispatches")
	if m == nil {
		t.Fatal("tether.job.dispatches metric not found")
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("dispatches data = %T, want Sum[int64]", m.Data)
	}
	got := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("outcome"))
		got[v.AsString()] += dp.Value
	}
	return got
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_, _ = m(context.Background(), newTestJob(), func(_ context.Context) (any, error) {
		return nil, nil
	})

	metric := findMetric(collectMetrics(t, reader), "tether.job.duration")
	if metric == nil {
		t.Fatal("tether.job.duration metric not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("duration points = %+v, want one point with count 1", hist.DataPoints)
	}
	outcome, _ := hist.DataPoints[0].Attributes.Value(attribute.Key("outcome"))
	if outcome.AsString() != "completed" {
		t.Errorf("duration outcome = %q, want completed", outcome.AsString())
	}
}

func TestMetrics_Outcomes(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))
	j := newTestJob()

	ok := func(context.Context) (any, error) { return "done", nil }
	boom := func(context.Context) (any, error) { return nil, errors.New("boom") }

	_, _ = m(context.Background(), j, ok)
	_, _ = m(context.Background(), j, ok)
	_, _ = m(context.Background(), j, boom)

	parked := mw.WithSuspended(context.Background(), func() bool { return true })
	_, _ = m(parked, j, ok)
	// An error after the lease was given up still counts as a suspension.
	_, _ = m(parked, j, boom)

	notParked := mw.WithSuspended(context.Background(), func() bool { return false })
	_, _ = m(notParked, j, ok)

	got := dispatchesByOutcome(t, collectMetrics(t, reader))
	want := map[string]int64{"completed": 3, "failed": 1, "suspended": 2}
	for outcome, n := range want {
		if got[outcome] != n {
			t.Errorf("dispatches{outcome=%s} = %d, want %d", outcome, got[outcome], n)
		}
	}
	if len(got) != len(want) {
		t.Errorf("outcomes = %v, want only %v", got, want)
	}
}

func TestMetrics_SuspensionReadAfterNext(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	suspended := false
	ctx := mw.WithSuspended(context.Background(), func() bool { return suspended })
	_, _ = m(ctx, newTestJob(), func(context.Context) (any, error) {
		suspended = true
		return nil, nil
	})

	got := dispatchesByOutcome(t, collectMetrics(t, reader))
	if got["suspended"] != 1 || got["completed"] != 0 {
		t.Errorf("outcomes = %v, want one suspended dispatch", got)
	}
}

func TestMetrics_Attributes(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_, _ = m(context.Background(), newTestJob(), func(_ context.Context) (any, error) {
		return nil, errors.New("boom")
	})

	rm := collectMetrics(t, reader)
	for _, name := range []string{"tether.job.duration", "tether.job.dispatches"} {
		metric := findMetric(rm, name)
		if metric == nil {
			t.Errorf("%s metric not found", name)
			continue
		}

		var set attribute.Set
		switch data := metric.Data.(type) {
		case metricdata.Histogram[float64]:
			if len(data.DataPoints) > 0 {
				set = data.DataPoints[0].Attributes
			}
		case metricdata.Sum[int64]:
			if len(data.DataPoints) > 0 {
				set = data.DataPoints[0].Attributes
			}
		}

		want := map[string]string{
			"job_name": "send-email",
			"queue":    "default",
			"outcome":  "failed",
		}
		for key, w := range want {
			v, ok := set.Value(attribute.Key(key))
			if !ok {
				t.Errorf("%s: missing attribute %q", name, key)
				continue
			}
			if v.AsString() != w {
				t.Errorf("%s: attribute %q = %q, want %q", name, key, v.AsString(), w)
			}
		}
	}
}

func TestDispatchOutcome(t *testing.T) {
	bg := context.Background()
	if got := mw.DispatchOutcome(bg, nil); got != mw.OutcomeCompleted {
		t.Errorf("no error = %q, want completed", got)
	}
	if got := mw.DispatchOutcome(bg, errors.New("x")); got != mw.OutcomeFailed {
		t.Errorf("error = %q, want failed", got)
	}
	parked := mw.WithSuspended(bg, func() bool { return true })
	if got := mw.DispatchOutcome(parked, errors.New("x")); got != mw.OutcomeSuspended {
		t.Errorf("suspended with error = %q, want suspended", got)
	}
}

func TestMetrics_DefaultNoopSafe(t *testing.T) {
	// Calling Metrics() without a global provider should not panic.
	m := mw.Metrics()

	called := false
	_, err := m(context.Background(), newTestJob(), func(_ context.Context) (any, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}
