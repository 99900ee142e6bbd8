package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/kalanatw/growaloe-crm/internal/jobs"
)

func TestProfitRefreshJobReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	// Cached rebuilds finish fast and mostly succeed.
	for i := 0; i < 40; i++ {
		tracker := metrics.Track("profit:summary_refresh")
		time.Sleep(2 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending refresh tracker: %v", err)
		}
		metrics.AddSummaryRefresh("daily")
	}

	// Stale scans walk every open assignment and run slower.
	for i := 0; i < 5; i++ {
		tracker := metrics.Track("ledger:stale_scan")
		time.Sleep(10 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending scan tracker: %v", err)
		}
	}
	metrics.SetStaleAssignments(3)

	// A couple of failures must propagate to the caller.
	for i := 0; i < 2; i++ {
		tracker := metrics.Track("profit:summary_refresh")
		if err := tracker.End(errors.New("redis timeout")); err == nil {
			t.Fatal("expected error to propagate")
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "growaloe_jobs_total", map[string]string{"job": "profit:summary_refresh", "status": "success"})
	failure := metricValue(t, families, "growaloe_jobs_total", map[string]string{"job": "profit:summary_refresh", "status": "failure"})
	if success+failure == 0 {
		t.Fatal("no refresh executions recorded")
	}
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("refresh success ratio too low: %f", ratio)
	}

	if refreshed := metricValue(t, families, "growaloe_profit_summaries_refreshed_total", map[string]string{"period": "daily"}); refreshed != 40 {
		t.Fatalf("expected 40 daily refreshes, got %f", refreshed)
	}
	if stale := metricValue(t, families, "growaloe_stale_assignments", nil); stale != 3 {
		t.Fatalf("expected stale gauge 3, got %f", stale)
	}

	scanDuration := histogramMean(t, families, "growaloe_job_duration_seconds", map[string]string{"job": "ledger:stale_scan"})
	if scanDuration > 2.0 {
		t.Fatalf("stale scan duration above budget: %f", scanDuration)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
