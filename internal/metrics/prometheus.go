package metrics

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// PrometheusHandler returns an http.HandlerFunc that writes metrics in
// Prometheus text exposition format (version 0.0.4). Metrics are formatted
// by hand; there is no client library behind it.
func PrometheusHandler(collector *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		WriteText(w, collector)
	}
}

// WriteText writes the collector's metrics in Prometheus text format.
func WriteText(w io.Writer, collector *Collector) {
	stats := collector.Stats()

	writeMetric(w, "modelbench_comparisons_total",
		"Total number of completed comparisons.",
		"counter", stats.TotalComparisons)

	writeMetric(w, "modelbench_results_total",
		"Total number of per-model results.",
		"counter", stats.TotalResults)

	writeMetric(w, "modelbench_result_errors_total",
		"Total number of per-model results that failed.",
		"counter", stats.TotalErrors)

	writeMetric(w, "modelbench_prompt_tokens_total",
		"Prompt tokens reported by the provider.",
		"counter", stats.PromptTokens)

	writeMetric(w, "modelbench_completion_tokens_total",
		"Completion tokens reported by the provider.",
		"counter", stats.CompletionTokens)

	writeMetricFloat(w, "modelbench_cost_usd_total",
		"Total cost in USD of priced results.",
		"counter", stats.CostUSD)

	writeMetric(w, "modelbench_active_comparisons",
		"Number of comparisons currently running.",
		"gauge", stats.ActiveComparisons)

	writeMetricFloat(w, "modelbench_uptime_seconds",
		"Number of seconds since the collector started.",
		"gauge", time.Since(collector.startTime).Seconds())

	models := collector.Models()
	if len(models) == 0 {
		return
	}

	fmt.Fprintf(w, "# HELP %s %s\n", "modelbench_model_results_total", "Per-model results by outcome.")
	fmt.Fprintf(w, "# TYPE %s counter\n", "modelbench_model_results_total")
	for _, m := range models {
		fmt.Fprintf(w, "modelbench_model_results_total{model=%q,outcome=\"ok\"} %d\n", m.Model, m.Results-m.Errors)
		fmt.Fprintf(w, "modelbench_model_results_total{model=%q,outcome=\"error\"} %d\n", m.Model, m.Errors)
	}

	fmt.Fprintf(w, "# HELP %s %s\n", "modelbench_model_cost_usd_total", "Per-model cost in USD.")
	fmt.Fprintf(w, "# TYPE %s counter\n", "modelbench_model_cost_usd_total")
	for _, m := range models {
		fmt.Fprintf(w, "modelbench_model_cost_usd_total{model=%q} %g\n", m.Model, m.CostUSD)
	}
}

// writeMetric writes a single integer metric in Prometheus text format.
func writeMetric(w io.Writer, name, help, metricType string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

// writeMetricFloat writes a single float64 metric in Prometheus text format.
func writeMetricFloat(w io.Writer, name, help, metricType string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %g\n", name, value)
}
