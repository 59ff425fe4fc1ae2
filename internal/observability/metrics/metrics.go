package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openmcp_orchestrator"

var (
	// Registry holds every collector exported by the orchestrator.
	Registry = prometheus.NewRegistry()

	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Runs finished, by outcome and termination reason.",
	}, []string{"outcome", "reason"})

	stageVisits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_visits_total",
		Help:      "Visits to each orchestration stage.",
	}, []string{"stage"})

	toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool dispatches by tool name and result.",
	}, []string{"tool", "status"})

	toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "Tool dispatch latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	interrupts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "interrupts_total",
		Help:      "Human interrupts raised and resolved.",
	}, []string{"kind", "event"})

	reasoningLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reasoning_duration_seconds",
		Help:      "Reasoning adapter latency by calling stage.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"stage", "status"})

	jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Asynchronous jobs by final status.",
	}, []string{"kind", "status"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by handler, method and status code.",
	}, []string{"handler", "method", "code"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler", "method"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		runsTotal, stageVisits, toolCalls, toolDuration, interrupts,
		reasoningLatency, jobsTotal, httpRequests, httpDuration,
	)
}

// ObserveRun records a finished run.
func ObserveRun(outcome, reason string) {
	runsTotal.WithLabelValues(outcome, reason).Inc()
}

// ObserveStage records a visit to an orchestration stage.
func ObserveStage(stage string) {
	stageVisits.WithLabelValues(stage).Inc()
}

// ObserveToolCall records one dispatch through the tool registry.
func ObserveToolCall(tool string, failed bool, duration time.Duration) {
	status := "ok"
	if failed {
		status = "error"
	}
	toolCalls.WithLabelValues(tool, status).Inc()
	toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveInterrupt records an interrupt lifecycle event such as "raised" or "resumed".
func ObserveInterrupt(kind, event string) {
	interrupts.WithLabelValues(kind, event).Inc()
}

// ObserveReasoning records reasoning adapter latency.
func ObserveReasoning(stage string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	reasoningLatency.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// ObserveJob records a job reaching a final or waiting status.
func ObserveJob(kind, status string) {
	jobsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
