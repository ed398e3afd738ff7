package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce        sync.Once
	taskExecutionsCounter  metric.Int64Counter
	taskExecutionDuration  metric.Float64Histogram
	generationCallsCounter metric.Int64Counter
	generationCallDuration metric.Float64Histogram
	sseConnectionsGauge    metric.Int64ObservableGauge
	sseEventsCounter       metric.Int64Counter
	sseConnections         int64
	sseConnectionsMu       sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		taskExecutionsCounter, err = m.Int64Counter("teamleader_task_executions_total", metric.WithDescription("Total task executions by workflow type and outcome"))
		if err != nil {
			return
		}
		taskExecutionDuration, err = m.Float64Histogram("teamleader_task_execution_duration_seconds", metric.WithDescription("Task execution duration in seconds"))
		if err != nil {
			return
		}
		generationCallsCounter, err = m.Int64Counter("teamleader_generation_calls_total", metric.WithDescription("Total generation backend calls"))
		if err != nil {
			return
		}
		generationCallDuration, err = m.Float64Histogram("teamleader_generation_call_duration_seconds", metric.WithDescription("Generation backend call duration in seconds"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("teamleader_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("teamleader_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordTaskExecution records one workflow execution and its duration.
// outcome is "success" or "failure".
func RecordTaskExecution(ctx context.Context, team, workflow, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		AttrTeam.String(team),
		AttrWorkflow.String(workflow),
		AttrStatus.String(outcome),
	)
	if taskExecutionsCounter != nil {
		taskExecutionsCounter.Add(ctx, 1, attrs)
	}
	if taskExecutionDuration != nil {
		taskExecutionDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordGenerationCall records one generation backend call and its duration.
func RecordGenerationCall(ctx context.Context, team, agent string, duration time.Duration) {
	attrs := metric.WithAttributes(AttrTeam.String(team), AttrAgent.String(agent))
	if generationCallsCounter != nil {
		generationCallsCounter.Add(ctx, 1, attrs)
	}
	if generationCallDuration != nil {
		generationCallDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// TaskCountFunc returns task counts by status. Used for the teamleader_tasks_total gauge.
type TaskCountFunc func() map[string]int64

// InitMetricsWithTaskCount creates instruments and optionally registers a callback for task gauges.
// Call after InitMeterProvider. If taskCount is nil, task gauges are not reported.
func InitMetricsWithTaskCount(ctx context.Context, taskCount TaskCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if taskCount == nil {
		return nil
	}
	m := Meter()
	tasksGauge, err := m.Float64ObservableGauge("teamleader_tasks_total", metric.WithDescription("Number of tasks by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for status, n := range taskCount() {
			o.ObserveFloat64(tasksGauge, float64(n), metric.WithAttributes(AttrStatus.String(status)))
		}
		return nil
	}, tasksGauge)
	return err
}
