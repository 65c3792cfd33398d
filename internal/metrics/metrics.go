package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry holds process counters for scripts and event buses.
type Registry struct {
	evaluations      atomic.Int64
	evaluationErrors atomic.Int64
	evaluationNanos  atomic.Int64
	invocations      atomic.Int64
	invocationErrors atomic.Int64
	invalidations    atomic.Int64
	renames          atomic.Int64
	watchersOpened   atomic.Int64
	watchersClosed   atomic.Int64
	busEvents        sync.Map
}

type busStats struct {
	published   atomic.Int64
	dropped     atomic.Int64
	subscribers atomic.Int64
}

var Default = &Registry{}

func (r *Registry) RecordEvaluation(duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.evaluations.Add(1)
	r.evaluationNanos.Add(duration.Nanoseconds())
	if err != nil {
		r.evaluationErrors.Add(1)
	}
}

func (r *Registry) RecordInvocation(err error) {
	if r == nil {
		return
	}
	r.invocations.Add(1)
	if err != nil {
		r.invocationErrors.Add(1)
	}
}

func (r *Registry) IncInvalidations() {
	if r == nil {
		return
	}
	r.invalidations.Add(1)
}

func (r *Registry) IncRenames() {
	if r == nil {
		return
	}
	r.renames.Add(1)
}

func (r *Registry) IncWatchersOpened() {
	if r == nil {
		return
	}
	r.watchersOpened.Add(1)
}

func (r *Registry) IncWatchersClosed() {
	if r == nil {
		return
	}
	r.watchersClosed.Add(1)
}

func (r *Registry) IncEventPublished(bus string) {
	if r == nil {
		return
	}
	r.bus(bus).published.Add(1)
}

func (r *Registry) IncEventDropped(bus string) {
	if r == nil {
		return
	}
	r.bus(bus).dropped.Add(1)
}

func (r *Registry) SetEventSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.bus(bus).subscribers.Store(int64(count))
}

// Snapshot is a point-in-time copy of the script counters.
type Snapshot struct {
	Evaluations      int64
	EvaluationErrors int64
	Invocations      int64
	InvocationErrors int64
	Invalidations    int64
	Renames          int64
	OpenWatchers     int64
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		Evaluations:      r.evaluations.Load(),
		EvaluationErrors: r.evaluationErrors.Load(),
		Invocations:      r.invocations.Load(),
		InvocationErrors: r.invocationErrors.Load(),
		Invalidations:    r.invalidations.Load(),
		Renames:          r.renames.Load(),
		OpenWatchers:     r.watchersOpened.Load() - r.watchersClosed.Load(),
	}
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "scriptor_evaluations_total", "Script evaluations", r.evaluations.Load())
	writeCounter(writer, "scriptor_evaluation_failures_total", "Script evaluations that returned an error", r.evaluationErrors.Load())
	writeHelp(writer, "scriptor_evaluation_seconds_sum", "Total time spent evaluating scripts")
	fmt.Fprintln(writer, "# TYPE scriptor_evaluation_seconds_sum counter")
	fmt.Fprintf(writer, "scriptor_evaluation_seconds_sum %.6f\n", float64(r.evaluationNanos.Load())/float64(time.Second))
	writeCounter(writer, "scriptor_invocations_total", "Invocable export calls", r.invocations.Load())
	writeCounter(writer, "scriptor_invocation_failures_total", "Invocable export calls that returned an error", r.invocationErrors.Load())
	writeCounter(writer, "scriptor_invalidations_total", "Loaded scripts invalidated by a change", r.invalidations.Load())
	writeCounter(writer, "scriptor_renames_total", "Watched scripts relocated after a rename", r.renames.Load())
	writeHelp(writer, "scriptor_watchers_open", "Currently open script watchers")
	fmt.Fprintln(writer, "# TYPE scriptor_watchers_open gauge")
	fmt.Fprintf(writer, "scriptor_watchers_open %d\n", r.watchersOpened.Load()-r.watchersClosed.Load())

	names := r.busNames()
	sort.Strings(names)
	if len(names) == 0 {
		return nil
	}
	writeHelp(writer, "scriptor_events_published_total", "Events published per bus")
	fmt.Fprintln(writer, "# TYPE scriptor_events_published_total counter")
	writeHelp(writer, "scriptor_events_dropped_total", "Events dropped per bus")
	fmt.Fprintln(writer, "# TYPE scriptor_events_dropped_total counter")
	writeHelp(writer, "scriptor_event_subscribers", "Active subscribers per bus")
	fmt.Fprintln(writer, "# TYPE scriptor_event_subscribers gauge")
	for _, name := range names {
		stats := r.bus(name)
		label := formatLabel(name)
		fmt.Fprintf(writer, "scriptor_events_published_total{bus=%s} %d\n", label, stats.published.Load())
		fmt.Fprintf(writer, "scriptor_events_dropped_total{bus=%s} %d\n", label, stats.dropped.Load())
		fmt.Fprintf(writer, "scriptor_event_subscribers{bus=%s} %d\n", label, stats.subscribers.Load())
	}
	return nil
}

func (r *Registry) bus(name string) *busStats {
	if strings.TrimSpace(name) == "" {
		name = "unknown"
	}
	value, _ := r.busEvents.LoadOrStore(name, &busStats{})
	return value.(*busStats)
}

func (r *Registry) busNames() []string {
	var names []string
	r.busEvents.Range(func(key, value any) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	return names
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
