package script

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"scriptor/internal/event"
	"scriptor/internal/logging"
	"scriptor/internal/metrics"
	"scriptor/internal/watcher"

	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrClosed      = errors.New("script registry is closed")
	ErrNoEvaluator = errors.New("script registry has no evaluator")
	ErrNoWatcher   = errors.New("script registry has no watcher")
	ErrEmptyPath   = errors.New("script path is required")
)

// Evaluator executes a script file and produces its export.
type Evaluator interface {
	Evaluate(ctx context.Context, ec *EvalContext) (Export, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, ec *EvalContext) (Export, error)

func (fn EvaluatorFunc) Evaluate(ctx context.Context, ec *EvalContext) (Export, error) {
	return fn(ctx, ec)
}

// EvalContext is handed to the Evaluator for one evaluation.
type EvalContext struct {
	Filename string
	ID       string
	Imports  Imports
	Define   Definer
}

// Info is a point-in-time view of one tracked script.
type Info struct {
	Filename    string   `json:"filename"`
	Loaded      bool     `json:"loaded"`
	Exported    bool     `json:"exported"`
	Watched     bool     `json:"watched"`
	Deps        []string `json:"deps,omitempty"`
	Evaluations int      `json:"evaluations"`
}

// Options configures a Registry.
type Options struct {
	Imports   map[string]any
	Evaluator Evaluator
	Watch     watcher.Opener
	Logger    *logging.Logger
	Bus       *event.Bus[event.ScriptEvent]
	Metrics   *metrics.Registry
	Shim      func(id string, imports Imports) Definer
}

type scriptRecord struct {
	filename          string
	id                string
	loaded            bool
	export            Export
	hasExport         bool
	deps              []string
	evaluating        bool
	changedDuringLoad bool
	evaluations       int
}

type watchBinding struct {
	id     uint64
	handle watcher.Handle
}

// Registry owns the tracked scripts and their watchers.
//
// mu guards the tables and is never held while a script is evaluated or
// invoked, so notifications keep flowing and an invocable may call back into
// the registry. Evaluations are serialized by evalMu; an Evaluator must not
// call back into the registry.
type Registry struct {
	mu          sync.Mutex
	scripts     map[string]*scriptRecord
	watchers    map[string]watchBinding
	watchIDs    map[uint64]string
	nextWatchID uint64
	closed      bool

	evalMu sync.Mutex

	imports   Imports
	evaluator Evaluator
	opener    watcher.Opener
	shim      func(id string, imports Imports) Definer
	logger    *logging.Logger
	bus       *event.Bus[event.ScriptEvent]
	metrics   *metrics.Registry
}

func NewRegistry(options Options) *Registry {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	registryMetrics := options.Metrics
	if registryMetrics == nil {
		registryMetrics = metrics.Default
	}
	shim := options.Shim
	if shim == nil {
		shim = func(id string, imports Imports) Definer {
			return NewDefiner(id, imports)
		}
	}
	return &Registry{
		scripts:   make(map[string]*scriptRecord),
		watchers:  make(map[string]watchBinding),
		watchIDs:  make(map[uint64]string),
		imports:   NewImports(options.Imports),
		evaluator: options.Evaluator,
		opener:    options.Watch,
		shim:      shim,
		logger:    logger.Component("script"),
		bus:       options.Bus,
		metrics:   registryMetrics,
	}
}

// Imports returns the shared import table.
func (r *Registry) Imports() Imports {
	return r.imports
}

func canonical(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	return filepath.Abs(path)
}

func (r *Registry) HasScript(path string) bool {
	filename, err := canonical(path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.scripts[filename]
	return ok
}

func (r *Registry) IsLoaded(path string) bool {
	filename, err := canonical(path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.scripts[filename]
	return ok && record.loaded
}

func (r *Registry) IsWatched(path string) bool {
	filename, err := canonical(path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watchers[filename]
	return ok
}

// Scripts lists every tracked script sorted by filename.
func (r *Registry) Scripts() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.scripts))
	for filename, record := range r.scripts {
		infos = append(infos, r.infoLocked(filename, record))
	}
	r.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Filename < infos[j].Filename
	})
	return infos
}

// Lookup reports the state of one tracked script.
func (r *Registry) Lookup(path string) (Info, bool) {
	filename, err := canonical(path)
	if err != nil {
		return Info{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.scripts[filename]
	if !ok {
		return Info{}, false
	}
	return r.infoLocked(filename, record), true
}

func (r *Registry) infoLocked(filename string, record *scriptRecord) Info {
	_, watched := r.watchers[filename]
	return Info{
		Filename:    filename,
		Loaded:      record.loaded,
		Exported:    record.hasExport,
		Watched:     watched,
		Deps:        append([]string(nil), record.deps...),
		Evaluations: record.evaluations,
	}
}

// Add tracks path and watches it.
func (r *Registry) Add(path string) error {
	return r.AddScript(path, true)
}

// AddScript tracks path without evaluating it. An existing record is left as
// is, though a missing watcher is still attached when watch is set.
func (r *Registry) AddScript(path string, watch bool) error {
	filename, err := canonical(path)
	if err != nil {
		return err
	}
	_, err = r.ensure(filename, watch)
	return err
}

// RunScript evaluates path if it is not loaded and returns the result of
// invoking its export with args, or the export value itself.
func (r *Registry) RunScript(ctx context.Context, path string, args ...any) (any, error) {
	filename, err := canonical(path)
	if err != nil {
		return nil, err
	}
	record, err := r.ensure(filename, false)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	loaded := record.loaded
	export := record.export
	r.mu.Unlock()

	if !loaded {
		export, err = r.evaluate(ctx, record, false)
		if err != nil {
			return nil, err
		}
	}
	return r.invoke(ctx, filename, export, args)
}

// ReloadScript evaluates path unconditionally. The export is never invoked.
func (r *Registry) ReloadScript(ctx context.Context, path string, watch bool) error {
	filename, err := canonical(path)
	if err != nil {
		return err
	}
	record, err := r.ensure(filename, watch)
	if err != nil {
		return err
	}
	_, err = r.evaluate(ctx, record, true)
	return err
}

// WatchScript attaches a watcher to path, adding the script when it is not
// tracked yet.
func (r *Registry) WatchScript(path string) error {
	filename, err := canonical(path)
	if err != nil {
		return err
	}
	_, err = r.ensure(filename, true)
	return err
}

// UnwatchScript detaches the watcher of path. The script itself is kept.
func (r *Registry) UnwatchScript(path string) {
	filename, err := canonical(path)
	if err != nil {
		return
	}
	r.mu.Lock()
	binding, ok := r.watchers[filename]
	if ok {
		delete(r.watchers, filename)
		delete(r.watchIDs, binding.id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.closeBinding(filename, binding)
	r.publish(event.NewScriptEvent(event.ScriptUnwatched, filename))
}

// RemoveScript drops path and its watcher. It reports whether path was
// tracked.
func (r *Registry) RemoveScript(path string) bool {
	filename, err := canonical(path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	if _, ok := r.scripts[filename]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.scripts, filename)
	binding, watched := r.watchers[filename]
	if watched {
		delete(r.watchers, filename)
		delete(r.watchIDs, binding.id)
	}
	r.mu.Unlock()

	if watched {
		r.closeBinding(filename, binding)
	}
	r.logger.Debug("script removed", map[string]string{"path": filename})
	r.publish(event.NewScriptEvent(event.ScriptRemoved, filename))
	return true
}

// Clear closes every watcher and forgets every script.
func (r *Registry) Clear() {
	r.mu.Lock()
	bindings := r.resetLocked()
	r.mu.Unlock()

	r.closeBindings(bindings)
	r.publish(event.NewScriptEvent(event.RegistryCleared, ""))
}

// Close clears the registry and rejects further operations with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	bindings := r.resetLocked()
	r.mu.Unlock()

	r.closeBindings(bindings)
	r.logger.Info("script registry closed", nil)
}

func (r *Registry) resetLocked() map[string]watchBinding {
	bindings := r.watchers
	r.scripts = make(map[string]*scriptRecord)
	r.watchers = make(map[string]watchBinding)
	r.watchIDs = make(map[uint64]string)
	return bindings
}

// ensure returns the record for filename, creating it when absent. With
// watch set a watcher is attached; a record created by this call is rolled
// back when attaching fails.
func (r *Registry) ensure(filename string, watch bool) (*scriptRecord, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	record, exists := r.scripts[filename]
	if !exists {
		record = &scriptRecord{filename: filename, id: filepath.Base(filename)}
		r.scripts[filename] = record
	}
	r.mu.Unlock()

	watchedPath := ""
	if watch {
		var err error
		watchedPath, err = r.attach(filename)
		if err != nil {
			if !exists {
				r.mu.Lock()
				if r.scripts[filename] == record {
					delete(r.scripts, filename)
				}
				r.mu.Unlock()
			}
			return nil, err
		}
	}

	if !exists {
		r.logger.Debug("script added", map[string]string{
			"path":  filename,
			"watch": strconv.FormatBool(watch),
		})
		r.publish(event.NewScriptEvent(event.ScriptAdded, filename))
	}
	if watchedPath != "" {
		r.publish(event.NewScriptEvent(event.ScriptWatched, watchedPath))
	}
	return record, nil
}

// attach opens a watcher for filename unless one is bound already and
// returns the path the new watcher ended up bound to. The binding is reserved
// before the watcher is opened so a concurrent attach cannot open a second one.
func (r *Registry) attach(filename string) (string, error) {
	if r.opener == nil {
		return "", ErrNoWatcher
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	if _, ok := r.watchers[filename]; ok {
		r.mu.Unlock()
		return "", nil
	}
	if _, ok := r.scripts[filename]; !ok {
		r.mu.Unlock()
		return "", nil
	}
	r.nextWatchID++
	id := r.nextWatchID
	r.watchers[filename] = watchBinding{id: id}
	r.watchIDs[id] = filename
	r.mu.Unlock()

	handle, err := r.opener.Open(filename, id, r.Dispatch)
	if err != nil {
		r.mu.Lock()
		if current, ok := r.watchIDs[id]; ok {
			delete(r.watchIDs, id)
			delete(r.watchers, current)
		}
		r.mu.Unlock()
		r.logger.Warn("script watch failed", map[string]string{
			"path":  filename,
			"error": err.Error(),
		})
		return "", fmt.Errorf("watch %s: %w", filename, err)
	}
	r.metrics.IncWatchersOpened()

	r.mu.Lock()
	current, bound := r.watchIDs[id]
	if bound {
		r.watchers[current] = watchBinding{id: id, handle: handle}
	}
	r.mu.Unlock()

	if !bound {
		// Unwatched, removed or cleared while opening.
		r.closeBinding(filename, watchBinding{id: id, handle: handle})
		return "", nil
	}
	return current, nil
}

// Dispatch applies a watcher notification. The script is resolved through
// the watch id, so notifications from detached watchers are ignored.
func (r *Registry) Dispatch(note watcher.Notification) {
	var (
		displaced   []watchBinding
		published   []event.ScriptEvent
		invalidated bool
		renamed     bool
	)

	r.mu.Lock()
	filename, ok := r.watchIDs[note.WatchID]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	record := r.scripts[filename]
	switch note.Kind {
	case watcher.Changed:
		if record == nil {
			break
		}
		if record.evaluating {
			record.changedDuringLoad = true
		} else if record.loaded {
			record.loaded = false
			invalidated = true
			published = append(published, event.NewScriptEvent(event.ScriptInvalidated, filename))
		}
	case watcher.Renamed:
		if note.NewPath == "" {
			break
		}
		newPath := filepath.Clean(note.NewPath)
		if newPath == filename {
			break
		}
		displaced = r.relocateLocked(filename, newPath, record)
		renamed = true
		evt := event.NewScriptEvent(event.ScriptRenamed, filename)
		evt.NewPath = newPath
		published = append(published, evt)
	}
	r.mu.Unlock()

	for _, binding := range displaced {
		r.closeBinding(note.NewPath, binding)
	}
	if invalidated {
		r.metrics.IncInvalidations()
		r.logger.Debug("script invalidated", map[string]string{"path": filename})
	}
	if renamed {
		r.metrics.IncRenames()
		r.logger.Info("script renamed", map[string]string{
			"from": filename,
			"to":   note.NewPath,
		})
	}
	for _, evt := range published {
		r.publish(evt)
	}
}

// relocateLocked moves the record and its watcher binding from oldPath to
// newPath. Whatever was tracked at newPath is displaced and its watcher is
// returned for closing.
func (r *Registry) relocateLocked(oldPath, newPath string, record *scriptRecord) []watchBinding {
	var displaced []watchBinding
	if other, ok := r.watchers[newPath]; ok {
		delete(r.watchIDs, other.id)
		delete(r.watchers, newPath)
		displaced = append(displaced, other)
	}
	if other, ok := r.scripts[newPath]; ok && other != record {
		delete(r.scripts, newPath)
	}

	if record != nil {
		delete(r.scripts, oldPath)
		record.filename = newPath
		r.scripts[newPath] = record
	}
	if binding, ok := r.watchers[oldPath]; ok {
		delete(r.watchers, oldPath)
		r.watchers[newPath] = binding
		r.watchIDs[binding.id] = newPath
	}
	return displaced
}

// evaluate runs the evaluation protocol for record. Without force a record
// that became loaded while waiting for evalMu is not evaluated again.
func (r *Registry) evaluate(ctx context.Context, record *scriptRecord, force bool) (Export, error) {
	if r.evaluator == nil {
		return Export{}, ErrNoEvaluator
	}
	if err := ctx.Err(); err != nil {
		return Export{}, err
	}

	r.evalMu.Lock()
	defer r.evalMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Export{}, ErrClosed
	}
	if !force && record.loaded {
		export := record.export
		r.mu.Unlock()
		return export, nil
	}
	record.loaded = false
	record.evaluating = true
	record.changedDuringLoad = false
	ec := &EvalContext{
		Filename: record.filename,
		ID:       record.id,
		Imports:  r.imports,
		Define:   r.shim(record.id, r.imports),
	}
	r.mu.Unlock()

	ctx, span := startScriptSpan(ctx, evaluateSpanName, ec.Filename, attribute.String("script.id", ec.ID))
	started := time.Now()
	export, err := r.evaluator.Evaluate(ctx, ec)
	elapsed := time.Since(started)
	endScriptSpan(span, err)
	r.metrics.RecordEvaluation(elapsed, err)

	r.mu.Lock()
	record.evaluating = false
	record.evaluations++
	filename := record.filename
	if err != nil {
		record.changedDuringLoad = false
		r.mu.Unlock()

		r.logger.Warn("script evaluation failed", map[string]string{
			"path":  filename,
			"error": err.Error(),
		})
		failed := event.NewScriptEvent(event.ScriptLoadFailed, filename)
		failed.Error = err.Error()
		r.publish(failed)
		return Export{}, &EvaluationError{Filename: filename, Err: err}
	}
	record.export = export
	record.hasExport = true
	if reporter, ok := ec.Define.(depsReporter); ok {
		record.deps = reporter.Deps()
	}
	stale := record.changedDuringLoad
	record.changedDuringLoad = false
	record.loaded = !stale
	r.mu.Unlock()

	r.logger.Debug("script evaluated", map[string]string{
		"path":      filename,
		"duration":  elapsed.String(),
		"invocable": strconv.FormatBool(export.IsInvocable()),
		"stale":     strconv.FormatBool(stale),
	})
	if stale {
		r.publish(event.NewScriptEvent(event.ScriptInvalidated, filename))
	} else {
		r.publish(event.NewScriptEvent(event.ScriptLoaded, filename))
	}
	return export, nil
}

func (r *Registry) invoke(ctx context.Context, filename string, export Export, args []any) (any, error) {
	if !export.IsInvocable() {
		return export.Value(), nil
	}
	ctx, span := startScriptSpan(ctx, invokeSpanName, filename, attribute.Int("script.args", len(args)))
	result, err := export.Call(ctx, args...)
	endScriptSpan(span, err)
	r.metrics.RecordInvocation(err)
	if err != nil {
		return nil, &InvocationError{Filename: filename, Err: err}
	}
	return result, nil
}

func (r *Registry) closeBindings(bindings map[string]watchBinding) {
	for filename, binding := range bindings {
		r.closeBinding(filename, binding)
	}
}

func (r *Registry) closeBinding(filename string, binding watchBinding) {
	if binding.handle == nil {
		return
	}
	r.metrics.IncWatchersClosed()
	if err := binding.handle.Close(); err != nil {
		r.logger.Warn("script watch close failed", map[string]string{
			"path":  filename,
			"error": err.Error(),
		})
	}
}

func (r *Registry) publish(evt event.ScriptEvent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(evt)
}
