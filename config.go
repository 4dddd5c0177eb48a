package piper

import (
	"fmt"
	"os"
	"strconv"

	"github.com/npillmayer/piper/optional"
	"github.com/npillmayer/piper/plog"
	"github.com/npillmayer/piper/queue"
)

// DefaultBatchSize is the engine-wide fallback batch_size used when neither
// a segment nor any of its ancestors set one explicitly (spec §4.2).
const DefaultBatchSize = 200

// QueueFactory builds a fresh Queue for one segment's pending queue or
// drain. The default engine hands out queue.NewFIFO instances.
type QueueFactory func() queue.Queue

// Engine is the explicit, process-wide configuration record a blueprint
// tree is initialized against (spec §9: "expose it as an explicit
// engine/context parameter rather than ambient state so tests can
// instantiate alternate engines"). It replaces the ambient package-level
// tracer()-style singletons the teacher packages use, since piper's
// defaults are meant to vary per tree under test, not per package.
type Engine struct {
	batchSize    int
	queueFactory QueueFactory
	logger       plog.Logger

	debugOverride   optional.Option[int]
	verboseOverride optional.Option[int]
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithDefaultBatchSize overrides the engine-wide default batch_size.
func WithDefaultBatchSize(n int) Option {
	return func(e *Engine) { e.batchSize = n }
}

// WithQueueFactory overrides the queue implementation handed to every
// segment's pending queue and drain.
func WithQueueFactory(f QueueFactory) Option {
	return func(e *Engine) { e.queueFactory = f }
}

// WithLogger overrides the diagnostic sink every instance logs through.
func WithLogger(l plog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds an Engine from opts, applying defaults first and then,
// after opts have run, the PIPER_DEBUG/PIPER_VERBOSE environment overrides
// (spec §4.2, §6) — env always wins, since it is meant to let an operator
// override in-tree settings without touching blueprint code.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		batchSize:    DefaultBatchSize,
		queueFactory: func() queue.Queue { return queue.NewFIFO() },
		logger:       plog.NewTracingLogger(""),
	}
	for _, opt := range opts {
		opt(e)
	}
	if v, ok := envInt("PIPER_DEBUG"); ok {
		e.debugOverride = optional.Some(v)
	}
	if v, ok := envInt("PIPER_VERBOSE"); ok {
		e.verboseOverride = optional.Some(v)
	}
	return e
}

func envInt(name string) (int, bool) {
	raw, present := os.LookupEnv(name)
	if !present {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NewEngineFromOptions builds an Engine from configuration that arrives as
// data — a loaded file, a flag set, anything keyed by string — rather than
// Go call sites (SPEC_FULL §4.2). It recognizes "batch_size" (int or
// float64, since that's what most decoders produce), "queue_factory"
// (QueueFactory), and "logger_factory" (func() plog.Logger), and returns a
// *ConfigError naming the first key it doesn't recognize: this is the
// Go-native home for spec.md §7's "unknown global option" case, which the
// chainable Option constructors have no way to trigger since they're typed
// Go function calls, not arbitrary data.
func NewEngineFromOptions(raw map[string]any) (*Engine, error) {
	var opts []Option
	for key, val := range raw {
		switch key {
		case "batch_size":
			n, err := asInt(val)
			if err != nil {
				return nil, &ConfigError{Msg: "batch_size: " + err.Error()}
			}
			opts = append(opts, WithDefaultBatchSize(n))
		case "queue_factory":
			f, ok := val.(func() queue.Queue)
			if !ok {
				return nil, &ConfigError{Msg: "queue_factory: expected func() queue.Queue"}
			}
			opts = append(opts, WithQueueFactory(f))
		case "logger_factory":
			f, ok := val.(func() plog.Logger)
			if !ok {
				return nil, &ConfigError{Msg: "logger_factory: expected func() plog.Logger"}
			}
			opts = append(opts, WithLogger(f()))
		default:
			return nil, &ConfigError{Msg: "unrecognized global option " + key}
		}
	}
	return NewEngine(opts...), nil
}

// asInt converts val to an int and requires it to be positive: every call
// site so far feeds it batch_size, which spec.md §7 requires to raise a
// ConfigError when non-positive.
func asInt(val any) (int, error) {
	var n int
	switch v := val.(type) {
	case int:
		n = v
	case float64:
		n = int(v)
	default:
		return 0, fmt.Errorf("expected a number, got %T", val)
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

// SegmentStats is one segment's row in an Engine.Stats() report.
type SegmentStats struct {
	Pending  int
	Ready    int
	Pressure int
}

// Stats flattens the pending/ready/pressure of every segment in the
// subtree rooted at root into one map keyed by full path, built on the
// same walk Instance.Describe uses (SPEC_FULL §7).
func (e *Engine) Stats(root *Instance) map[string]SegmentStats {
	out := make(map[string]SegmentStats)
	collectStats(root, out)
	return out
}

func collectStats(inst *Instance, out map[string]SegmentStats) {
	out[inst.path.String()] = SegmentStats{
		Pending:  inst.Pending(),
		Ready:    inst.Ready(),
		Pressure: inst.Pressure(),
	}
	for _, c := range inst.children {
		collectStats(c, out)
	}
}

// defaultEngine backs blueprints initialized without an explicit Engine
// (e.g. via Blueprint.Init), so the common case needs no config wiring.
var defaultEngine = NewEngine()
