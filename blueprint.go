package piper

import (
	"github.com/npillmayer/piper/label"
	"github.com/npillmayer/piper/optional"
)

// Item is a single payload flowing through the pipeline. Handlers and
// predicates are free to type-assert it to whatever concrete type their
// pipeline actually carries.
type Item = any

// Predicate decides whether an item enters a segment's pending queue
// (spec §3, "allow"). It is called with the item bound positionally; Go has
// no implicit-argument convention, so there is only the one calling style
// (spec §4.3's "implicit argument" note does not apply here).
type Predicate func(item Item) (bool, error)

// Handler processes a batch of items pulled from a processor's pending
// queue. inst is the processor's own running instance, used to reach the
// flow-control primitives (spec §4.8). args is init_args, captured once at
// root Init and shared read-only with every handler in the tree.
type Handler func(inst *Instance, batch []Item, args ...any) error

type segKind int

const (
	processorKind segKind = iota
	containerKind
)

// Attrs holds the optional, inheritable segment attributes (spec §3, §4.2).
// optional.Option distinguishes "unset" (inherit) from "explicitly set".
type Attrs struct {
	BatchSize optional.Option[int]
	Debug     optional.Option[int]
	Verbose   optional.Option[int]
	Enabled   optional.Option[bool]
}

// Blueprint is the immutable description of one segment. Like Instance, it
// is a tagged variant rather than two parallel types for processor and
// container (spec §9): most fields are shared, and a kind tag picks which
// half is meaningful, avoiding an interface plus two structs for what is
// really one shape with two use cases.
type Blueprint struct {
	kind     segKind
	label    label.Label
	attrs    Attrs
	allow    Predicate
	handler  Handler  // processorKind only
	children []*Blueprint // containerKind only

	instance *Instance // set by the first successful Init; makes later Init calls a no-op
}

// BlueprintOption configures attributes and the allow predicate at
// construction time (spec §3's optional segment attributes).
type BlueprintOption func(*Blueprint)

// WithBatchSize sets an explicit batch_size override for the segment.
func WithBatchSize(n int) BlueprintOption {
	return func(b *Blueprint) { b.attrs.BatchSize = optional.Some(n) }
}

// WithDebug sets an explicit debug level override for the segment.
func WithDebug(level int) BlueprintOption {
	return func(b *Blueprint) { b.attrs.Debug = optional.Some(level) }
}

// WithVerbose sets an explicit verbose level override for the segment.
func WithVerbose(level int) BlueprintOption {
	return func(b *Blueprint) { b.attrs.Verbose = optional.Some(level) }
}

// WithEnabled sets an explicit enabled override for the segment.
func WithEnabled(enabled bool) BlueprintOption {
	return func(b *Blueprint) { b.attrs.Enabled = optional.Some(enabled) }
}

// WithAllow sets the allow predicate (spec alias: filter).
func WithAllow(p Predicate) BlueprintOption {
	return func(b *Blueprint) { b.allow = p }
}

// WithFilter is an alias for WithAllow, matching the spec's alternate name.
func WithFilter(p Predicate) BlueprintOption {
	return WithAllow(p)
}

// Processor builds a leaf blueprint around handler. lbl may be "" to
// request a generated, unique label. A nil handler is a construction-time
// defect, not a runtime one, so Processor panics with a *ConfigError the
// same way the teacher's tree package panics (via its assertThat helper)
// on a malformed node rather than threading an error back through a
// chainable builder call.
func Processor(lbl string, handler Handler, opts ...BlueprintOption) *Blueprint {
	if handler == nil {
		panic(&ConfigError{Path: lbl, Msg: "processor requires a handler"})
	}
	b := &Blueprint{
		kind:    processorKind,
		label:   resolveLabel(lbl),
		handler: handler,
	}
	for _, opt := range opts {
		opt(b)
	}
	requirePositiveBatchSize(b)
	return b
}

// Container builds a non-leaf blueprint around children. lbl may be "" to
// request a generated, unique label. An empty children list is a
// construction-time ConfigError (spec §9, Open Question 3).
func Container(lbl string, children []*Blueprint, opts ...BlueprintOption) *Blueprint {
	if len(children) == 0 {
		panic(&ConfigError{Path: lbl, Msg: "container requires at least one child"})
	}
	b := &Blueprint{
		kind:     containerKind,
		label:    resolveLabel(lbl),
		children: append([]*Blueprint(nil), children...),
	}
	for _, opt := range opts {
		opt(b)
	}
	requirePositiveBatchSize(b)
	return b
}

// requirePositiveBatchSize panics with a *ConfigError if b.attrs.BatchSize
// was explicitly set to a non-positive value (spec.md §7, SPEC_FULL.md §4.4:
// "non-positive batch size" is a construction-time ConfigError, not a value
// EffectiveBatchSize/Pressure should have to tolerate at run time).
func requirePositiveBatchSize(b *Blueprint) {
	if v, ok := b.attrs.BatchSize.Get(); ok && v <= 0 {
		panic(&ConfigError{Path: string(b.label), Msg: "batch_size must be positive"})
	}
}

func resolveLabel(lbl string) label.Label {
	if lbl == "" {
		return label.NewAnonymous()
	}
	return label.Label(lbl)
}

// Label returns the blueprint's own label (not its full path; blueprints
// don't know their position in a tree until Init).
func (b *Blueprint) Label() label.Label {
	return b.label
}

// As returns a shallow copy of b relabeled to lbl, letting the same
// blueprint be reused as multiple differently-named children (spec §4.1:
// "label ⇒ segment pairs override the segment's label").
func (b *Blueprint) As(lbl string) *Blueprint {
	clone := *b
	clone.label = resolveLabel(lbl)
	clone.instance = nil
	return &clone
}

// IsContainer reports whether b is a container blueprint.
func (b *Blueprint) IsContainer() bool {
	return b.kind == containerKind
}

// Init builds the live instance tree rooted at b, in a single pre-order
// traversal (spec §3, "Lifecycles"; §4.1), using the package default
// Engine. initArgs is captured once and shared read-only with every
// instance's handler invocations.
func (b *Blueprint) Init(initArgs ...any) (*Instance, error) {
	return b.InitWithEngine(defaultEngine, initArgs...)
}

// InitWithEngine is Init against an explicit Engine, letting tests and
// callers that need non-default batch sizes, queues, or a logger
// instantiate the same blueprint against a different configuration
// record (spec §9). Calling it again on a blueprint that has already been
// initialized is a no-op that returns the same instance (spec §4.1).
func (b *Blueprint) InitWithEngine(engine *Engine, initArgs ...any) (*Instance, error) {
	if b.instance != nil {
		return b.instance, nil
	}
	if engine == nil {
		engine = defaultEngine
	}
	inst, err := newInstance(b, nil, engine, initArgs)
	if err != nil {
		return nil, err
	}
	b.instance = inst
	return inst, nil
}
