package piper

import (
	"fmt"
	"math"

	tp "github.com/xlab/treeprint"

	"github.com/npillmayer/piper/label"
	"github.com/npillmayer/piper/optional"
	"github.com/npillmayer/piper/plog"
	"github.com/npillmayer/piper/queue"
)

// Instance is the live, stateful realization of a Blueprint. Like
// Blueprint, it is a tagged variant rather than two parallel types for
// processor and container instances (spec §9): a single struct carries
// every field either shape needs, and kind picks which half is live. The
// same *Instance is what handlers receive and what every flow-control
// primitive and root operation is a method on.
type Instance struct {
	kind   segKind
	bp     *Blueprint
	engine *Engine
	parent *Instance
	root   *Instance
	path   label.Path

	initArgs []any

	batchSize optional.Option[int]
	debug     optional.Option[int]
	verbose   optional.Option[int]
	enabled   optional.Option[bool]

	allow   Predicate
	handler Handler

	pendingQ queue.Queue // processorKind only

	children  []*Instance            // containerKind only
	directory map[label.Label]*Instance // containerKind only
	follower  map[*Instance]followerTarget // containerKind only

	drainQ queue.Queue // containerKind always; processorKind only when root

	logger plog.Logger
}

// followerTarget names where a child's output goes next: a sibling
// instance (re-running its own gate) or the owning container's drain.
// Keyed by *Instance identity in the owner's follower map (spec §9:
// "keys must identify child instances, not values").
type followerTarget struct {
	instance   *Instance
	isOwnDrain bool
	owner      *Instance
}

func (ft followerTarget) route(items []Item) {
	if len(items) == 0 {
		return
	}
	if ft.isOwnDrain {
		ft.owner.drainQ.Enqueue(items...)
		return
	}
	ft.instance.Enqueue(items...)
}

func newInstance(bp *Blueprint, parent *Instance, engine *Engine, initArgs []any) (*Instance, error) {
	if v, ok := bp.attrs.BatchSize.Get(); ok && v <= 0 {
		return nil, &ConfigError{Path: string(bp.label), Msg: "batch_size must be positive"}
	}
	inst := &Instance{
		kind:      bp.kind,
		bp:        bp,
		engine:    engine,
		parent:    parent,
		batchSize: bp.attrs.BatchSize,
		debug:     bp.attrs.Debug,
		verbose:   bp.attrs.Verbose,
		enabled:   bp.attrs.Enabled,
		allow:     bp.allow,
		handler:   bp.handler,
		logger:    engine.logger,
	}
	if parent == nil {
		inst.root = inst
		inst.initArgs = initArgs
		inst.path = label.Path{bp.label}
	} else {
		inst.root = parent.root
		inst.initArgs = parent.initArgs
		inst.path = parent.path.Child(bp.label)
	}

	switch bp.kind {
	case processorKind:
		inst.pendingQ = engine.queueFactory()
		if parent == nil {
			inst.drainQ = engine.queueFactory()
		}
	case containerKind:
		if len(bp.children) == 0 {
			return nil, &ConfigError{Path: inst.path.String(), Msg: "container requires at least one child"}
		}
		inst.drainQ = engine.queueFactory()
		inst.directory = make(map[label.Label]*Instance, len(bp.children))
		inst.follower = make(map[*Instance]followerTarget, len(bp.children))
		children := make([]*Instance, 0, len(bp.children))
		for _, childBp := range bp.children {
			child, err := newInstance(childBp, inst, engine, nil)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
			if _, exists := inst.directory[childBp.label]; !exists {
				inst.directory[childBp.label] = child
			}
		}
		inst.children = children
		for i, child := range children {
			if i == len(children)-1 {
				inst.follower[child] = followerTarget{isOwnDrain: true, owner: inst}
			} else {
				inst.follower[child] = followerTarget{instance: children[i+1]}
			}
		}
	}
	return inst, nil
}

// --- identity & attributes --------------------------------------------

// Path returns the instance's full path from the root.
func (inst *Instance) Path() label.Path {
	return inst.path
}

// Root returns the root instance of the tree inst belongs to.
func (inst *Instance) Root() *Instance {
	return inst.root
}

// Parent returns the containing instance, or nil for the root.
func (inst *Instance) Parent() *Instance {
	return inst.parent
}

// Children returns the container's child instances in tree order. It
// returns nil for a processor.
func (inst *Instance) Children() []*Instance {
	if inst.kind != containerKind {
		return nil
	}
	return append([]*Instance(nil), inst.children...)
}

// EffectiveBatchSize resolves batch_size by nearest-ancestor-wins, falling
// back to the engine default (spec §4.2).
func (inst *Instance) EffectiveBatchSize() int {
	for i := inst; i != nil; i = i.parent {
		if v, ok := i.batchSize.Get(); ok {
			return v
		}
	}
	return inst.engine.batchSize
}

// EffectiveDebug resolves the debug level, honouring PIPER_DEBUG as a
// global override that masks any in-tree setting (spec §4.2).
func (inst *Instance) EffectiveDebug() int {
	if v, ok := inst.engine.debugOverride.Get(); ok {
		return v
	}
	for i := inst; i != nil; i = i.parent {
		if v, ok := i.debug.Get(); ok {
			return v
		}
	}
	return 0
}

// EffectiveVerbose resolves the verbose level, honouring PIPER_VERBOSE
// (spec §4.2).
func (inst *Instance) EffectiveVerbose() int {
	if v, ok := inst.engine.verboseOverride.Get(); ok {
		return v
	}
	for i := inst; i != nil; i = i.parent {
		if v, ok := i.verbose.Get(); ok {
			return v
		}
	}
	return 0
}

// IsEnabled is the conjunction of enabled along the ancestor chain: inst is
// enabled only if it and every ancestor is enabled (spec §4.2, §8 property 4).
func (inst *Instance) IsEnabled() bool {
	for i := inst; i != nil; i = i.parent {
		if v, ok := i.enabled.Get(); ok && !v {
			return false
		}
	}
	return true
}

// SetBatchSize overrides batch_size on this instance at runtime, or clears
// it (inheriting again) when set is false.
func (inst *Instance) SetBatchSize(n int, set bool) {
	if set {
		inst.batchSize = optional.Some(n)
	} else {
		inst.batchSize = optional.Clear[int]()
	}
}

// SetEnabled overrides enabled on this instance at runtime, or clears it.
func (inst *Instance) SetEnabled(enabled bool, set bool) {
	if set {
		inst.enabled = optional.Some(enabled)
	} else {
		inst.enabled = optional.Clear[bool]()
	}
}

// EffectiveAttrs is a read-only snapshot of the resolved attribute values
// at a segment — the Go accessor shape for what the original's attribute
// system exposes as plain object reads (SPEC_FULL §7).
type EffectiveAttrs struct {
	BatchSize int
	Debug     int
	Verbose   int
	Enabled   bool
}

// Attrs resolves inst's effective attributes, walking ancestors exactly as
// EffectiveBatchSize/EffectiveDebug/EffectiveVerbose/IsEnabled do.
func (inst *Instance) Attrs() EffectiveAttrs {
	return EffectiveAttrs{
		BatchSize: inst.EffectiveBatchSize(),
		Debug:     inst.EffectiveDebug(),
		Verbose:   inst.EffectiveVerbose(),
		Enabled:   inst.IsEnabled(),
	}
}

// --- enqueue gate --------------------------------------------------------

// Enqueue applies the common gate (spec §4.3): disabled segments and items
// rejected by allow are forwarded to the drain-equivalent unchanged;
// accepted items enter the segment's own pending queue (processor) or are
// delegated to the first child (container).
func (inst *Instance) Enqueue(items ...Item) {
	if len(items) == 0 {
		return
	}
	if !inst.IsEnabled() {
		inst.forwardToDrainEquivalent(items)
		return
	}
	if inst.allow != nil {
		accepted := make([]Item, 0, len(items))
		var rejected []Item
		for _, it := range items {
			ok, err := inst.allow(it)
			if err != nil {
				inst.logger.Warn(inst.path.String(), "allow predicate failed", inst.verboseItems(it, err)...)
				rejected = append(rejected, it)
				continue
			}
			if ok {
				accepted = append(accepted, it)
			} else {
				rejected = append(rejected, it)
			}
		}
		if len(rejected) > 0 {
			inst.forwardToDrainEquivalent(rejected)
		}
		items = accepted
	}
	if len(items) == 0 {
		return
	}
	switch inst.kind {
	case processorKind:
		inst.pendingQ.Enqueue(items...)
	case containerKind:
		inst.children[0].Enqueue(items...)
	}
}

func (inst *Instance) forwardToDrainEquivalent(items []Item) {
	switch {
	case inst.kind == containerKind:
		inst.drainQ.Enqueue(items...)
	case inst.parent == nil:
		inst.drainQ.Enqueue(items...)
	default:
		inst.parent.follower[inst].route(items)
	}
}

// --- pending / ready / pressure ------------------------------------------

// Pending returns the number of items still waiting to be processed:
// the pending queue length for a processor, or the sum across children
// for a container (spec §4.5, §4.6).
func (inst *Instance) Pending() int {
	if inst.kind == processorKind {
		return inst.pendingQ.Ready()
	}
	total := 0
	for _, c := range inst.children {
		total += c.Pending()
	}
	return total
}

// Ready returns the length of the instance's own drain. A non-root
// processor has none of its own (spec §4.5: its output lives in its
// follower's queue as soon as the handler emits it).
func (inst *Instance) Ready() int {
	if inst.drainQ == nil {
		return 0
	}
	return inst.drainQ.Ready()
}

// HasPending reports whether any item is still awaiting processing
// anywhere in the subtree rooted at inst.
func (inst *Instance) HasPending() bool {
	return inst.Pending() > 0
}

// IsExhausted reports whether inst has nothing pending and nothing ready
// (spec §3 invariant: is_exhausted ⇔ ¬has_pending ∧ drain.ready == 0).
func (inst *Instance) IsExhausted() bool {
	return !inst.HasPending() && inst.Ready() == 0
}

// Pressure is round(100 * pending / effective_batch_size) for a processor,
// or the max pressure among children for a container (spec §4.5, §4.6,
// glossary "Pressure").
func (inst *Instance) Pressure() int {
	if inst.kind == processorKind {
		bs := inst.EffectiveBatchSize()
		if bs <= 0 {
			return 0
		}
		return int(math.Round(100 * float64(inst.pendingQ.Ready()) / float64(bs)))
	}
	max := 0
	for _, c := range inst.children {
		if p := c.Pressure(); p > max {
			max = p
		}
	}
	return max
}

// --- process_batch / scheduler --------------------------------------------

// ProcessBatch advances the instance by one step: a processor runs its
// handler over one batch; a container runs the scheduler (spec §4.5, §4.6).
func (inst *Instance) ProcessBatch() error {
	if inst.kind == processorKind {
		return inst.processBatchProcessor()
	}
	return inst.processBatchContainer()
}

// processBatchProcessor runs handler over one batch. A panic escaping the
// handler (the dominant failure mode of a type-assertion-heavy Handler) is
// recovered and rewrapped as a HandlerFailure around a TypeError rather than
// crashing the process (spec §4.4, §7).
func (inst *Instance) processBatchProcessor() (err error) {
	bs := inst.EffectiveBatchSize()
	if bs <= 0 {
		bs = 1
	}
	batch := inst.pendingQ.Dequeue(bs)
	if len(batch) == 0 {
		return nil
	}
	if inst.EffectiveDebug() > 0 {
		inst.logger.Debug(inst.path.String(), "processing batch", len(batch))
	}
	defer func() {
		if r := recover(); r != nil {
			typeErr := &TypeError{Msg: fmt.Sprintf("handler panicked: %v", r)}
			inst.logger.Error(inst.path.String(), "handler panicked", inst.verboseItems(r)...)
			err = &HandlerFailure{Path: inst.path.String(), Err: typeErr}
		}
	}()
	if err = inst.handler(inst, batch, inst.initArgs...); err != nil {
		wrapped := &HandlerFailure{Path: inst.path.String(), Err: err}
		inst.logger.Error(inst.path.String(), "handler failed", inst.verboseItems(err)...)
		return wrapped
	}
	return nil
}

// verboseItems returns items unchanged if inst's effective verbose level is
// above 1, or nil otherwise: item context is only formatted into a log line
// when verbose>1 (spec §4.9), independent of whether the line is emitted at
// all (that's EffectiveDebug's call).
func (inst *Instance) verboseItems(items ...any) []any {
	if inst.EffectiveVerbose() > 1 {
		return items
	}
	return nil
}

// processBatchContainer is the scheduler (spec §4.6):
//  1. scan children back-to-front; the last overflowing (pressure>=100, a
//     full batch buffered) child wins, to avoid upstream stalls. Scenario
//     §8.5 pins "overflowing" at the >=100 threshold, not merely pending>0:
//     a child with pressure 25 is explicitly called non-overflowing there.
//  2. otherwise pick the highest-pressure child, ties won by the later one.
//  3. advance the chosen child.
//  4. if it became ready, move its output to its follower.
func (inst *Instance) processBatchContainer() error {
	n := len(inst.children)
	if n == 0 {
		return nil
	}
	var chosen *Instance
	for i := n - 1; i >= 0; i-- {
		if inst.children[i].Pressure() >= 100 {
			chosen = inst.children[i]
			if inst.EffectiveDebug() > 0 {
				inst.logger.Debug(inst.path.String(), "chose overflowing process closest to drain")
			}
			break
		}
	}
	if chosen == nil {
		maxPressure := -1
		for i := n - 1; i >= 0; i-- {
			p := inst.children[i].Pressure()
			if p > maxPressure {
				maxPressure = p
				chosen = inst.children[i]
			}
		}
		if inst.EffectiveDebug() > 0 {
			inst.logger.Debug(inst.path.String(), "closest to overflow")
		}
	}
	if chosen == nil {
		return nil
	}
	if err := chosen.ProcessBatch(); err != nil {
		return err
	}
	if chosen.Ready() > 0 {
		items := chosen.drainQ.Dequeue(chosen.drainQ.Ready())
		inst.follower[chosen].route(items)
	}
	return nil
}

// --- exhaustion loop -------------------------------------------------------

// IsntExhausted repeatedly calls ProcessBatch on inst until it becomes
// ready or runs out of pending work, then reports whether it is ready
// (spec §4.7).
func (inst *Instance) IsntExhausted() (bool, error) {
	for inst.Ready() == 0 && inst.HasPending() {
		if err := inst.ProcessBatch(); err != nil {
			return inst.Ready() > 0, err
		}
	}
	return inst.Ready() > 0, nil
}

// Flush runs ProcessBatch while inst has pending work, regardless of
// whether anything becomes ready (spec §4.7).
func (inst *Instance) Flush() error {
	for inst.HasPending() {
		if err := inst.ProcessBatch(); err != nil {
			return err
		}
	}
	return nil
}

// Prepare runs ProcessBatch until inst has at least n ready items or no
// pending work remains (spec §4.7).
func (inst *Instance) Prepare(n int) error {
	for inst.Ready() < n && inst.HasPending() {
		if err := inst.ProcessBatch(); err != nil {
			return err
		}
	}
	return nil
}

// Dequeue prepares up to n ready items and removes them from inst's own
// drain, in order. It returns whatever became ready even if an error
// occurred while getting there (spec §7: "the pipeline remains in
// whatever state the partial handler produced; the caller may retry").
func (inst *Instance) Dequeue(n int) ([]Item, error) {
	if n <= 0 {
		n = 1
	}
	err := inst.Prepare(n)
	var items []Item
	if inst.drainQ != nil {
		items = inst.drainQ.Dequeue(n)
	}
	return items, err
}

// --- location resolver -----------------------------------------------------

// FindSegment maps location (one label, or a slash-joined path) to an
// instance, searching outward from inst (spec §4.4).
func (inst *Instance) FindSegment(location string) (*Instance, error) {
	path := label.ParsePath(location)
	if len(path) == 0 {
		return nil, unresolvedErr(location)
	}
	start := inst
	if inst.kind != containerKind {
		start = inst.parent
	}
	if start == nil {
		start = inst
	}
	for cur := start; ; {
		if m := descendant(cur, path); m != nil {
			return m, nil
		}
		if cur.parent == nil {
			if len(path) > 1 && path[0] == cur.bp.label {
				if m := descendant(cur, path[1:]); m != nil {
					return m, nil
				}
			}
			return nil, unresolvedErr(location)
		}
		cur = cur.parent
	}
}

// descendant implements the depth-first-before-self search: a direct
// directory match commits to that subtree (no backtracking); otherwise
// every child's whole subtree is searched with the full path before
// giving up on cur (spec §4.4, §8.3).
func descendant(cur *Instance, path label.Path) *Instance {
	if cur.kind != containerKind || len(path) == 0 {
		return nil
	}
	head, rest := path[0], path[1:]
	if child, ok := cur.directory[head]; ok {
		if len(rest) == 0 {
			return child
		}
		return descendant(child, rest)
	}
	for _, child := range cur.children {
		if m := descendant(child, path); m != nil {
			return m
		}
	}
	return nil
}

func (inst *Instance) followerInParent() followerTarget {
	if inst.parent == nil {
		return followerTarget{isOwnDrain: true, owner: inst}
	}
	return inst.parent.follower[inst]
}

// --- flow control ----------------------------------------------------------

// Emit routes items to follower(inst) in inst's parent, or to inst's own
// drain if inst is root. Emit bypasses inst's own gate entirely: inst is
// the producer, not a re-entrant caller of its own allow/enabled (spec §4.8).
func (inst *Instance) Emit(items ...Item) {
	inst.followerInParent().route(items)
}

// Recycle prepends items to inst's own pending queue, so the next len(items)
// single-item dequeues yield them in argument order (spec §4.8). Valid only
// on a processor; a handler is always invoked with the processor instance
// as its receiver, so this is never called on a container in practice.
func (inst *Instance) Recycle(items ...Item) error {
	if inst.kind != processorKind {
		return &TypeError{Msg: fmt.Sprintf("recycle called on non-processor segment %s", inst.path.String())}
	}
	if len(items) == 0 {
		return nil
	}
	rest := inst.pendingQ.Dequeue(inst.pendingQ.Ready())
	inst.pendingQ.Enqueue(items...)
	inst.pendingQ.Enqueue(rest...)
	return nil
}

// Inject re-enters items at inst's parent (or inst itself if root), so they
// are gated and routed exactly as a fresh external enqueue would be
// (spec §4.8).
func (inst *Instance) Inject(items ...Item) {
	if inst.parent == nil {
		inst.Enqueue(items...)
		return
	}
	inst.parent.Enqueue(items...)
}

// Eject appends items directly to inst's parent's drain (or inst's own
// drain if root), bypassing every gate between inst and that drain
// (spec §4.8).
func (inst *Instance) Eject(items ...Item) {
	if inst.parent == nil {
		inst.drainQ.Enqueue(items...)
		return
	}
	inst.parent.drainQ.Enqueue(items...)
}

// InjectAt resolves location and enqueues items there, re-applying that
// segment's own gate. It returns an error wrapping ErrUnresolved if
// location cannot be found (spec §4.4, §4.8).
func (inst *Instance) InjectAt(location string, items ...Item) error {
	target, err := inst.FindSegment(location)
	if err != nil {
		return fmt.Errorf("InjectAt: %w", err)
	}
	target.Enqueue(items...)
	return nil
}

// InjectAfter resolves location and routes items to its follower, as if
// that segment had just emitted them (spec §4.4, §4.8).
func (inst *Instance) InjectAfter(location string, items ...Item) error {
	target, err := inst.FindSegment(location)
	if err != nil {
		return fmt.Errorf("InjectAfter: %w", err)
	}
	target.followerInParent().route(items)
	return nil
}

// --- diagnostics -----------------------------------------------------------

// Describe renders the subtree rooted at inst as an indented tree, in the
// same style the teacher module's own test helpers use github.com/xlab/treeprint
// to render btree/vector structures.
func (inst *Instance) Describe() string {
	tree := tp.New()
	tree.SetValue(inst.describeLabel())
	for _, c := range inst.children {
		c.describeInto(tree)
	}
	return tree.String()
}

func (inst *Instance) describeInto(parent tp.Tree) {
	if inst.kind == processorKind {
		parent.AddNode(inst.describeLabel())
		return
	}
	branch := parent.AddBranch(inst.describeLabel())
	for _, c := range inst.children {
		c.describeInto(branch)
	}
}

// Stats is a convenience for inst.engine.Stats(inst): a flattened
// pending/ready/pressure report for the whole subtree rooted at inst.
func (inst *Instance) Stats() map[string]SegmentStats {
	return inst.engine.Stats(inst)
}

func (inst *Instance) describeLabel() string {
	return fmt.Sprintf("%s (pending=%d ready=%d pressure=%d)", inst.path.Name(), inst.Pending(), inst.Ready(), inst.Pressure())
}
