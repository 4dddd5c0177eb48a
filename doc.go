/*
Package piper implements a pull-driven pipeline engine: a segment tree of
processors and containers, built once from an immutable Blueprint and
instantiated into a live Instance tree that batches items through handlers,
routes them with a small set of flow-control primitives, and resolves
segments by label path.

Construction

A tree is described with Processor and Container blueprints, then realized
with Blueprint.Init:

	half := piper.Processor("half", func(inst *piper.Instance, batch []piper.Item, _ ...any) error {
		for _, it := range batch {
			inst.Emit(it.(int) / 2)
		}
		return nil
	}, piper.WithBatchSize(2), piper.WithAllow(func(it piper.Item) (bool, error) {
		return it.(int)%2 == 0, nil
	}))
	main := piper.Container("main", []*piper.Blueprint{half}, piper.WithBatchSize(4))
	root, err := main.Init()

Driving the pipeline

	root.Enqueue(1, 2, 3, 4, 5, 6)
	for root.HasPending() || root.Ready() > 0 {
		items, err := root.Dequeue(6)
		...
	}

See the label, queue, and plog sub-packages for the pluggable pieces
(segment paths, the ordered buffer every queue is built on, and the
diagnostic sink), and Engine for process-wide configuration.
*/
package piper
