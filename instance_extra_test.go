package piper

import (
	"errors"
	"testing"

	"github.com/npillmayer/piper/label"
	"github.com/npillmayer/piper/optional"
	"github.com/npillmayer/piper/plog"
)

// --- batch_size validation -------------------------------------------------

func TestProcessorRejectsNonPositiveBatchSize(t *testing.T) {
	for _, n := range []int{0, -1} {
		func() {
			defer func() {
				r := recover()
				if r == nil {
					t.Fatalf("batch_size=%d: expected panic, got none", n)
				}
				if _, ok := r.(*ConfigError); !ok {
					t.Fatalf("batch_size=%d: panic value = %#v, want *ConfigError", n, r)
				}
			}()
			Processor("p", noopHandler, WithBatchSize(n))
		}()
	}
}

func TestContainerRejectsNonPositiveBatchSize(t *testing.T) {
	leaf := Processor("leaf", noopHandler)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic, got none")
		}
		if _, ok := r.(*ConfigError); !ok {
			t.Fatalf("panic value = %#v, want *ConfigError", r)
		}
	}()
	Container("c", []*Blueprint{leaf}, WithBatchSize(-10))
}

// newInstance is the defensive check Init ultimately relies on: construct a
// Blueprint directly (bypassing Processor's validation) to exercise it.
func TestNewInstanceRejectsNonPositiveBatchSize(t *testing.T) {
	bp := &Blueprint{
		kind:    processorKind,
		label:   label.Label("p"),
		handler: noopHandler,
		attrs:   Attrs{BatchSize: optional.Some(0)},
	}
	_, err := newInstance(bp, nil, defaultEngine, nil)
	if err == nil {
		t.Fatal("expected error, got none")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *ConfigError", err)
	}
}

func TestNewEngineFromOptionsRejectsNonPositiveBatchSize(t *testing.T) {
	for _, n := range []any{0, -1, -3.5} {
		_, err := NewEngineFromOptions(map[string]any{"batch_size": n})
		if err == nil {
			t.Fatalf("batch_size=%v: expected error, got none", n)
		}
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("batch_size=%v: err = %v, want *ConfigError", n, err)
		}
	}
}

// --- idempotent Init ---------------------------------------------------

func TestInitIsIdempotent(t *testing.T) {
	leaf := Processor("leaf", noopHandler)
	main := Container("main", []*Blueprint{leaf})

	first, err := main.Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	second, err := main.Init()
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if first != second {
		t.Errorf("second Init() returned a different instance; want the same one back")
	}
}

// --- logging gates -------------------------------------------------------

type recordedCall struct {
	sev     string
	segment string
	msg     string
	items   []any
}

type recordingLogger struct {
	calls []recordedCall
}

func (r *recordingLogger) Error(segment, msg string, items ...any) {
	r.calls = append(r.calls, recordedCall{"error", segment, msg, items})
}
func (r *recordingLogger) Warn(segment, msg string, items ...any) {
	r.calls = append(r.calls, recordedCall{"warn", segment, msg, items})
}
func (r *recordingLogger) Info(segment, msg string, items ...any) {
	r.calls = append(r.calls, recordedCall{"info", segment, msg, items})
}
func (r *recordingLogger) Debug(segment, msg string, items ...any) {
	r.calls = append(r.calls, recordedCall{"debug", segment, msg, items})
}

var _ plog.Logger = (*recordingLogger)(nil)

func TestSchedulerDebugLogGatedByDebugAttr(t *testing.T) {
	rl := &recordingLogger{}
	engine := NewEngine(WithLogger(rl))

	drop := func(inst *Instance, batch []Item, _ ...any) error { return nil }
	c0 := Processor("c0", drop, WithBatchSize(2))
	c1 := Processor("c1", drop, WithBatchSize(2))
	main := Container("main", []*Blueprint{c0, c1})

	root, err := main.InitWithEngine(engine)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	root.Children()[0].Enqueue(1, 2)
	if err := root.ProcessBatch(); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	for _, c := range rl.calls {
		if c.sev == "debug" {
			t.Errorf("unexpected debug log with debug=0: %+v", c)
		}
	}

	rl.calls = nil
	root.debug = optional.Some(1)
	root.Children()[0].Enqueue(3, 4)
	if err := root.ProcessBatch(); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	sawDebug := false
	for _, c := range rl.calls {
		if c.sev == "debug" {
			sawDebug = true
		}
	}
	if !sawDebug {
		t.Error("expected a debug log once debug>0, saw none")
	}
}

func TestAllowFailureItemsGatedByVerbose(t *testing.T) {
	boom := errors.New("boom")
	failing := Processor("failing", noopHandler, WithAllow(func(it Item) (bool, error) {
		return false, boom
	}))

	rl := &recordingLogger{}
	engine := NewEngine(WithLogger(rl))
	root, err := failing.InitWithEngine(engine)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	root.Enqueue(1)
	if len(rl.calls) != 1 || len(rl.calls[0].items) != 0 {
		t.Errorf("verbose=0: calls = %+v, want one warn call with no items", rl.calls)
	}

	rl.calls = nil
	root.verbose = optional.Some(2)
	root.Enqueue(2)
	if len(rl.calls) != 1 || len(rl.calls[0].items) != 2 {
		t.Errorf("verbose=2: calls = %+v, want one warn call with 2 items", rl.calls)
	}
}

// --- handler panic recovery -----------------------------------------------

func TestHandlerPanicIsRecoveredAsHandlerFailure(t *testing.T) {
	boom := Processor("boom", func(inst *Instance, batch []Item, _ ...any) error {
		for _, it := range batch {
			_ = it.(string) // batch holds ints: this assertion panics
		}
		return nil
	})
	root, err := boom.Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	root.Enqueue(1)
	err = root.ProcessBatch()
	if err == nil {
		t.Fatal("expected an error from the panicking handler, got nil")
	}
	var hf *HandlerFailure
	if !errors.As(err, &hf) {
		t.Fatalf("err = %v, want *HandlerFailure", err)
	}
	var typeErr *TypeError
	if !errors.As(hf.Err, &typeErr) {
		t.Fatalf("HandlerFailure.Err = %v, want *TypeError", hf.Err)
	}
}
