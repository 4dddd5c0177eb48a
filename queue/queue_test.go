package queue

import (
	"reflect"
	"testing"
)

func TestFIFOOrder(t *testing.T) {
	q := NewFIFO()
	q.Enqueue(1, 2, 3)
	q.Enqueue(4)
	if got := q.Ready(); got != 4 {
		t.Errorf("Ready() = %d, want 4", got)
	}
	got := q.Dequeue(2)
	want := []any{1, 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Dequeue(2) = %v, want %v", got, want)
	}
	if got := q.Ready(); got != 2 {
		t.Errorf("Ready() after dequeue = %d, want 2", got)
	}
	rest := q.Dequeue(10)
	want = []any{3, 4}
	if !reflect.DeepEqual(rest, want) {
		t.Errorf("Dequeue(10) = %v, want %v (should cap to available)", rest, want)
	}
	if got := q.Ready(); got != 0 {
		t.Errorf("Ready() after draining = %d, want 0", got)
	}
}

func TestFIFODequeueEmpty(t *testing.T) {
	q := NewFIFO()
	if got := q.Dequeue(5); got != nil {
		t.Errorf("Dequeue on empty queue = %v, want nil", got)
	}
}
