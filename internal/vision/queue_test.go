package vision

import (
	"testing"

	"github.com/edge-veda/runtime/pkg/runtime"
)

func frame(n byte) runtime.VisionFrame {
	return runtime.VisionFrame{Data: []byte{n}, Width: 4, Height: 4}
}

func TestFrameQueueEnqueueDequeueRoundTrip(t *testing.T) {
	q := New()
	if ok := q.Enqueue(frame(1)); !ok {
		t.Fatal("expected first enqueue on an empty queue to report no drop")
	}
	got, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected a pending frame to dequeue")
	}
	if got.Data[0] != 1 {
		t.Fatalf("want frame 1, got %+v", got)
	}
}

func TestFrameQueueDequeueEmptyIsNoOp(t *testing.T) {
	q := New()
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected Dequeue on an empty queue to return false")
	}
}

func TestFrameQueueEnqueueReplacesPendingAndDrops(t *testing.T) {
	q := New()
	q.Enqueue(frame(1))
	if ok := q.Enqueue(frame(2)); ok {
		t.Fatal("expected the second enqueue to report a drop")
	}
	if got := q.DroppedFrames(); got != 1 {
		t.Fatalf("want 1 dropped frame, got %d", got)
	}
	got, ok := q.Dequeue()
	if !ok || got.Data[0] != 2 {
		t.Fatalf("want the freshest frame (2) to survive, got %+v ok=%v", got, ok)
	}
}

func TestFrameQueueDequeueIsNoOpWhileProcessing(t *testing.T) {
	q := New()
	q.Enqueue(frame(1))
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("expected the first dequeue to succeed")
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected a second dequeue to be a no-op while processing")
	}
}

func TestFrameQueueNeverEvictsBorrowedFrame(t *testing.T) {
	q := New()
	q.Enqueue(frame(1))
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("expected dequeue to succeed")
	}
	// A new frame arrives while the consumer is still mid-decode of frame 1.
	if ok := q.Enqueue(frame(2)); ok {
		t.Fatal("expected the arriving frame to be dropped, not replace the borrowed one")
	}
	if got := q.DroppedFrames(); got != 1 {
		t.Fatalf("want 1 dropped frame, got %d", got)
	}

	q.MarkDone()
	if ok := q.Enqueue(frame(3)); !ok {
		t.Fatal("expected enqueue to succeed once the slot is freed by MarkDone")
	}
	got, ok := q.Dequeue()
	if !ok || got.Data[0] != 3 {
		t.Fatalf("want frame 3 after MarkDone freed the slot, got %+v ok=%v", got, ok)
	}
}

func TestFrameQueueResetClearsPendingNotCounter(t *testing.T) {
	q := New()
	q.Enqueue(frame(1))
	q.Enqueue(frame(2)) // drops frame 1
	q.Reset()
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected Reset to clear the pending frame")
	}
	if got := q.DroppedFrames(); got != 1 {
		t.Fatalf("want the dropped counter to survive Reset, got %d", got)
	}
}

func TestFrameQueueResetCounters(t *testing.T) {
	q := New()
	q.Enqueue(frame(1))
	q.Enqueue(frame(2))
	q.ResetCounters()
	if got := q.DroppedFrames(); got != 0 {
		t.Fatalf("want 0 after ResetCounters, got %d", got)
	}
}

func TestFrameQueueProcessingReportsState(t *testing.T) {
	q := New()
	if q.Processing() {
		t.Fatal("expected a fresh queue to not be processing")
	}
	q.Enqueue(frame(1))
	q.Dequeue()
	if !q.Processing() {
		t.Fatal("expected Processing to be true after Dequeue")
	}
	q.MarkDone()
	if q.Processing() {
		t.Fatal("expected Processing to be false after MarkDone")
	}
}
