// Package vision implements the frame queue that decouples a live camera
// feed from a busy VLM worker (spec.md §4.5).
//
// Grounded on the teacher's single-goroutine-ownership convention for
// mutable buffers — internal/mcp/mcphost/metrics.go's rollingWindow and
// pkg/provider/stt/whisper/native.go's nativeSession both own their buffer
// from one goroutine, though both still take a mutex since their callers
// cross goroutines. FrameQueue's caller contract is stricter (spec.md §5:
// "single-owner, no locking needed"), so no mutex is carried here at all.
package vision

import "github.com/edge-veda/runtime/pkg/runtime"

// FrameQueue holds at most one pending vision frame. It is NOT safe for
// concurrent use — the event loop that owns a FrameQueue must call Enqueue,
// Dequeue, MarkDone, Reset, and ResetCounters from a single goroutine.
type FrameQueue struct {
	pending    *runtime.VisionFrame
	processing bool
	dropped    uint64
}

// New returns an empty FrameQueue.
func New() *FrameQueue {
	return &FrameQueue{}
}

// Enqueue replaces any pending frame with frame. It returns true if nothing
// was dropped, false if an existing pending frame was displaced or frame
// itself was dropped because the current frame is still being processed
// (Open Question decision: a frame borrowed by Dequeue is never evicted —
// finishing the in-flight decode wins over flushing it). Either way the
// dropped-frame counter is incremented on every non-true return.
func (q *FrameQueue) Enqueue(frame runtime.VisionFrame) bool {
	if q.processing {
		q.dropped++
		return false
	}
	replaced := q.pending != nil
	q.pending = &frame
	if replaced {
		q.dropped++
		return false
	}
	return true
}

// Dequeue returns the pending frame and marks it as being processed. It
// returns (frame, false) if there is no pending frame or a frame is already
// being processed — dequeue is a no-op in both cases, per spec.md §4.5.
func (q *FrameQueue) Dequeue() (runtime.VisionFrame, bool) {
	if q.pending == nil || q.processing {
		return runtime.VisionFrame{}, false
	}
	q.processing = true
	return *q.pending, true
}

// MarkDone clears the processing flag and the now-consumed pending frame,
// freeing the single slot for the next Enqueue.
func (q *FrameQueue) MarkDone() {
	q.processing = false
	q.pending = nil
}

// Reset clears any pending frame (and the processing flag) without
// touching the cumulative dropped-frame counter.
func (q *FrameQueue) Reset() {
	q.pending = nil
	q.processing = false
}

// ResetCounters zeroes the cumulative dropped-frame counter.
func (q *FrameQueue) ResetCounters() {
	q.dropped = 0
}

// DroppedFrames returns the cumulative count of frames dropped by Enqueue
// since the last ResetCounters call.
func (q *FrameQueue) DroppedFrames() uint64 {
	return q.dropped
}

// Processing reports whether a dequeued frame is still awaiting MarkDone.
func (q *FrameQueue) Processing() bool {
	return q.processing
}
