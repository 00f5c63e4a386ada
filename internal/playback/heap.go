package playback

// taskEntry is a pending speech task together with its scheduling metadata.
// The seq counter provides FIFO ordering among equal-priority tasks.
type taskEntry struct {
	task *SpeechTask
	seq  uint64
}

// taskHeap is a max-heap of pending tasks ordered by (priority desc, seq asc).
// It implements container/heap.Interface.
type taskHeap []taskEntry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x. Callers must not invoke this directly; use heap.Push.
func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(taskEntry))
}

// Pop removes and returns the last element. Callers must not invoke this
// directly; use heap.Pop.
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = taskEntry{}
	*h = old[:n-1]
	return e
}
