package pool

import "github.com/zenithdb/zenith/internal/muxconn"

// entry pairs a connection with its outstanding loan count. Allocation
// order is least-loaded-first: the heap orders by loan ascending so the
// next allocate() always returns the connection carrying the fewest
// concurrent borrowers.
type entry struct {
	conn  *muxconn.Conn
	loan  int
	index int // maintained by container/heap
}

// entryHeap is a container/heap.Interface over *entry, min-heap on loan.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return h[i].loan < h[j].loan }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
