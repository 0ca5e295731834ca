package agglo

import (
	"fmt"

	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

type queueItem struct {
	key rag.EdgeKey
	val float64
}

// MergeQueue is a binary min-heap of edges keyed by score.  The slot of
// every queued edge is kept in a side table so keys can be changed in place.
// Ties are broken by edge key.
type MergeQueue struct {
	items []queueItem // 1-based, items[0] is unused
	slots map[rag.EdgeKey]int
}

func NewMergeQueue(capacity int) *MergeQueue {
	return &MergeQueue{
		items: make([]queueItem, 1, capacity+1),
		slots: make(map[rag.EdgeKey]int, capacity),
	}
}

func (q *MergeQueue) Len() int {
	return len(q.items) - 1
}

// Slot returns the heap position of an edge or -1 if it is not queued.
func (q *MergeQueue) Slot(key rag.EdgeKey) int {
	if i, found := q.slots[key]; found {
		return i
	}
	return -1
}

// Value returns the queued score of an edge.
func (q *MergeQueue) Value(key rag.EdgeKey) (float64, bool) {
	i, found := q.slots[key]
	if !found {
		return 0, false
	}
	return q.items[i].val, true
}

func (q *MergeQueue) less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.val != b.val {
		return a.val < b.val
	}
	return a.key.Less(b.key)
}

func (q *MergeQueue) swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.slots[q.items[i].key] = i
	q.slots[q.items[j].key] = j
}

func (q *MergeQueue) up(i int) {
	for i > 1 && q.less(i, i/2) {
		q.swap(i, i/2)
		i /= 2
	}
}

func (q *MergeQueue) down(i int) {
	n := q.Len()
	for {
		smallest := i
		if l := 2 * i; l <= n && q.less(l, smallest) {
			smallest = l
		}
		if r := 2*i + 1; r <= n && q.less(r, smallest) {
			smallest = r
		}
		if smallest == i {
			return
		}
		q.swap(i, smallest)
		i = smallest
	}
}

// Insert queues an edge.  An edge already queued has its key updated.
func (q *MergeQueue) Insert(key rag.EdgeKey, val float64) {
	if _, found := q.slots[key]; found {
		q.Update(key, val)
		return
	}
	q.items = append(q.items, queueItem{key: key, val: val})
	i := q.Len()
	q.slots[key] = i
	q.up(i)
}

// DecreaseKey lowers the score of a queued edge.
func (q *MergeQueue) DecreaseKey(key rag.EdgeKey, val float64) {
	i, found := q.slots[key]
	if !found {
		panic(fmt.Sprintf("agglo: decrease key of unqueued edge %s", key))
	}
	q.items[i].val = val
	q.up(i)
}

// IncreaseKey raises the score of a queued edge.
func (q *MergeQueue) IncreaseKey(key rag.EdgeKey, val float64) {
	i, found := q.slots[key]
	if !found {
		panic(fmt.Sprintf("agglo: increase key of unqueued edge %s", key))
	}
	q.items[i].val = val
	q.down(i)
}

// Update changes the score of a queued edge in either direction.
func (q *MergeQueue) Update(key rag.EdgeKey, val float64) {
	i, found := q.slots[key]
	if !found {
		panic(fmt.Sprintf("agglo: update of unqueued edge %s", key))
	}
	if val < q.items[i].val {
		q.DecreaseKey(key, val)
	} else {
		q.IncreaseKey(key, val)
	}
}

func (q *MergeQueue) removeAt(i int) queueItem {
	last := q.Len()
	item := q.items[i]
	if i != last {
		q.swap(i, last)
	}
	q.items = q.items[:last]
	delete(q.slots, item.key)
	if i < last {
		q.down(i)
		q.up(i)
	}
	return item
}

// Invalidate drops an edge from the queue.  It is a no-op for unqueued edges.
func (q *MergeQueue) Invalidate(key rag.EdgeKey) {
	if i, found := q.slots[key]; found {
		q.removeAt(i)
	}
}

// ExtractMin removes and returns the lowest scored edge.
func (q *MergeQueue) ExtractMin() (rag.EdgeKey, float64, bool) {
	if q.Len() == 0 {
		return rag.EdgeKey{}, 0, false
	}
	item := q.removeAt(1)
	return item.key, item.val, true
}

// Check verifies the heap order and the side table.
func (q *MergeQueue) Check() error {
	if len(q.slots) != q.Len() {
		return fmt.Errorf("side table has %d entries for %d queued edges", len(q.slots), q.Len())
	}
	for i := 1; i <= q.Len(); i++ {
		if q.slots[q.items[i].key] != i {
			return fmt.Errorf("edge %s at slot %d recorded at slot %d", q.items[i].key, i, q.slots[q.items[i].key])
		}
		if i > 1 && q.less(i, i/2) {
			return fmt.Errorf("slot %d orders before its parent", i)
		}
	}
	return nil
}
