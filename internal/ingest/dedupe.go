package ingest

import "container/list"

// dedupe is a bounded LRU of recently seen event IDs. Each pipeline shard
// owns one, so no locking is needed. The bound means a duplicate delivered
// after its ID was evicted is counted again; that limited double-counting is
// the accepted cost of keeping memory fixed under an at-least-once feed.
type dedupe struct {
	cap   int
	order *list.List
	seen  map[string]*list.Element
}

func newDedupe(capacity int) *dedupe {
	if capacity <= 0 {
		capacity = 4096
	}
	return &dedupe{
		cap:   capacity,
		order: list.New(),
		seen:  make(map[string]*list.Element, capacity),
	}
}

// observed records the ID and reports whether it was already present.
func (d *dedupe) observed(id string) bool {
	if id == "" {
		return false
	}
	if el, ok := d.seen[id]; ok {
		d.order.MoveToFront(el)
		return true
	}
	d.seen[id] = d.order.PushFront(id)
	if d.order.Len() > d.cap {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.seen, oldest.Value.(string))
	}
	return false
}
