package fleet

import "sync"

// All is the distinguished subscription-index key whose members receive
// every data event regardless of type.
const All = "all"

// Index is the subscription index: a mapping from event type to the
// ordered collection of satellite handles registered for it. All always
// exists as a key, possibly with an empty list. A handle appears at most
// once in any single list.
//
// Writers: the reader (prune on EOF/decode error), the router pool
// (register/unregister, prune on send failure). Readers: the router pool,
// under lock, to compute a data event's recipient set.
//
// Lock ordering: a caller that needs both the satellite set's lock and
// this index's lock must acquire the satellite set first. Neither lock is
// ever held across a network read or write.
type Index struct {
	mu   sync.Mutex
	data map[string][]*Handle
}

// NewIndex returns a subscription index with the "all" key already
// present and empty.
func NewIndex() *Index {
	return &Index{data: map[string][]*Handle{All: nil}}
}

// Register adds sat to the subscriber list for evType, unless it is
// already present. Creates the list if this is the first subscriber for
// evType.
func (idx *Index) Register(sat *Handle, evType string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	list := idx.data[evType]
	for _, s := range list {
		if s == sat {
			return
		}
	}
	idx.data[evType] = append(list, sat)
}

// Unregister removes sat from the subscriber list for evType, if present.
// No-op if the list doesn't exist or sat isn't in it.
func (idx *Index) Unregister(sat *Handle, evType string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	list, ok := idx.data[evType]
	if !ok {
		return
	}
	for i, s := range list {
		if s == sat {
			idx.data[evType] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Subscribers returns a snapshot of the subscriber list for evType. The
// returned slice is a copy; callers may range over it without holding the
// index's lock.
func (idx *Index) Subscribers(evType string) []*Handle {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	list := idx.data[evType]
	out := make([]*Handle, len(list))
	copy(out, list)
	return out
}

// Prune removes sat from every subscription list, including "all". Called
// by the reader when a satellite's connection closes or faults, and by
// the router pool when a send to sat fails.
func (idx *Index) Prune(sat *Handle) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for evType, list := range idx.data {
		for i, s := range list {
			if s == sat {
				idx.data[evType] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}
