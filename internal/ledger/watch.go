package ledger

import (
	"slices"
	"sync"
)

// Op is the kind of a committed change.
type Op int

// Change kinds. OpReset tells a watcher that changes were dropped and it
// should reload the table.
const (
	OpPut Op = iota
	OpDelete
	OpReset
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Change describes one committed write.
type Change struct {
	Table Table
	Op    Op
	Key   string
}

const watchBuffer = 128

type watcher struct {
	ch     chan Change
	tables []Table
	// reset is set when a change was dropped on a full buffer.
	reset map[Table]bool
}

func (w *watcher) wants(t Table) bool {
	return len(w.tables) == 0 || slices.Contains(w.tables, t)
}

// Broadcaster fans committed changes out to watchers. Store
// implementations publish after commit. Delivery never blocks the writer: a
// watcher whose buffer is full gets a single OpReset for the table once
// space frees up.
type Broadcaster struct {
	mu       sync.Mutex
	next     int
	watchers map[int]*watcher
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{watchers: make(map[int]*watcher)}
}

// Subscribe registers a watcher for the given tables.
func (b *Broadcaster) Subscribe(tables ...Table) (<-chan Change, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	w := &watcher{
		ch:     make(chan Change, watchBuffer),
		tables: tables,
		reset:  make(map[Table]bool),
	}
	b.watchers[id] = w

	return w.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.watchers[id]; ok {
			delete(b.watchers, id)
			close(w.ch)
		}
	}
}

// Publish delivers changes to every interested watcher.
func (b *Broadcaster) Publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, w := range b.watchers {
		for _, c := range changes {
			if !w.wants(c.Table) {
				continue
			}
			if w.reset[c.Table] {
				select {
				case w.ch <- Change{Table: c.Table, Op: OpReset}:
					delete(w.reset, c.Table)
				default:
				}
				continue
			}
			select {
			case w.ch <- c:
			default:
				w.reset[c.Table] = true
			}
		}
	}
}

// Len returns the number of attached watchers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

// Close detaches and closes every watcher.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, w := range b.watchers {
		close(w.ch)
		delete(b.watchers, id)
	}
}
