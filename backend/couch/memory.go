package couch

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
)

// MemoryDatabase is an in-process Database with revisions and a changes feed.
// It backs the mem:// remote URL and tests.
type MemoryDatabase struct {
	mu       sync.Mutex
	docs     map[string]Document
	seq      int
	watchers map[*memoryFeed]struct{}
	offline  error
	closed   bool
}

// NewMemoryDatabase creates an empty in-memory database
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		docs:     make(map[string]Document),
		watchers: make(map[*memoryFeed]struct{}),
	}
}

// SetOffline makes every operation fail with err and ends open feeds.
// A nil err brings the database back online.
func (m *MemoryDatabase) SetOffline(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = err
	if err != nil {
		for w := range m.watchers {
			w.fail(err)
		}
	}
}

func (m *MemoryDatabase) checkLocked() error {
	if m.closed {
		return fmt.Errorf("memory database closed")
	}
	return m.offline
}

func (m *MemoryDatabase) Get(ctx context.Context, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, ok := m.docs[id]
	if !ok || doc.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneDoc(doc), nil
}

func (m *MemoryDatabase) Find(ctx context.Context, q Query) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var docs []Document
	for _, doc := range m.docs {
		if q.Matches(doc) {
			docs = append(docs, *cloneDoc(doc))
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (m *MemoryDatabase) Put(ctx context.Context, doc Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.putLocked(doc)
}

func (m *MemoryDatabase) putLocked(doc Document) (string, error) {
	cur, exists := m.docs[doc.ID]
	if exists && cur.Rev != doc.Rev && !(cur.Deleted && doc.Rev == "") {
		return "", fmt.Errorf("%w: %s", ErrConflict, doc.ID)
	}
	if !exists && doc.Rev != "" {
		return "", fmt.Errorf("%w: %s", ErrConflict, doc.ID)
	}

	gen := 1
	if exists {
		gen = revGeneration(cur.Rev) + 1
	}
	m.seq++
	stored := *cloneDoc(doc)
	stored.Rev = fmt.Sprintf("%d-%d", gen, m.seq)
	m.docs[doc.ID] = stored

	change := Change{ID: doc.ID, Seq: strconv.Itoa(m.seq), Deleted: doc.Deleted}
	for w := range m.watchers {
		w.push(change)
	}
	return stored.Rev, nil
}

func (m *MemoryDatabase) BulkDocs(ctx context.Context, docs []Document) ([]BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]BulkResult, len(docs))
	for i, doc := range docs {
		rev, err := m.putLocked(doc)
		results[i] = BulkResult{ID: doc.ID, Rev: rev, Err: err}
	}
	return results, nil
}

func (m *MemoryDatabase) Changes(ctx context.Context) (ChangeFeed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}

	feed := &memoryFeed{
		ctx:    ctx,
		notify: make(chan struct{}, 1),
		db:     m,
	}
	m.watchers[feed] = struct{}{}
	return feed, nil
}

// Watchers returns the number of open change feeds
func (m *MemoryDatabase) Watchers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

func (m *MemoryDatabase) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for w := range m.watchers {
		w.fail(io.EOF)
	}
	return nil
}

func (m *MemoryDatabase) removeWatcher(f *memoryFeed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watchers, f)
}

// memoryFeed queues changes without blocking writers
type memoryFeed struct {
	ctx    context.Context
	mu     sync.Mutex
	queue  []Change
	err    error
	notify chan struct{}
	db     *MemoryDatabase
	once   sync.Once
}

func (f *memoryFeed) push(c Change) {
	f.mu.Lock()
	f.queue = append(f.queue, c)
	f.mu.Unlock()
	f.signal()
}

func (f *memoryFeed) fail(err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
	f.signal()
}

func (f *memoryFeed) signal() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *memoryFeed) Next() (Change, error) {
	for {
		f.mu.Lock()
		if len(f.queue) > 0 {
			c := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			return c, nil
		}
		err := f.err
		f.mu.Unlock()
		if err != nil {
			return Change{}, err
		}

		select {
		case <-f.notify:
		case <-f.ctx.Done():
			return Change{}, f.ctx.Err()
		}
	}
}

func (f *memoryFeed) Close() error {
	f.once.Do(func() { f.db.removeWatcher(f) })
	return nil
}

func cloneDoc(d Document) *Document {
	c := d
	if d.Data != nil {
		c.Data = append([]byte(nil), d.Data...)
	}
	return &c
}

func revGeneration(rev string) int {
	for i := 0; i < len(rev); i++ {
		if rev[i] == '-' {
			n, _ := strconv.Atoi(rev[:i])
			return n
		}
	}
	return 0
}
