package couch

import (
	"context"
	"sync"
)

// LazyDatabase connects on first use so that an unreachable server does not
// block start-up. A failed connection is retried on the next call.
type LazyDatabase struct {
	mu   sync.Mutex
	open func(ctx context.Context) (Database, error)
	db   Database
}

// NewLazyDatabase wraps open, which is called until it succeeds
func NewLazyDatabase(open func(ctx context.Context) (Database, error)) *LazyDatabase {
	return &LazyDatabase{open: open}
}

// Connected reports whether a connection has been established
func (l *LazyDatabase) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db != nil
}

func (l *LazyDatabase) conn(ctx context.Context) (Database, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db != nil {
		return l.db, nil
	}
	db, err := l.open(ctx)
	if err != nil {
		return nil, err
	}
	l.db = db
	return db, nil
}

func (l *LazyDatabase) Get(ctx context.Context, id string) (*Document, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	return db.Get(ctx, id)
}

func (l *LazyDatabase) Find(ctx context.Context, q Query) ([]Document, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	return db.Find(ctx, q)
}

func (l *LazyDatabase) Put(ctx context.Context, doc Document) (string, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return "", err
	}
	return db.Put(ctx, doc)
}

func (l *LazyDatabase) BulkDocs(ctx context.Context, docs []Document) ([]BulkResult, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	return db.BulkDocs(ctx, docs)
}

func (l *LazyDatabase) Changes(ctx context.Context) (ChangeFeed, error) {
	db, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	return db.Changes(ctx)
}

func (l *LazyDatabase) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
