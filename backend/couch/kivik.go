package couch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // CouchDB driver
)

const findPageSize = 500

// KivikDatabase talks to CouchDB through kivik
type KivikDatabase struct {
	client *kivik.Client
	db     *kivik.DB
	name   string
}

// OpenKivik connects to the CouchDB server at dsn and ensures the database
// and its Mango index exist. Credentials may be embedded in dsn.
func OpenKivik(ctx context.Context, dsn, dbName string) (*KivikDatabase, error) {
	client, err := kivik.New("couch", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create CouchDB client: %w", err)
	}

	kd := &KivikDatabase{client: client, name: dbName}
	if err := kd.EnsureDatabase(ctx); err != nil {
		client.Close()
		return nil, err
	}
	kd.db = client.DB(dbName)
	return kd, nil
}

// EnsureDatabase creates the database and the type/user index when missing
func (k *KivikDatabase) EnsureDatabase(ctx context.Context) error {
	exists, err := k.client.DBExists(ctx, k.name)
	if err != nil {
		return fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := k.client.CreateDB(ctx, k.name); err != nil && kivik.HTTPStatus(err) != http.StatusPreconditionFailed {
			return fmt.Errorf("failed to create database %s: %w", k.name, err)
		}
	}

	index := map[string]interface{}{
		"fields": []string{"type", "user_id", "parent_id"},
	}
	if err := k.client.DB(k.name).CreateIndex(ctx, "tasksync", "type-user-parent", index); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (k *KivikDatabase) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	if err := k.db.Get(ctx, id).ScanDoc(&doc); err != nil {
		return nil, translate(err)
	}
	return &doc, nil
}

func (k *KivikDatabase) Find(ctx context.Context, q Query) ([]Document, error) {
	selector := map[string]interface{}{
		"type":    q.Type,
		"user_id": q.UserID,
	}
	if q.ParentID != "" {
		selector["parent_id"] = q.ParentID
	}

	var docs []Document
	for skip := 0; ; skip += findPageSize {
		query := map[string]interface{}{
			"selector": selector,
			"limit":    findPageSize,
			"skip":     skip,
		}

		page, err := k.findPage(ctx, query)
		if err != nil {
			return nil, err
		}
		docs = append(docs, page...)
		if len(page) < findPageSize {
			return docs, nil
		}
	}
}

func (k *KivikDatabase) findPage(ctx context.Context, query map[string]interface{}) ([]Document, error) {
	rows := k.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return docs, nil
}

func (k *KivikDatabase) Put(ctx context.Context, doc Document) (string, error) {
	rev, err := k.db.Put(ctx, doc.ID, doc)
	if err != nil {
		return "", translate(err)
	}
	return rev, nil
}

func (k *KivikDatabase) BulkDocs(ctx context.Context, docs []Document) ([]BulkResult, error) {
	payload := make([]interface{}, len(docs))
	for i, d := range docs {
		payload[i] = d
	}

	results, err := k.db.BulkDocs(ctx, payload)
	if err != nil {
		return nil, translate(err)
	}

	out := make([]BulkResult, len(results))
	for i, r := range results {
		out[i] = BulkResult{ID: r.ID, Rev: r.Rev}
		if r.Error != nil {
			out[i].Err = translate(r.Error)
		}
	}
	return out, nil
}

func (k *KivikDatabase) Changes(ctx context.Context) (ChangeFeed, error) {
	changes := k.db.Changes(ctx, kivik.Params(map[string]interface{}{
		"feed":      "continuous",
		"since":     "now",
		"heartbeat": 30000,
	}))
	if err := changes.Err(); err != nil {
		return nil, translate(err)
	}
	return &kivikFeed{changes: changes}, nil
}

func (k *KivikDatabase) Close() error {
	return k.client.Close()
}

type kivikFeed struct {
	changes *kivik.Changes
}

func (f *kivikFeed) Next() (Change, error) {
	if !f.changes.Next() {
		if err := f.changes.Err(); err != nil {
			return Change{}, translate(err)
		}
		return Change{}, io.EOF
	}
	return Change{
		ID:      f.changes.ID(),
		Seq:     f.changes.Seq(),
		Deleted: f.changes.Deleted(),
	}, nil
}

func (f *kivikFeed) Close() error {
	return f.changes.Close()
}

// translate maps kivik status codes onto the package sentinels
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch kivik.HTTPStatus(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case http.StatusConflict:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
