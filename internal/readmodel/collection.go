package readmodel

import (
	"context"
	"encoding/json"

	"github.com/puzpuzpuz/xsync/v4"

	"readmodel.dev/projector/internal/domain"
)

// Record is the persisted form of an instance.
type Record struct {
	Metadata
	State json.RawMessage `json:"state"`
}

// Collection stores read-model records grouped by read-model name.
//
// Save must not overwrite a stored record whose ProjectedPosition is greater
// than or equal to rec.ProjectedPosition.
type Collection interface {
	Load(ctx context.Context, readModel string, id domain.Identity) (Record, bool, error)
	Save(ctx context.Context, readModel string, rec Record) error
	// Purge removes every record of readModel. Used when rebuilding.
	Purge(ctx context.Context, readModel string) error
}

type recordKey struct {
	readModel string
	id        domain.Identity
}

// MemoryCollection is an in-process Collection. Reads may run concurrently
// with the owning slot's writes.
type MemoryCollection struct {
	records *xsync.Map[recordKey, Record]
}

// NewMemoryCollection creates an empty collection.
func NewMemoryCollection() *MemoryCollection {
	return &MemoryCollection{records: xsync.NewMap[recordKey, Record]()}
}

// Load implements Collection.
func (c *MemoryCollection) Load(_ context.Context, readModel string, id domain.Identity) (Record, bool, error) {
	rec, ok := c.records.Load(recordKey{readModel: readModel, id: id})
	return rec, ok, nil
}

// Save implements Collection. Each read model is written by a single slot
// worker, so the load-compare-store sequence does not race with itself.
func (c *MemoryCollection) Save(_ context.Context, readModel string, rec Record) error {
	key := recordKey{readModel: readModel, id: rec.ID}
	if cur, ok := c.records.Load(key); ok && cur.ProjectedPosition >= rec.ProjectedPosition {
		return nil
	}
	rec.State = append(json.RawMessage(nil), rec.State...)
	c.records.Store(key, rec)
	return nil
}

// Purge implements Collection.
func (c *MemoryCollection) Purge(_ context.Context, readModel string) error {
	c.records.Range(func(key recordKey, _ Record) bool {
		if key.readModel == readModel {
			c.records.Delete(key)
		}
		return true
	})
	return nil
}

// Len returns the number of records stored for readModel.
func (c *MemoryCollection) Len(readModel string) int {
	n := 0
	c.records.Range(func(key recordKey, _ Record) bool {
		if key.readModel == readModel {
			n++
		}
		return true
	})
	return n
}
