package schema

import (
	"context"
	"sync"

	"github.com/gqlgate/gqlgate/internal/language"
)

// BatchTable is an explicit request-scoped side table mapping a parent path
// node to its pending object batch. Keeping the association out of the node
// itself means the node's lifetime stays owned by the executor; entries are
// removed as soon as the batch fires.
type BatchTable struct {
	mu      sync.Mutex
	pending map[*PathNode]*Batch
}

func NewBatchTable() *BatchTable {
	return &BatchTable{pending: make(map[*PathNode]*Batch)}
}

// Batch is the memoized once-only resolution shared by all sibling fields of
// one object instance.
type Batch struct {
	table *BatchTable
	node  *PathNode

	mu      sync.Mutex
	fields  map[string]*language.Field
	resolve func(ctx context.Context, fields map[string]*language.Field) (any, error)

	once  sync.Once
	value any
	err   error
}

// Register records one sibling field's selection under the shared parent node
// and returns the node's batch, creating it on first registration. resolve is
// captured once; later registrations only add their selection.
func (t *BatchTable) Register(
	node *PathNode,
	fieldName string,
	field *language.Field,
	resolve func(ctx context.Context, fields map[string]*language.Field) (any, error),
) *Batch {
	t.mu.Lock()
	b, ok := t.pending[node]
	if !ok {
		b = &Batch{
			table:   t,
			node:    node,
			fields:  make(map[string]*language.Field),
			resolve: resolve,
		}
		t.pending[node] = b
	}
	t.mu.Unlock()

	b.mu.Lock()
	b.fields[fieldName] = field
	b.mu.Unlock()
	return b
}

// Await fires the batch exactly once with the complete selection map and
// returns its memoized result. The first await must happen only after every
// sibling field had the chance to register; the executor guarantees that by
// resolving all sibling fields before awaiting any deferred result.
func (b *Batch) Await(ctx context.Context) (any, error) {
	b.once.Do(func() {
		b.table.mu.Lock()
		delete(b.table.pending, b.node)
		b.table.mu.Unlock()

		b.mu.Lock()
		fields := b.fields
		b.mu.Unlock()
		b.value, b.err = b.resolve(ctx, fields)
	})
	return b.value, b.err
}
