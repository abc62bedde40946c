package persistq

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iamBelugaa/persistq/internal/engine"
)

// Queue is an open queue. It is safe for concurrent use; operations are serialized.
type Queue struct {
	mu     sync.Mutex
	engine *engine.Engine
	log    *zap.SugaredLogger
}

func newQueue(eng *engine.Engine, log *zap.SugaredLogger) *Queue {
	return &Queue{engine: eng, log: log.With("queue", eng.Name())}
}

// Name returns the logical queue name.
func (q *Queue) Name() string {
	return q.engine.Name()
}

// Dir returns the queue directory.
func (q *Queue) Dir() string {
	return q.engine.Dir()
}

// Write appends data as one record and returns len(data). Empty records are allowed.
func (q *Queue) Write(ctx context.Context, data []byte) (int, error) {
	if err := isValidRecord(data); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.engine.Write(ctx, data)
}

// Pop removes the oldest record. ok is false when the queue is empty. The caller must release
// the returned cursor.
func (q *Queue) Pop(ctx context.Context) (*Cursor, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.engine.Pop(ctx)
}

// Consume pops the oldest record and passes its payload to fn, releasing the cursor when fn
// returns. data must not be retained after fn returns. ok is false when the queue is empty.
//
// The record is removed even when fn fails.
func (q *Queue) Consume(ctx context.Context, fn func(data []byte) error) (ok bool, err error) {
	cursor, ok, err := q.Pop(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		err = multierr.Append(err, cursor.Release())
	}()

	data, err := cursor.Bytes()
	if err != nil {
		return true, err
	}
	return true, fn(data)
}

// Sync makes buffered writes durable; see SyncData and SyncFull.
func (q *Queue) Sync(ctx context.Context, mode SyncMode) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.engine.Sync(ctx, mode)
}

// Stats reports the queue's positions and space usage.
func (q *Queue) Stats() (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.engine.Stats()
}

// Close syncs and closes the queue. A second call fails with InvalidState.
func (q *Queue) Close() error {
	q.log.Infow("Close request received")

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.engine.Close()
}

// Destroy closes the queue and deletes its directory. The handle is unusable afterwards.
func (q *Queue) Destroy() error {
	q.log.Infow("Destroy request received")

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.engine.Destroy()
}
