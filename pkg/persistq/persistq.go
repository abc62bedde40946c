// Package persistq is the public surface of the queue: an Engine carrying the shared logger and
// default options, and the Queue handles it creates or opens.
package persistq

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/iamBelugaa/persistq/internal/engine"
	"github.com/iamBelugaa/persistq/pkg/logger"
	"github.com/iamBelugaa/persistq/pkg/options"
)

type (
	// Cursor gives access to one popped record until it is released.
	Cursor = engine.Cursor
	// Position addresses a record by segment sequence number and byte offset.
	Position = engine.Position
	// Stats is a point-in-time summary of a queue.
	Stats = engine.Stats
	// SyncMode selects how much state Sync makes durable.
	SyncMode = options.SyncMode
)

const (
	SyncData = options.SyncData
	SyncFull = options.SyncFull
)

// Engine creates and opens queues. It holds no open files itself, so any number of queues may
// share one Engine.
type Engine struct {
	log      *zap.SugaredLogger
	defaults []options.OptionFunc
}

// New returns an Engine logging through a production zap logger tagged with service. opts are
// applied to every queue it creates or opens.
func New(service string, opts ...options.OptionFunc) *Engine {
	return NewWithLogger(logger.New(service), opts...)
}

// NewWithLogger returns an Engine logging through log.
func NewWithLogger(log *zap.SugaredLogger, opts ...options.OptionFunc) *Engine {
	return &Engine{log: log, defaults: opts}
}

// Create initializes a new queue in dir/name. The directory may be missing or empty.
func (e *Engine) Create(
	ctx context.Context, dir, name string, maxSegmentBytes uint64, syncOnWrite bool, opts ...options.OptionFunc,
) (*Queue, error) {
	e.log.Infow("Create request received", "dir", dir, "name", name)

	queueOpts, err := e.options(dir, name, maxSegmentBytes, syncOnWrite, opts)
	if err != nil {
		return nil, err
	}

	eng, err := engine.Create(ctx, e.log, queueOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue %s: %w", queueOpts.QueueDir(), err)
	}
	return newQueue(eng, e.log), nil
}

// Open loads the existing queue in dir/name. maxSegmentBytes and syncOnWrite apply from now
// on; the record format is the one the queue was created with.
func (e *Engine) Open(
	ctx context.Context, dir, name string, maxSegmentBytes uint64, syncOnWrite bool, opts ...options.OptionFunc,
) (*Queue, error) {
	e.log.Infow("Open request received", "dir", dir, "name", name)

	queueOpts, err := e.options(dir, name, maxSegmentBytes, syncOnWrite, opts)
	if err != nil {
		return nil, err
	}

	eng, err := engine.Open(ctx, e.log, queueOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue %s: %w", queueOpts.QueueDir(), err)
	}
	return newQueue(eng, e.log), nil
}

func (e *Engine) options(
	dir, name string, maxSegmentBytes uint64, syncOnWrite bool, opts []options.OptionFunc,
) (*options.Options, error) {
	if err := validateQueueArgs(dir, name, maxSegmentBytes); err != nil {
		return nil, err
	}

	o := options.DefaultOptions()
	for _, opt := range e.defaults {
		opt(&o)
	}

	o.DataDir = dir
	o.Name = name
	o.SyncOnWrite = syncOnWrite
	o.SegmentOptions.Size = maxSegmentBytes

	for _, opt := range opts {
		opt(&o)
	}
	return &o, nil
}
