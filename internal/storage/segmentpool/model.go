package segmentpool

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SegmentHandle is a read-only view of one segment file shared by every cursor reading from it.
type SegmentHandle struct {
	seq      uint64
	refs     int
	lastUsed int64
	evicted  bool
	file     *os.File
	data     []byte
	pool     *SegmentPool
}

type SegmentPool struct {
	dir         string
	prefix      string
	mmapReads   bool
	maxIdleTime time.Duration
	mu          sync.Mutex
	log         *zap.SugaredLogger
	handles     map[uint64]*SegmentHandle
}
