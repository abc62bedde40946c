// Package options provides data structures and functions for configuring a persistq queue.
package options

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iamBelugaa/persistq/pkg/errors"
)

// Compression selects the payload transform applied by the record codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionS2   Compression = "s2"
)

// SyncMode selects how much state a sync makes durable.
type SyncMode int

const (
	// SyncData flushes buffered writes and fsyncs segment files.
	SyncData SyncMode = iota
	// SyncFull additionally persists head/tail metadata and reclaims drained segments.
	SyncFull
)

func (m SyncMode) String() string {
	switch m {
	case SyncData:
		return "data"
	case SyncFull:
		return "full"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

// ParseSyncMode maps the integer mode used by language bindings: 0 syncs data only,
// anything else performs a full sync.
func ParseSyncMode(mode int) SyncMode {
	if mode == 0 {
		return SyncData
	}
	return SyncFull
}

// Defines configurable parameters for each segment.
type SegmentOptions struct {
	// Defines the size a segment can grow to before rollover. A single record larger than
	// this still gets a segment of its own.
	//
	//  - Default: 32MB
	//  - Maximum: 4GB
	//  - Minimum: 16B
	Size uint64 `json:"maxSegmentSize"`

	// Defines the filename prefix for segment files.
	// Final filename will be: `prefix_sequence.seg`
	//
	// Default: "segment"
	//
	// Example: If Prefix is "orders", a segment file might be "orders_00000000000000000007.seg".
	Prefix string `json:"prefix"`

	// Size of the buffered writer in front of the tail segment.
	//
	// Default: 64KB
	WriteBufferSize int `json:"writeBufferSize"`
}

// Defines the configuration parameters for a queue.
type Options struct {
	// Specifies the base path under which the queue directory lives.
	//
	// Default: "/var/lib/persistq"
	DataDir string `json:"dataDir"`

	// Logical queue name; the queue directory is DataDir/Name.
	//
	// Default: "queuedata"
	Name string `json:"name"`

	// Forces a full sync after every write.
	SyncOnWrite bool `json:"syncOnWrite"`

	// Stores a CRC32 next to every record and verifies it on read.
	// Fixed when the queue is created.
	Checksums bool `json:"checksums"`

	// Payload compression. Fixed when the queue is created.
	//
	// Default: "none"
	Compression Compression `json:"compression"`

	// Serve reads of sealed segments from read-only memory mappings.
	MmapReads bool `json:"mmapReads"`

	// Hold an advisory lock on the queue directory while the queue is open.
	LockDirectory bool `json:"lockDirectory"`

	// Registers queue metrics when non-nil.
	Registerer prometheus.Registerer `json:"-"`

	// Configures segment management including size limits and naming convention.
	SegmentOptions *SegmentOptions `json:"segmentOptions"`
}

type OptionFunc func(*Options)

// QueueDir returns the directory holding the queue's files.
func (o *Options) QueueDir() string {
	return filepath.Join(o.DataDir, o.Name)
}

// Validate checks the configuration and returns the first violation found.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.DataDir) == "" {
		return errors.NewRequiredFieldError("dataDir")
	}

	if strings.TrimSpace(o.Name) == "" {
		return errors.NewRequiredFieldError("name")
	}

	if strings.ContainsRune(o.Name, filepath.Separator) || o.Name == "." || o.Name == ".." {
		return errors.NewValidationError(
			nil, errors.ErrValidationInvalidData, fmt.Sprintf("queue name %q must be a single path element", o.Name),
		).WithField("name").WithProvided(o.Name)
	}

	if o.SegmentOptions == nil {
		return errors.NewRequiredFieldError("segmentOptions")
	}

	if o.SegmentOptions.Size < MinSegmentSize || o.SegmentOptions.Size > MaxSegmentSize {
		return errors.NewFieldRangeError("maxSegmentSize", o.SegmentOptions.Size, MinSegmentSize, MaxSegmentSize).
			WithMessage(
				fmt.Sprintf(
					"Segment size %s must be between %s and %s",
					FormatBytes(o.SegmentOptions.Size), FormatBytes(MinSegmentSize), FormatBytes(MaxSegmentSize),
				),
			)
	}

	if strings.TrimSpace(o.SegmentOptions.Prefix) == "" {
		return errors.NewRequiredFieldError("prefix")
	}

	if strings.ContainsAny(o.SegmentOptions.Prefix, `/\*?[`) {
		return errors.NewValidationError(
			nil, errors.ErrValidationInvalidData, "segment prefix must not contain path separators or glob characters",
		).WithField("prefix").WithProvided(o.SegmentOptions.Prefix)
	}

	if o.SegmentOptions.WriteBufferSize < MinWriteBufferSize || o.SegmentOptions.WriteBufferSize > MaxWriteBufferSize {
		return errors.NewFieldRangeError(
			"writeBufferSize", o.SegmentOptions.WriteBufferSize, MinWriteBufferSize, MaxWriteBufferSize,
		)
	}

	switch o.Compression {
	case CompressionNone, CompressionS2:
	default:
		return errors.NewValidationError(
			nil, errors.ErrValidationInvalidData, fmt.Sprintf("unknown compression %q", o.Compression),
		).WithField("compression").WithProvided(o.Compression).WithExpected([]Compression{CompressionNone, CompressionS2})
	}

	return nil
}

// Applies a predefined set of default configuration values to the Options struct.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = DefaultOptions()
	}
}

// Sets the base directory the queue directory is created in.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// Sets the logical queue name.
func WithName(name string) OptionFunc {
	return func(o *Options) {
		name = strings.TrimSpace(name)
		if name != "" {
			o.Name = name
		}
	}
}

// Sets the file name prefix for segment files.
func WithSegmentPrefix(prefix string) OptionFunc {
	return func(o *Options) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			o.SegmentOptions.Prefix = prefix
		}
	}
}

// Sets the rollover size of individual segment files. Out of range values are kept
// so that Validate can report them.
func WithSegmentSize(size uint64) OptionFunc {
	return func(o *Options) {
		o.SegmentOptions.Size = size
	}
}

// Sets the size of the tail segment's write buffer.
func WithWriteBufferSize(size int) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.SegmentOptions.WriteBufferSize = size
		}
	}
}

// Forces a full sync after every write.
func WithSyncOnWrite(enabled bool) OptionFunc {
	return func(o *Options) {
		o.SyncOnWrite = enabled
	}
}

// Enables per-record CRC32 checksums for newly created queues.
func WithChecksums(enabled bool) OptionFunc {
	return func(o *Options) {
		o.Checksums = enabled
	}
}

// Selects payload compression for newly created queues.
func WithCompression(c Compression) OptionFunc {
	return func(o *Options) {
		o.Compression = c
	}
}

// Toggles memory-mapped reads of sealed segments.
func WithMmapReads(enabled bool) OptionFunc {
	return func(o *Options) {
		o.MmapReads = enabled
	}
}

// Toggles the advisory lock on the queue directory.
func WithDirectoryLock(enabled bool) OptionFunc {
	return func(o *Options) {
		o.LockDirectory = enabled
	}
}

// Registers queue metrics with the given registerer.
func WithRegisterer(r prometheus.Registerer) OptionFunc {
	return func(o *Options) {
		o.Registerer = r
	}
}

// FormatBytes converts byte count to human-readable format for error messages.
func FormatBytes(bytes uint64) string {
	const unit = 1024
	var units = []string{"B", "KB", "MB", "GB", "TB"}

	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	exp := 0
	value := float64(bytes)

	for value >= unit && exp < len(units)-1 {
		value /= unit
		exp++
	}

	if math.Abs(value-math.Round(value)) < 0.01 {
		return fmt.Sprintf("%.0f %s", math.Round(value), units[exp])
	}
	return fmt.Sprintf("%.2f %s", value, units[exp])
}
