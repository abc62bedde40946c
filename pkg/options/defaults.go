package options

const (
	DefaultDataDir string = "/var/lib/persistq"
	DefaultName    string = "queuedata"

	MinSegmentSize     uint64 = 16
	MaxSegmentSize     uint64 = 4 * 1024 * 1024 * 1024
	DefaultSegmentSize uint64 = 32 * 1024 * 1024

	DefaultSegmentPrefix string = "segment"

	MinWriteBufferSize     int = 512
	MaxWriteBufferSize     int = 16 * 1024 * 1024
	DefaultWriteBufferSize int = 64 * 1024

	// MaxRecordSize is bounded by the u32 length prefix.
	MaxRecordSize uint64 = 1<<32 - 1

	MinSchemaVersion     uint8 = 1
	CurrentSchemaVersion uint8 = 1
	MaxSchemaVersion     uint8 = 255
)

// DefaultOptions returns a fresh copy of the default configuration.
func DefaultOptions() Options {
	return Options{
		DataDir:       DefaultDataDir,
		Name:          DefaultName,
		SyncOnWrite:   false,
		Checksums:     false,
		Compression:   CompressionNone,
		MmapReads:     true,
		LockDirectory: true,
		SegmentOptions: &SegmentOptions{
			Size:            DefaultSegmentSize,
			Prefix:          DefaultSegmentPrefix,
			WriteBufferSize: DefaultWriteBufferSize,
		},
	}
}
