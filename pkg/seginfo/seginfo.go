// Package seginfo provides utilities for naming and discovering sequential segment files of a queue.
package seginfo

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/iamBelugaa/persistq/pkg/filesys"
)

const (
	// Extension is the suffix shared by all segment files.
	Extension = ".seg"

	// Width of the zero padded sequence number, wide enough for any uint64.
	sequenceWidth = 20
)

// GenerateName returns the deterministic file name of a segment.
//
// Example: GenerateName(7, "segment") -> "segment_00000000000000000007.seg"
func GenerateName(sequence uint64, prefix string) string {
	return fmt.Sprintf("%s_%0*d%s", prefix, sequenceWidth, sequence, Extension)
}

// ParseSegmentID extracts the sequence number from a segment file name or path.
func ParseSegmentID(fullPath, prefix string) (uint64, error) {
	_, filename := filepath.Split(fullPath)

	if !strings.HasPrefix(filename, prefix+"_") {
		return 0, fmt.Errorf("filename %s does not start with expected prefix %s", filename, prefix)
	}

	if !strings.HasSuffix(filename, Extension) {
		return 0, fmt.Errorf("filename %s does not have extension %s", filename, Extension)
	}

	// Example: "segment_00000000000000000007.seg" -> "00000000000000000007"
	digits := strings.TrimSuffix(strings.TrimPrefix(filename, prefix+"_"), Extension)
	if digits == "" {
		return 0, fmt.Errorf("filename %s has unexpected format, expected prefix_sequence%s", filename, Extension)
	}

	id, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse segment sequence '%s' as integer: %w", digits, err)
	}

	return id, nil
}

// ListSegments returns the sequence numbers of every segment file in segmentDir,
// sorted in ascending order. Files matching the glob but not the naming scheme are skipped.
func ListSegments(segmentDir, prefix string) ([]uint64, error) {
	if segmentDir == "" || prefix == "" {
		return nil, fmt.Errorf("all parameters (segmentDir, prefix) must be non-empty")
	}

	// Example: "/var/lib/persistq/queuedata/segment_*.seg"
	searchPattern := filepath.Join(segmentDir, prefix+"_*"+Extension)

	matchingFiles, err := filesys.ReadDir(searchPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment directory with pattern %s: %w", searchPattern, err)
	}

	sequences := make([]uint64, 0, len(matchingFiles))
	for _, file := range matchingFiles {
		id, err := ParseSegmentID(file, prefix)
		if err != nil {
			continue
		}
		sequences = append(sequences, id)
	}

	slices.Sort(sequences)
	return sequences, nil
}

// GetLastSegmentInfo returns the highest sequence number present and its file info.
// A nil FileInfo means no segment exists yet.
func GetLastSegmentInfo(segmentDir, prefix string) (uint64, os.FileInfo, error) {
	sequences, err := ListSegments(segmentDir, prefix)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to discover latest segment: %w", err)
	}

	if len(sequences) == 0 {
		return 0, nil, nil
	}

	last := sequences[len(sequences)-1]
	info, err := os.Stat(filepath.Join(segmentDir, GenerateName(last, prefix)))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to retrieve file info for segment %d: %w", last, err)
	}

	return last, info, nil
}
