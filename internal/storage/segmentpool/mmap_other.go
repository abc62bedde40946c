//go:build !unix

package segmentpool

import (
	stdErrors "errors"
	"os"
)

var errMmapUnsupported = stdErrors.New("memory mapping not supported on this platform")

func mapFile(file *os.File, size int64) ([]byte, error) {
	return nil, errMmapUnsupported
}

func unmapFile(data []byte) error {
	return nil
}
