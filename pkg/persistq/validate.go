package persistq

import (
	"fmt"
	"strings"

	"github.com/iamBelugaa/persistq/pkg/errors"
	"github.com/iamBelugaa/persistq/pkg/options"
)

func validateQueueArgs(dir, name string, maxSegmentBytes uint64) error {
	if strings.TrimSpace(dir) == "" {
		return errors.NewRequiredFieldError("dir")
	}

	if strings.TrimSpace(name) == "" {
		return errors.NewRequiredFieldError("name")
	}

	if maxSegmentBytes < options.MinSegmentSize || maxSegmentBytes > options.MaxSegmentSize {
		return errors.NewFieldRangeError("maxSegmentBytes", maxSegmentBytes, options.MinSegmentSize, options.MaxSegmentSize).
			WithMessage(
				fmt.Sprintf(
					"Segment size %s must be between %s and %s",
					options.FormatBytes(maxSegmentBytes),
					options.FormatBytes(options.MinSegmentSize),
					options.FormatBytes(options.MaxSegmentSize),
				),
			)
	}

	return nil
}

func isValidRecord(data []byte) error {
	if uint64(len(data)) > options.MaxRecordSize {
		return errors.NewFieldRangeError("data", len(data), 0, options.MaxRecordSize).
			WithMessage(
				fmt.Sprintf(
					"Record size %s exceeds maximum allowed size of %s",
					options.FormatBytes(uint64(len(data))), options.FormatBytes(options.MaxRecordSize),
				),
			)
	}

	return nil
}
