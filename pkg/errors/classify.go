package errors

import (
	stdErrors "errors"
	"fmt"
	"io/fs"
	"syscall"
)

// ClassifyFileOpenError maps an os.OpenFile failure to a StorageError with a precise code.
func ClassifyFileOpenError(err error, filePath, fileName string) *StorageError {
	code := ErrSegmentOpenFailed
	msg := fmt.Sprintf("Failed to open file: %s", fileName)

	switch {
	case stdErrors.Is(err, fs.ErrNotExist):
		code = ErrSegmentMissing
		msg = fmt.Sprintf("File does not exist: %s", fileName)
	case stdErrors.Is(err, fs.ErrPermission):
		code = ErrIOPermission
		msg = fmt.Sprintf("Permission denied opening file: %s", fileName)
	case stdErrors.Is(err, syscall.ENOSPC):
		code = ErrIODiskFull
		msg = fmt.Sprintf("No space left creating file: %s", fileName)
	}

	return NewStorageError(err, code, msg).WithPath(filePath).WithFileName(fileName)
}

// ClassifyDirectoryCreationError maps a directory creation failure to a StorageError.
func ClassifyDirectoryCreationError(err error, dirPath string) *StorageError {
	code := ErrIOGeneral
	msg := fmt.Sprintf("Failed to create directory: %s", dirPath)

	switch {
	case stdErrors.Is(err, fs.ErrPermission):
		code = ErrIOPermission
		msg = fmt.Sprintf("Permission denied creating directory: %s", dirPath)
	case stdErrors.Is(err, syscall.ENOSPC):
		code = ErrIODiskFull
		msg = fmt.Sprintf("No space left creating directory: %s", dirPath)
	case stdErrors.Is(err, syscall.ENOTDIR):
		code = ErrSystemInvalidInput
		msg = fmt.Sprintf("Path component is not a directory: %s", dirPath)
	}

	return NewStorageError(err, code, msg).WithPath(dirPath)
}

// ClassifyWriteError maps a write or sync failure to a StorageError.
func ClassifyWriteError(err error, code ErrorCode, msg string) *StorageError {
	if stdErrors.Is(err, syscall.ENOSPC) {
		code = ErrIODiskFull
	}
	return NewStorageError(err, code, msg)
}
