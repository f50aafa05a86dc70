package jsonutil

import (
	"errors"
	"fmt"
)

// MaxJSONSize caps the size of documents accepted by Unmarshal.
const MaxJSONSize = 10 * 1024 * 1024 // 10MB

var (
	// ErrInvalidOutput is returned when the unmarshal target is nil.
	ErrInvalidOutput = errors.New("jsonutil: output must be a non-nil pointer")
	// ErrValueTooLarge is returned when a document exceeds MaxJSONSize.
	ErrValueTooLarge = errors.New("jsonutil: value exceeds maximum size")
)

func wrapError(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}
