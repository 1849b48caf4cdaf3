package history

import "errors"

// Expected rejections. None of them is a failure: the event simply does not
// become a history entry.
var (
	ErrEmptyOrInvalidInput = errors.New("empty or non-content clipboard payload")
	ErrPasswordIgnored     = errors.New("password ignored by policy")
	ErrDuplicateContent    = errors.New("content already in history")
	ErrIgnoredSource       = errors.New("source or content kind is not monitored")
)

// IsRejection reports whether err is one of the expected ingestion rejections.
func IsRejection(err error) bool {
	return errors.Is(err, ErrEmptyOrInvalidInput) ||
		errors.Is(err, ErrPasswordIgnored) ||
		errors.Is(err, ErrDuplicateContent) ||
		errors.Is(err, ErrIgnoredSource)
}
