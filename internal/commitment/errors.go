package commitment

import "errors"

var (
	// ErrEmptyContent is returned when the content value is the canonical zero.
	ErrEmptyContent = errors.New("empty content is not a valid witness")

	// ErrEmptyIdentity is returned when the identity value is the canonical zero.
	ErrEmptyIdentity = errors.New("empty identity")

	// ErrMetricOutOfRange is returned when a quality metric exceeds MaxMetric.
	ErrMetricOutOfRange = errors.New("quality metric out of range")
)
