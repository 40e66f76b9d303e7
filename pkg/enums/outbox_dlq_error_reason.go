package enums

import "fmt"

// OutboxDLQErrorReason classifies why an outbox event went terminal.
type OutboxDLQErrorReason string

const (
	DLQReasonMaxAttempts    OutboxDLQErrorReason = "max_attempts_exceeded"
	DLQReasonUnroutable     OutboxDLQErrorReason = "unroutable_event"
	DLQReasonDecodeFailure  OutboxDLQErrorReason = "decode_failure"
	DLQReasonPublishRefused OutboxDLQErrorReason = "publish_refused"
)

var validDLQErrorReasons = []OutboxDLQErrorReason{
	DLQReasonMaxAttempts,
	DLQReasonUnroutable,
	DLQReasonDecodeFailure,
	DLQReasonPublishRefused,
}

// IsValid reports whether the value is known.
func (r OutboxDLQErrorReason) IsValid() bool {
	for _, candidate := range validDLQErrorReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseOutboxDLQErrorReason converts raw input into an OutboxDLQErrorReason.
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	for _, candidate := range validDLQErrorReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dlq error reason %q", value)
}
