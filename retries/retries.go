package retries

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 100 * time.Millisecond

	HealthAttempts  = 2
	HealthBaseDelay = 50 * time.Millisecond
)

// Retry runs op up to attempts times with exponential backoff, starting at
// baseDelay. It stops early when op succeeds, when retriable reports the
// error as permanent, or when ctx is cancelled.
func Retry(
	ctx context.Context,
	attempts int,
	baseDelay time.Duration,
	op func() error,
	retriable func(error) bool,
) error {
	var err error
	delay := baseDelay

	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if !retriable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return err
}

// IsRetriableDbError classifies DynamoDB failures. Throttling and server
// faults are retried, everything else (conditional check failures, missing
// tables, marshalling errors) is permanent.
func IsRetriableDbError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException",
			"ThrottlingException",
			"RequestLimitExceeded",
			"InternalServerError",
			"ServiceUnavailable":
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}
	// network-level failures come back as plain errors
	return true
}
