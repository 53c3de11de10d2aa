package ble

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"tinygo.org/x/bluetooth"
)

// OperationQueue serializes every GATT read/write across a single
// peripheral so the link never sees overlapped operations. It is a
// rate-limited request/response primitive shared by both writes and
// reads.
type OperationQueue struct {
	mu   sync.Mutex
	lim  *rate.Limiter

	retryAttempts int
	retryDelay    time.Duration
}

// NewOperationQueue builds a queue throttled to rateLimit ops/s with
// burst headroom.
func NewOperationQueue(rateLimit float64, burst int) *OperationQueue {
	return &OperationQueue{
		lim:           rate.NewLimiter(rate.Limit(rateLimit), burst),
		retryAttempts: 2,
		retryDelay:    50 * time.Millisecond,
	}
}

// IsLocked reports whether an operation currently holds the queue.
// Exposed for diagnostics only.
func (q *OperationQueue) IsLocked() bool {
	locked := q.mu.TryLock()
	if locked {
		q.mu.Unlock()
	}
	return !locked
}

// Write performs a single serialized characteristic write, retrying a
// bounded number of times on link error before returning WriteFailedError.
func (q *OperationQueue) Write(ctx context.Context, char *bluetooth.DeviceCharacteristic, data []byte, withResponse bool) error {
	if char == nil {
		return ErrCharacteristicMissing
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.lim.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= q.retryAttempts; attempt++ {
		var err error
		if withResponse {
			_, err = char.Write(data)
		} else {
			_, err = char.WriteWithoutResponse(data)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < q.retryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(q.retryDelay):
			}
		}
	}

	return &WriteFailedError{Cause: lastErr}
}

// Read performs a single serialized characteristic read.
func (q *OperationQueue) Read(ctx context.Context, char *bluetooth.DeviceCharacteristic, buf []byte) (int, error) {
	if char == nil {
		return 0, ErrCharacteristicMissing
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.lim.Wait(ctx); err != nil {
		return 0, err
	}

	n, err := char.Read(buf)
	if err != nil {
		return 0, &ReadFailedError{Cause: err}
	}
	return n, nil
}
