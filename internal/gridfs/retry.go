package gridfs

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/maneesh/gridstore/internal/storage"
)

// RetryPolicy bounds how often a storage call is attempted
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
}

// DefaultRetryPolicy tries three times starting at 50ms
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, InitialInterval: 50 * time.Millisecond}

// do runs op until it succeeds, returns storage.ErrNotFound, the attempts are
// used up or ctx is done. The last error is returned.
func (p RetryPolicy) do(ctx context.Context, op func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, storage.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
