package installer

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// journal records every path a task created so a failed or cancelled task
// can be undone. Paths that existed before are never recorded
type journal struct {
	mu      sync.Mutex
	created []string
}

func (j *journal) record(path string, _ bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.created = append(j.created, path)
}

func (j *journal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.created)
}

// rollback removes recorded paths, newest first so files go before the
// directories that hold them
func (j *journal) rollback() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var errs []error
	for i := len(j.created) - 1; i >= 0; i-- {
		if err := os.RemoveAll(j.created[i]); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	j.created = nil
	return errors.Join(errs...)
}

// removeRetry bounds retries of a removal that fails transiently, typically
// a file held open by the simulator or an indexer on Windows
var removeRetry = struct {
	initial, max time.Duration
	attempts     uint64
}{initial: 100 * time.Millisecond, max: 2 * time.Second, attempts: 5}

// removeWithRetry deletes path and everything below it
func removeWithRetry(ctx context.Context, path string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = removeRetry.initial
	b.MaxInterval = removeRetry.max

	op := func() error {
		err := os.RemoveAll(path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		if errors.Is(err, os.ErrPermission) && runtime.GOOS != "windows" {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, removeRetry.attempts), ctx))
}
