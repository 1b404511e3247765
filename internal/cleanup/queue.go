// Package cleanup deletes orphaned uploaded files in the background.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"taskboard/api/internal/uploads"
)

const (
	maxAttempts  = 4
	baseBackoff  = 250 * time.Millisecond
	removeWindow = 10 * time.Second
)

// Queue removes stored files asynchronously. Mutations enqueue the path of a
// replaced or deleted file after their transaction commits; workers retry
// removal with backoff so a slow storage backend never blocks a request.
type Queue struct {
	store uploads.Store
	log   *logrus.Logger

	jobs chan string
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewQueue(store uploads.Store, log *logrus.Logger, workers, size int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 64
	}
	q := &Queue{
		store: store,
		log:   log,
		jobs:  make(chan string, size),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue schedules a stored path for removal. It never blocks: when the
// queue is saturated the job is dropped with a warning, leaving the file
// orphaned rather than stalling the caller.
func (q *Queue) Enqueue(storedPath string) {
	if storedPath == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.jobs <- storedPath:
	default:
		q.log.WithField("path", storedPath).Warn("cleanup queue full, dropping job")
	}
}

// Close stops accepting jobs and waits for queued removals to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for path := range q.jobs {
		q.remove(path)
	}
}

func (q *Queue) remove(path string) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), removeWindow)
		err := q.store.Remove(ctx, path)
		cancel()
		if err == nil {
			return
		}
		if attempt == maxAttempts {
			q.log.WithError(err).WithField("path", path).Error("cleanup failed, file orphaned")
			return
		}
		q.log.WithError(err).WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempt,
		}).Warn("cleanup attempt failed")
		time.Sleep(baseBackoff << (attempt - 1))
	}
}
