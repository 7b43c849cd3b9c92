package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kinevo/sessiond/internal/models"
)

// setWriter is the slice of the store the write-behind queue needs.
type setWriter interface {
	UpsertSetLog(ctx context.Context, row models.SetLogRow) error
}

// writeBehind decouples fire-and-forget set persistence from the edit that
// triggered it. Failures are retried with backoff, then logged and dropped:
// the upsert key makes retries safe, and the finish-time catch-up sweep
// recaptures anything lost here.
type writeBehind struct {
	store    setWriter
	log      *slog.Logger
	ch       chan models.SetLogRow
	wg       sync.WaitGroup
	attempts int
	backoff  time.Duration
	timeout  time.Duration
}

func newWriteBehind(store setWriter, log *slog.Logger) *writeBehind {
	q := &writeBehind{
		store:    store,
		log:      log,
		ch:       make(chan models.SetLogRow, 256),
		attempts: 3,
		backoff:  2 * time.Second,
		timeout:  15 * time.Second,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue hands a row to the background writer without blocking the caller.
// A full queue drops the row; the catch-up sweep covers it.
func (q *writeBehind) Enqueue(row models.SetLogRow) {
	select {
	case q.ch <- row:
	default:
		q.log.Warn("write-behind queue full, dropping set persist",
			"session", row.WorkoutSessionID, "item", row.AssignedWorkoutItemID, "set", row.SetNumber)
	}
}

func (q *writeBehind) run() {
	defer q.wg.Done()
	for row := range q.ch {
		q.write(row)
	}
}

func (q *writeBehind) write(row models.SetLogRow) {
	var err error
	for attempt := 1; attempt <= q.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err = q.store.UpsertSetLog(ctx, row)
		cancel()
		if err == nil {
			return
		}
		if attempt < q.attempts {
			time.Sleep(q.backoff * time.Duration(attempt))
		}
	}
	// Swallowed: the set stays visually completed and the finish sweep
	// re-submits it.
	q.log.Warn("set persist failed",
		"session", row.WorkoutSessionID, "item", row.AssignedWorkoutItemID,
		"set", row.SetNumber, "error", err)
}

// Close stops accepting rows and waits for in-flight writes to finish.
func (q *writeBehind) Close() {
	close(q.ch)
	q.wg.Wait()
}
