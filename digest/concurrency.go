package digest

import (
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// forEachConcurrent runs fn(id) for every id, bounded to concurrency
// in-flight at once via an ants.Pool.
func forEachConcurrent(ids []string, concurrency int, fn func(id string)) {
	if len(ids) == 0 {
		return
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(ids) {
		concurrency = len(ids)
	}

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		// Falling back to unbounded goroutines keeps the digest stage
		// from failing outright on a pool-allocation error.
		slog.Warn("digest: ants pool allocation failed, running unbounded", "error", err)
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				fn(id)
			}(id)
		}
		wg.Wait()
		return
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		id := id
		if err := pool.Submit(func() {
			defer wg.Done()
			fn(id)
		}); err != nil {
			slog.Warn("digest: submitting task failed, running inline", "id", id, "error", err)
			wg.Done()
			fn(id)
		}
	}
	wg.Wait()
}
