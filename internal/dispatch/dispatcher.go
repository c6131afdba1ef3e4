// Package dispatch executes batches of search-engine queries against a
// bounded pool of isolated browser sessions.
package dispatch

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/qpd-v/deepwebresearch/internal/content"
)

// SearchSession runs one query inside an isolated browser session.
type SearchSession interface {
	Search(ctx context.Context, query string) ([]content.RawSearchResult, error)
}

// SessionPool hands out sessions; the release func returns the slot.
type SessionPool interface {
	Acquire(ctx context.Context) (SearchSession, func(), error)
}

// Config controls batch shape and pacing.
type Config struct {
	MaxParallel     int
	StaggerDelay    time.Duration
	InterChunkDelay time.Duration
	MaxResults      int
}

// Dispatcher partitions queries into chunks of at most MaxParallel,
// runs each chunk concurrently with staggered starts, and assembles
// results positionally so output order always matches input order.
// It never retries; retry policy belongs to the queue.
type Dispatcher struct {
	cfg    Config
	pool   SessionPool
	logger *log.Logger
}

// New builds a Dispatcher; zero config fields get conservative defaults.
func New(cfg Config, pool SessionPool, logger *log.Logger) *Dispatcher {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 3
	}
	if cfg.StaggerDelay <= 0 {
		cfg.StaggerDelay = 500 * time.Millisecond
	}
	if cfg.InterChunkDelay <= 0 {
		cfg.InterChunkDelay = time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[DISPATCH] ", log.LstdFlags)
	}
	return &Dispatcher{cfg: cfg, pool: pool, logger: logger}
}

// Run executes all queries and returns one entry per query, in input
// order. A failed query becomes a failed entry; it never aborts siblings.
func (d *Dispatcher) Run(ctx context.Context, queries []string) content.DispatchBatch {
	batch := content.DispatchBatch{
		Results:   make([]content.QueryResult, len(queries)),
		StartedAt: time.Now(),
	}

	for start := 0; start < len(queries); start += d.cfg.MaxParallel {
		end := start + d.cfg.MaxParallel
		if end > len(queries) {
			end = len(queries)
		}
		d.runChunk(ctx, queries, start, end, batch.Results)
		if end < len(queries) {
			select {
			case <-ctx.Done():
				for i := end; i < len(queries); i++ {
					batch.Results[i] = content.QueryResult{Query: queries[i], Error: ctx.Err().Error()}
				}
				start = len(queries)
			case <-time.After(d.cfg.InterChunkDelay):
			}
		}
	}

	for _, r := range batch.Results {
		if r.Failed() {
			batch.FailureCount++
		} else {
			batch.SuccessCount++
		}
	}
	batch.Duration = time.Since(batch.StartedAt)
	d.logger.Printf("batch done: %d queries, %d ok, %d failed in %s",
		len(queries), batch.SuccessCount, batch.FailureCount, batch.Duration.Round(time.Millisecond))
	return batch
}

// runChunk fans the chunk out over the pool. Starts are staggered by a
// fixed delay per position to reduce correlated anti-automation failures.
func (d *Dispatcher) runChunk(ctx context.Context, queries []string, start, end int, out []content.QueryResult) {
	var wg sync.WaitGroup
	for i := start; i < end; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			offset := time.Duration(idx-start) * d.cfg.StaggerDelay
			if offset > 0 {
				select {
				case <-ctx.Done():
					out[idx] = content.QueryResult{Query: queries[idx], Error: ctx.Err().Error()}
					return
				case <-time.After(offset):
				}
			}
			out[idx] = d.runQuery(ctx, queries[idx])
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) runQuery(ctx context.Context, query string) content.QueryResult {
	t0 := time.Now()
	res := content.QueryResult{Query: query}

	sess, release, err := d.pool.Acquire(ctx)
	if err != nil {
		res.Error = err.Error()
		res.Duration = time.Since(t0)
		return res
	}
	defer release()

	raw, err := sess.Search(ctx, query)
	res.Duration = time.Since(t0)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if len(raw) > d.cfg.MaxResults {
		raw = raw[:d.cfg.MaxResults]
	}
	res.Results = make([]content.SearchResult, 0, len(raw))
	for rank, r := range raw {
		if r.URL == "" {
			continue
		}
		res.Results = append(res.Results, content.SearchResult{
			Title:          r.Title,
			URL:            r.URL,
			Snippet:        r.Snippet,
			RelevanceScore: Score(rank, query, r.Title, r.Snippet, r.URL),
		})
	}
	if len(res.Results) == 0 {
		res.Error = "no results extracted"
	}
	return res
}
