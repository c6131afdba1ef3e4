// Package engine is the top level of the research pipeline: it fans a
// topic out into search queries, ranks and deduplicates candidate URLs,
// and drives a budget-bounded session over the best candidates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qpd-v/deepwebresearch/internal/analyze"
	"github.com/qpd-v/deepwebresearch/internal/browser"
	"github.com/qpd-v/deepwebresearch/internal/content"
	"github.com/qpd-v/deepwebresearch/internal/dispatch"
	"github.com/qpd-v/deepwebresearch/internal/extract"
	"github.com/qpd-v/deepwebresearch/internal/results"
	"github.com/qpd-v/deepwebresearch/internal/session"
	"github.com/qpd-v/deepwebresearch/internal/telemetry"
	"github.com/qpd-v/deepwebresearch/internal/urlutil"
)

// Hard bounds applied to caller-supplied parameters. Requests outside
// these ranges are clamped, never rejected.
const (
	maxDepthCeiling     = 5
	maxBranchingCeiling = 5
	defaultMaxDepth     = 2
	defaultBranching    = 3
	defaultTimeout      = 55 * time.Second
	defaultMinRelevance = 0.7
	maxQueries          = 10
)

// ErrEmptyTopic rejects a research request with no topic.
var ErrEmptyTopic = errors.New("topic is required")

// ErrInvalidURL rejects a visit for a non-http(s) URL.
var ErrInvalidURL = errors.New("url must be http or https")

// Config holds the engine-wide settings.
type Config struct {
	Dispatch       dispatch.Config
	TimeoutCeiling time.Duration
	ResultsDir     string
	FollowLinks    bool
}

// ResearchRequest is one deep_research invocation. Zero values take
// the documented defaults.
type ResearchRequest struct {
	Topic        string        `json:"topic"`
	MaxDepth     int           `json:"max_depth"`
	MaxBranching int           `json:"max_branching"`
	Timeout      time.Duration `json:"timeout"`
	MinRelevance float64       `json:"min_relevance"`
}

// ResearchReport is the full outcome of one research run.
type ResearchReport struct {
	SessionID     string                   `json:"session_id"`
	Topic         string                   `json:"topic"`
	Status        content.SessionStatus    `json:"status"`
	Findings      content.ResearchFindings `json:"findings"`
	Progress      session.Progress         `json:"progress"`
	Timings       session.Timings          `json:"timings"`
	QueriesRun    int                      `json:"queries_run"`
	CandidateURLs int                      `json:"candidate_urls"`
	Duration      time.Duration            `json:"duration"`
}

// PageView is the visit_page result.
type PageView struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Engine wires the browser pool, dispatcher, extractor and analyzer
// behind the operation surface.
type Engine struct {
	cfg       Config
	pool      *browser.Pool
	extractor *extract.Extractor
	analyzer  *analyze.Analyzer
	writer    *results.Writer
	logger    *log.Logger
}

// New builds an Engine around a shared browser pool.
func New(cfg Config, pool *browser.Pool, extractor *extract.Extractor, analyzer *analyze.Analyzer, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stdout, "[ENGINE] ", log.LstdFlags)
	}
	return &Engine{
		cfg:       cfg,
		pool:      pool,
		extractor: extractor,
		analyzer:  analyzer,
		writer:    results.New(cfg.ResultsDir),
		logger:    logger,
	}
}

// clamp bounds every request parameter server-side regardless of what
// the caller asked for.
func (e *Engine) clamp(req ResearchRequest) ResearchRequest {
	if req.MaxDepth <= 0 {
		req.MaxDepth = defaultMaxDepth
	}
	if req.MaxDepth > maxDepthCeiling {
		req.MaxDepth = maxDepthCeiling
	}
	if req.MaxBranching <= 0 {
		req.MaxBranching = defaultBranching
	}
	if req.MaxBranching > maxBranchingCeiling {
		req.MaxBranching = maxBranchingCeiling
	}
	if req.Timeout <= 0 {
		req.Timeout = defaultTimeout
	}
	if e.cfg.TimeoutCeiling > 0 && req.Timeout > e.cfg.TimeoutCeiling {
		req.Timeout = e.cfg.TimeoutCeiling
	}
	if req.MinRelevance <= 0 || req.MinRelevance > 1 {
		req.MinRelevance = defaultMinRelevance
	}
	return req
}

// Research runs one full topic investigation: query fan-out, candidate
// ranking, then a depth- and budget-bounded crawl. Partial findings are
// returned even when the budget runs out mid-crawl.
func (e *Engine) Research(ctx context.Context, req ResearchRequest) (*ResearchReport, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, ErrEmptyTopic
	}
	req = e.clamp(req)
	start := time.Now()

	queries := queryVariants(req.Topic)
	batch := dispatch.New(e.cfg.Dispatch, poolAdapter{e.pool}, e.logger).Run(ctx, queries)
	for _, qr := range batch.Results {
		if qr.Failed() {
			telemetry.SearchesTotal.WithLabelValues(telemetry.StatusError).Inc()
		} else {
			telemetry.SearchesTotal.WithLabelValues(telemetry.StatusOK).Inc()
		}
	}
	if path, err := e.writer.WriteBatch(req.Topic, batch); err != nil {
		e.logger.Printf("persist batch: %v", err)
	} else if path != "" {
		e.logger.Printf("batch saved to %s", path)
	}

	candidates := rankCandidates(batch)

	sess := session.New(session.Config{
		MaxDepth:     req.MaxDepth,
		Timeout:      req.Timeout,
		MinRelevance: req.MinRelevance,
	}, fetchAdapter{e.pool}, e.extractor, e.analyzer, e.logger)
	if e.cfg.FollowLinks {
		sess.DiscoverLinks = extract.DocumentLinks
	}
	if err := sess.Start(); err != nil {
		return nil, err
	}

	budgetHit := e.crawl(ctx, sess, candidates, req.MaxBranching)

	if budgetHit {
		e.logger.Printf("session %s budget exhausted, returning partial findings", sess.ID)
	}
	if err := sess.Complete(); err != nil {
		e.logger.Printf("complete session %s: %v", sess.ID, err)
	}
	telemetry.SessionDuration.Observe(time.Since(start).Seconds())

	return &ResearchReport{
		SessionID:     sess.ID,
		Topic:         req.Topic,
		Status:        sess.Status(),
		Findings:      sess.Findings(),
		Progress:      sess.Progress(),
		Timings:       sess.Timings(),
		QueriesRun:    len(queries),
		CandidateURLs: len(candidates),
		Duration:      time.Since(start),
	}, nil
}

// crawl processes the top candidates in parallel and the remainder
// sequentially while budget lasts. It reports whether the budget was
// exhausted.
func (e *Engine) crawl(ctx context.Context, sess *session.Session, candidates []content.SearchResult, branching int) bool {
	top := candidates
	if len(top) > branching {
		top = candidates[:branching]
	}
	rest := candidates[len(top):]

	g, gctx := errgroup.WithContext(ctx)
	for _, cand := range top {
		url := cand.URL
		g.Go(func() error {
			if err := sess.ProcessURL(gctx, url, 0); err != nil {
				if errors.Is(err, session.ErrBudgetExceeded) {
					return err
				}
				e.logger.Printf("process %s: %v", url, err)
			}
			return nil
		})
	}
	budgetHit := errors.Is(g.Wait(), session.ErrBudgetExceeded)

	for _, cand := range rest {
		if budgetHit {
			break
		}
		if err := sess.ProcessURL(ctx, cand.URL, 0); err != nil {
			if errors.Is(err, session.ErrBudgetExceeded) {
				budgetHit = true
				break
			}
			e.logger.Printf("process %s: %v", cand.URL, err)
		}
	}
	return budgetHit
}

// ParallelSearch runs one dispatch round over the given queries,
// truncated to the query cap, with maxParallel clamped to the pool's
// configured ceiling.
func (e *Engine) ParallelSearch(ctx context.Context, queries []string, maxParallel int) (content.DispatchBatch, error) {
	if len(queries) == 0 {
		return content.DispatchBatch{}, errors.New("queries are required")
	}
	if len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}
	cfg := e.cfg.Dispatch
	if maxParallel > 0 && maxParallel < cfg.MaxParallel {
		cfg.MaxParallel = maxParallel
	}
	batch := dispatch.New(cfg, poolAdapter{e.pool}, e.logger).Run(ctx, queries)
	for _, qr := range batch.Results {
		if qr.Failed() {
			telemetry.SearchesTotal.WithLabelValues(telemetry.StatusError).Inc()
		} else {
			telemetry.SearchesTotal.WithLabelValues(telemetry.StatusOK).Inc()
		}
	}
	return batch, nil
}

// VisitPage fetches and extracts a single page.
func (e *Engine) VisitPage(ctx context.Context, rawURL string) (*PageView, error) {
	if !urlutil.IsProcessable(rawURL) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	sess, release, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	page, err := sess.Visit(ctx, rawURL)
	if err != nil {
		if errors.Is(err, browser.ErrChallengeDetected) {
			telemetry.ChallengesDetectedTotal.Inc()
			telemetry.PagesFetchedTotal.WithLabelValues(telemetry.StatusChallenge).Inc()
		} else {
			telemetry.PagesFetchedTotal.WithLabelValues(telemetry.StatusError).Inc()
		}
		return nil, err
	}
	telemetry.PagesFetchedTotal.WithLabelValues(telemetry.StatusOK).Inc()

	doc := e.extractor.Extract(page.HTML, rawURL)
	title := doc.Title
	if title == "Untitled" && page.Title != "" {
		title = page.Title
	}
	return &PageView{URL: rawURL, Title: title, Content: doc.Content}, nil
}

// queryVariants fans a topic out into complementary search phrasings.
func queryVariants(topic string) []string {
	topic = strings.TrimSpace(topic)
	return []string{
		topic,
		topic + " overview",
		topic + " best practices",
	}
}

// rankCandidates flattens a batch into a deduplicated candidate list
// ordered by relevance score descending. Duplicate URLs keep the best
// score seen.
func rankCandidates(batch content.DispatchBatch) []content.SearchResult {
	best := make(map[string]content.SearchResult)
	var order []string
	for _, qr := range batch.Results {
		for _, res := range qr.Results {
			if !urlutil.IsProcessable(res.URL) {
				continue
			}
			key := urlutil.Key(res.URL)
			prev, seen := best[key]
			if !seen {
				order = append(order, key)
				best[key] = res
				continue
			}
			if res.RelevanceScore > prev.RelevanceScore {
				best[key] = res
			}
		}
	}
	out := make([]content.SearchResult, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	return out
}

// poolAdapter exposes the browser pool through the dispatcher's
// session interface.
type poolAdapter struct {
	pool *browser.Pool
}

func (p poolAdapter) Acquire(ctx context.Context) (dispatch.SearchSession, func(), error) {
	return p.pool.Acquire(ctx)
}

// fetchAdapter exposes the browser pool as the session's page fetcher.
type fetchAdapter struct {
	pool *browser.Pool
}

func (f fetchAdapter) Fetch(ctx context.Context, url string) (string, string, error) {
	sess, release, err := f.pool.Acquire(ctx)
	if err != nil {
		telemetry.PagesFetchedTotal.WithLabelValues(telemetry.StatusError).Inc()
		return "", "", err
	}
	defer release()

	page, err := sess.Visit(ctx, url)
	if err != nil {
		if errors.Is(err, browser.ErrChallengeDetected) {
			telemetry.ChallengesDetectedTotal.Inc()
			telemetry.PagesFetchedTotal.WithLabelValues(telemetry.StatusChallenge).Inc()
		} else {
			telemetry.PagesFetchedTotal.WithLabelValues(telemetry.StatusError).Inc()
		}
		return "", "", err
	}
	telemetry.PagesFetchedTotal.WithLabelValues(telemetry.StatusOK).Inc()
	return page.Title, page.HTML, nil
}
