package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/qpd-v/deepwebresearch/internal/analyze"
	"github.com/qpd-v/deepwebresearch/internal/content"
	"github.com/qpd-v/deepwebresearch/internal/extract"
)

const testPage = `<html><head><title>Cache Guide</title></head><body><article>
	<h1>Cache Guide</h1>
	<p>You should always benchmark the cache configuration under realistic server load.</p>
	<pre><code class="language-go">func Get(key string) ([]byte, error)</code></pre>
</article></body></html>`

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	html  string
	err   error
	delay time.Duration
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", "", f.err
	}
	return "Cache Guide", f.html, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestSession(t *testing.T, cfg Config, fetcher PageFetcher) *Session {
	t.Helper()
	ex := extract.New(extract.Config{}, nil)
	an := analyze.New(analyze.Config{MinTopicConfidence: 0.1}, nil)
	s := New(cfg, fetcher, ex, an, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func TestProcessURLIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{html: testPage}
	s := newTestSession(t, Config{Timeout: 10 * time.Second, MinRelevance: 0.1}, fetcher)

	if err := s.ProcessURL(context.Background(), "https://example.com/guide", 0); err != nil {
		t.Fatalf("first ProcessURL: %v", err)
	}
	// Equivalent under URL normalization.
	if err := s.ProcessURL(context.Background(), "http://www.Example.com/guide/", 0); err != nil {
		t.Fatalf("second ProcessURL: %v", err)
	}

	if got := fetcher.callCount(); got != 1 {
		t.Errorf("fetch called %d times, want 1", got)
	}
	if got := s.Progress().Skipped; got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}
	if got := len(s.Findings().Sources); got != 1 {
		t.Errorf("sources = %d, want 1", got)
	}
}

func TestProcessURLRejectsNonProcessable(t *testing.T) {
	fetcher := &fakeFetcher{html: testPage}
	s := newTestSession(t, Config{Timeout: 10 * time.Second}, fetcher)

	for _, raw := range []string{"ftp://example.com/x", "https://example.com/file.pdf", "not a url"} {
		if err := s.ProcessURL(context.Background(), raw, 0); err == nil {
			t.Errorf("ProcessURL(%q) = nil, want error", raw)
		}
	}
	if got := fetcher.callCount(); got != 0 {
		t.Errorf("fetch called %d times for rejected URLs, want 0", got)
	}
}

func TestBudgetStopsFurtherFetches(t *testing.T) {
	fetcher := &fakeFetcher{html: testPage}
	s := newTestSession(t, Config{Timeout: 30 * time.Millisecond, MinRelevance: 0.1}, fetcher)

	if err := s.ProcessURL(context.Background(), "https://example.com/one", 0); err != nil {
		t.Fatalf("first ProcessURL: %v", err)
	}
	sourcesBefore := len(s.Findings().Sources)
	time.Sleep(40 * time.Millisecond)

	err := s.ProcessURL(context.Background(), "https://example.com/two", 0)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
	if got := fetcher.callCount(); got != 1 {
		t.Errorf("fetch called %d times after budget, want 1", got)
	}
	// Partial findings survive the budget cut.
	if got := len(s.Findings().Sources); got != sourcesBefore {
		t.Errorf("sources shrank from %d to %d after budget", sourcesBefore, got)
	}
}

func TestFailedFetchReleasesClaim(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("navigation timeout")}
	s := newTestSession(t, Config{Timeout: 10 * time.Second}, fetcher)

	if err := s.ProcessURL(context.Background(), "https://example.com/x", 0); err == nil {
		t.Fatal("ProcessURL = nil, want fetch error")
	}
	if got := s.VisitedCount(); got != 0 {
		t.Errorf("visited = %d after failed fetch, want 0", got)
	}
	if got := s.Progress().Failed; got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}

	// The URL may be retried after the failed claim is released.
	fetcher.err = nil
	fetcher.html = testPage
	if err := s.ProcessURL(context.Background(), "https://example.com/x", 0); err != nil {
		t.Fatalf("retry ProcessURL: %v", err)
	}
	if got := s.VisitedCount(); got != 1 {
		t.Errorf("visited = %d after retry, want 1", got)
	}
}

func TestFindingsMonotonic(t *testing.T) {
	fetcher := &fakeFetcher{html: testPage}
	s := newTestSession(t, Config{Timeout: 10 * time.Second, MinRelevance: 0.1}, fetcher)

	var prevVisited, prevSources int
	for _, u := range []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	} {
		if err := s.ProcessURL(context.Background(), u, 0); err != nil {
			t.Fatalf("ProcessURL(%s): %v", u, err)
		}
		if v := s.VisitedCount(); v < prevVisited {
			t.Errorf("visited shrank: %d -> %d", prevVisited, v)
		} else {
			prevVisited = v
		}
		if n := len(s.Findings().Sources); n < prevSources {
			t.Errorf("sources shrank: %d -> %d", prevSources, n)
		} else {
			prevSources = n
		}
	}
	if prevVisited != 3 || prevSources != 3 {
		t.Errorf("visited=%d sources=%d, want 3 and 3", prevVisited, prevSources)
	}
}

func TestMergeRespectsMinRelevance(t *testing.T) {
	fetcher := &fakeFetcher{html: testPage}
	s := newTestSession(t, Config{Timeout: 10 * time.Second, MinRelevance: 0.99}, fetcher)

	if err := s.ProcessURL(context.Background(), "https://example.com/strict", 0); err != nil {
		t.Fatalf("ProcessURL: %v", err)
	}
	for _, in := range s.Findings().Insights {
		if in.Confidence < 0.99 {
			t.Errorf("insight below threshold retained: %+v", in)
		}
	}
}

func TestDiscoverLinksFollowsDepth(t *testing.T) {
	fetcher := &fakeFetcher{html: testPage}
	s := newTestSession(t, Config{MaxDepth: 1, Timeout: 10 * time.Second, MinRelevance: 0.1}, fetcher)

	var discovered []string
	s.DiscoverLinks = func(html, base string) []string {
		discovered = append(discovered, base)
		return []string{"https://example.com/child"}
	}

	if err := s.ProcessURL(context.Background(), "https://example.com/root", 0); err != nil {
		t.Fatalf("ProcessURL: %v", err)
	}
	// Root at depth 0 discovers; the child at depth 1 equals MaxDepth
	// and must not recurse further.
	if len(discovered) != 1 {
		t.Errorf("DiscoverLinks called %d times, want 1", len(discovered))
	}
	if got := fetcher.callCount(); got != 2 {
		t.Errorf("fetch called %d times, want 2 (root + child)", got)
	}
}

func TestStateTransitionsOneDirectional(t *testing.T) {
	s := New(Config{Timeout: time.Second}, &fakeFetcher{}, extract.New(extract.Config{}, nil), analyze.New(analyze.Config{}, nil), nil)

	if got := s.Status(); got != content.StatusPlanning {
		t.Fatalf("initial status = %s, want planning", got)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("Start after Complete succeeded, want error")
	}
	if err := s.Cancel(); err == nil {
		t.Error("Cancel after Complete succeeded, want error")
	}
	if got := s.Status(); got != content.StatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
}

func TestUnionKeywordsMergesWithoutDuplicates(t *testing.T) {
	got := unionKeywords([]string{"cache", "token"}, []string{"Token", "invalidation", "cache"})
	want := []string{"cache", "token", "invalidation"}
	if len(got) != len(want) {
		t.Fatalf("union = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("union[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestProcessURLRequiresRunningState(t *testing.T) {
	s := New(Config{Timeout: time.Second}, &fakeFetcher{html: testPage}, extract.New(extract.Config{}, nil), analyze.New(analyze.Config{}, nil), nil)

	err := s.ProcessURL(context.Background(), "https://example.com/x", 0)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}
