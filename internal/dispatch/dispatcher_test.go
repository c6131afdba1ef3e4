package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qpd-v/deepwebresearch/internal/content"
)

type fakeSession struct {
	fn func(query string) ([]content.RawSearchResult, error)
}

func (f *fakeSession) Search(_ context.Context, query string) ([]content.RawSearchResult, error) {
	return f.fn(query)
}

type fakePool struct {
	mu       sync.Mutex
	inUse    int
	maxInUse int
	fn       func(query string) ([]content.RawSearchResult, error)
}

func (p *fakePool) Acquire(context.Context) (SearchSession, func(), error) {
	p.mu.Lock()
	p.inUse++
	if p.inUse > p.maxInUse {
		p.maxInUse = p.inUse
	}
	p.mu.Unlock()
	release := func() {
		p.mu.Lock()
		p.inUse--
		p.mu.Unlock()
	}
	return &fakeSession{fn: p.fn}, release, nil
}

func testLogger() *log.Logger { return log.New(os.Stderr, "[TEST] ", 0) }

func fastCfg(maxParallel int) Config {
	return Config{
		MaxParallel:     maxParallel,
		StaggerDelay:    time.Millisecond,
		InterChunkDelay: time.Millisecond,
		MaxResults:      10,
	}
}

func TestRunPreservesInputOrder(t *testing.T) {
	pool := &fakePool{fn: func(q string) ([]content.RawSearchResult, error) {
		// Later queries finish first to prove positional assembly.
		if strings.HasSuffix(q, "0") {
			time.Sleep(20 * time.Millisecond)
		}
		return []content.RawSearchResult{{Title: q, URL: "https://example.com/" + q}}, nil
	}}
	d := New(fastCfg(4), pool, testLogger())

	queries := []string{"q0", "q1", "q2", "q3"}
	batch := d.Run(context.Background(), queries)

	if len(batch.Results) != len(queries) {
		t.Fatalf("got %d results, want %d", len(batch.Results), len(queries))
	}
	for i, r := range batch.Results {
		if r.Query != queries[i] {
			t.Errorf("results[%d].Query = %q, want %q", i, r.Query, queries[i])
		}
	}
	if batch.SuccessCount != 4 || batch.FailureCount != 0 {
		t.Fatalf("counts = %d/%d", batch.SuccessCount, batch.FailureCount)
	}
}

func TestRunFailureDoesNotAbortSiblings(t *testing.T) {
	pool := &fakePool{fn: func(q string) ([]content.RawSearchResult, error) {
		if q == "bad" {
			return nil, errors.New("results container timeout")
		}
		return []content.RawSearchResult{{Title: q, URL: "https://example.com/x"}}, nil
	}}
	d := New(fastCfg(3), pool, testLogger())

	batch := d.Run(context.Background(), []string{"ok1", "bad", "ok2"})
	if !batch.Results[1].Failed() {
		t.Fatal("middle query should have failed")
	}
	if batch.Results[0].Failed() || batch.Results[2].Failed() {
		t.Fatal("sibling queries must succeed")
	}
	if batch.SuccessCount != 2 || batch.FailureCount != 1 {
		t.Fatalf("counts = %d/%d", batch.SuccessCount, batch.FailureCount)
	}
}

func TestRunChunksRespectMaxParallel(t *testing.T) {
	pool := &fakePool{fn: func(q string) ([]content.RawSearchResult, error) {
		time.Sleep(10 * time.Millisecond)
		return []content.RawSearchResult{{URL: "https://example.com/x"}}, nil
	}}
	d := New(fastCfg(2), pool, testLogger())

	d.Run(context.Background(), []string{"a", "b", "c", "d", "e"})
	if pool.maxInUse > 2 {
		t.Fatalf("max concurrent sessions = %d, want <= 2", pool.maxInUse)
	}
}

func TestScoreClipBoundary(t *testing.T) {
	// Rank 0, both hits, .edu: raw 1.0+0.3+0.2+0.3 clips to 1.
	top := Score(0, "go patterns", "Go Patterns Guide go patterns", "all about go patterns", "https://web.mit.edu/guide")
	if top != 1 {
		t.Fatalf("top score = %v, want clipped 1.0", top)
	}
	// Rank 4, both hits, unrecognized domain: raw 0.6+0.3+0.2+0.1 also clips.
	mid := Score(4, "go patterns", "go patterns", "go patterns", "https://randomblog.io/post")
	if mid != 1 {
		t.Fatalf("mid score = %v, want clipped 1.0", mid)
	}
	// An unclipped pair must still order by rank.
	a := Score(2, "go patterns", "unrelated", "unrelated", "https://randomblog.io/a")
	b := Score(6, "go patterns", "unrelated", "unrelated", "https://randomblog.io/b")
	if a <= b {
		t.Fatalf("unclipped scores must decay with rank: %v <= %v", a, b)
	}
	if a >= 1 || b >= 1 || a <= 0 || b <= 0 {
		t.Fatalf("unclipped pair should be interior to [0,1]: %v, %v", a, b)
	}
}

func TestScoreBounds(t *testing.T) {
	for rank := 0; rank < 15; rank++ {
		s := Score(rank, "q", "q title", "q snippet", fmt.Sprintf("https://host%d.edu/x", rank))
		if s < 0 || s > 1 {
			t.Fatalf("score out of bounds at rank %d: %v", rank, s)
		}
	}
}

func TestDomainBonusLookup(t *testing.T) {
	if DomainBonus("https://cs.stanford.edu/paper") != 0.3 {
		t.Fatal("edu bonus")
	}
	if DomainBonus("https://github.com/user/repo") != 0.2 {
		t.Fatal("code hosting bonus")
	}
	if DomainBonus("https://docs.example.io/api") != 0.15 {
		t.Fatal("documentation prefix bonus")
	}
	if DomainBonus("https://randomblog.io/post") != defaultBonus {
		t.Fatal("default bonus")
	}
	if !IsAuthoritative("https://www.w3.org/TR/") {
		t.Fatal("w3.org should be authoritative")
	}
	if IsAuthoritative("https://randomblog.io/") {
		t.Fatal("unknown host should not be authoritative")
	}
}
