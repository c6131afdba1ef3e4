package engine

import (
	"testing"
	"time"

	"github.com/qpd-v/deepwebresearch/internal/content"
)

func TestClampBounds(t *testing.T) {
	e := New(Config{TimeoutCeiling: 2 * time.Minute}, nil, nil, nil, nil)

	got := e.clamp(ResearchRequest{Topic: "x"})
	if got.MaxDepth != defaultMaxDepth || got.MaxBranching != defaultBranching {
		t.Errorf("defaults not applied: %+v", got)
	}
	if got.Timeout != defaultTimeout || got.MinRelevance != defaultMinRelevance {
		t.Errorf("defaults not applied: %+v", got)
	}

	got = e.clamp(ResearchRequest{
		Topic:        "x",
		MaxDepth:     50,
		MaxBranching: 50,
		Timeout:      time.Hour,
		MinRelevance: 3,
	})
	if got.MaxDepth != maxDepthCeiling {
		t.Errorf("MaxDepth = %d, want %d", got.MaxDepth, maxDepthCeiling)
	}
	if got.MaxBranching != maxBranchingCeiling {
		t.Errorf("MaxBranching = %d, want %d", got.MaxBranching, maxBranchingCeiling)
	}
	if got.Timeout != 2*time.Minute {
		t.Errorf("Timeout = %v, want ceiling %v", got.Timeout, 2*time.Minute)
	}
	if got.MinRelevance != defaultMinRelevance {
		t.Errorf("MinRelevance = %v, want %v", got.MinRelevance, defaultMinRelevance)
	}
}

func TestRankCandidatesDedupKeepsBestScore(t *testing.T) {
	batch := content.DispatchBatch{Results: []content.QueryResult{
		{Query: "a", Results: []content.SearchResult{
			{URL: "https://Www.Example.com/a/?x=1#y", RelevanceScore: 0.4},
			{URL: "https://docs.example.org/guide", RelevanceScore: 0.9},
		}},
		{Query: "b", Results: []content.SearchResult{
			{URL: "http://example.com/a", RelevanceScore: 0.7},
			{URL: "https://example.net/file.pdf", RelevanceScore: 1.0},
		}},
	}}

	got := rankCandidates(batch)

	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(got), got)
	}
	if got[0].URL != "https://docs.example.org/guide" {
		t.Errorf("got[0] = %q, want highest score first", got[0].URL)
	}
	// The duplicate pair keeps the better-scoring entry.
	if got[1].RelevanceScore != 0.7 {
		t.Errorf("dedup kept score %v, want 0.7", got[1].RelevanceScore)
	}
}

func TestQueryVariants(t *testing.T) {
	vars := queryVariants("  go generics  ")
	if len(vars) != 3 {
		t.Fatalf("got %d variants, want 3", len(vars))
	}
	if vars[0] != "go generics" {
		t.Errorf("vars[0] = %q, want trimmed topic", vars[0])
	}
	for _, v := range vars[1:] {
		if v == vars[0] {
			t.Errorf("variant %q duplicates the topic", v)
		}
	}
}
