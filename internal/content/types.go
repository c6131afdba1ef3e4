// Package content defines the shared data model for the research pipeline:
// search results, extracted documents, and the cumulative findings a session
// accumulates.
package content

import (
	"sort"
	"time"
)

// SessionStatus tracks where a research session is in its lifecycle.
// Transitions are one-directional toward a terminal state.
type SessionStatus string

const (
	StatusPlanning     SessionStatus = "planning"
	StatusInProgress   SessionStatus = "in_progress"
	StatusAnalyzing    SessionStatus = "analyzing"
	StatusSynthesizing SessionStatus = "synthesizing"
	StatusCompleted    SessionStatus = "completed"
	StatusFailed       SessionStatus = "failed"
	StatusCancelled    SessionStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// RawSearchResult is one scraped (title, url, snippet) tuple before the
// dispatcher has scored it.
type RawSearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchResult is one organic result for one query. Score is always
// computed by the dispatcher, never caller-supplied.
type SearchResult struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score"`
}

// QueryResult is the per-query outcome within a dispatch batch. A failed
// query keeps its position and carries Error instead of Results.
type QueryResult struct {
	Query    string         `json:"query"`
	Results  []SearchResult `json:"results,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Failed reports whether this entry represents a failed query.
func (q QueryResult) Failed() bool { return q.Error != "" }

// DispatchBatch is one parallel execution round. Results preserve the
// input query order regardless of completion order.
type DispatchBatch struct {
	Results      []QueryResult `json:"results"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	Duration     time.Duration `json:"duration"`
	StartedAt    time.Time     `json:"started_at"`
}

// SegmentKind classifies a content segment.
type SegmentKind string

const (
	SegmentMain      SegmentKind = "main"
	SegmentTechnical SegmentKind = "technical"
)

// ContentSegment is one heading-delimited structural unit of a document.
type ContentSegment struct {
	ID         string      `json:"id"`
	Title      string      `json:"title,omitempty"`
	Markdown   string      `json:"markdown"`
	Importance float64     `json:"importance"`
	Kind       SegmentKind `json:"kind"`
	HasCode    bool        `json:"has_code"`
}

// DocumentMetadata holds fields resolved from page metadata, with word
// count and reading time always computed from the original body text.
type DocumentMetadata struct {
	Author         string     `json:"author,omitempty"`
	Published      *time.Time `json:"published,omitempty"`
	Modified       *time.Time `json:"modified,omitempty"`
	Language       string     `json:"language,omitempty"`
	WordCount      int        `json:"word_count"`
	ReadingTimeMin int        `json:"reading_time_min"`
}

// StructuredBlock is a raw structured-data payload found in the page
// (ld+json and the like), captured verbatim for downstream consumers.
type StructuredBlock struct {
	Type string `json:"type"`
	Raw  string `json:"raw"`
}

// ExtractedDocument is the cleaned content of one URL. Content is derived
// solely from retained segments; ExtractedAt is set at extraction time.
type ExtractedDocument struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Segments    []ContentSegment  `json:"segments"`
	Metadata    DocumentMetadata  `json:"metadata"`
	Structured  []StructuredBlock `json:"structured,omitempty"`
	ExtractedAt time.Time         `json:"extracted_at"`
}

// HasTechnicalContent reports whether any segment was classified technical.
func (d ExtractedDocument) HasTechnicalContent() bool {
	for _, s := range d.Segments {
		if s.Kind == SegmentTechnical {
			return true
		}
	}
	return false
}

// HasCode reports whether any segment contains a code block.
func (d ExtractedDocument) HasCode() bool {
	for _, s := range d.Segments {
		if s.HasCode {
			return true
		}
	}
	return false
}

// Topic is a recurring subject inferred from one or more documents.
// Name is unique within a merged topic set.
type Topic struct {
	Name       string   `json:"name"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
}

// KeyInsight is one retained salient sentence with supporting evidence.
type KeyInsight struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Topics     []string `json:"topics,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
}

// Source is one visited, successfully analyzed URL; unique per session
// by normalized URL.
type Source struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Credibility float64  `json:"credibility"`
	Insights    []string `json:"insights,omitempty"`
}

// ResearchFindings is the cumulative output of a session. It only grows
// during a session; dedup happens at insert time, never retroactively.
type ResearchFindings struct {
	Topics   []Topic      `json:"topics"`
	Insights []KeyInsight `json:"key_insights"`
	Sources  []Source     `json:"sources"`
}

// SortTopics orders topics by confidence descending, name ascending on ties.
func (f *ResearchFindings) SortTopics() {
	sort.SliceStable(f.Topics, func(i, j int) bool {
		if f.Topics[i].Confidence != f.Topics[j].Confidence {
			return f.Topics[i].Confidence > f.Topics[j].Confidence
		}
		return f.Topics[i].Name < f.Topics[j].Name
	})
}

// SortInsights orders insights by confidence descending.
func (f *ResearchFindings) SortInsights() {
	sort.SliceStable(f.Insights, func(i, j int) bool {
		return f.Insights[i].Confidence > f.Insights[j].Confidence
	})
}

// Clip01 bounds a score to [0,1]. Every relevance, importance, confidence
// and quality value in the pipeline passes through this.
func Clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
