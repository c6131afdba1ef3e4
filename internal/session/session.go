// Package session owns the crawl state machine for one bounded research
// run: budget enforcement, the visited-URL guard, and the merge of
// per-document analysis into cumulative findings.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qpd-v/deepwebresearch/internal/analyze"
	"github.com/qpd-v/deepwebresearch/internal/content"
	"github.com/qpd-v/deepwebresearch/internal/extract"
	"github.com/qpd-v/deepwebresearch/internal/urlutil"
)

// ErrBudgetExceeded reports that the session's wall-clock budget ran
// out. Findings merged before the budget ran out are preserved.
var ErrBudgetExceeded = errors.New("session budget exceeded")

// ErrNotRunning reports a ProcessURL call outside the in_progress state.
var ErrNotRunning = errors.New("session is not running")

// Empirically tuned merge multipliers, kept as named constants for
// compatibility with prior behavior.
const (
	technicalTopicBoost   = 1.3
	codeInsightBoost      = 1.2
	technicalInsightBoost = 1.1
	technicalSourceBoost  = 1.2
)

// PageFetcher returns the rendered title and markup for one URL.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (title, html string, err error)
}

// Config bounds one session.
type Config struct {
	MaxDepth     int
	Timeout      time.Duration
	MinRelevance float64
}

// Timings is the cumulative per-stage time breakdown.
type Timings struct {
	Fetch   time.Duration `json:"fetch"`
	Extract time.Duration `json:"extract"`
	Analyze time.Duration `json:"analyze"`
}

// Progress holds the page counters for one session.
type Progress struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Session is one bounded research run. The fetch/extract/analyze
// pipeline for a single URL is linear; callers may run ProcessURL for
// distinct URLs concurrently, and all shared state stays behind one
// mutex written only by the merge step.
type Session struct {
	ID string

	cfg       Config
	fetcher   PageFetcher
	extractor *extract.Extractor
	analyzer  *analyze.Analyzer
	logger    *log.Logger

	// DiscoverLinks, when set, yields candidate URLs found in a fetched
	// document; they are scheduled at depth+1. Left nil, the re-crawl
	// step is a no-op.
	DiscoverLinks func(html, baseURL string) []string

	started time.Time

	mu        sync.Mutex
	status    content.SessionStatus
	visited   map[string]struct{}
	findings  content.ResearchFindings
	progress  Progress
	timings   Timings
	completed time.Time
}

// New builds a Session in the planning state. The budget clock starts
// at construction.
func New(cfg Config, fetcher PageFetcher, extractor *extract.Extractor, analyzer *analyze.Analyzer, logger *log.Logger) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 55 * time.Second
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = 0.7
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[SESSION] ", log.LstdFlags)
	}
	return &Session{
		ID:        uuid.NewString(),
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		analyzer:  analyzer,
		logger:    logger,
		started:   time.Now(),
		status:    content.StatusPlanning,
		visited:   make(map[string]struct{}),
	}
}

// Transitions are one-directional toward a terminal state.
var allowedTransitions = map[content.SessionStatus][]content.SessionStatus{
	content.StatusPlanning:     {content.StatusInProgress, content.StatusFailed, content.StatusCancelled},
	content.StatusInProgress:   {content.StatusAnalyzing, content.StatusSynthesizing, content.StatusCompleted, content.StatusFailed, content.StatusCancelled},
	content.StatusAnalyzing:    {content.StatusInProgress, content.StatusSynthesizing, content.StatusCompleted, content.StatusFailed, content.StatusCancelled},
	content.StatusSynthesizing: {content.StatusInProgress, content.StatusCompleted, content.StatusFailed, content.StatusCancelled},
}

func (s *Session) transition(to content.SessionStatus) error {
	for _, next := range allowedTransitions[s.status] {
		if next == to {
			s.status = to
			if to == content.StatusCompleted {
				s.completed = time.Now()
			}
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", s.status, to)
}

// Start moves the session from planning to in_progress.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(content.StatusInProgress)
}

// Complete finalizes the session; the completion timestamp is set only
// on this path.
func (s *Session) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(content.StatusCompleted)
}

// Fail moves the session to the failed terminal state. Findings merged
// before the failure remain available.
func (s *Session) Fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return fmt.Errorf("invalid transition %s -> %s", s.status, content.StatusFailed)
	}
	s.status = content.StatusFailed
	return nil
}

// Cancel moves the session to the cancelled terminal state.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return fmt.Errorf("invalid transition %s -> %s", s.status, content.StatusCancelled)
	}
	s.status = content.StatusCancelled
	return nil
}

// Status returns the current lifecycle state.
func (s *Session) Status() content.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Elapsed is the wall-clock time since construction.
func (s *Session) Elapsed() time.Duration { return time.Since(s.started) }

// Remaining is the budget left, zero when exhausted.
func (s *Session) Remaining() time.Duration {
	if rem := s.cfg.Timeout - s.Elapsed(); rem > 0 {
		return rem
	}
	return 0
}

// checkBudget runs before every network-bound operation so a slow fetch
// cannot push the session past its budget unnoticed.
func (s *Session) checkBudget() error {
	if s.Elapsed() >= s.cfg.Timeout {
		return ErrBudgetExceeded
	}
	return nil
}

// ProcessURL runs the fetch → extract → analyze → merge pipeline for one
// URL. Revisits are no-ops; non-processable URLs are rejected without
// consuming budget. The URL is claimed in the visited set before the
// fetch so concurrent calls for the same URL do the work at most once;
// the claim is released if the fetch or extraction fails.
func (s *Session) ProcessURL(ctx context.Context, rawURL string, depth int) error {
	if !urlutil.IsProcessable(rawURL) {
		return fmt.Errorf("%w: %s", urlutil.ErrNotProcessable, rawURL)
	}
	key := urlutil.Key(rawURL)

	s.mu.Lock()
	if s.status != content.StatusInProgress && s.status != content.StatusAnalyzing && s.status != content.StatusSynthesizing {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if _, seen := s.visited[key]; seen {
		s.progress.Skipped++
		s.mu.Unlock()
		return nil
	}
	s.visited[key] = struct{}{}
	s.mu.Unlock()

	if err := s.checkBudget(); err != nil {
		s.release(key)
		return err
	}

	fetchStart := time.Now()
	title, html, err := s.fetcher.Fetch(ctx, rawURL)
	fetchDur := time.Since(fetchStart)
	if err != nil {
		s.fail(key, fetchDur, 0, 0)
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	extractStart := time.Now()
	doc := s.extractor.Extract(html, rawURL)
	extractDur := time.Since(extractStart)
	if doc.Title == "Untitled" && title != "" {
		doc.Title = title
	}

	analyzeStart := time.Now()
	analysis := s.analyzer.Analyze(doc)
	analyzeDur := time.Since(analyzeStart)

	s.merge(doc, analysis, fetchDur, extractDur, analyzeDur)
	s.logger.Printf("processed %s depth=%d relevance=%.2f topics=%d", rawURL, depth, analysis.Relevance, len(analysis.Topics))

	if depth < s.cfg.MaxDepth && s.DiscoverLinks != nil {
		for _, link := range s.DiscoverLinks(html, rawURL) {
			if err := s.checkBudget(); err != nil {
				return err
			}
			if err := s.ProcessURL(ctx, link, depth+1); err != nil && errors.Is(err, ErrBudgetExceeded) {
				return err
			}
		}
	}
	return nil
}

func (s *Session) release(key string) {
	s.mu.Lock()
	delete(s.visited, key)
	s.mu.Unlock()
}

func (s *Session) fail(key string, fetch, extr, anal time.Duration) {
	s.mu.Lock()
	delete(s.visited, key)
	s.progress.Failed++
	s.timings.Fetch += fetch
	s.timings.Extract += extr
	s.timings.Analyze += anal
	s.mu.Unlock()
}

// merge folds one document's analysis into the cumulative findings.
// It runs to completion under the session mutex, so no two merges
// interleave.
func (s *Session) merge(doc content.ExtractedDocument, an analyze.Analysis, fetch, extr, anal time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Transient states while merging; the session returns to
	// in_progress for the next URL.
	_ = s.transition(content.StatusAnalyzing)

	technical := doc.HasTechnicalContent()
	hasCode := doc.HasCode()

	for _, topic := range an.Topics {
		conf := topic.Confidence
		if technical && topicInTechnicalSegment(doc, topic.Name) {
			conf = content.Clip01(conf * technicalTopicBoost)
		}
		if i := findTopic(s.findings.Topics, topic.Name); i >= 0 {
			if conf > s.findings.Topics[i].Confidence {
				s.findings.Topics[i].Confidence = conf
			}
			s.findings.Topics[i].Keywords = unionKeywords(s.findings.Topics[i].Keywords, topic.Keywords)
		} else {
			topic.Confidence = conf
			s.findings.Topics = append(s.findings.Topics, topic)
		}
	}

	var contributed []string
	for _, point := range an.KeyPoints {
		conf := point.Confidence
		switch {
		case hasCode:
			conf = content.Clip01(conf * codeInsightBoost)
		case technical:
			conf = content.Clip01(conf * technicalInsightBoost)
		}
		if conf < s.cfg.MinRelevance {
			continue
		}
		if insightPresent(s.findings.Insights, point.Text) {
			continue
		}
		point.Confidence = conf
		s.findings.Insights = append(s.findings.Insights, point)
		contributed = append(contributed, point.Text)
	}

	if !sourcePresent(s.findings.Sources, doc.URL) {
		cred := an.Quality.Credibility
		if technical {
			cred = content.Clip01(cred * technicalSourceBoost)
		}
		s.findings.Sources = append(s.findings.Sources, content.Source{
			URL:         doc.URL,
			Title:       doc.Title,
			Credibility: cred,
			Insights:    contributed,
		})
	}

	s.findings.SortTopics()
	s.findings.SortInsights()

	s.progress.Processed++
	s.timings.Fetch += fetch
	s.timings.Extract += extr
	s.timings.Analyze += anal

	_ = s.transition(content.StatusInProgress)
}

// Findings returns a copy of the cumulative findings, sorted.
func (s *Session) Findings() content.ResearchFindings {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := content.ResearchFindings{
		Topics:   append([]content.Topic(nil), s.findings.Topics...),
		Insights: append([]content.KeyInsight(nil), s.findings.Insights...),
		Sources:  append([]content.Source(nil), s.findings.Sources...),
	}
	return out
}

// Progress returns the page counters.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Timings returns the cumulative per-stage breakdown.
func (s *Session) Timings() Timings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timings
}

// VisitedCount reports the size of the visited-URL set.
func (s *Session) VisitedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visited)
}

func findTopic(topics []content.Topic, name string) int {
	for i, t := range topics {
		if strings.EqualFold(t.Name, name) {
			return i
		}
	}
	return -1
}

// unionKeywords appends the keywords from extra that existing does not
// already carry, preserving first-seen order.
func unionKeywords(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, kw := range existing {
		seen[strings.ToLower(kw)] = struct{}{}
	}
	for _, kw := range extra {
		if _, ok := seen[strings.ToLower(kw)]; ok {
			continue
		}
		seen[strings.ToLower(kw)] = struct{}{}
		existing = append(existing, kw)
	}
	return existing
}

func insightPresent(insights []content.KeyInsight, text string) bool {
	norm := strings.ToLower(strings.TrimSpace(text))
	for _, in := range insights {
		if strings.ToLower(strings.TrimSpace(in.Text)) == norm {
			return true
		}
	}
	return false
}

func sourcePresent(sources []content.Source, rawURL string) bool {
	key := urlutil.Key(rawURL)
	for _, src := range sources {
		if urlutil.Key(src.URL) == key {
			return true
		}
	}
	return false
}

func topicInTechnicalSegment(doc content.ExtractedDocument, name string) bool {
	lower := strings.ToLower(name)
	for _, seg := range doc.Segments {
		if seg.Kind != content.SegmentTechnical {
			continue
		}
		if strings.Contains(strings.ToLower(seg.Markdown), lower) {
			return true
		}
	}
	return false
}
