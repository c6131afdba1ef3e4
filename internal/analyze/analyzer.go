package analyze

import (
	"log"
	"os"
	"regexp"

	"github.com/qpd-v/deepwebresearch/internal/content"
)

// Relevance weights for the score returned to the orchestrator.
const (
	relevanceTopicWeight   = 0.6
	relevanceDepthWeight   = 0.2
	relevanceDensityWeight = 0.2
)

// citationPattern recognizes markdown links and bracketed reference
// markers as citation evidence.
var citationPattern = regexp.MustCompile(`\[[^\]]+\]\(https?://[^)]+\)|\[\d{1,3}\]`)

// Config bounds analyzer output.
type Config struct {
	MinTopicConfidence   float64
	MaxTopics            int
	MinInsightImportance float64
	MaxInsights          int
}

// Analysis is the full analyzer output for one document.
type Analysis struct {
	Topics        []content.Topic      `json:"topics"`
	KeyPoints     []content.KeyInsight `json:"key_points"`
	Entities      []Entity             `json:"entities,omitempty"`
	Relationships []Relationship       `json:"relationships,omitempty"`
	Sentiment     Sentiment            `json:"sentiment"`
	Quality       Quality              `json:"quality"`
	Citations     []string             `json:"citations,omitempty"`
	Relevance     float64              `json:"relevance"`
}

// Analyzer runs the topic/insight/entity/quality pipeline over one
// extracted document at a time. Safe for concurrent use, as all state
// is per-call.
type Analyzer struct {
	cfg    Config
	vocab  Vocabulary
	logger *log.Logger
}

// New builds an Analyzer with the default vocabulary tables.
func New(cfg Config, logger *log.Logger) *Analyzer {
	return NewWithVocabulary(cfg, DefaultVocabulary, logger)
}

// NewWithVocabulary builds an Analyzer with caller-supplied tables.
func NewWithVocabulary(cfg Config, vocab Vocabulary, logger *log.Logger) *Analyzer {
	if cfg.MaxTopics <= 0 {
		cfg.MaxTopics = 10
	}
	if cfg.MaxInsights <= 0 {
		cfg.MaxInsights = 20
	}
	if cfg.MinInsightImportance <= 0 {
		cfg.MinInsightImportance = 0.3
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[ANALYZE] ", log.LstdFlags)
	}
	return &Analyzer{cfg: cfg, vocab: vocab, logger: logger}
}

// Analyze produces the full analysis for one document. It never fails;
// an empty document yields an empty analysis with zero relevance.
func (a *Analyzer) Analyze(doc content.ExtractedDocument) Analysis {
	citations := citationPattern.FindAllString(doc.Content, -1)

	topics := a.extractTopics(doc)
	entities := a.extractEntities(doc)

	an := Analysis{
		Topics:        topics,
		KeyPoints:     a.extractKeyPoints(doc, topics),
		Entities:      entities,
		Relationships: inferRelationships(entities),
		Sentiment:     a.analyzeSentiment(doc.Content),
		Quality:       a.scoreQuality(doc, len(citations) > 0),
		Citations:     citations,
	}
	an.Relevance = content.Clip01(
		relevanceTopicWeight*meanTopicConfidence(topics) +
			relevanceDepthWeight*an.Quality.TechnicalDepth +
			relevanceDensityWeight*an.Quality.InformationDensity)
	return an
}

func meanTopicConfidence(topics []content.Topic) float64 {
	if len(topics) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range topics {
		sum += t.Confidence
	}
	return sum / float64(len(topics))
}
