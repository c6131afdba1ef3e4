package analyze

import (
	"regexp"
	"sort"
	"strings"

	"github.com/qpd-v/deepwebresearch/internal/content"
)

// Empirically tuned sentence weights, kept as named constants for
// compatibility with prior behavior.
const (
	bestPracticeBoost   = 1.3
	implementationBoost = 1.2

	densityWeight = 0.6
	overlapWeight = 0.3
	codeBonus     = 0.2

	minSentenceLen = 20
	// minInsightfulTerms is the technical-token floor for the residual
	// sentence pool.
	minInsightfulTerms = 2

	// duplicateSimilarity is the token-set Jaccard threshold above
	// which two key points are considered duplicates.
	duplicateSimilarity = 0.8
)

// extractKeyPoints builds three disjoint sentence pools, scores each
// sentence, applies the pool multiplier and drops points below the
// configured minimum importance.
func (a *Analyzer) extractKeyPoints(doc content.ExtractedDocument, topics []content.Topic) []content.KeyInsight {
	topicKeywords := make(map[string]struct{})
	var topicNames []string
	for _, t := range topics {
		topicNames = append(topicNames, t.Name)
		for _, kw := range t.Keywords {
			topicKeywords[kw] = struct{}{}
		}
	}
	hasCode := doc.HasCode()

	var points []content.KeyInsight
	for _, sentence := range splitSentences(doc.Content) {
		if len(sentence) < minSentenceLen {
			continue
		}
		lower := strings.ToLower(sentence)
		if a.vocab.isBoilerplateSentence(lower) {
			continue
		}

		multiplier := 0.0
		switch {
		case matchesAny(a.vocab.NormativePatterns, sentence):
			multiplier = bestPracticeBoost
		case matchesAny(a.vocab.ImplementationPatterns, sentence):
			multiplier = implementationBoost
		case len(a.technicalTokens(sentence)) >= minInsightfulTerms:
			multiplier = 1.0
		default:
			continue
		}

		importance := a.sentenceImportance(sentence, topicKeywords, hasCode) * multiplier
		importance = content.Clip01(importance)
		if importance < a.cfg.MinInsightImportance {
			continue
		}
		points = append(points, content.KeyInsight{
			Text:       sentence,
			Confidence: importance,
			Topics:     relatedTopicNames(lower, topicNames),
			Evidence:   []string{doc.URL},
		})
	}

	points = deduplicateKeyPoints(points)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Confidence > points[j].Confidence
	})
	if len(points) > a.cfg.MaxInsights {
		points = points[:a.cfg.MaxInsights]
	}
	return points
}

// sentenceImportance combines technical-term density, topic-keyword
// overlap and document-level code presence.
func (a *Analyzer) sentenceImportance(sentence string, topicKeywords map[string]struct{}, hasCode bool) float64 {
	tokens := tokenize(sentence)
	if len(tokens) == 0 {
		return 0
	}
	tech := 0
	overlap := 0
	for _, tok := range tokens {
		if a.vocab.isTechnicalTerm(tok) {
			tech++
		}
		if _, ok := topicKeywords[tok]; ok {
			overlap++
		}
	}
	density := float64(tech) / float64(len(tokens))
	overlapRatio := float64(overlap) / float64(len(tokens))

	score := densityWeight*density*4 + overlapWeight*overlapRatio*4
	if hasCode {
		score += codeBonus
	}
	return score
}

// deduplicateKeyPoints keeps the first occurrence of any pair whose
// normalized text is identical or whose token-set similarity exceeds
// the duplicate threshold.
func deduplicateKeyPoints(points []content.KeyInsight) []content.KeyInsight {
	var kept []content.KeyInsight
	seenNorm := make(map[string]struct{})
	var keptSets []map[string]struct{}

	for _, p := range points {
		norm := normalizeText(p.Text)
		if _, dup := seenNorm[norm]; dup {
			continue
		}
		set := tokenSet(tokenize(p.Text))
		similar := false
		for _, other := range keptSets {
			if jaccard(set, other) > duplicateSimilarity {
				similar = true
				break
			}
		}
		if similar {
			continue
		}
		seenNorm[norm] = struct{}{}
		keptSets = append(keptSets, set)
		kept = append(kept, p)
	}
	return kept
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// relatedTopicNames lists topic names mentioned in the sentence.
func relatedTopicNames(lowerSentence string, names []string) []string {
	var related []string
	for _, name := range names {
		if containsPhrase(lowerSentence, strings.ToLower(name)) {
			related = append(related, name)
		}
	}
	return related
}
