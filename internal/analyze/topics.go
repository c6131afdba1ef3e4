package analyze

import (
	"sort"
	"strings"

	porterstemmer "github.com/blevesearch/go-porterstemmer"

	"github.com/qpd-v/deepwebresearch/internal/content"
)

// Per-mention weights for topic nomination. Prose pattern hits weigh a
// full mention, code identifiers slightly less since they repeat freely.
const (
	proseMentionWeight = 1.0
	codeMentionWeight  = 0.7
	// mentionNormalizer turns a weighted mention count into a [0,1]
	// confidence: count/3 clipped.
	mentionNormalizer = 3.0
	// keywordOverlapMergeThreshold merges topics whose keyword sets
	// overlap more than this ratio.
	keywordOverlapMergeThreshold = 0.5
)

type topicCandidate struct {
	name     string
	mentions float64
	keywords map[string]struct{}
}

// extractTopics nominates topic candidates paragraph by paragraph,
// merges similar candidates, and returns those above the confidence
// floor sorted descending and truncated to maxTopics.
func (a *Analyzer) extractTopics(doc content.ExtractedDocument) []content.Topic {
	byKey := make(map[string]*topicCandidate)
	nominate := func(name string, weight float64, keywords []string) {
		name = strings.TrimSpace(name)
		if len(name) < 2 {
			return
		}
		key := strings.ToLower(name)
		cand, ok := byKey[key]
		if !ok {
			cand = &topicCandidate{name: name, keywords: make(map[string]struct{})}
			byKey[key] = cand
		}
		cand.mentions += weight
		for _, kw := range keywords {
			cand.keywords[kw] = struct{}{}
		}
	}

	for _, para := range splitParagraphs(doc.Content) {
		techTokens := a.technicalTokens(para)
		for _, pat := range a.vocab.TopicPatterns {
			for _, m := range pat.FindAllStringSubmatch(para, -1) {
				nominate(m[1], proseMentionWeight, techTokens)
			}
		}
		for _, m := range a.vocab.CodeIdentifierPattern.FindAllStringSubmatch(para, -1) {
			nominate(m[1], codeMentionWeight, techTokens)
		}
	}

	merged := a.mergeCandidates(candidateList(byKey))

	var topics []content.Topic
	for _, cand := range merged {
		conf := content.Clip01(cand.mentions / mentionNormalizer)
		if conf < a.cfg.MinTopicConfidence {
			continue
		}
		topics = append(topics, content.Topic{
			Name:       cand.name,
			Confidence: conf,
			Keywords:   sortedKeys(cand.keywords),
		})
	}
	sort.SliceStable(topics, func(i, j int) bool {
		if topics[i].Confidence != topics[j].Confidence {
			return topics[i].Confidence > topics[j].Confidence
		}
		return topics[i].Name < topics[j].Name
	})
	if len(topics) > a.cfg.MaxTopics {
		topics = topics[:a.cfg.MaxTopics]
	}
	return topics
}

func candidateList(byKey map[string]*topicCandidate) []*topicCandidate {
	out := make([]*topicCandidate, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, c)
	}
	// Deterministic merge order.
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// mergeCandidates folds together candidates whose stemmed names match,
// whose keyword sets overlap past the threshold, or which appear in the
// related-term pair table. The survivor keeps the larger mention count
// and the keyword union; its display name prefers a recognized
// technical term, else the longest member name.
func (a *Analyzer) mergeCandidates(cands []*topicCandidate) []*topicCandidate {
	var merged []*topicCandidate
	for _, cand := range cands {
		absorbed := false
		for _, existing := range merged {
			if !a.shouldMerge(existing, cand) {
				continue
			}
			if cand.mentions > existing.mentions {
				existing.mentions = cand.mentions
			}
			for kw := range cand.keywords {
				existing.keywords[kw] = struct{}{}
			}
			existing.name = a.preferredName(existing.name, cand.name)
			absorbed = true
			break
		}
		if !absorbed {
			merged = append(merged, cand)
		}
	}
	return merged
}

func (a *Analyzer) shouldMerge(x, y *topicCandidate) bool {
	if stemName(x.name) == stemName(y.name) {
		return true
	}
	if jaccard(x.keywords, y.keywords) > keywordOverlapMergeThreshold {
		return true
	}
	return a.relatedPair(x.name, y.name)
}

func (a *Analyzer) relatedPair(x, y string) bool {
	lx, ly := strings.ToLower(x), strings.ToLower(y)
	for _, pair := range a.vocab.RelatedTermPairs {
		if (lx == pair[0] && ly == pair[1]) || (lx == pair[1] && ly == pair[0]) {
			return true
		}
	}
	return false
}

func (a *Analyzer) preferredName(x, y string) string {
	xt := a.vocab.isTechnicalTerm(strings.ToLower(x))
	yt := a.vocab.isTechnicalTerm(strings.ToLower(y))
	switch {
	case xt && !yt:
		return x
	case yt && !xt:
		return y
	case len(y) > len(x):
		return y
	default:
		return x
	}
}

// stemName stems each word of a multi-word name so "caching layers" and
// "caching layer" collapse.
func stemName(name string) string {
	words := tokenize(name)
	for i, w := range words {
		words[i] = string(porterstemmer.StemWithoutLowerCasing([]rune(w)))
	}
	return strings.Join(words, " ")
}

// technicalTokens returns the distinct technical-vocabulary tokens in
// text, in first-seen order.
func (a *Analyzer) technicalTokens(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range tokenize(text) {
		if !a.vocab.isTechnicalTerm(tok) {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
