package analyze

import (
	"time"

	"github.com/qpd-v/deepwebresearch/internal/content"
	"github.com/qpd-v/deepwebresearch/internal/dispatch"
)

// Quality heuristic constants.
const (
	// maxTechnicalDepth caps the distinct technical-term count feeding
	// the depth score.
	maxTechnicalDepth = 20

	credibilityBase          = 0.5
	credibilityDomainBonus   = 0.2
	credibilityCitationBonus = 0.1
	credibilityRatioCap      = 0.2

	freshnessWindowDays = 365
	freshnessDefault    = 0.5

	// densityScale stretches raw technical-term density so technical
	// prose lands mid-scale rather than near zero.
	densityScale = 8
)

// Quality is the composite quality estimate for one document.
type Quality struct {
	Readability        float64 `json:"readability"`
	InformationDensity float64 `json:"information_density"`
	TechnicalDepth     float64 `json:"technical_depth"`
	Credibility        float64 `json:"credibility"`
	Freshness          float64 `json:"freshness"`
	Overall            float64 `json:"overall"`
}

// scoreQuality combines readability, density, depth, credibility and
// freshness into one weighted score.
func (a *Analyzer) scoreQuality(doc content.ExtractedDocument, hasCitations bool) Quality {
	text := stripFences(doc.Content)
	tokens := tokenize(text)

	q := Quality{
		Readability:        readability(text, tokens),
		InformationDensity: a.informationDensity(tokens),
		TechnicalDepth:     a.technicalDepth(tokens),
		Credibility:        a.credibility(doc.URL, tokens, hasCitations),
		Freshness:          freshness(doc.Metadata.Published, time.Now()),
	}
	q.Overall = content.Clip01(0.25*q.Readability + 0.2*q.InformationDensity +
		0.2*q.TechnicalDepth + 0.2*q.Credibility + 0.15*q.Freshness)
	return q
}

// readability derives a [0,1] score from the Flesch reading-ease
// formula. Empty or degenerate text scores zero.
func readability(text string, tokens []string) float64 {
	sentences := splitSentences(text)
	if len(sentences) == 0 || len(tokens) == 0 {
		return 0
	}
	syllables := 0
	for _, tok := range tokens {
		syllables += countSyllables(tok)
	}
	wordsPerSentence := float64(len(tokens)) / float64(len(sentences))
	syllablesPerWord := float64(syllables) / float64(len(tokens))
	ease := 206.835 - 1.015*wordsPerSentence - 84.6*syllablesPerWord
	return content.Clip01(ease / 100)
}

// informationDensity is the technical-term share of all tokens,
// stretched by densityScale.
func (a *Analyzer) informationDensity(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	tech := 0
	for _, tok := range tokens {
		if a.vocab.isTechnicalTerm(tok) {
			tech++
		}
	}
	return content.Clip01(float64(tech) / float64(len(tokens)) * densityScale)
}

// technicalDepth counts distinct technical terms, capped.
func (a *Analyzer) technicalDepth(tokens []string) float64 {
	distinct := make(map[string]struct{})
	for _, tok := range tokens {
		if a.vocab.isTechnicalTerm(tok) {
			distinct[tok] = struct{}{}
		}
	}
	n := len(distinct)
	if n > maxTechnicalDepth {
		n = maxTechnicalDepth
	}
	return float64(n) / maxTechnicalDepth
}

// credibility starts from a neutral base and rewards authoritative
// domains, citation presence and technical-term ratio.
func (a *Analyzer) credibility(rawURL string, tokens []string, hasCitations bool) float64 {
	score := credibilityBase
	if dispatch.IsAuthoritative(rawURL) {
		score += credibilityDomainBonus
	}
	if hasCitations {
		score += credibilityCitationBonus
	}
	if len(tokens) > 0 {
		tech := 0
		for _, tok := range tokens {
			if a.vocab.isTechnicalTerm(tok) {
				tech++
			}
		}
		ratio := float64(tech) / float64(len(tokens))
		bonus := ratio * 2
		if bonus > credibilityRatioCap {
			bonus = credibilityRatioCap
		}
		score += bonus
	}
	return content.Clip01(score)
}

// freshness decays linearly over a year from the publish date, with a
// neutral default when the date is unknown.
func freshness(published *time.Time, now time.Time) float64 {
	if published == nil {
		return freshnessDefault
	}
	ageDays := now.Sub(*published).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	v := 1 - ageDays/freshnessWindowDays
	if v < 0 {
		v = 0
	}
	return v
}
