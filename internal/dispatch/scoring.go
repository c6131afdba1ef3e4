package dispatch

import (
	"strings"

	"github.com/qpd-v/deepwebresearch/internal/content"
	"github.com/qpd-v/deepwebresearch/internal/urlutil"
)

// Scoring weights. Rank dominates; query echoes in title/snippet and
// domain reputation nudge the score before clipping to [0,1].
const (
	rankPenalty  = 0.1
	titleBonus   = 0.3
	snippetBonus = 0.2
	defaultBonus = 0.1
)

// authoritativeDomainBonus is a fixed lookup of recognized trustworthy
// hosting: educational/governmental TLDs, code hosting, documentation.
var authoritativeDomainBonus = map[string]float64{
	".edu":              0.3,
	".gov":              0.3,
	".mil":              0.3,
	"github.com":        0.2,
	"gitlab.com":        0.2,
	"stackoverflow.com": 0.2,
	"wikipedia.org":     0.2,
	"arxiv.org":         0.2,
	"ietf.org":          0.2,
	"w3.org":            0.2,
	"mozilla.org":       0.2,
	"docs.":             0.15,
	"developer.":        0.15,
}

// Score computes a heuristic relevance score for one organic result:
// max(0, 1 - 0.1*rank) + 0.3*[title hit] + 0.2*[snippet hit] + domain
// bonus, clipped to [0,1].
func Score(rank int, query, title, snippet, rawURL string) float64 {
	score := 1 - rankPenalty*float64(rank)
	if score < 0 {
		score = 0
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q != "" {
		if strings.Contains(strings.ToLower(title), q) {
			score += titleBonus
		}
		if strings.Contains(strings.ToLower(snippet), q) {
			score += snippetBonus
		}
	}
	score += DomainBonus(rawURL)
	return content.Clip01(score)
}

// DomainBonus returns the url-quality bonus for a result's host. Hosts
// outside the lookup still earn a small default so a plain but valid
// domain is not penalized to zero.
func DomainBonus(rawURL string) float64 {
	host := urlutil.Host(rawURL)
	if host == "" {
		return 0
	}
	best := defaultBonus
	for marker, bonus := range authoritativeDomainBonus {
		var hit bool
		switch {
		case strings.HasPrefix(marker, "."):
			hit = strings.HasSuffix(host, marker)
		case strings.HasSuffix(marker, "."):
			hit = strings.HasPrefix(host, marker)
		default:
			hit = host == marker || strings.HasSuffix(host, "."+marker)
		}
		if hit && bonus > best {
			best = bonus
		}
	}
	return best
}

// IsAuthoritative reports whether the host earns more than the default
// bonus; the analyzer's credibility heuristic reuses this.
func IsAuthoritative(rawURL string) bool {
	return DomainBonus(rawURL) > defaultBonus
}
