package analyze

// sentimentNormalizer maps the raw lexicon balance onto [-1,1]; five
// net hits saturate the scale.
const sentimentNormalizer = 5.0

// Sentiment is a lexicon-based polarity estimate.
type Sentiment struct {
	Polarity   float64 `json:"polarity"`
	Confidence float64 `json:"confidence"`
	Positive   int     `json:"positive"`
	Negative   int     `json:"negative"`
}

// analyzeSentiment counts lexicon hits over the document tokens and
// normalizes the balance. Confidence grows with the absolute balance.
func (a *Analyzer) analyzeSentiment(text string) Sentiment {
	pos, neg := 0, 0
	for _, tok := range tokenize(text) {
		for _, p := range a.vocab.PositiveTerms {
			if tok == p {
				pos++
				break
			}
		}
		for _, n := range a.vocab.NegativeTerms {
			if tok == n {
				neg++
				break
			}
		}
	}
	raw := float64(pos - neg)
	polarity := raw / sentimentNormalizer
	if polarity > 1 {
		polarity = 1
	}
	if polarity < -1 {
		polarity = -1
	}
	conf := polarity
	if conf < 0 {
		conf = -conf
	}
	return Sentiment{Polarity: polarity, Confidence: conf, Positive: pos, Negative: neg}
}
