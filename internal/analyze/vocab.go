// Package analyze derives topics, key insights, entities, sentiment,
// relationships and a quality score from an extracted document.
package analyze

import "regexp"

// Vocabulary consolidates the heuristic tables the analyzer matches
// against. Injected as data so the tables stay independently testable
// and replaceable.
type Vocabulary struct {
	// TopicPatterns nominate topic names from prose. Each pattern must
	// expose exactly one capture group holding the candidate name.
	TopicPatterns []*regexp.Regexp
	// CodeIdentifierPattern nominates class/function/interface names
	// from fenced or inline code.
	CodeIdentifierPattern *regexp.Regexp
	// NormativePatterns mark best-practice sentences.
	NormativePatterns []*regexp.Regexp
	// ImplementationPatterns mark implementation-guidance sentences.
	ImplementationPatterns []*regexp.Regexp
	// TechnicalTerms drive density, depth and the insightful-sentence
	// test. Matching is whole-token, lowercased.
	TechnicalTerms []string
	// RelatedTermPairs lists commonly co-occurring term pairs that are
	// merged into a single topic.
	RelatedTermPairs [][2]string
	// StandardPattern and AlgorithmPattern recognize domain entities.
	StandardPattern  *regexp.Regexp
	AlgorithmPattern *regexp.Regexp
	// PositiveTerms and NegativeTerms form the sentiment lexicon.
	PositiveTerms []string
	NegativeTerms []string
	// BoilerplatePhrases disqualify a sentence from the insight pools.
	BoilerplatePhrases []string
}

// DefaultVocabulary is the production table set.
var DefaultVocabulary = Vocabulary{
	TopicPatterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\busing (?:the )?([A-Za-z][\w-]+(?: [A-Z][\w-]+)?) pattern\b`),
		regexp.MustCompile(`(?i)\b([A-Za-z][\w-]+(?: [A-Za-z][\w-]+)?) implementation\b`),
		regexp.MustCompile(`(?i)\b([A-Za-z][\w-]+) (?:wrapper|api|sdk|driver|client|library|framework)\b`),
		regexp.MustCompile(`(?i)\b(?:introduction to|overview of|guide to) ([A-Za-z][\w-]+(?: [A-Za-z][\w-]+)?)\b`),
		regexp.MustCompile(`(?i)\b([A-Za-z][\w-]+) (?:protocol|algorithm|architecture)\b`),
	},
	CodeIdentifierPattern: regexp.MustCompile("`?\\b(?:type|func|class|interface|struct|def)\\s+([A-Za-z_][A-Za-z0-9_]{2,})\\b`?"),
	NormativePatterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:should|must|always|never|avoid|prefer|recommended|best practice|do not|don't)\b`),
		regexp.MustCompile(`(?i)\bit is (?:important|critical|essential|advisable)\b`),
	},
	ImplementationPatterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:implement|configure|install|initialize|instantiate|register|deploy|invoke|override|extend)\b`),
		regexp.MustCompile(`(?i)\b(?:returns?|accepts?|takes|expects?) (?:a|an|the)\b`),
		regexp.MustCompile(`(?i)\b(?:step \d|first,|then,|finally,)\b`),
	},
	TechnicalTerms: []string{
		"algorithm", "api", "architecture", "async", "authentication",
		"backend", "benchmark", "buffer", "cache", "compiler",
		"concurrency", "configuration", "container", "database",
		"dependency", "deployment", "encryption", "endpoint",
		"framework", "function", "goroutine", "handler", "interface",
		"kernel", "latency", "library", "middleware", "mutex",
		"namespace", "parameter", "parser", "pipeline", "protocol",
		"query", "queue", "runtime", "schema", "sdk", "serialization",
		"server", "struct", "syntax", "thread", "throughput", "token",
		"transaction", "variable",
	},
	RelatedTermPairs: [][2]string{
		{"golang", "go"},
		{"javascript", "js"},
		{"typescript", "ts"},
		{"postgres", "postgresql"},
		{"kubernetes", "k8s"},
		{"authentication", "auth"},
		{"configuration", "config"},
		{"repository", "repo"},
	},
	StandardPattern:  regexp.MustCompile(`\b(?:RFC|ISO|IEEE|ANSI|ECMA|BCP)[- ]?\d{1,5}\b`),
	AlgorithmPattern: regexp.MustCompile(`\b(?:SHA-?(?:1|2|3|256|512)|MD5|AES(?:-\d+)?|RSA|HMAC|ECDSA|Ed25519|ChaCha20|CRC32|bcrypt|scrypt|Argon2|PBKDF2|Raft|Paxos|Dijkstra|A\*|quicksort|mergesort)\b`),
	PositiveTerms: []string{
		"efficient", "robust", "reliable", "fast", "simple", "elegant",
		"powerful", "flexible", "stable", "secure", "improved",
		"excellent", "clean", "scalable",
	},
	NegativeTerms: []string{
		"slow", "broken", "deprecated", "unsafe", "fragile", "buggy",
		"complicated", "unstable", "insecure", "legacy", "vulnerable",
		"confusing", "error-prone", "leaky",
	},
	BoilerplatePhrases: []string{
		"all rights reserved", "terms of service", "privacy policy",
		"click here", "sign up", "subscribe", "cookie",
	},
}

// isTechnicalTerm reports whether a lowercased token is in the
// technical vocabulary.
func (v Vocabulary) isTechnicalTerm(token string) bool {
	for _, t := range v.TechnicalTerms {
		if token == t {
			return true
		}
	}
	return false
}

func (v Vocabulary) isBoilerplateSentence(lower string) bool {
	for _, p := range v.BoilerplatePhrases {
		if containsPhrase(lower, p) {
			return true
		}
	}
	return false
}
