package extract

// Tables holds the heuristic selector/vocabulary tables driving the
// extraction pipeline. They are injected as data so they can be tested
// and replaced independently of the pipeline code.
type Tables struct {
	// BoilerplateSelectors match elements removed during cleanup unless
	// they also match the technical-content heuristic.
	BoilerplateSelectors []string
	// TechnicalSelectors mark containers that carry technical content.
	TechnicalSelectors []string
	// TechnicalVocabulary terms exempt an element from boilerplate
	// removal and raise segment importance.
	TechnicalVocabulary []string
	// MainCandidates are scored to pick the main content container.
	MainCandidates []MainCandidate
}

// MainCandidate is one scored main-container selector.
type MainCandidate struct {
	Selector string
	Base     float64
}

// DefaultTables is the production table set.
var DefaultTables = Tables{
	BoilerplateSelectors: []string{
		"nav", "header", "footer", "aside",
		"[role=navigation]", "[role=banner]", "[role=complementary]", "[role=contentinfo]",
		".nav", ".navbar", ".menu", ".sidebar", ".breadcrumb",
		".ad", ".ads", ".advertisement", ".banner", ".promo", ".sponsored",
		".cookie", ".cookies", ".consent", ".gdpr", ".legal", ".disclaimer",
		".social", ".share", ".sharing", ".follow",
		".comments", ".comment-section", ".related", ".recommended",
		".newsletter", ".subscribe", ".popup", ".modal",
	},
	TechnicalSelectors: []string{
		"pre", "code", ".highlight", ".code", ".codeblock", ".code-block",
		".snippet", ".sourceCode", ".language-go", ".language-js",
		".language-python", "[class*=language-]", ".terminal", ".shell",
	},
	TechnicalVocabulary: []string{
		"algorithm", "api", "architecture", "async", "authentication",
		"backend", "benchmark", "cache", "compiler", "concurrency",
		"configuration", "container", "database", "dependency",
		"deployment", "encryption", "endpoint", "framework", "frontend",
		"function", "goroutine", "implementation", "interface", "kernel",
		"latency", "library", "middleware", "mutex", "namespace",
		"parameter", "parser", "pipeline", "protocol", "query", "queue",
		"refactor", "repository", "runtime", "schema", "sdk",
		"serialization", "server", "struct", "syntax", "thread",
		"throughput", "token", "transaction", "variable",
	},
	MainCandidates: []MainCandidate{
		{Selector: "article", Base: 10},
		{Selector: "[role=main]", Base: 9},
		{Selector: "main", Base: 9},
		{Selector: ".post-content", Base: 8},
		{Selector: ".article-content", Base: 8},
		{Selector: ".entry-content", Base: 8},
		{Selector: "#content", Base: 7},
		{Selector: ".content", Base: 7},
		{Selector: ".post", Base: 6},
		{Selector: ".article", Base: 6},
		{Selector: "#main", Base: 6},
	},
}
