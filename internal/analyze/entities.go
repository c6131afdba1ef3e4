package analyze

import (
	"unicode/utf8"

	"github.com/qpd-v/deepwebresearch/internal/content"
)

// EntityKind classifies a recognized entity.
type EntityKind string

const (
	EntityStandard  EntityKind = "standard"
	EntityAlgorithm EntityKind = "algorithm"
)

// contextRadius is the number of characters captured around each
// entity mention.
const contextRadius = 50

// relationshipWindow is the maximum mention distance, in characters,
// for a (standard, algorithm) pair to be linked.
const relationshipWindow = 100

// Entity is one recognized domain identifier with every mention
// position and its surrounding context.
type Entity struct {
	Name      string     `json:"name"`
	Kind      EntityKind `json:"kind"`
	Positions []int      `json:"positions"`
	Contexts  []string   `json:"contexts"`
}

// Relationship links a standard to an algorithm mentioned nearby.
type Relationship struct {
	Standard   string  `json:"standard"`
	Algorithm  string  `json:"algorithm"`
	Distance   int     `json:"distance"`
	Confidence float64 `json:"confidence"`
}

// extractEntities runs the standard and algorithm recognizers over the
// document content, recording each occurrence with context.
func (a *Analyzer) extractEntities(doc content.ExtractedDocument) []Entity {
	text := doc.Content
	byName := make(map[string]*Entity)
	var order []string

	collect := func(kind EntityKind, locs [][]int) {
		for _, loc := range locs {
			name := text[loc[0]:loc[1]]
			ent, ok := byName[name]
			if !ok {
				ent = &Entity{Name: name, Kind: kind}
				byName[name] = ent
				order = append(order, name)
			}
			ent.Positions = append(ent.Positions, loc[0])
			ent.Contexts = append(ent.Contexts, mentionContext(text, loc[0], loc[1]))
		}
	}
	collect(EntityStandard, a.vocab.StandardPattern.FindAllStringIndex(text, -1))
	collect(EntityAlgorithm, a.vocab.AlgorithmPattern.FindAllStringIndex(text, -1))

	out := make([]Entity, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}

func mentionContext(text string, start, end int) string {
	lo := start - contextRadius
	if lo < 0 {
		lo = 0
	}
	hi := end + contextRadius
	if hi > len(text) {
		hi = len(text)
	}
	// The radius is in bytes; back up to rune boundaries so a snippet
	// never starts or ends mid-rune.
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi--
	}
	return text[lo:hi]
}

// inferRelationships links each (standard, algorithm) pair whose closest
// mentions fall within the relationship window, with confidence decaying
// linearly with distance.
func inferRelationships(entities []Entity) []Relationship {
	var rels []Relationship
	for _, std := range entities {
		if std.Kind != EntityStandard {
			continue
		}
		for _, alg := range entities {
			if alg.Kind != EntityAlgorithm {
				continue
			}
			dist := minMentionDistance(std.Positions, alg.Positions)
			if dist < 0 || dist > relationshipWindow {
				continue
			}
			rels = append(rels, Relationship{
				Standard:   std.Name,
				Algorithm:  alg.Name,
				Distance:   dist,
				Confidence: 1 - float64(dist)/relationshipWindow,
			})
		}
	}
	return rels
}

func minMentionDistance(a, b []int) int {
	best := -1
	for _, x := range a {
		for _, y := range b {
			d := x - y
			if d < 0 {
				d = -d
			}
			if best < 0 || d < best {
				best = d
			}
		}
	}
	return best
}
