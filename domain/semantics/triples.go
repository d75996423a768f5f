// Package semantics reads the N-Triples annotation attached to a post.
package semantics

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/knakk/rdf"
)

// Statement is one triple with every term in its N-Triples form:
// <iri>, _:blank or "literal" with an optional @lang or ^^<type>.
type Statement struct {
	Subject   string
	Predicate string
	Object    string
}

// Decode reads N-Triples. Whole-line # comments are skipped.
func Decode(input string) ([]rdf.Triple, error) {
	var clean strings.Builder
	for _, line := range strings.Split(input, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		clean.WriteString(line)
		clean.WriteByte('\n')
	}
	if clean.Len() == 0 {
		return nil, nil
	}
	triples, err := rdf.NewTripleDecoder(strings.NewReader(clean.String()), rdf.NTriples).DecodeAll()
	if err != nil {
		return nil, fmt.Errorf("decode n-triples: %w", err)
	}
	return triples, nil
}

func Parse(input string) ([]Statement, error) {
	triples, err := Decode(input)
	if err != nil {
		return nil, err
	}
	out := make([]Statement, 0, len(triples))
	for _, t := range triples {
		out = append(out, Statement{
			Subject:   t.Subj.Serialize(rdf.NTriples),
			Predicate: t.Pred.Serialize(rdf.NTriples),
			Object:    t.Obj.Serialize(rdf.NTriples),
		})
	}
	return out, nil
}

// Encode writes triples as N-Triples, one per line.
func Encode(triples []rdf.Triple) (string, error) {
	var buf bytes.Buffer
	enc := rdf.NewTripleEncoder(&buf, rdf.NTriples)
	for _, t := range triples {
		if err := enc.Encode(t); err != nil {
			return "", fmt.Errorf("encode n-triples: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Label is the local name of a predicate IRI.
func Label(predicate string) string {
	predicate = strings.TrimSuffix(strings.TrimPrefix(predicate, "<"), ">")
	if i := strings.LastIndexAny(predicate, "#/"); i >= 0 && i < len(predicate)-1 {
		return predicate[i+1:]
	}
	return predicate
}

// LabelCount pairs a predicate label with its number of occurrences.
type LabelCount struct {
	Label string
	Count int
}

// Aggregate counts predicate labels, most frequent first, ties by label.
func Aggregate(predicates []string) []LabelCount {
	counts := map[string]int{}
	for _, p := range predicates {
		counts[Label(p)]++
	}
	out := make([]LabelCount, 0, len(counts))
	for l, c := range counts {
		out = append(out, LabelCount{Label: l, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
