package index

import (
	"math"
	"strings"
	"unicode"
)

// BM25 parameters. Standard values; tuned for short STAR metadata documents.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Tokenize lowercases text and splits it into alphanumeric terms, dropping
// stopwords and single-character tokens. Used for both document indexing and
// query scoring so the two sides agree on vocabulary.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// stopwords are terms too common to carry lexical signal in sales copy.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"with": true, "at": true, "by": true, "from": true, "as": true,
	"into": true, "and": true, "but": true, "or": true, "not": true,
	"so": true, "if": true, "then": true, "that": true, "this": true,
	"it": true, "its": true, "my": true, "your": true, "their": true,
	"who": true, "them": true, "they": true, "he": true, "she": true,
	"we": true, "you": true, "me": true, "our": true, "us": true,
	"about": true, "after": true, "without": true,
}

// sparseDoc holds per-record term statistics for BM25 scoring.
type sparseDoc struct {
	terms  map[string]int // term frequency
	length int            // token count
}

func newSparseDoc(text string) sparseDoc {
	tokens := Tokenize(text)
	doc := sparseDoc{
		terms:  make(map[string]int, len(tokens)),
		length: len(tokens),
	}
	for _, t := range tokens {
		doc.terms[t]++
	}
	return doc
}

// bm25 scores a tokenized query against one document using the snapshot's
// corpus statistics.
func (s *Snapshot) bm25(queryTokens []string, doc sparseDoc) float64 {
	if doc.length == 0 || s.docCount == 0 {
		return 0
	}

	var score float64
	norm := bm25K1 * (1 - bm25B + bm25B*float64(doc.length)/s.avgDocLen)
	for _, term := range queryTokens {
		tf := doc.terms[term]
		if tf == 0 {
			continue
		}
		df := s.docFreq[term]
		idf := math.Log(1 + (float64(s.docCount)-float64(df)+0.5)/(float64(df)+0.5))
		score += idf * float64(tf) * (bm25K1 + 1) / (float64(tf) + norm)
	}
	return score
}
