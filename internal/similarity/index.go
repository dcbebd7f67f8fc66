// Package similarity finds near-duplicate questions with a TF-IDF vector
// space built per lookup over the prior questions and the candidate.
package similarity

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// DefaultThreshold is the cosine score a prior question must exceed.
const DefaultThreshold = 0.85

// ErrDegenerate is returned when no usable vector space can be built, for
// example when the candidate has no tokens.
var ErrDegenerate = eris.New("similarity: degenerate vector space")

// Match is the best scoring prior question.
type Match struct {
	Index int
	Score float64
}

// Index compares a candidate question against prior questions.
// It holds no state between lookups and is safe for concurrent use.
type Index struct {
	threshold float64
}

// NewIndex returns an Index matching scores strictly above threshold.
// A non-positive threshold selects DefaultThreshold.
func NewIndex(threshold float64) *Index {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Index{threshold: threshold}
}

// Threshold returns the configured match threshold.
func (ix *Index) Threshold() float64 { return ix.threshold }

// FindNearDuplicate returns the prior with the highest cosine similarity to
// candidate when that score exceeds the threshold. The first prior wins ties.
// An empty prior list is never an error.
func (ix *Index) FindNearDuplicate(candidate string, priors []string) (Match, bool, error) {
	if len(priors) == 0 {
		return Match{}, false, nil
	}

	scores, err := Scores(candidate, priors)
	if err != nil {
		return Match{}, false, err
	}

	best := Match{Index: -1, Score: math.Inf(-1)}
	for i, s := range scores {
		if s > best.Score {
			best = Match{Index: i, Score: s}
		}
	}
	if best.Score > ix.threshold {
		return best, true, nil
	}
	return best, false, nil
}

// Scores returns the cosine similarity of candidate to each prior, using a
// smoothed-IDF TF-IDF space fitted on priors plus candidate.
func Scores(candidate string, priors []string) ([]float64, error) {
	docs := make([][]string, 0, len(priors)+1)
	for _, p := range priors {
		docs = append(docs, tokenize(p))
	}
	candTokens := tokenize(candidate)
	if len(candTokens) == 0 {
		return nil, eris.Wrap(ErrDegenerate, "candidate has no terms")
	}
	docs = append(docs, candTokens)

	vocab, idf := fit(docs)
	if len(vocab) == 0 {
		return nil, eris.Wrap(ErrDegenerate, "empty vocabulary")
	}

	cand := vectorize(candTokens, vocab, idf)
	scores := make([]float64, len(priors))
	for i := range priors {
		scores[i] = dot(cand, vectorize(docs[i], vocab, idf))
	}
	return scores, nil
}

// fit builds a stable vocabulary and IDF weights ln((1+N)/(1+df))+1.
func fit(docs [][]string) (map[string]int, []float64) {
	df := make(map[string]int)
	for _, tokens := range docs {
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	vocab := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	n := float64(len(docs))
	for i, term := range terms {
		vocab[term] = i
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	return vocab, idf
}

// vectorize returns an L2 normalised sparse TF-IDF vector.
func vectorize(tokens []string, vocab map[string]int, idf []float64) map[int]float64 {
	vec := make(map[int]float64, len(tokens))
	for _, tok := range tokens {
		if idx, ok := vocab[tok]; ok {
			vec[idx] += idf[idx]
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for idx := range vec {
		vec[idx] /= norm
	}
	return vec
}

func dot(a, b map[int]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var sum float64
	for idx, v := range a {
		sum += v * b[idx]
	}
	return sum
}
