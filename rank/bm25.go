// Package rank provides the two ranking engines used for memory retrieval:
// BM25 lexical scoring over tokenized documents and cosine similarity over
// dense embedding vectors.
package rank

import "math"

// Default BM25 parameters. Tunable via NewBM25WithParams, but retrieval
// callers rely on these values.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// BM25 scores tokenized queries against a fixed tokenized corpus.
//
// Document-frequency statistics are computed once at construction. Documents
// are scored independently; callers break ties by original corpus order.
type BM25 struct {
	k1         float64
	b          float64
	corpusSize int
	avgDocLen  float64
	docLens    []int
	termFreqs  []map[string]int
	idf        map[string]float64
}

// NewBM25 builds an index over corpus with the default parameters.
func NewBM25(corpus [][]string) *BM25 {
	return NewBM25WithParams(corpus, DefaultK1, DefaultB)
}

// NewBM25WithParams builds an index over corpus with explicit k1 and b.
func NewBM25WithParams(corpus [][]string, k1, b float64) *BM25 {
	bm := &BM25{
		k1:         k1,
		b:          b,
		corpusSize: len(corpus),
		docLens:    make([]int, 0, len(corpus)),
		termFreqs:  make([]map[string]int, 0, len(corpus)),
		idf:        make(map[string]float64),
	}

	totalLen := 0
	df := make(map[string]int)
	for _, doc := range corpus {
		bm.docLens = append(bm.docLens, len(doc))
		totalLen += len(doc)

		freqs := make(map[string]int, len(doc))
		for _, term := range doc {
			freqs[term]++
		}
		bm.termFreqs = append(bm.termFreqs, freqs)
		for term := range freqs {
			df[term]++
		}
	}

	if bm.corpusSize > 0 {
		bm.avgDocLen = float64(totalLen) / float64(bm.corpusSize)
	}

	n := float64(bm.corpusSize)
	for term, freq := range df {
		bm.idf[term] = math.Log(1 + (n-float64(freq)+0.5)/(float64(freq)+0.5))
	}

	return bm
}

// Scores returns one score per corpus document for the tokenized query.
// Query terms absent from the corpus vocabulary contribute zero. An empty
// corpus yields an empty slice.
func (bm *BM25) Scores(query []string) []float64 {
	scores := make([]float64, bm.corpusSize)
	for _, term := range query {
		idf, ok := bm.idf[term]
		if !ok {
			continue
		}
		for i, freqs := range bm.termFreqs {
			freq := freqs[term]
			if freq == 0 {
				continue
			}
			f := float64(freq)
			numerator := idf * f * (bm.k1 + 1)
			denominator := f + bm.k1*(1-bm.b+bm.b*float64(bm.docLens[i])/bm.avgDocLen)
			scores[i] += numerator / denominator
		}
	}
	return scores
}
