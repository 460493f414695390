package signature

import (
	"math"
	"sort"
)

// stopWords filters determiners and other low-information tokens out
// of TF-IDF keyword extraction.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "it": true, "its": true,
	"this": true, "that": true, "with": true, "as": true, "by": true, "at": true,
	"from": true, "but": true, "not": true, "do": true, "does": true, "did": true,
}

// Corpus tracks document frequency across a store's token space so
// Keywords can score terms by TF-IDF instead of raw frequency. It is
// safe to share across calls but not safe for concurrent mutation.
type Corpus struct {
	docFreq map[string]int
	docs    int
}

// NewCorpus returns an empty corpus. Add every digested segment's
// tokens once via Observe to build the document-frequency table the
// keyword-mode pre-filter scores against.
func NewCorpus() *Corpus {
	return &Corpus{docFreq: make(map[string]int)}
}

// Observe folds one document's tokens into the corpus's document
// frequency table. Call once per retrievable unit (segment, fragment).
func (c *Corpus) Observe(tokens []string) {
	c.docs++
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		c.docFreq[t]++
	}
}

// Keywords scores text's tokens by TF-IDF against the corpus (or by
// raw term frequency if the corpus has not observed any documents yet)
// and returns the top n keywords, used as the keyword-mode pre-filter
// before word-splitting and as retry input for empty FTS hits.
func (c *Corpus) Keywords(text string, n int) []string {
	tokens := Tokenize(text)
	tf := make(map[string]int)
	for _, t := range tokens {
		if len(t) <= 2 || stopWords[t] {
			continue
		}
		tf[t]++
	}

	type scored struct {
		term  string
		score float64
	}
	scores := make([]scored, 0, len(tf))
	for term, freq := range tf {
		idf := 1.0
		if c.docs > 0 {
			df := c.docFreq[term]
			idf = math.Log(float64(c.docs+1)/float64(df+1)) + 1
		}
		scores = append(scores, scored{term, float64(freq) * idf})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].term < scores[j].term
	})

	if n > len(scores) {
		n = len(scores)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = scores[i].term
	}
	return out
}
