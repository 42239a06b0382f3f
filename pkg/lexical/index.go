// Package lexical provides an in-process TF-IDF inverted index kept in
// step with the vector index. It serves as the fallback path when
// vector search is unavailable and as the second signal in hybrid
// scoring.
package lexical

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// Record is a single indexed chunk.
type Record struct {
	ID      string
	Text    string
	Payload map[string]any
}

// Result is one lexical match. Scores are cosine between query and
// document TF-IDF vectors, bounded to [0,1].
type Result struct {
	ID      string
	Score   float64
	Payload map[string]any
}

type entry struct {
	terms   map[string]int
	payload map[string]any
}

// Index is a TF-IDF index over lowercased, bigram-augmented terms.
//
// Mutations mark the index stale; the next search rebuilds the IDF
// statistics and document weights synchronously under the write lock,
// so a burst of writes amortises into a single rebuild.
type Index struct {
	mu      sync.RWMutex
	docs    map[string]*entry
	weights map[string]map[string]float64
	idf     map[string]float64
	stale   bool
}

// New creates an empty index.
func New() *Index {
	return &Index{
		docs:    make(map[string]*entry),
		weights: make(map[string]map[string]float64),
		idf:     make(map[string]float64),
	}
}

// Upsert adds or replaces records by id.
func (ix *Index) Upsert(records []Record) {
	if len(records) == 0 {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, r := range records {
		ix.docs[r.ID] = &entry{
			terms:   termCounts(r.Text),
			payload: r.Payload,
		}
	}
	ix.stale = true
}

// Remove deletes records by id. Absent ids are ignored.
func (ix *Index) Remove(ids []string) {
	if len(ids) == 0 {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	changed := false
	for _, id := range ids {
		if _, ok := ix.docs[id]; ok {
			delete(ix.docs, id)
			changed = true
		}
	}
	if changed {
		ix.stale = true
	}
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Search returns up to k documents scored by TF-IDF cosine, descending.
// Zero-score documents are excluded.
func (ix *Index) Search(query string, k int) []Result {
	if k <= 0 || strings.TrimSpace(query) == "" {
		return []Result{}
	}

	ix.mu.RLock()
	if ix.stale {
		ix.mu.RUnlock()
		ix.mu.Lock()
		if ix.stale {
			ix.rebuildLocked()
		}
		ix.mu.Unlock()
		ix.mu.RLock()
	}
	defer ix.mu.RUnlock()

	queryWeights := ix.queryVectorLocked(query)
	if len(queryWeights) == 0 {
		return []Result{}
	}

	results := make([]Result, 0)
	for id, docWeights := range ix.weights {
		var score float64
		for term, qw := range queryWeights {
			if dw, ok := docWeights[term]; ok {
				score += qw * dw
			}
		}
		if score > 0 {
			results = append(results, Result{
				ID:      id,
				Score:   score,
				Payload: ix.docs[id].payload,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// rebuildLocked recomputes IDF statistics and per-document normalised
// weights. O(corpus size); caller holds the write lock.
func (ix *Index) rebuildLocked() {
	n := len(ix.docs)
	df := make(map[string]int)
	for _, doc := range ix.docs {
		for term := range doc.terms {
			df[term]++
		}
	}

	ix.idf = make(map[string]float64, len(df))
	for term, count := range df {
		// Smoothed IDF; stays positive for terms present in every document.
		ix.idf[term] = math.Log(float64(1+n)/float64(1+count)) + 1
	}

	ix.weights = make(map[string]map[string]float64, n)
	for id, doc := range ix.docs {
		weights := make(map[string]float64, len(doc.terms))
		var norm float64
		for term, tf := range doc.terms {
			w := float64(tf) * ix.idf[term]
			weights[term] = w
			norm += w * w
		}
		if norm > 0 {
			inv := 1 / math.Sqrt(norm)
			for term := range weights {
				weights[term] *= inv
			}
		}
		ix.weights[id] = weights
	}

	ix.stale = false
}

// queryVectorLocked builds the normalised query vector using corpus IDF.
// Terms absent from the corpus are dropped; they cannot match anything.
func (ix *Index) queryVectorLocked(query string) map[string]float64 {
	weights := make(map[string]float64)
	var norm float64
	for term, tf := range termCounts(query) {
		idf, ok := ix.idf[term]
		if !ok {
			continue
		}
		w := float64(tf) * idf
		weights[term] = w
		norm += w * w
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for term := range weights {
			weights[term] *= inv
		}
	}
	return weights
}

// termCounts tokenizes text into lowercased unigrams plus adjacent-pair
// bigrams and counts term frequencies.
func termCounts(text string) map[string]int {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if f != "" {
			tokens = append(tokens, f)
		}
	}

	counts := make(map[string]int, len(tokens)*2)
	for i, tok := range tokens {
		counts[tok]++
		if i+1 < len(tokens) {
			counts[tok+" "+tokens[i+1]]++
		}
	}
	return counts
}
