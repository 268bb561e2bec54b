// Package retrieval implements the query-time path: FTS search, composite
// reranking, graph-neighbor stitching, and the freshness-gated facade that
// picks between the RAG path and a local grep fallback.
package retrieval

import (
	"regexp"
	"sort"
	"strings"

	"github.com/llmc-dev/codeindex/internal/config"
)

var tokenRe = regexp.MustCompile(`[a-zA-Z0-9]+`)

func tokenize(s string) []string {
	return tokenRe.FindAllString(strings.ToLower(s), -1)
}

func bigrams(tokens []string) []string {
	if len(tokens) < 2 {
		return nil
	}
	out := make([]string, 0, len(tokens)-1)
	for i := 0; i < len(tokens)-1; i++ {
		out = append(out, tokens[i]+"_"+tokens[i+1])
	}
	return out
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// jaccard computes |a ∩ b| / |a ∪ b| over two token sets. Two empty sets are
// defined as similarity 0 (no signal either way, not a perfect match).
func jaccard(a, b []string) float64 {
	as, bs := toSet(a), toSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	inter := 0
	for t := range as {
		if _, ok := bs[t]; ok {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// pathTokens splits a file path into its meaningful components, ignoring
// separators and common code-name delimiters.
func pathTokens(path string) []string {
	fields := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '.' || r == '_' || r == '-'
	})
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

// normalizeBM25 maps a raw (lower-is-better) BM25 score onto (0, 1] where
// higher is better, matching rerank.py's `1 / (1 + max(raw, 0))`.
func normalizeBM25(raw float64) float64 {
	if raw < 0 {
		raw = 0
	}
	return 1 / (1 + raw)
}

// Hit is one FTS candidate entered into the reranker.
type Hit struct {
	Path      string
	Text      string
	StartLine int
	EndLine   int
	RawBM25   float64
}

// Scored is a Hit plus its composite rerank score.
type Scored struct {
	Hit
	Score float64
}

// Rerank computes the composite score for every hit against query and
// returns them sorted descending, truncated to limit.
func Rerank(query string, hits []Hit, weights config.RerankWeights, limit int) []Scored {
	queryTokens := tokenize(query)
	queryBigrams := bigrams(queryTokens)
	queryLower := strings.ToLower(query)

	scored := make([]Scored, 0, len(hits))
	for _, h := range hits {
		textTokens := tokenize(h.Text)
		textBigrams := bigrams(textTokens)

		bm25 := normalizeBM25(h.RawBM25)
		uni := jaccard(queryTokens, textTokens)
		bi := jaccard(queryBigrams, textBigrams)
		pathSim := jaccard(queryTokens, pathTokens(h.Path))

		literal := 0.0
		if queryLower != "" && strings.Contains(strings.ToLower(h.Text), queryLower) {
			literal = 1.0
		}

		score := weights.BM25*bm25 + weights.Unigram*uni + weights.Bigram*bi +
			weights.Path*pathSim + weights.Literal*literal

		scored = append(scored, Scored{Hit: h, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
