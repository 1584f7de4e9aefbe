package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reasonbank/rank"
	"github.com/fyrsmithlabs/reasonbank/textnorm"
)

// Strategy selects the ranking algorithm used by Retrieve.
type Strategy string

const (
	// StrategyEmbedding ranks by cosine similarity of dense vectors.
	StrategyEmbedding Strategy = "embedding"

	// StrategyLexical ranks by BM25 over stemmed tokens.
	StrategyLexical Strategy = "lexical"
)

// DefaultTopK bounds retrieval when the caller passes a non-positive limit.
const DefaultTopK = 3

// Retrieve returns up to topK lessons ranked by relevance to the query task.
// The store is re-read from disk first, so concurrent writers' items are
// always visible. An unrecognized strategy falls back to embedding ranking
// with a warning; topK values of zero or below fall back to DefaultTopK.
//
// Retrieval never fails the caller: an unembeddable query or an empty store
// yields an empty slice.
func (b *Bank) Retrieve(ctx context.Context, query string, topK int, strategy Strategy, domain string) ([]Lesson, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	if err := b.Load(ctx); err != nil {
		return nil, fmt.Errorf("reloading store: %w", err)
	}

	candidates := b.Items()
	if len(candidates) == 0 {
		return []Lesson{}, nil
	}
	candidates = b.filterDomain(candidates, domain)

	var scores []float64
	switch strategy {
	case StrategyLexical:
		scores = b.scoreLexical(query, candidates)
	case StrategyEmbedding:
		candidates, scores = b.scoreEmbedding(ctx, query, candidates)
	default:
		b.logger.Warn("unknown retrieval strategy, using embedding",
			zap.String("strategy", string(strategy)))
		candidates, scores = b.scoreEmbedding(ctx, query, candidates)
	}

	if len(candidates) == 0 {
		return []Lesson{}, nil
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	ranked := make([]Item, 0, len(order))
	for _, idx := range order {
		ranked = append(ranked, candidates[idx])
	}

	lessons := project(ranked, topK)
	b.logger.Debug("retrieval complete",
		zap.String("strategy", string(strategy)),
		zap.String("domain", domain),
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(lessons)))
	return lessons, nil
}

// filterDomain narrows candidates to the given domain. If the filter would
// leave nothing, the full set is returned instead; stale or misspelled domain
// tags should degrade retrieval quality, not empty it.
func (b *Bank) filterDomain(items []Item, domain string) []Item {
	if domain == "" {
		return items
	}
	filtered := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Domain == domain {
			filtered = append(filtered, it)
		}
	}
	if len(filtered) == 0 {
		b.logger.Debug("domain filter matched nothing, using all items",
			zap.String("domain", domain))
		return items
	}
	return filtered
}

// scoreEmbedding ranks candidates by cosine similarity to the embedded query.
// Candidates missing a vector are backfilled from their source task first;
// any that still lack one are excluded from scoring rather than pinned to
// zero. It returns the possibly narrowed candidate set alongside the scores.
func (b *Bank) scoreEmbedding(ctx context.Context, query string, candidates []Item) ([]Item, []float64) {
	if b.embedder == nil {
		b.logger.Warn("no embedding provider configured, embedding retrieval returns nothing")
		return nil, nil
	}

	queryVec, err := b.embedder.EmbedQuery(ctx, query)
	if err != nil {
		b.logger.Warn("embedding query failed", zap.Error(err))
		return nil, nil
	}

	candidates = b.backfillEmbeddings(ctx, candidates)

	scored := make([]Item, 0, len(candidates))
	scores := make([]float64, 0, len(candidates))
	for _, it := range candidates {
		if len(it.Embedding) == 0 {
			continue
		}
		scored = append(scored, it)
		scores = append(scores, rank.Cosine(queryVec, it.Embedding))
	}
	return scored, scores
}

// backfillEmbeddings computes missing vectors from each item's source task
// and persists them all in a single embedding-file write. Items whose
// embedding call fails stay vectorless.
func (b *Bank) backfillEmbeddings(ctx context.Context, candidates []Item) []Item {
	var missing []int
	for i, it := range candidates {
		if len(it.Embedding) == 0 && it.SourceTask != "" {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return candidates
	}

	texts := make([]string, len(missing))
	for i, idx := range missing {
		texts[i] = candidates[idx].SourceTask
	}

	vectors, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil || len(vectors) != len(missing) {
		b.logger.Warn("embedding backfill failed",
			zap.Int("items", len(missing)),
			zap.Error(err))
		return candidates
	}

	fresh := make(map[string][]float32, len(missing))
	for i, idx := range missing {
		candidates[idx].Embedding = vectors[i]
		fresh[candidates[idx].ID] = vectors[i]
	}

	if err := b.persistEmbeddings(fresh); err != nil {
		b.logger.Warn("persisting backfilled embeddings failed", zap.Error(err))
	} else {
		b.logger.Info("backfilled missing embeddings", zap.Int("items", len(missing)))
	}
	return candidates
}

// persistEmbeddings merges new vectors into the embedding file under the
// exclusive lock. Only the embedding resource is touched; concurrent content
// appends are unaffected.
func (b *Bank) persistEmbeddings(fresh map[string][]float32) error {
	return b.lock.Exclusive(func() error {
		vectors := make(map[string][]float32)
		if raw := readFileIfExists(b.embeddingPath); len(raw) > 0 {
			if err := json.Unmarshal(raw, &vectors); err != nil {
				vectors = make(map[string][]float32)
			}
		}
		for id, vec := range fresh {
			vectors[id] = vec
		}
		data, err := json.Marshal(vectors)
		if err != nil {
			return fmt.Errorf("encoding embeddings: %w", err)
		}
		return writeFileAtomic(b.embeddingPath, data)
	})
}

// scoreLexical ranks every candidate with BM25 over stemmed tokens of the
// concatenated lesson text. Items sharing no terms with the query score zero
// but stay in the ranking.
func (b *Bank) scoreLexical(query string, candidates []Item) []float64 {
	corpus := make([][]string, len(candidates))
	for i, it := range candidates {
		corpus[i] = textnorm.Tokenize(it.Title + " " + it.Description + " " + it.Content)
	}
	bm := rank.NewBM25(corpus)
	return bm.Scores(textnorm.Tokenize(query))
}

// project flattens ranked items into at most topK lessons. Flat fields take
// precedence; only records without them fall back to their nested legacy
// lessons, which contribute each in order. The bound is on lessons returned,
// not items consumed.
func project(ranked []Item, topK int) []Lesson {
	lessons := make([]Lesson, 0, topK)
	for _, it := range ranked {
		switch {
		case it.Title != "" || it.Description != "" || it.Content != "":
			lessons = append(lessons, it.Lesson())
		case len(it.LegacyItems) > 0:
			lessons = append(lessons, it.LegacyItems...)
		default:
			lessons = append(lessons, it.Lesson())
		}
		if len(lessons) >= topK {
			break
		}
	}
	if len(lessons) > topK {
		lessons = lessons[:topK]
	}
	return lessons
}

// FormatForPrompt renders retrieved lessons as a prompt section. An empty
// slice renders to an empty string so callers can append unconditionally.
func FormatForPrompt(lessons []Lesson) string {
	if len(lessons) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\n### Relevant Experience from Past Tasks:\n")
	for i, l := range lessons {
		fmt.Fprintf(&sb, "Memory %d:\n- Title: %s\n- Description: %s\n- Content: %s\n",
			i+1, l.Title, l.Description, l.Content)
	}
	return sb.String()
}
