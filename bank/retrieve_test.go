package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reasonbank/embeddings/mock"
)

// failingEmbedder errors on every call.
type failingEmbedder struct{}

func (failingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("provider down")
}

func (failingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("provider down")
}

func seedBank(t *testing.T, b *Bank) {
	t.Helper()
	ctx := context.Background()
	seeds := []struct {
		task   string
		domain string
		lesson Lesson
	}{
		{"buy wireless headphones under 50 dollars", "shopping", Lesson{
			Title:       "filter by price before browsing",
			Description: "apply the price filter so cheap products surface first",
			Content:     "open the price facet, set the maximum, then sort ascending",
		}},
		{"find the cheapest laptop on the site", "shopping", Lesson{
			Title:       "sort listings by price",
			Description: "price sorting beats scanning pages manually",
			Content:     "use the sort dropdown and pick price low to high",
		}},
		{"reply to the top comment in a forum thread", "reddit", Lesson{
			Title:       "expand collapsed comments first",
			Description: "collapsed threads hide the reply button",
			Content:     "click the expand toggle before looking for reply controls",
		}},
	}
	for _, s := range seeds {
		_, err := b.AddItem(ctx, s.task, s.lesson, OutcomeSuccess, s.domain, "")
		require.NoError(t, err)
	}
}

func TestRetrieveEmptyStore(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "bank.json"), WithEmbedder(mock.New()))
	require.NoError(t, err)

	lessons, err := b.Retrieve(context.Background(), "anything", 3, StrategyEmbedding, "")
	require.NoError(t, err)
	assert.Empty(t, lessons)
}

func TestRetrieveLexical(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "bank.json"))
	require.NoError(t, err)
	seedBank(t, b)

	lessons, err := b.Retrieve(context.Background(), "reply to a comment in the thread", 1, StrategyLexical, "")
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, "expand collapsed comments first", lessons[0].Title)
}

func TestRetrieveLexicalScenario(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "bank.json"))
	require.NoError(t, err)

	ctx := context.Background()
	shopping := Lesson{
		Title:       "Use exact price filter",
		Description: "apply the price filter instead of scanning pages",
		Content:     "open the filters panel and set the price bounds",
	}
	reddit := Lesson{
		Title:       "Always confirm subreddit exists first",
		Description: "search for the subreddit before posting",
		Content:     "use the search bar and check the community page loads",
	}
	_, err = b.AddItem(ctx, "buy a budget keyboard", shopping, OutcomeSuccess, "shopping", "")
	require.NoError(t, err)
	_, err = b.AddItem(ctx, "post in a programming community", reddit, OutcomeSuccess, "reddit", "")
	require.NoError(t, err)

	lessons, err := b.Retrieve(ctx, "how do I filter by price", 1, StrategyLexical, "shopping")
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, shopping, lessons[0])
}

func TestRetrieveLexicalIncludesZeroScores(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "bank.json"))
	require.NoError(t, err)
	seedBank(t, b)

	// Nothing in the corpus matches, yet all items still rank.
	lessons, err := b.Retrieve(context.Background(), "zzz qqq xyzzy", 10, StrategyLexical, "")
	require.NoError(t, err)
	assert.Len(t, lessons, 3)
}

func TestRetrieveEmbedding(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "bank.json"), WithEmbedder(mock.New()))
	require.NoError(t, err)
	seedBank(t, b)

	lessons, err := b.Retrieve(context.Background(), "some shopping task", 2, StrategyEmbedding, "")
	require.NoError(t, err)
	assert.Len(t, lessons, 2)
}

func TestRetrieveDomainFilter(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "bank.json"))
	require.NoError(t, err)
	seedBank(t, b)

	lessons, err := b.Retrieve(context.Background(), "price comparison", 10, StrategyLexical, "shopping")
	require.NoError(t, err)
	require.Len(t, lessons, 2)
	for _, l := range lessons {
		assert.NotEqual(t, "expand collapsed comments first", l.Title)
	}
}

func TestRetrieveDomainFallback(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "bank.json"))
	require.NoError(t, err)
	seedBank(t, b)

	// No item carries this domain; the filter must not empty the result.
	lessons, err := b.Retrieve(context.Background(), "price comparison", 10, StrategyLexical, "maps")
	require.NoError(t, err)
	assert.Len(t, lessons, 3)
}

func TestRetrieveDefaultTopK(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "bank.json"))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := b.AddItem(ctx, fmt.Sprintf("task %d", i), testLesson(i), OutcomeSuccess, "", "")
		require.NoError(t, err)
	}

	lessons, err := b.Retrieve(ctx, "task", 0, StrategyLexical, "")
	require.NoError(t, err)
	assert.Len(t, lessons, DefaultTopK)

	lessons, err = b.Retrieve(ctx, "task", -5, StrategyLexical, "")
	require.NoError(t, err)
	assert.Len(t, lessons, DefaultTopK)
}

func TestRetrieveUnknownStrategyFallsBack(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "bank.json"), WithEmbedder(mock.New()))
	require.NoError(t, err)
	seedBank(t, b)

	lessons, err := b.Retrieve(context.Background(), "shopping", 2, Strategy("cosine-ish"), "")
	require.NoError(t, err)
	assert.Len(t, lessons, 2)
}

func TestRetrieveEmbeddingQueryFailure(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "bank.json"), WithEmbedder(failingEmbedder{}))
	require.NoError(t, err)

	// Seed through a separate instance so items exist despite the failing
	// provider (they are stored vectorless).
	b2, err := New(b.StoragePath())
	require.NoError(t, err)
	seedBank(t, b2)

	lessons, err := b.Retrieve(context.Background(), "anything", 3, StrategyEmbedding, "")
	require.NoError(t, err)
	assert.Empty(t, lessons)
}

func TestRetrieveBackfillsMissingEmbeddings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bank.json")

	// Items written without a provider have no vectors on disk.
	vectorless, err := New(path)
	require.NoError(t, err)
	seedBank(t, vectorless)

	embedRaw, err := os.ReadFile(vectorless.EmbeddingPath())
	require.NoError(t, err)
	var vectors map[string][]float32
	require.NoError(t, json.Unmarshal(embedRaw, &vectors))
	require.Empty(t, vectors)

	b, err := New(path, WithEmbedder(mock.New()))
	require.NoError(t, err)

	lessons, err := b.Retrieve(context.Background(), "cheap laptop", 3, StrategyEmbedding, "")
	require.NoError(t, err)
	assert.Len(t, lessons, 3)

	// The backfill persisted every vector in one pass.
	embedRaw, err = os.ReadFile(b.EmbeddingPath())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(embedRaw, &vectors))
	assert.Len(t, vectors, 3)
}

func TestRetrieveSkipsUnembeddableItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.json")

	// An item without a source task can never be backfilled.
	stranded := `[
	  {"id": "stranded", "title": "orphan", "description": "no provenance", "content": "cannot embed", "score": 1.0, "timestamp": ""}
	]`
	require.NoError(t, os.WriteFile(path, []byte(stranded), 0o644))

	b, err := New(path, WithEmbedder(mock.New()))
	require.NoError(t, err)

	lessons, err := b.Retrieve(context.Background(), "anything", 3, StrategyEmbedding, "")
	require.NoError(t, err)
	assert.Empty(t, lessons, "vectorless items are excluded, not zero-scored")
}

func TestProjectFlattensLegacyItems(t *testing.T) {
	ranked := []Item{
		{LegacyItems: []Lesson{
			{Title: "a", Description: "da", Content: "ca"},
			{Title: "b", Description: "db", Content: "cb"},
		}},
		{Title: "c", Description: "dc", Content: "cc"},
	}

	lessons := project(ranked, 3)
	require.Len(t, lessons, 3)
	assert.Equal(t, "a", lessons[0].Title)
	assert.Equal(t, "b", lessons[1].Title)
	assert.Equal(t, "c", lessons[2].Title)

	// The bound applies to lessons, trimming mid-item when needed.
	lessons = project(ranked, 1)
	require.Len(t, lessons, 1)
	assert.Equal(t, "a", lessons[0].Title)
}

func TestProjectPrefersFlatFields(t *testing.T) {
	// A record carrying both flat fields and nested lessons projects the
	// flat fields; the nested ones are the stale pre-migration shape.
	ranked := []Item{
		{
			Title:       "flat",
			Description: "df",
			Content:     "cf",
			LegacyItems: []Lesson{{Title: "nested", Description: "dn", Content: "cn"}},
		},
	}

	lessons := project(ranked, 3)
	require.Len(t, lessons, 1)
	assert.Equal(t, "flat", lessons[0].Title)
}

func TestFormatForPrompt(t *testing.T) {
	assert.Equal(t, "", FormatForPrompt(nil))
	assert.Equal(t, "", FormatForPrompt([]Lesson{}))

	out := FormatForPrompt([]Lesson{
		{Title: "t1", Description: "d1", Content: "c1"},
		{Title: "t2", Description: "d2", Content: "c2"},
	})
	assert.Contains(t, out, "### Relevant Experience from Past Tasks:")
	assert.Contains(t, out, "Memory 1:\n- Title: t1\n- Description: d1\n- Content: c1\n")
	assert.Contains(t, out, "Memory 2:")
}
