package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reasonbank/embeddings"
	"github.com/fyrsmithlabs/reasonbank/internal/filelock"
)

// Bank is a concurrency-safe, file-backed store of memory items.
//
// A single Bank instance may be long-lived inside one process; every public
// operation acquires the advisory lock, works, and releases, so independent
// processes pointing at the same files coordinate through the filesystem
// alone.
type Bank struct {
	storagePath   string
	embeddingPath string
	lock          *filelock.Lock
	embedder      embeddings.Provider
	logger        *zap.Logger

	mu    sync.Mutex
	items []Item
}

// Option configures a Bank.
type Option func(*Bank)

// WithEmbedder sets the embedding provider. Without one, items are stored
// vectorless and the embedding retrieval strategy returns no results.
func WithEmbedder(p embeddings.Provider) Option {
	return func(b *Bank) { b.embedder = p }
}

// WithLogger sets the logger. Defaults to a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bank) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithEmbeddingPath overrides the embedding file path. The default derives
// from the storage path: bank.json pairs with bank_embeddings.json.
func WithEmbeddingPath(path string) Option {
	return func(b *Bank) { b.embeddingPath = path }
}

// New creates a bank backed by the given content file path and performs an
// initial load, migrating legacy record shapes if needed. The containing
// directory is created when missing.
func New(storagePath string, opts ...Option) (*Bank, error) {
	if storagePath == "" {
		return nil, ErrEmptyStoragePath
	}

	b := &Bank{
		storagePath: storagePath,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.embeddingPath == "" {
		b.embeddingPath = defaultEmbeddingPath(storagePath)
	}

	if dir := filepath.Dir(storagePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	b.lock = filelock.New(storagePath + ".lock")

	if err := b.Load(context.Background()); err != nil {
		return nil, err
	}
	return b, nil
}

func defaultEmbeddingPath(storagePath string) string {
	ext := filepath.Ext(storagePath)
	return strings.TrimSuffix(storagePath, ext) + "_embeddings" + ext
}

// StoragePath returns the content file path.
func (b *Bank) StoragePath() string { return b.storagePath }

// EmbeddingPath returns the embedding file path.
func (b *Bank) EmbeddingPath() string { return b.embeddingPath }

// Len returns the number of items currently loaded.
func (b *Bank) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Items returns a copy of the currently loaded items.
func (b *Bank) Items() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := make([]Item, len(b.items))
	copy(items, b.items)
	return items
}

// Load re-reads both resource files under a shared lock and replaces the
// in-memory state. A missing content file is an empty store; a malformed one
// degrades to empty with a warning rather than failing the caller. Records
// needing migration (missing ids, inline embeddings, renamed fields) are
// normalized and persisted immediately.
func (b *Bank) Load(ctx context.Context) error {
	var contentRaw, embedRaw []byte
	err := b.lock.Shared(func() error {
		contentRaw = readFileIfExists(b.storagePath)
		embedRaw = readFileIfExists(b.embeddingPath)
		return nil
	})
	if err != nil {
		return fmt.Errorf("acquiring shared lock: %w", err)
	}

	items, migrated := b.decode(contentRaw, embedRaw)

	b.mu.Lock()
	b.items = items
	b.mu.Unlock()

	if migrated {
		if err := b.Save(ctx); err != nil {
			b.logger.Warn("persisting migrated store failed", zap.Error(err))
		} else {
			b.logger.Info("migrated legacy store records",
				zap.String("path", b.storagePath),
				zap.Int("items", len(items)))
		}
	}
	return nil
}

// decode parses both resources, normalizes record shapes, dedupes ids and
// merges embeddings into items. It reports whether anything needs
// re-persisting.
func (b *Bank) decode(contentRaw, embedRaw []byte) ([]Item, bool) {
	var records []contentRecord
	if len(contentRaw) > 0 {
		if err := json.Unmarshal(contentRaw, &records); err != nil {
			b.logger.Warn("malformed content resource, starting with empty store",
				zap.String("path", b.storagePath),
				zap.Error(err))
			records = nil
		}
	}

	vectors := make(map[string][]float32)
	if len(embedRaw) > 0 {
		if err := json.Unmarshal(embedRaw, &vectors); err != nil {
			b.logger.Warn("malformed embedding resource, dropping stored embeddings",
				zap.String("path", b.embeddingPath),
				zap.Error(err))
			vectors = make(map[string][]float32)
		}
	}

	migrated := false
	seen := make(map[string]struct{}, len(records))
	items := make([]Item, 0, len(records))
	for _, rec := range records {
		item, inline, m := rec.normalize()
		migrated = migrated || m

		if _, dup := seen[item.ID]; dup {
			item.ID = uuid.New().String()
			migrated = true
		}
		seen[item.ID] = struct{}{}

		if len(inline) > 0 {
			vectors[item.ID] = inline
		}
		if vec, ok := vectors[item.ID]; ok {
			item.Embedding = vec
		}
		items = append(items, item)
	}
	return items, migrated
}

// Save atomically overwrites both resources with the in-memory state under
// an exclusive lock. The content file never contains embeddings; the
// embedding file holds the id-to-vector map for every item that has one.
func (b *Bank) Save(ctx context.Context) error {
	items := b.Items()
	err := b.lock.Exclusive(func() error {
		return b.writeLocked(items)
	})
	if err != nil {
		return fmt.Errorf("saving store: %w", err)
	}
	b.logger.Debug("store saved",
		zap.String("path", b.storagePath),
		zap.Int("items", len(items)))
	return nil
}

// writeLocked writes both resource files. Caller must hold the exclusive
// lock.
func (b *Bank) writeLocked(items []Item) error {
	content, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding content: %w", err)
	}

	vectors := make(map[string][]float32)
	for _, it := range items {
		if len(it.Embedding) > 0 {
			vectors[it.ID] = it.Embedding
		}
	}
	embed, err := json.Marshal(vectors)
	if err != nil {
		return fmt.Errorf("encoding embeddings: %w", err)
	}

	if err := writeFileAtomic(b.storagePath, content); err != nil {
		return fmt.Errorf("writing content resource: %w", err)
	}
	if err := writeFileAtomic(b.embeddingPath, embed); err != nil {
		return fmt.Errorf("writing embedding resource: %w", err)
	}
	return nil
}

// AddItem validates, embeds and appends a single lesson as a new item. The
// embedding call happens before the critical section; the read-append-write
// cycle holds the exclusive lock end to end so concurrent appenders never
// lose each other's items. A failed embedding stores the item vectorless.
//
// stepContext is free text describing where in the trajectory the lesson came
// from; it feeds the embedding input only, not the stored item.
func (b *Bank) AddItem(ctx context.Context, sourceTask string, lesson Lesson, outcome Outcome, domain, stepContext string) (*Item, error) {
	if err := lesson.Validate(); err != nil {
		return nil, err
	}

	var embedding []float32
	if b.embedder != nil {
		vec, err := b.embedder.EmbedQuery(ctx, embeddingInput(sourceTask, domain, outcome, stepContext, lesson))
		if err != nil {
			b.logger.Warn("embedding provider failed, storing item without embedding",
				zap.String("title", lesson.Title),
				zap.Error(err))
		} else {
			embedding = vec
		}
	}

	item := Item{
		ID:          uuid.New().String(),
		SourceTask:  sourceTask,
		Domain:      domain,
		Title:       lesson.Title,
		Description: lesson.Description,
		Content:     lesson.Content,
		Score:       outcome.Score(),
		Timestamp:   Timestamp(time.Now()),
		Embedding:   embedding,
	}

	var merged []Item
	err := b.lock.Exclusive(func() error {
		contentRaw := readFileIfExists(b.storagePath)
		embedRaw := readFileIfExists(b.embeddingPath)
		items, _ := b.decode(contentRaw, embedRaw)
		merged = append(items, item)
		return b.writeLocked(merged)
	})
	if err != nil {
		return nil, fmt.Errorf("appending item: %w", err)
	}

	b.mu.Lock()
	b.items = merged
	b.mu.Unlock()

	b.logger.Info("memory item added",
		zap.String("id", item.ID),
		zap.String("title", lesson.Title),
		zap.String("domain", domain),
		zap.Float64("score", item.Score))
	return &item, nil
}

// embeddingInput builds the text an item is embedded from: task provenance
// plus the lesson's title and description. Content is excluded to keep the
// vector text short.
func embeddingInput(task, domain string, outcome Outcome, stepContext string, l Lesson) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", task)
	if domain != "" {
		fmt.Fprintf(&sb, "Domain: %s\n", domain)
	}
	if outcome != "" {
		fmt.Fprintf(&sb, "Type: %s\n", outcome)
	}
	if stepContext != "" {
		fmt.Fprintf(&sb, "Context: %s\n", stepContext)
	}
	fmt.Fprintf(&sb, "\nStrategy: %s\n%s", l.Title, l.Description)
	return sb.String()
}

func readFileIfExists(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers never observe a half-written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
