package bank

import "github.com/google/uuid"

// contentRecord is the on-disk union of every record shape the bank has ever
// persisted. Legacy records may use task_query instead of source_task, nest
// their lesson under memory_item or memory_items, carry the embedding inline,
// or lack an id entirely. Normalization happens here, once, at the
// deserialization boundary; nothing past it branches on shape.
type contentRecord struct {
	ID          string    `json:"id,omitempty"`
	SourceTask  string    `json:"source_task,omitempty"`
	TaskQuery   string    `json:"task_query,omitempty"`
	Domain      string    `json:"domain,omitempty"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content,omitempty"`
	Score       float64   `json:"score"`
	Timestamp   Timestamp `json:"timestamp"`
	MemoryItem  *Lesson   `json:"memory_item,omitempty"`
	MemoryItems []Lesson  `json:"memory_items,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// normalize converts a raw record into the canonical Item. It returns the
// inline embedding, if any, so the caller can key it into the embedding map,
// and whether the record needed migration and should be re-persisted.
func (r contentRecord) normalize() (Item, []float32, bool) {
	migrated := false

	item := Item{
		ID:          r.ID,
		SourceTask:  r.SourceTask,
		Domain:      r.Domain,
		Title:       r.Title,
		Description: r.Description,
		Content:     r.Content,
		Score:       r.Score,
		Timestamp:   r.Timestamp,
		LegacyItems: r.MemoryItems,
	}

	if item.ID == "" {
		item.ID = uuid.New().String()
		migrated = true
	}
	if item.SourceTask == "" && r.TaskQuery != "" {
		item.SourceTask = r.TaskQuery
		migrated = true
	}
	if r.MemoryItem != nil {
		item.LegacyItems = append([]Lesson{*r.MemoryItem}, item.LegacyItems...)
		migrated = true
	}
	if len(r.Embedding) > 0 {
		migrated = true
	}

	return item, r.Embedding, migrated
}
