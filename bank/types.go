package bank

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Common errors for bank operations.
var (
	ErrEmptyStoragePath = errors.New("storage path cannot be empty")
	ErrEmptyTitle       = errors.New("lesson title cannot be empty")
	ErrEmptyDescription = errors.New("lesson description cannot be empty")
	ErrEmptyContent     = errors.New("lesson content cannot be empty")
)

// Outcome classifies the trajectory a lesson was distilled from.
type Outcome string

const (
	// OutcomeSuccess marks a lesson drawn from a successful trajectory.
	OutcomeSuccess Outcome = "SUCCESS"

	// OutcomeFailure marks a lesson drawn from a failed trajectory.
	OutcomeFailure Outcome = "FAILURE"
)

// Score maps the outcome to its stored scalar weight: 1.0 for success,
// 0.0 for anything else. The weight is persisted but not consulted during
// ranking; successful and failure-derived lessons retrieve identically.
func (o Outcome) Score() float64 {
	if strings.EqualFold(string(o), string(OutcomeSuccess)) {
		return 1.0
	}
	return 0.0
}

// Lesson is the three-field distilled payload of a memory item. All three
// fields must be present for a lesson to enter the bank; it is also the
// exact shape retrieval returns to callers.
type Lesson struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// Validate checks that every required field is present.
func (l Lesson) Validate() error {
	if l.Title == "" {
		return ErrEmptyTitle
	}
	if l.Description == "" {
		return ErrEmptyDescription
	}
	if l.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// Timestamp is a creation time that tolerates the formats the bank has
// historically written, including zone-less ISO strings from older tooling.
// It is informational only; an unparseable value must never fail a load.
type Timestamp time.Time

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler. Unknown formats decode to the
// zero time rather than erroring.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil || raw == "" {
		*t = Timestamp{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			*t = Timestamp(parsed)
			return nil
		}
	}
	*t = Timestamp{}
	return nil
}

// Item is one stored memory item.
//
// The embedding is a derived attribute: it never appears in the content
// file, may be absent until lazily backfilled, and round-trips through the
// embedding file keyed by id.
type Item struct {
	// ID is the unique item identifier (UUID), assigned at creation and
	// never reused.
	ID string `json:"id"`

	// SourceTask is the task description that produced this item.
	SourceTask string `json:"source_task"`

	// Domain is a free-text tag used for coarse filtering; may be empty.
	Domain string `json:"domain"`

	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`

	// Score is the outcome weight: 1.0 success, 0.0 failure.
	Score float64 `json:"score"`

	// Timestamp is the creation time, informational only.
	Timestamp Timestamp `json:"timestamp"`

	// LegacyItems carries nested lessons from records written before the
	// flat layout. Projection flattens them; new items never set this.
	LegacyItems []Lesson `json:"memory_items,omitempty"`

	// Embedding is the dense vector for this item, persisted separately.
	Embedding []float32 `json:"-"`
}

// Lesson returns the item's flat lesson fields.
func (it Item) Lesson() Lesson {
	return Lesson{Title: it.Title, Description: it.Description, Content: it.Content}
}
