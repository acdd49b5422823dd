package models

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Instant is a timestamp as received from a caller: either a native time or
// an ISO-8601 string that has not been parsed yet.
type Instant struct {
	Time time.Time
	Raw  string
}

// At wraps a native time.
func At(t time.Time) Instant {
	return Instant{Time: t}
}

// IsZero reports whether neither a time nor a raw string is present.
func (i Instant) IsZero() bool {
	return i.Time.IsZero() && strings.TrimSpace(i.Raw) == ""
}

// Resolve returns the instant as a time.Time. The second result is false
// when the instant is absent or the raw string cannot be parsed.
func (i Instant) Resolve() (time.Time, bool) {
	if !i.Time.IsZero() {
		return i.Time, true
	}
	if strings.TrimSpace(i.Raw) == "" {
		return time.Time{}, false
	}
	return ParseTimestamp(i.Raw)
}

func (i Instant) MarshalJSON() ([]byte, error) {
	if t, ok := i.Resolve(); ok {
		return json.Marshal(t.Format(time.RFC3339Nano))
	}
	if i.Raw != "" {
		return json.Marshal(i.Raw)
	}
	return []byte("null"), nil
}

func (i *Instant) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*i = Instant{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = Instant{Raw: raw}
	return nil
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 string. A trailing "Z" is read as a
// +00:00 offset; strings without an offset are returned in UTC with their
// wall-clock fields unchanged.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type Location struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type ActivityRecord struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	EnergyLevel string   `json:"energy_level"`
	Location    Location `json:"location"`
	Timestamp   Instant  `json:"timestamp"`
}

type TaskRecord struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	TaskType    string  `json:"task_type"`
	Difficulty  string  `json:"difficulty"`
	Priority    string  `json:"priority"`
	Completed   bool    `json:"completed"`
	CreatedAt   Instant `json:"created_at"`
	Timestamp   Instant `json:"timestamp"`
}

// ResolveTime returns CreatedAt, falling back to Timestamp.
func (t TaskRecord) ResolveTime() (time.Time, bool) {
	if ts, ok := t.CreatedAt.Resolve(); ok {
		return ts, true
	}
	return t.Timestamp.Resolve()
}

type TrainingRun struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	ModelVersion int       `json:"model_version"`
	Samples      int       `json:"samples"`
	RMSE         float64   `json:"rmse"`
	MAE          float64   `json:"mae"`
	R2           float64   `json:"r2"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}
