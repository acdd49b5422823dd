package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in       string
		ok       bool
		wantHour int
	}{
		{"2025-03-10T09:30:00Z", true, 9},
		{"2025-03-10T09:30:00.123456Z", true, 9},
		{"2025-03-10T22:15:00+02:00", true, 22},
		{"2025-03-10T14:00:00", true, 14},
		{"2025-03-10 07:45:00", true, 7},
		{"2025-03-10", true, 0},
		{"yesterday", false, 0},
		{"", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.wantHour, got.Hour())
			}
		})
	}
}

func TestParseTimestamp_ZIsUTC(t *testing.T) {
	got, ok := ParseTimestamp("2025-03-10T09:30:00Z")
	require.True(t, ok)
	_, offset := got.Zone()
	assert.Equal(t, 0, offset)
}

func TestInstant_Resolve(t *testing.T) {
	native := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	got, ok := At(native).Resolve()
	assert.True(t, ok)
	assert.Equal(t, native, got)

	_, ok = Instant{}.Resolve()
	assert.False(t, ok)

	_, ok = Instant{Raw: "not a time"}.Resolve()
	assert.False(t, ok)
	assert.False(t, Instant{Raw: "not a time"}.IsZero())
}

func TestInstant_JSON(t *testing.T) {
	var rec ActivityRecord
	require.NoError(t, json.Unmarshal([]byte(`{"user_id":"u1","energy_level":"high","timestamp":"2025-03-10T09:30:00Z"}`), &rec))
	ts, ok := rec.Timestamp.Resolve()
	require.True(t, ok)
	assert.Equal(t, 9, ts.Hour())

	require.NoError(t, json.Unmarshal([]byte(`{"user_id":"u1","timestamp":null}`), &rec))
	assert.True(t, rec.Timestamp.IsZero())

	out, err := json.Marshal(At(time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, `"2025-03-10T09:30:00Z"`, string(out))
}

func TestTaskRecord_ResolveTime(t *testing.T) {
	created := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	stamp := time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC)

	got, ok := TaskRecord{CreatedAt: At(created), Timestamp: At(stamp)}.ResolveTime()
	assert.True(t, ok)
	assert.Equal(t, created, got)

	got, ok = TaskRecord{Timestamp: At(stamp)}.ResolveTime()
	assert.True(t, ok)
	assert.Equal(t, stamp, got)

	_, ok = TaskRecord{}.ResolveTime()
	assert.False(t, ok)
}
