package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/personachat/chat-proxy/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUsageStore(t *testing.T, now time.Time) *UsageStore {
	s := NewUsageStore(filepath.Join(t.TempDir(), "usage"))
	s.now = func() time.Time { return now }
	return s
}

func TestRecordUsage_Accumulates(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	s := newTestUsageStore(t, now)

	require.NoError(t, s.RecordUsage("1.2.3.4", models.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}))
	require.NoError(t, s.RecordUsage("1.2.3.4", models.Usage{PromptTokens: 50, CompletionTokens: 5, TotalTokens: 55}))

	records, err := s.GetUsageHistory(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, UsageRecord{
		Date:             "2026-10-17",
		Client:           "1.2.3.4",
		PromptTokens:     150,
		CompletionTokens: 25,
		TotalTokens:      175,
		RequestCount:     2,
	}, records[0])
}

func TestRecordUsage_EscapesClientFilename(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	s := newTestUsageStore(t, now)

	require.NoError(t, s.RecordUsage("::1/../etc", models.Usage{TotalTokens: 1}))

	_, err := os.Stat(filepath.Join(s.usageDir, "2026-10-17_%3A%3A1%2F..%2Fetc.json"))
	require.NoError(t, err)

	records, err := s.GetUsageHistory(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "::1/../etc", records[0].Client)
}

func TestRecordUsage_KeepsLookalikeClientsApart(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	s := newTestUsageStore(t, now)

	require.NoError(t, s.RecordUsage("2001:db8::1", models.Usage{TotalTokens: 100}))
	require.NoError(t, s.RecordUsage("2001_db8__1", models.Usage{TotalTokens: 5}))
	require.NoError(t, s.RecordUsage("2001%3Adb8%3A%3A1", models.Usage{TotalTokens: 7}))

	records, err := s.GetUsageHistory(1)
	require.NoError(t, err)
	require.Len(t, records, 3)

	byClient := map[string]UsageRecord{}
	for _, r := range records {
		byClient[r.Client] = r
	}
	assert.Equal(t, int64(100), byClient["2001:db8::1"].TotalTokens)
	assert.Equal(t, int64(5), byClient["2001_db8__1"].TotalTokens)
	assert.Equal(t, int64(7), byClient["2001%3Adb8%3A%3A1"].TotalTokens)
	for _, r := range records {
		assert.Equal(t, int64(1), r.RequestCount, r.Client)
	}
}

func TestRecordUsage_RefusesForeignFile(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	s := newTestUsageStore(t, now)
	require.NoError(t, os.MkdirAll(s.usageDir, 0755))

	foreign := `{"date":"2026-10-17","client":"someone-else","total_tokens":9,"request_count":1}`
	require.NoError(t, os.WriteFile(filepath.Join(s.usageDir, "2026-10-17_1.2.3.4.json"), []byte(foreign), 0644))

	err := s.RecordUsage("1.2.3.4", models.Usage{TotalTokens: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "someone-else")
}

func TestGetUsageHistory_FiltersByDays(t *testing.T) {
	day := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	s := newTestUsageStore(t, day)
	require.NoError(t, s.RecordUsage("old", models.Usage{TotalTokens: 1}))

	s.now = func() time.Time { return day.AddDate(0, 0, 2) }
	require.NoError(t, s.RecordUsage("b", models.Usage{TotalTokens: 2}))
	require.NoError(t, s.RecordUsage("a", models.Usage{TotalTokens: 3}))

	records, err := s.GetUsageHistory(1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Client)
	assert.Equal(t, "b", records[1].Client)

	records, err = s.GetUsageHistory(3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "old", records[2].Client)
}

func TestGetUsageHistory_MissingDirectory(t *testing.T) {
	s := NewUsageStore(filepath.Join(t.TempDir(), "nope"))
	records, err := s.GetUsageHistory(7)
	require.NoError(t, err)
	assert.Empty(t, records)
}
