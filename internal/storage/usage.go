package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/personachat/chat-proxy/internal/models"
)

const dateLayout = "2006-01-02"

// UsageStore handles token usage persistence, one JSON file per client per day
type UsageStore struct {
	mu       sync.Mutex
	usageDir string
	now      func() time.Time
}

// NewUsageStore creates a new usage store
func NewUsageStore(usageDir string) *UsageStore {
	return &UsageStore{
		usageDir: usageDir,
		now:      time.Now,
	}
}

// UsageRecord represents a usage record
type UsageRecord struct {
	Date             string `json:"date"` // YYYY-MM-DD
	Client           string `json:"client"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	RequestCount     int64  `json:"request_count"`
}

// RecordUsage adds one successful completion to today's record for client
func (s *UsageStore) RecordUsage(client string, usage models.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.usageDir, 0755); err != nil {
		return fmt.Errorf("failed to create usage directory: %w", err)
	}

	today := s.now().Format(dateLayout)
	filePath := filepath.Join(s.usageDir, fmt.Sprintf("%s_%s.json", today, escapeClient(client)))

	record := UsageRecord{Date: today, Client: client}
	if data, err := os.ReadFile(filePath); err == nil {
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to parse usage file %s: %w", filePath, err)
		}
		if record.Client != client {
			return fmt.Errorf("usage file %s belongs to client %q, not %q", filePath, record.Client, client)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read usage file: %w", err)
	}

	record.PromptTokens += int64(usage.PromptTokens)
	record.CompletionTokens += int64(usage.CompletionTokens)
	record.TotalTokens += int64(usage.TotalTokens)
	record.RequestCount++

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write usage file: %w", err)
	}

	return nil
}

// GetUsageHistory returns the records of the last days days (today included),
// newest first.
func (s *UsageStore) GetUsageHistory(days int) ([]UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.usageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []UsageRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read usage directory: %w", err)
	}

	now := s.now()
	today, _ := time.Parse(dateLayout, now.Format(dateLayout))
	cutoff := today.AddDate(0, 0, -(days - 1))

	records := []UsageRecord{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		// 文件名格式: YYYY-MM-DD_client.json
		dateStr, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}
		recordDate, err := time.Parse(dateLayout, dateStr)
		if err != nil || recordDate.Before(cutoff) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.usageDir, entry.Name()))
		if err != nil {
			continue
		}

		var record UsageRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date > records[j].Date
		}
		return records[i].Client < records[j].Client
	})
	return records, nil
}

// escapeClient turns a client identifier into a filename fragment. Bytes
// outside [A-Za-z0-9.-] become %XX, so distinct clients never share a file.
func escapeClient(client string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(client); i++ {
		c := client[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}
