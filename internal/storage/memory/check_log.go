package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

// CheckLog keeps anonymized check records in memory.
type CheckLog struct {
	mu      sync.RWMutex
	records []allotment.CheckRecord
}

// NewCheckLog constructs a CheckLog.
func NewCheckLog() *CheckLog {
	return &CheckLog{}
}

// RecordCheck appends a record.
func (l *CheckLog) RecordCheck(_ context.Context, record allotment.CheckRecord) error {
	if record.ID == "" {
		return errors.New("check id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	return nil
}

// Summarize aggregates records checked at or after since.
func (l *CheckLog) Summarize(_ context.Context, since time.Time) (allotment.CheckSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	summary := allotment.CheckSummary{
		Since:       since,
		ByStatus:    map[string]int{},
		ByErrorType: map[string]int{},
	}
	for _, r := range l.records {
		if r.CheckedAt.Before(since) {
			continue
		}
		summary.Add(r.Status, r.ErrorType, 1)
	}
	return summary, nil
}

// ListChecks returns a copy of every record in insertion order.
func (l *CheckLog) ListChecks() []allotment.CheckRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]allotment.CheckRecord, len(l.records))
	copy(out, l.records)
	return out
}
