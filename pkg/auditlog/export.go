package auditlog

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Record envelope types for JSONL export, pattern pressfleet.<type>.v<version>.
const (
	// TypeEntry identifies audit entry records.
	TypeEntry = "pressfleet.audit.v1"

	// TypeSummary identifies the trailing export summary record.
	TypeSummary = "pressfleet.audit_summary.v1"
)

// ExportRecord is the envelope for each JSONL line. Every line is a
// self-contained JSON object that can be parsed independently.
type ExportRecord struct {
	Type string          `json:"type"`
	TS   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// SummaryRecord is the data payload of the trailing summary line.
type SummaryRecord struct {
	Entries   int       `json:"entries"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Cancelled int       `json:"cancelled"`
	Since     time.Time `json:"since,omitempty"`
	Until     time.Time `json:"until,omitempty"`
}

// Export writes matching entries to w as JSONL, one envelope per line,
// followed by a summary record. It returns the number of entries written.
func (s *Store) Export(ctx context.Context, w io.Writer, q Query) (int, error) {
	entries, err := s.List(ctx, q)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	now := time.Now().UTC()

	var sum SummaryRecord
	sum.Since, sum.Until = q.Since, q.Until
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return sum.Entries, &StoreError{Op: "marshal entry", Err: err}
		}
		if err := enc.Encode(ExportRecord{Type: TypeEntry, TS: now, Data: data}); err != nil {
			return sum.Entries, &StoreError{Op: "write entry", Err: err}
		}
		sum.Entries++
		switch e.State {
		case "completed":
			sum.Completed++
		case "failed":
			sum.Failed++
		case "cancelled":
			sum.Cancelled++
		}
	}

	data, err := json.Marshal(sum)
	if err != nil {
		return sum.Entries, &StoreError{Op: "marshal summary", Err: err}
	}
	if err := enc.Encode(ExportRecord{Type: TypeSummary, TS: now, Data: data}); err != nil {
		return sum.Entries, &StoreError{Op: "write summary", Err: err}
	}
	return sum.Entries, nil
}
