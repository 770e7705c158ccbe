package history

import "time"

// Record is one immutable probe outcome. TestID is nil for ad-hoc
// previews, which are never persisted; every stored record belongs to a
// test. Input/Output carry the bound parameters and response body as JSON.
type Record struct {
	ID             int64     `json:"id"`
	TestID         *int64    `json:"test_id"`
	NodeID         int64     `json:"node_id"`
	StatusCode     int       `json:"status_code"`
	Success        bool      `json:"success"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	ExecutedAt     time.Time `json:"executed_at"`
	Input          string    `json:"input"`
	Output         string    `json:"output"`
}

// DedupeByID keeps the first occurrence per ID, preserving order.
// Overlapping pages re-fetched from the store must collapse losslessly.
func DedupeByID(recs []Record) []Record {
	seen := make(map[int64]struct{}, len(recs))
	out := recs[:0:0]
	for _, r := range recs {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
