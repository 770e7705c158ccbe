// Package stats computes windowed aggregates over a history slice. All
// functions are pure; the slice is assumed already filtered to one test
// (optionally one node) and a time window, newest-first as the store
// returns it.
package stats

import (
	"fmt"
	"time"

	"github.com/NordCoder/Probeus/internal/domain/history"
)

// NotAvailable is reported instead of a rate when there is nothing to
// divide by. Zero would read as "everything failed".
const NotAvailable = "N/A"

const seriesLimit = 50

type Summary struct {
	TotalExecutions int    `json:"total_executions"`
	SuccessRate     string `json:"success_rate"`
	AvgResponseTime string `json:"avg_response_time"`
	MinResponseTime int64  `json:"min_response_time"`
	MaxResponseTime int64  `json:"max_response_time"`
	AlertCount      int    `json:"alert_count"`
}

type Point struct {
	Time           time.Time `json:"time"`
	ResponseTimeMs int64     `json:"response_time_ms"`
}

// Summarize aggregates records against the owning test's threshold.
// AlertCount deliberately counts only the latency breach, independent of
// success; the alert feed's predicate (which also counts failures) lives
// in the alert package.
func Summarize(recs []history.Record, thresholdMs int64) Summary {
	s := Summary{
		TotalExecutions: len(recs),
		SuccessRate:     NotAvailable,
		AvgResponseTime: NotAvailable,
	}
	if len(recs) == 0 {
		return s
	}

	var (
		okCount int
		sum     int64
	)
	s.MinResponseTime = recs[0].ResponseTimeMs
	s.MaxResponseTime = recs[0].ResponseTimeMs
	for _, r := range recs {
		if r.Success {
			okCount++
		}
		if r.ResponseTimeMs > thresholdMs {
			s.AlertCount++
		}
		sum += r.ResponseTimeMs
		if r.ResponseTimeMs < s.MinResponseTime {
			s.MinResponseTime = r.ResponseTimeMs
		}
		if r.ResponseTimeMs > s.MaxResponseTime {
			s.MaxResponseTime = r.ResponseTimeMs
		}
	}
	s.SuccessRate = fmt.Sprintf("%.1f", 100*float64(okCount)/float64(len(recs)))
	s.AvgResponseTime = fmt.Sprintf("%.2f", float64(sum)/float64(len(recs)))
	return s
}

// Series projects the most recent 50 records into a chronological
// response-time series, bounding chart cost regardless of history size.
func Series(recs []history.Record) []Point {
	n := len(recs)
	if n > seriesLimit {
		n = seriesLimit
	}
	out := make([]Point, 0, n)
	// input is newest-first; walk backwards to emit chronological order
	for i := n - 1; i >= 0; i-- {
		out = append(out, Point{Time: recs[i].ExecutedAt, ResponseTimeMs: recs[i].ResponseTimeMs})
	}
	return out
}
