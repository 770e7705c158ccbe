package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Probeus/internal/domain/history"
)

func rec(id int64, ok bool, ms int64, at time.Time) history.Record {
	return history.Record{ID: id, Success: ok, ResponseTimeMs: ms, ExecutedAt: at}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, 1000)
	require.Equal(t, 0, s.TotalExecutions)
	require.Equal(t, NotAvailable, s.SuccessRate)
	require.Equal(t, NotAvailable, s.AvgResponseTime)
	require.Equal(t, int64(0), s.MinResponseTime)
	require.Equal(t, int64(0), s.MaxResponseTime)
	require.Equal(t, 0, s.AlertCount)
}

func TestSummarize(t *testing.T) {
	now := time.Now()
	recs := []history.Record{
		rec(1, true, 100, now),
		rec(2, true, 300, now),
		rec(3, false, 2000, now),
	}
	s := Summarize(recs, 1000)
	require.Equal(t, 3, s.TotalExecutions)
	require.Equal(t, "66.7", s.SuccessRate)
	require.Equal(t, "800.00", s.AvgResponseTime)
	require.Equal(t, int64(100), s.MinResponseTime)
	require.Equal(t, int64(2000), s.MaxResponseTime)
	// only the latency breach counts; the plain failure at 2000ms also
	// breaches, the failure at 100ms would not
	require.Equal(t, 1, s.AlertCount)
}

func TestSummarizeAlertCountIgnoresSuccessFlag(t *testing.T) {
	now := time.Now()
	recs := []history.Record{
		rec(1, false, 10, now), // failed but fast: not counted
		rec(2, true, 5000, now),
	}
	s := Summarize(recs, 1000)
	require.Equal(t, 1, s.AlertCount)
}

func TestSummarizeThresholdBoundary(t *testing.T) {
	recs := []history.Record{rec(1, true, 1000, time.Now())}
	s := Summarize(recs, 1000)
	require.Equal(t, 0, s.AlertCount, "exactly at threshold is not a breach")
}

func TestSeriesReversesToChronological(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	recs := []history.Record{
		rec(3, true, 30, base.Add(2*time.Minute)),
		rec(2, true, 20, base.Add(time.Minute)),
		rec(1, true, 10, base),
	}
	pts := Series(recs)
	require.Len(t, pts, 3)
	require.Equal(t, int64(10), pts[0].ResponseTimeMs)
	require.Equal(t, int64(30), pts[2].ResponseTimeMs)
	require.True(t, pts[0].Time.Before(pts[1].Time))
}

func TestSeriesCapsAtFifty(t *testing.T) {
	now := time.Now()
	recs := make([]history.Record, 0, 80)
	for i := 0; i < 80; i++ {
		recs = append(recs, rec(int64(80-i), true, int64(80-i), now.Add(-time.Duration(i)*time.Minute)))
	}
	pts := Series(recs)
	require.Len(t, pts, 50)
	// the newest 50 survive, oldest first
	require.Equal(t, int64(31), pts[0].ResponseTimeMs)
	require.Equal(t, int64(80), pts[49].ResponseTimeMs)
}
