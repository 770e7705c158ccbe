package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Probeus/internal/domain/apidef"
	"github.com/NordCoder/Probeus/internal/domain/history"
	"github.com/NordCoder/Probeus/internal/domain/node"
	"github.com/NordCoder/Probeus/internal/domain/synthtest"
)

func TestIsAlertTruthTable(t *testing.T) {
	cases := []struct {
		name    string
		success bool
		ms      int64
		want    bool
	}{
		{"ok under threshold", true, 500, false},
		{"ok at threshold", true, 1000, false},
		{"ok over threshold", true, 1001, true},
		{"failed under threshold", false, 10, true},
		{"failed over threshold", false, 5000, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := history.Record{Success: tc.success, ResponseTimeMs: tc.ms}
			require.Equal(t, tc.want, IsAlert(r, 1000))
		})
	}
}

func fixtures() (map[int64]*synthtest.Test, map[int64]*apidef.Definition, map[int64]*node.Node) {
	tests := map[int64]*synthtest.Test{
		1: {ID: 1, Name: "checkout", ApiID: 5, ThresholdMs: 1000, Tags: []string{"prod"},
			TargetType: synthtest.TargetNode, TargetID: 10},
		2: {ID: 2, Name: "search", ApiID: 6, ThresholdMs: 200, Tags: []string{"edge"},
			TargetType: synthtest.TargetGroup, TargetID: 77},
	}
	apis := map[int64]*apidef.Definition{
		5: {ID: 5, Name: "cart-api", URI: "/cart", Method: "GET"},
		6: {ID: 6, Name: "search-api", URI: "/search", Method: "POST"},
	}
	nodes := map[int64]*node.Node{
		10: {ID: 10, Name: "web-1"},
		11: {ID: 11, Name: "web-2"},
	}
	return tests, apis, nodes
}

func tid(v int64) *int64 { return &v }

func TestBuildJoinsAndFilters(t *testing.T) {
	tests, apis, nodes := fixtures()
	now := time.Now()

	recs := []history.Record{
		{ID: 100, TestID: tid(1), NodeID: 10, Success: true, ResponseTimeMs: 500, ExecutedAt: now},  // fine
		{ID: 101, TestID: tid(1), NodeID: 10, Success: false, ResponseTimeMs: 100, ExecutedAt: now}, // failure
		{ID: 102, TestID: tid(2), NodeID: 11, Success: true, ResponseTimeMs: 900, ExecutedAt: now},  // breach
		{ID: 103, TestID: tid(9), NodeID: 10, Success: false, ResponseTimeMs: 1, ExecutedAt: now},   // orphan
		{ID: 104, TestID: nil, NodeID: 10, Success: false, ResponseTimeMs: 1, ExecutedAt: now},      // preview
	}

	out := Build(recs, tests, apis, nodes)
	require.Len(t, out, 2)

	require.Equal(t, int64(101), out[0].RecordID)
	require.Equal(t, "checkout", out[0].TestName)
	require.Equal(t, "cart-api", out[0].ApiName)
	require.Equal(t, "web-1", out[0].NodeName)
	require.Equal(t, int64(1000), out[0].ThresholdMs)

	require.Equal(t, int64(102), out[1].RecordID)
	require.Equal(t, "search-api", out[1].ApiName)
}

func TestBuildDegradesMissingApiAndNode(t *testing.T) {
	tests, _, _ := fixtures()
	recs := []history.Record{
		{ID: 100, TestID: tid(1), NodeID: 42, Success: false, ExecutedAt: time.Now()},
	}
	out := Build(recs, tests, nil, nil)
	require.Len(t, out, 1)
	require.Empty(t, out[0].ApiName)
	require.Empty(t, out[0].NodeName)
	require.Equal(t, int64(42), out[0].NodeID)
}

func sampleAlerts() []Alert {
	return []Alert{
		{RecordID: 1, NodeID: 10, TestTags: []string{"prod"}, TargetType: synthtest.TargetNode, TargetID: 10},
		{RecordID: 2, NodeID: 11, TestTags: []string{"edge"}, TargetType: synthtest.TargetGroup, TargetID: 77},
		{RecordID: 3, NodeID: 10, TestTags: []string{"prod", "edge"}, TargetType: synthtest.TargetGroup, TargetID: 88},
	}
}

func recordIDs(in []Alert) []int64 {
	out := make([]int64, 0, len(in))
	for _, a := range in {
		out = append(out, a.RecordID)
	}
	return out
}

func TestFilterNoConstraints(t *testing.T) {
	in := sampleAlerts()
	require.Equal(t, in, Filter(in, nil, nil, nil))
}

func TestFilterOrWithinCategory(t *testing.T) {
	got := Filter(sampleAlerts(), []string{"prod", "edge"}, nil, nil)
	require.Equal(t, []int64{1, 2, 3}, recordIDs(got))
}

func TestFilterAndAcrossCategories(t *testing.T) {
	// tag AND node must both hold
	got := Filter(sampleAlerts(), []string{"edge"}, []int64{10}, nil)
	require.Equal(t, []int64{3}, recordIDs(got))
}

func TestFilterGroupMatchesOnlyGroupTargets(t *testing.T) {
	// alert 1 runs against node 10 directly; selecting group 10 must not
	// match it even if ids collide
	got := Filter(sampleAlerts(), nil, nil, []int64{10})
	require.Empty(t, got)

	got = Filter(sampleAlerts(), nil, nil, []int64{77, 88})
	require.Equal(t, []int64{2, 3}, recordIDs(got))
}

func TestResolveRange(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	require.Equal(t, now.Add(-time.Hour), ResolveRange("1h", now))
	require.Equal(t, now.Add(-6*time.Hour), ResolveRange("6h", now))
	require.Equal(t, now.Add(-24*time.Hour), ResolveRange("24h", now))
	require.Equal(t, now.Add(-7*24*time.Hour), ResolveRange("7d", now))
	require.Equal(t, now.Add(-24*time.Hour), ResolveRange("fortnight", now))
	require.Equal(t, now.Add(-24*time.Hour), ResolveRange("", now))
}
