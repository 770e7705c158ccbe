// Package alert derives alert rows from history. Alerts are never
// persisted; they are materialized on read by joining a record with its
// owning test and API definition.
package alert

import (
	"time"

	"github.com/NordCoder/Probeus/internal/domain/apidef"
	"github.com/NordCoder/Probeus/internal/domain/history"
	"github.com/NordCoder/Probeus/internal/domain/node"
	"github.com/NordCoder/Probeus/internal/domain/synthtest"
	"github.com/NordCoder/Probeus/internal/tags"
)

type Alert struct {
	RecordID       int64                `json:"record_id"`
	TestID         int64                `json:"test_id"`
	TestName       string               `json:"test_name"`
	NodeID         int64                `json:"node_id"`
	NodeName       string               `json:"node_name"`
	ApiID          int64                `json:"api_id"`
	ApiName        string               `json:"api_name"`
	ApiURI         string               `json:"api_uri"`
	ApiMethod      string               `json:"api_method"`
	ParamValues    map[int64]string     `json:"param_values"`
	ResponseTimeMs int64                `json:"response_time_ms"`
	ThresholdMs    int64                `json:"threshold_ms"`
	Timestamp      time.Time            `json:"timestamp"`
	StatusCode     int                  `json:"status_code"`
	TestTags       []string             `json:"test_tags"`
	TargetType     synthtest.TargetType `json:"target_type"`
	TargetID       int64                `json:"target_id"`
}

// IsAlert holds when the probe failed outright or breached the owning
// test's response-time threshold.
func IsAlert(r history.Record, thresholdMs int64) bool {
	return !r.Success || r.ResponseTimeMs > thresholdMs
}

// Build joins records with their owning test and API and keeps only
// alerting ones. Records whose test has since vanished carry no
// threshold and are skipped; a missing API or node only degrades the
// display fields.
func Build(recs []history.Record, tests map[int64]*synthtest.Test, apis map[int64]*apidef.Definition, nodes map[int64]*node.Node) []Alert {
	var out []Alert
	for _, r := range recs {
		if r.TestID == nil {
			continue
		}
		t, ok := tests[*r.TestID]
		if !ok {
			continue
		}
		if !IsAlert(r, t.ThresholdMs) {
			continue
		}
		a := Alert{
			RecordID:       r.ID,
			TestID:         t.ID,
			TestName:       t.Name,
			NodeID:         r.NodeID,
			ApiID:          t.ApiID,
			ParamValues:    t.ParamValues,
			ResponseTimeMs: r.ResponseTimeMs,
			ThresholdMs:    t.ThresholdMs,
			Timestamp:      r.ExecutedAt,
			StatusCode:     r.StatusCode,
			TestTags:       t.Tags,
			TargetType:     t.TargetType,
			TargetID:       t.TargetID,
		}
		if d, ok := apis[t.ApiID]; ok {
			a.ApiName = d.Name
			a.ApiURI = d.URI
			a.ApiMethod = d.Method
		}
		if n, ok := nodes[r.NodeID]; ok {
			a.NodeName = n.Name
		}
		out = append(out, a)
	}
	return out
}

// Filter narrows an alert set by tag, node, and group selections: OR
// within each category, AND across categories, an empty category meaning
// no constraint. Group selection matches only group-targeted tests; it
// does not expand to the group's member nodes.
func Filter(alerts []Alert, selTags []string, selNodeIDs, selGroupIDs []int64) []Alert {
	if len(selTags) == 0 && len(selNodeIDs) == 0 && len(selGroupIDs) == 0 {
		return alerts
	}
	var out []Alert
	for _, a := range alerts {
		if len(selTags) > 0 && !tags.HasAny(a.TestTags, selTags) {
			continue
		}
		if len(selNodeIDs) > 0 && !containsID(selNodeIDs, a.NodeID) {
			continue
		}
		if len(selGroupIDs) > 0 &&
			!(a.TargetType == synthtest.TargetGroup && containsID(selGroupIDs, a.TargetID)) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// ResolveRange turns a feed range token into a start time. Unknown
// tokens fall back to 24h so the feed renders rather than erroring.
func ResolveRange(token string, now time.Time) time.Time {
	switch token {
	case "1h":
		return now.Add(-time.Hour)
	case "6h":
		return now.Add(-6 * time.Hour)
	case "7d":
		return now.Add(-7 * 24 * time.Hour)
	default:
		return now.Add(-24 * time.Hour)
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
