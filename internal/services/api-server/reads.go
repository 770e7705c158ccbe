package api_server

import (
	"net/http"
	"strings"
	"time"

	"github.com/NordCoder/Probeus/internal/alert"
	"github.com/NordCoder/Probeus/internal/domain/apidef"
	"github.com/NordCoder/Probeus/internal/domain/history"
	"github.com/NordCoder/Probeus/internal/domain/node"
	"github.com/NordCoder/Probeus/internal/domain/synthtest"
	"github.com/NordCoder/Probeus/internal/stats"
)

// statsWindowCap bounds how many records one stats request may pull in.
const statsWindowCap = 10000

func (s *Server) testHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid test id")
		return
	}
	limit := queryInt(r, "limit", 50)
	recs, err := s.History.ListByTest(r.Context(), id, limit)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	recs = history.DedupeByID(recs)
	s.okList(w, recs, int64(len(recs)))
}

type statsResponse struct {
	Summary stats.Summary `json:"summary"`
	Series  []stats.Point `json:"series"`
}

func (s *Server) testStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid test id")
		return
	}
	t, err := s.Tests.GetByID(r.Context(), id)
	if err != nil {
		s.failErr(w, r, err)
		return
	}

	f := history.Filter{
		TestID: &id,
		NodeID: queryInt64(r, "nodeId"),
		Start:  queryTime(r, "startDate"),
		End:    queryTime(r, "endDate"),
		Limit:  statsWindowCap,
	}
	recs, _, err := s.History.Query(r.Context(), f)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	recs = history.DedupeByID(recs)

	s.ok(w, statsResponse{
		Summary: stats.Summarize(recs, t.ThresholdMs),
		Series:  stats.Series(recs),
	})
}

func (s *Server) queryHistory(w http.ResponseWriter, r *http.Request) {
	// testName kept as a shorthand alias for syntheticTestName
	testName := strings.TrimSpace(r.URL.Query().Get("syntheticTestName"))
	if testName == "" {
		testName = strings.TrimSpace(r.URL.Query().Get("testName"))
	}

	f := history.Filter{
		TestID:              queryInt64(r, "testId"),
		TestName:            testName,
		NodeID:              queryInt64(r, "nodeId"),
		NodeName:            strings.TrimSpace(r.URL.Query().Get("nodeName")),
		GroupName:           strings.TrimSpace(r.URL.Query().Get("nodeGroupName")),
		TagName:             strings.TrimSpace(r.URL.Query().Get("tagName")),
		NotificationEnabled: queryBool(r, "notificationEnabled"),
		Start:               queryTime(r, "startDate"),
		End:                 queryTime(r, "endDate"),
		Limit:               queryInt(r, "limit", 50),
		Offset:              queryInt(r, "offset", 0),
	}
	recs, total, err := s.History.Query(r.Context(), f)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	recs = history.DedupeByID(recs)
	s.okList(w, recs, total)
}

// listAlerts materializes alert rows for the requested window. Alerts
// are derived on read; there is no alert table to query.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	start := alert.ResolveRange(r.URL.Query().Get("timeRange"), time.Now().UTC())
	alertsOnly := false

	recs, _, err := s.History.Query(r.Context(), history.Filter{
		NotificationEnabled: &alertsOnly,
		Start:               &start,
		Limit:               statsWindowCap,
	})
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	recs = history.DedupeByID(recs)

	tests, apis, nodes, err := s.registrySnapshot(r)
	if err != nil {
		s.failErr(w, r, err)
		return
	}

	out := alert.Build(recs, tests, apis, nodes)
	out = alert.Filter(out,
		splitCSV(r.URL.Query().Get("tags")),
		queryIDList(r, "nodeIds"),
		queryIDList(r, "groupIds"),
	)
	s.okList(w, out, int64(len(out)))
}

func (s *Server) registrySnapshot(r *http.Request) (map[int64]*synthtest.Test, map[int64]*apidef.Definition, map[int64]*node.Node, error) {
	ctx := r.Context()

	testList, err := s.Tests.List(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	apiList, err := s.Apis.List(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	nodeList, err := s.Nodes.List(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	tests := make(map[int64]*synthtest.Test, len(testList))
	for _, t := range testList {
		tests[t.ID] = t
	}
	apis := make(map[int64]*apidef.Definition, len(apiList))
	for _, d := range apiList {
		apis[d.ID] = d
	}
	nodes := make(map[int64]*node.Node, len(nodeList))
	for _, n := range nodeList {
		nodes[n.ID] = n
	}
	return tests, apis, nodes, nil
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
