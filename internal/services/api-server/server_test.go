package api_server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Probeus/internal/domain/apidef"
	"github.com/NordCoder/Probeus/internal/domain/history"
	"github.com/NordCoder/Probeus/internal/domain/node"
	"github.com/NordCoder/Probeus/internal/domain/synthtest"
	"github.com/NordCoder/Probeus/internal/domain/tag"
	"github.com/NordCoder/Probeus/internal/probe"
	"github.com/NordCoder/Probeus/internal/services/execution"
)

type memNodes struct {
	node.Repo
	all []*node.Node
}

func (m *memNodes) List(context.Context) ([]*node.Node, error) { return m.all, nil }
func (m *memNodes) Create(_ context.Context, n *node.Node) error {
	n.ID = int64(len(m.all) + 1)
	m.all = append(m.all, n)
	return nil
}

type memGroups struct {
	node.GroupRepo
	all []*node.Group
}

func (m *memGroups) List(context.Context) ([]*node.Group, error) { return m.all, nil }

type memApis struct {
	apidef.Repo
	all []*apidef.Definition
}

func (m *memApis) List(context.Context) ([]*apidef.Definition, error) { return m.all, nil }
func (m *memApis) GetByID(_ context.Context, id int64) (*apidef.Definition, error) {
	for _, d := range m.all {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, errNotFoundTest
}

type memTests struct {
	synthtest.Repo
	all []*synthtest.Test
}

func (m *memTests) List(context.Context) ([]*synthtest.Test, error) { return m.all, nil }
func (m *memTests) GetByID(_ context.Context, id int64) (*synthtest.Test, error) {
	for _, tt := range m.all {
		if tt.ID == id {
			return tt, nil
		}
	}
	return nil, errNotFoundTest
}

type memHistory struct {
	history.Store
	recs    []history.Record
	lastFlt history.Filter
}

func (m *memHistory) Query(_ context.Context, f history.Filter) ([]history.Record, int64, error) {
	m.lastFlt = f
	return m.recs, int64(len(m.recs)), nil
}
func (m *memHistory) ListByTest(context.Context, int64, int) ([]history.Record, error) {
	return m.recs, nil
}

type memTags struct{ tag.Repo }

var errNotFoundTest = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

func newTestServer(t *testing.T) (*Server, *memHistory) {
	t.Helper()
	hist := &memHistory{}
	srv := &Server{
		Log:     zap.NewNop(),
		Nodes:   &memNodes{},
		Groups:  &memGroups{},
		Apis:    &memApis{},
		Tests:   &memTests{},
		Tags:    &memTags{},
		History: hist,
	}
	srv.Runner = &execution.Runner{
		Tests:   srv.Tests,
		Apis:    srv.Apis,
		Nodes:   srv.Nodes,
		Groups:  srv.Groups,
		History: srv.History,
		Exec:    probe.New(probe.Config{Timeout: time.Second}, zap.NewNop()),
		Log:     zap.NewNop(),
	}
	return srv, hist
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestCreateNodeValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.Routes()

	rec, env := doJSON(t, mux, http.MethodPost, "/nodes", `{"name":"","host":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.Success)
	require.Equal(t, "validation", env.Error)

	rec, env = doJSON(t, mux, http.MethodPost, "/nodes", `{"name":"web-1","host":"10.0.0.1","port":8080}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, env.Success)
}

func TestQueryHistoryPlumbsFilter(t *testing.T) {
	srv, hist := newTestServer(t)
	hist.recs = []history.Record{{ID: 1, Success: true}}
	mux := srv.Routes()

	rec, env := doJSON(t, mux, http.MethodGet,
		"/history?syntheticTestName=shop&nodeId=3&notificationEnabled=false&limit=10&offset=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
	require.NotNil(t, env.Total)
	require.Equal(t, int64(1), *env.Total)

	require.Equal(t, "shop", hist.lastFlt.TestName)
	require.NotNil(t, hist.lastFlt.NodeID)
	require.Equal(t, int64(3), *hist.lastFlt.NodeID)
	require.NotNil(t, hist.lastFlt.NotificationEnabled)
	require.False(t, *hist.lastFlt.NotificationEnabled)
	require.Equal(t, 10, hist.lastFlt.Limit)
	require.Equal(t, 20, hist.lastFlt.Offset)

	_, _ = doJSON(t, mux, http.MethodGet, "/history?testName=cart", "")
	require.Equal(t, "cart", hist.lastFlt.TestName, "short alias still filters")
}

func TestAlertsEndpointDerivesFromHistory(t *testing.T) {
	srv, hist := newTestServer(t)
	testID := int64(1)
	now := time.Now().UTC()
	hist.recs = []history.Record{
		{ID: 1, TestID: &testID, NodeID: 10, Success: false, ResponseTimeMs: 50, ExecutedAt: now},
		{ID: 2, TestID: &testID, NodeID: 10, Success: true, ResponseTimeMs: 10, ExecutedAt: now},
	}
	srv.Tests.(*memTests).all = []*synthtest.Test{
		{ID: 1, Name: "shop", ApiID: 5, ThresholdMs: 1000, TargetType: synthtest.TargetNode, TargetID: 10},
	}
	srv.Apis.(*memApis).all = []*apidef.Definition{{ID: 5, Name: "status"}}
	srv.Nodes.(*memNodes).all = []*node.Node{{ID: 10, Name: "web-1"}}

	mux := srv.Routes()
	rec, env := doJSON(t, mux, http.MethodGet, "/alerts?timeRange=6h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
	require.NotNil(t, env.Total)
	require.Equal(t, int64(1), *env.Total, "only the failing record alerts")

	require.NotNil(t, hist.lastFlt.Start)
	require.NotNil(t, hist.lastFlt.NotificationEnabled)
	require.False(t, *hist.lastFlt.NotificationEnabled)
	require.WithinDuration(t, time.Now().UTC().Add(-6*time.Hour), *hist.lastFlt.Start, time.Minute)
}

func TestStatsEndpoint(t *testing.T) {
	srv, hist := newTestServer(t)
	testID := int64(1)
	now := time.Now().UTC()
	hist.recs = []history.Record{
		{ID: 2, TestID: &testID, Success: true, ResponseTimeMs: 300, ExecutedAt: now},
		{ID: 1, TestID: &testID, Success: true, ResponseTimeMs: 100, ExecutedAt: now.Add(-time.Minute)},
	}
	srv.Tests.(*memTests).all = []*synthtest.Test{{ID: 1, ThresholdMs: 200}}

	mux := srv.Routes()
	rec, env := doJSON(t, mux, http.MethodGet, "/synthetic-tests/1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	b, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var resp statsResponse
	require.NoError(t, json.Unmarshal(b, &resp))
	require.Equal(t, 2, resp.Summary.TotalExecutions)
	require.Equal(t, "100.0", resp.Summary.SuccessRate)
	require.Equal(t, 1, resp.Summary.AlertCount)
	require.Len(t, resp.Series, 2)
	require.Equal(t, int64(100), resp.Series[0].ResponseTimeMs, "series is chronological")
}

func TestExecuteAdHocRejectsBadTarget(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.Apis.(*memApis).all = []*apidef.Definition{{ID: 5, URI: "/", Method: "GET"}}
	mux := srv.Routes()

	rec, env := doJSON(t, mux, http.MethodPost, "/apis/5/execute", `{"params":{}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation", env.Error)
}

func TestExecuteAdHocEmptyTargetReturnsSyntheticOutcome(t *testing.T) {
	srv, hist := newTestServer(t)
	srv.Apis.(*memApis).all = []*apidef.Definition{{ID: 5, URI: "/", Method: "GET"}}
	mux := srv.Routes()

	rec, env := doJSON(t, mux, http.MethodPost, "/apis/5/execute", `{"target_node":42}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	b, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var res execution.RunResult
	require.NoError(t, json.Unmarshal(b, &res))
	require.False(t, res.Success)
	require.Len(t, res.Outcomes, 1)
	require.Equal(t, "<system>", res.Outcomes[0].NodeName)
	require.Empty(t, hist.recs, "ad-hoc runs never persist")
}

func TestCreateTestValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.Routes()

	rec, env := doJSON(t, mux, http.MethodPost, "/synthetic-tests",
		`{"name":"shop","target_type":"cluster","target_id":1,"api_id":5,"interval_sec":60,"threshold_ms":500}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation", env.Error)
	require.Contains(t, env.Message, "target_type")
}
