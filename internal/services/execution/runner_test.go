package execution

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Probeus/internal/bind"
	"github.com/NordCoder/Probeus/internal/domain/apidef"
	"github.com/NordCoder/Probeus/internal/domain/history"
	"github.com/NordCoder/Probeus/internal/domain/node"
	"github.com/NordCoder/Probeus/internal/domain/synthtest"
	"github.com/NordCoder/Probeus/internal/probe"
)

var errNotFound = errors.New("not found")

type fakeTests struct{ byID map[int64]*synthtest.Test }

func (f *fakeTests) Create(context.Context, *synthtest.Test) error { return nil }
func (f *fakeTests) GetByID(_ context.Context, id int64) (*synthtest.Test, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, errNotFound
	}
	return t, nil
}
func (f *fakeTests) List(context.Context) ([]*synthtest.Test, error)      { return nil, nil }
func (f *fakeTests) Update(context.Context, *synthtest.Test) error        { return nil }
func (f *fakeTests) Delete(context.Context, int64) error                  { return nil }
func (f *fakeTests) FetchDue(context.Context, int) ([]*synthtest.Test, error) { return nil, nil }

type fakeApis struct{ byID map[int64]*apidef.Definition }

func (f *fakeApis) Create(context.Context, *apidef.Definition) error { return nil }
func (f *fakeApis) GetByID(_ context.Context, id int64) (*apidef.Definition, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, errNotFound
	}
	return d, nil
}
func (f *fakeApis) List(context.Context) ([]*apidef.Definition, error) { return nil, nil }
func (f *fakeApis) Update(context.Context, *apidef.Definition) error   { return nil }
func (f *fakeApis) Delete(context.Context, int64) error                { return nil }

type fakeNodes struct{ all []*node.Node }

func (f *fakeNodes) Create(context.Context, *node.Node) error { return nil }
func (f *fakeNodes) GetByID(_ context.Context, id int64) (*node.Node, error) {
	for _, n := range f.all {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, errNotFound
}
func (f *fakeNodes) List(context.Context) ([]*node.Node, error) { return f.all, nil }
func (f *fakeNodes) Update(context.Context, *node.Node) error   { return nil }
func (f *fakeNodes) Delete(context.Context, int64) error        { return nil }

type fakeGroups struct{ all []*node.Group }

func (f *fakeGroups) Create(context.Context, *node.Group) error { return nil }
func (f *fakeGroups) GetByID(_ context.Context, id int64) (*node.Group, error) {
	for _, g := range f.all {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, errNotFound
}
func (f *fakeGroups) List(context.Context) ([]*node.Group, error) { return f.all, nil }
func (f *fakeGroups) Update(context.Context, *node.Group) error   { return nil }
func (f *fakeGroups) Delete(context.Context, int64) error         { return nil }

type fakeHistory struct {
	mu   sync.Mutex
	recs []history.Record
}

func (f *fakeHistory) Append(_ context.Context, r *history.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = int64(len(f.recs) + 1)
	f.recs = append(f.recs, *r)
	return nil
}
func (f *fakeHistory) Query(context.Context, history.Filter) ([]history.Record, int64, error) {
	return nil, 0, nil
}
func (f *fakeHistory) ListByTest(context.Context, int64, int) ([]history.Record, error) {
	return nil, nil
}
func (f *fakeHistory) DeleteByTest(context.Context, int64) (int64, error)       { return 0, nil }
func (f *fakeHistory) DeleteOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }

var errStoreDown = errors.New("store down")

type failingHistory struct {
	fakeHistory
	appends int
}

func (f *failingHistory) Append(context.Context, *history.Record) error {
	f.appends++
	return errStoreDown
}

func serverNode(t *testing.T, ts *httptest.Server, id int64) *node.Node {
	t.Helper()
	host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &node.Node{ID: id, Name: "node-" + strconv.FormatInt(id, 10), Host: host, Port: port}
}

func TestExecuteTestGroupWithDanglingAndTimeout(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "eu", r.URL.Query().Get("region"))
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()
	slowSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slowSrv.Close()

	hist := &fakeHistory{}
	r := &Runner{
		Tests: &fakeTests{byID: map[int64]*synthtest.Test{
			1: {ID: 1, Name: "shop", TargetType: synthtest.TargetGroup, TargetID: 7,
				ApiID: 5, ParamValues: map[int64]string{10: "eu"}, ThresholdMs: 1000},
		}},
		Apis: &fakeApis{byID: map[int64]*apidef.Definition{
			5: {ID: 5, Name: "status", URI: "/status", Method: "GET",
				Params: []apidef.Parameter{{ID: 10, Name: "region", Required: true}}},
		}},
		Nodes:   &fakeNodes{all: []*node.Node{serverNode(t, okSrv, 1), serverNode(t, slowSrv, 2)}},
		Groups:  &fakeGroups{all: []*node.Group{{ID: 7, MemberIDs: []int64{1, 2, 99}}}}, // 99 dangles
		History: hist,
		Exec:    probe.New(probe.Config{Timeout: 500 * time.Millisecond, MaxParallel: 4}, zap.NewNop()),
		Log:     zap.NewNop(),
	}

	res, err := r.ExecuteTest(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, res.Success, "slow member fails the run")
	require.Len(t, res.Outcomes, 2, "dangling member dropped, not probed")
	require.True(t, res.Outcomes[0].Success)
	require.False(t, res.Outcomes[1].Success)

	require.Len(t, hist.recs, 2, "one record per probed node")
	for _, rec := range hist.recs {
		require.NotNil(t, rec.TestID)
		require.Equal(t, int64(1), *rec.TestID)
		require.Contains(t, rec.Input, "region")
	}
	require.Equal(t, int64(1), hist.recs[0].NodeID)
	require.True(t, hist.recs[0].Success)
	require.Equal(t, int64(2), hist.recs[1].NodeID)
	require.False(t, hist.recs[1].Success)
}

func TestExecuteTestEmptyTargetRecordsSyntheticOutcome(t *testing.T) {
	hist := &fakeHistory{}
	r := &Runner{
		Tests: &fakeTests{byID: map[int64]*synthtest.Test{
			1: {ID: 1, TargetType: synthtest.TargetNode, TargetID: 42, ApiID: 5, ThresholdMs: 100},
		}},
		Apis: &fakeApis{byID: map[int64]*apidef.Definition{
			5: {ID: 5, Name: "status", URI: "/", Method: "GET"},
		}},
		Nodes:   &fakeNodes{},
		Groups:  &fakeGroups{},
		History: hist,
		Exec:    probe.New(probe.Config{Timeout: time.Second}, zap.NewNop()),
		Log:     zap.NewNop(),
	}

	res, err := r.ExecuteTest(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Len(t, res.Outcomes, 1)
	require.Equal(t, "<system>", res.Outcomes[0].NodeName)

	require.Len(t, hist.recs, 1, "synthetic outcome is recorded too")
	require.Equal(t, int64(0), hist.recs[0].NodeID)
	require.False(t, hist.recs[0].Success)
}

func TestExecuteTestAppendFailureFailsTheRun(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()

	hist := &failingHistory{}
	r := &Runner{
		Tests: &fakeTests{byID: map[int64]*synthtest.Test{
			1: {ID: 1, TargetType: synthtest.TargetNode, TargetID: 1, ApiID: 5, ThresholdMs: 1000},
		}},
		Apis: &fakeApis{byID: map[int64]*apidef.Definition{
			5: {ID: 5, Name: "status", URI: "/", Method: "GET"},
		}},
		Nodes:   &fakeNodes{all: []*node.Node{serverNode(t, okSrv, 1)}},
		Groups:  &fakeGroups{},
		History: hist,
		Exec:    probe.New(probe.Config{Timeout: time.Second}, zap.NewNop()),
		Log:     zap.NewNop(),
	}

	res, err := r.ExecuteTest(context.Background(), 1)
	require.ErrorIs(t, err, errStoreDown, "unstorable records fail the run")
	require.NotNil(t, res, "probe outcomes survive the storage failure")
	require.Len(t, res.Outcomes, 1)
	require.True(t, res.Outcomes[0].Success)
	require.GreaterOrEqual(t, hist.appends, 2, "append is retried before giving up")
}

func TestExecuteTestMissingApiIsBrokenRef(t *testing.T) {
	r := &Runner{
		Tests: &fakeTests{byID: map[int64]*synthtest.Test{
			1: {ID: 1, TargetType: synthtest.TargetNode, TargetID: 1, ApiID: 99},
		}},
		Apis:    &fakeApis{byID: map[int64]*apidef.Definition{}},
		Nodes:   &fakeNodes{},
		Groups:  &fakeGroups{},
		History: &fakeHistory{},
		Exec:    probe.New(probe.Config{}, zap.NewNop()),
		Log:     zap.NewNop(),
	}

	_, err := r.ExecuteTest(context.Background(), 1)
	var broken *BrokenRefError
	require.ErrorAs(t, err, &broken)
	require.Equal(t, int64(99), broken.ApiID)
	require.ErrorIs(t, err, errNotFound)
}

func TestExecuteTestMissingRequiredParamFailsBeforeNetwork(t *testing.T) {
	hist := &fakeHistory{}
	r := &Runner{
		Tests: &fakeTests{byID: map[int64]*synthtest.Test{
			1: {ID: 1, TargetType: synthtest.TargetNode, TargetID: 1, ApiID: 5,
				ParamValues: map[int64]string{10: "  "}},
		}},
		Apis: &fakeApis{byID: map[int64]*apidef.Definition{
			5: {ID: 5, URI: "/", Method: "GET",
				Params: []apidef.Parameter{{ID: 10, Name: "region", Required: true}}},
		}},
		Nodes:   &fakeNodes{},
		Groups:  &fakeGroups{},
		History: hist,
		Exec:    probe.New(probe.Config{}, zap.NewNop()),
		Log:     zap.NewNop(),
	}

	_, err := r.ExecuteTest(context.Background(), 1)
	var missing *bind.MissingParamError
	require.ErrorAs(t, err, &missing)
	require.Empty(t, hist.recs, "nothing recorded on validation failure")
}

func TestExecuteAdHocDoesNotPersist(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()

	hist := &fakeHistory{}
	r := &Runner{
		Tests: &fakeTests{},
		Apis: &fakeApis{byID: map[int64]*apidef.Definition{
			5: {ID: 5, URI: "/", Method: "GET"},
		}},
		Nodes:   &fakeNodes{all: []*node.Node{serverNode(t, okSrv, 1)}},
		Groups:  &fakeGroups{},
		History: hist,
		Exec:    probe.New(probe.Config{Timeout: time.Second}, zap.NewNop()),
		Log:     zap.NewNop(),
	}

	res, err := r.ExecuteAdHoc(context.Background(), 5, nil, synthtest.TargetNode, 1)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Nil(t, res.TestID)
	require.Empty(t, hist.recs, "previews never reach the store")
}
