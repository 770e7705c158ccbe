package probe

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Probeus/internal/domain/apidef"
	"github.com/NordCoder/Probeus/internal/domain/node"
)

func testNode(t *testing.T, ts *httptest.Server, id int64) *node.Node {
	t.Helper()
	host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &node.Node{ID: id, Name: "node-" + strconv.FormatInt(id, 10), Host: host, Port: port}
}

func newExecutor(timeout time.Duration) *Executor {
	return New(Config{Timeout: timeout, MaxParallel: 4}, zap.NewNop())
}

func TestExecuteGetPutsParamsInQuery(t *testing.T) {
	var gotQuery map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"region": r.URL.Query().Get("region"),
			"q":      r.URL.Query().Get("q"),
		}
		require.Equal(t, "/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	e := newExecutor(2 * time.Second)
	def := &apidef.Definition{Name: "status", URI: "/status", Method: "GET"}
	out, err := e.Execute(context.Background(), def, map[string]string{"region": "eu", "q": "x"}, testNode(t, ts, 1))
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, http.StatusOK, out.StatusCode)
	require.Equal(t, map[string]string{"region": "eu", "q": "x"}, gotQuery)
	require.JSONEq(t, `{"ok":true}`, string(out.Body))
}

func TestExecutePostSendsJSONBody(t *testing.T) {
	var gotBody map[string]string
	var gotCT string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	e := newExecutor(2 * time.Second)
	def := &apidef.Definition{Name: "create", URI: "/items", Method: "POST"}
	out, err := e.Execute(context.Background(), def, map[string]string{"name": "widget"}, testNode(t, ts, 1))
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, "application/json", gotCT)
	require.Equal(t, map[string]string{"name": "widget"}, gotBody)
}

func TestExecuteServerErrorIsFailedOutcome(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	e := newExecutor(2 * time.Second)
	def := &apidef.Definition{Name: "status", URI: "/", Method: "GET"}
	out, err := e.Execute(context.Background(), def, nil, testNode(t, ts, 1))
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, http.StatusInternalServerError, out.StatusCode)
}

func TestExecuteSurfacedRedirectIsFailedOutcome(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer ts.Close()

	e := newExecutor(2 * time.Second)
	def := &apidef.Definition{Name: "status", URI: "/", Method: "GET"}
	out, err := e.Execute(context.Background(), def, nil, testNode(t, ts, 1))
	require.NoError(t, err)
	require.False(t, out.Success, "a 3xx the client could not follow is not a success")
	require.Equal(t, http.StatusNotModified, out.StatusCode)
}

func TestExecuteTransportFailureIsFailedOutcomeNotError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	n := testNode(t, ts, 1)
	ts.Close() // nothing listening anymore

	e := newExecutor(time.Second)
	def := &apidef.Definition{Name: "status", URI: "/", Method: "GET"}
	out, err := e.Execute(context.Background(), def, nil, n)
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, 0, out.StatusCode)
	require.Contains(t, string(out.Body), "error")
}

func TestExecuteUnsupportedMethod(t *testing.T) {
	e := newExecutor(time.Second)
	def := &apidef.Definition{Name: "weird", URI: "/", Method: "PATCH"}
	_, err := e.Execute(context.Background(), def, nil, &node.Node{ID: 1, Host: "localhost", Port: 80})
	require.Error(t, err)
}

func TestExecuteWrapsNonJSONBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer ts.Close()

	e := newExecutor(2 * time.Second)
	def := &apidef.Definition{Name: "status", URI: "/", Method: "GET"}
	out, err := e.Execute(context.Background(), def, nil, testNode(t, ts, 1))
	require.NoError(t, err)
	require.True(t, json.Valid(out.Body))
	var s string
	require.NoError(t, json.Unmarshal(out.Body, &s))
	require.Equal(t, "plain text", s)
}

func TestExecuteAllZeroNodesSyntheticOutcome(t *testing.T) {
	e := newExecutor(time.Second)
	def := &apidef.Definition{Name: "status", URI: "/", Method: "GET"}
	outs, err := e.ExecuteAll(context.Background(), def, nil, nil)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.Equal(t, int64(0), outs[0].NodeID)
	require.Equal(t, "<system>", outs[0].NodeName)
	require.False(t, outs[0].Success)
	require.JSONEq(t, `{"error":"no target nodes"}`, string(outs[0].Body))
	require.False(t, AllSucceeded(outs))
}

func TestExecuteAllIsolatesSlowSibling(t *testing.T) {
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer fast.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	e := newExecutor(500 * time.Millisecond)
	def := &apidef.Definition{Name: "status", URI: "/", Method: "GET"}
	nodes := []*node.Node{testNode(t, fast, 1), testNode(t, slow, 2)}

	outs, err := e.ExecuteAll(context.Background(), def, nil, nodes)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	require.True(t, outs[0].Success, "fast node unaffected by slow sibling")
	require.False(t, outs[1].Success, "slow node times out into a failed outcome")
	require.False(t, AllSucceeded(outs))
}

func TestAllSucceeded(t *testing.T) {
	require.False(t, AllSucceeded(nil))
	require.True(t, AllSucceeded([]Outcome{{Success: true}}))
	require.False(t, AllSucceeded([]Outcome{{Success: true}, {Success: false}}))
}

func TestSortByNodeID(t *testing.T) {
	outs := []Outcome{{NodeID: 3}, {NodeID: 1}, {NodeID: 2}}
	SortByNodeID(outs)
	require.Equal(t, int64(1), outs[0].NodeID)
	require.Equal(t, int64(3), outs[2].NodeID)
}
