// Package api_server exposes the registry, execution and read paths as
// a JSON HTTP API.
package api_server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Probeus/internal/bind"
	"github.com/NordCoder/Probeus/internal/domain/apidef"
	"github.com/NordCoder/Probeus/internal/domain/history"
	"github.com/NordCoder/Probeus/internal/domain/node"
	"github.com/NordCoder/Probeus/internal/domain/synthtest"
	"github.com/NordCoder/Probeus/internal/domain/tag"
	"github.com/NordCoder/Probeus/internal/obs"
	"github.com/NordCoder/Probeus/internal/repository/postgres"
	"github.com/NordCoder/Probeus/internal/repository/sqlite"
	"github.com/NordCoder/Probeus/internal/services/execution"
)

type Server struct {
	Log     *zap.Logger
	Nodes   node.Repo
	Groups  node.GroupRepo
	Apis    apidef.Repo
	Tests   synthtest.Repo
	Tags    tag.Repo
	History history.Store
	Runner  *execution.Runner
	Health  func(context.Context) error
}

// Routes builds the full route table. Method and path-variable matching
// come from the stdlib mux patterns.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /nodes", s.createNode)
	mux.HandleFunc("GET /nodes", s.listNodes)
	mux.HandleFunc("GET /nodes/{id}", s.getNode)
	mux.HandleFunc("PUT /nodes/{id}", s.updateNode)
	mux.HandleFunc("DELETE /nodes/{id}", s.deleteNode)

	mux.HandleFunc("POST /node-groups", s.createGroup)
	mux.HandleFunc("GET /node-groups", s.listGroups)
	mux.HandleFunc("GET /node-groups/{id}", s.getGroup)
	mux.HandleFunc("PUT /node-groups/{id}", s.updateGroup)
	mux.HandleFunc("DELETE /node-groups/{id}", s.deleteGroup)

	mux.HandleFunc("POST /apis", s.createApi)
	mux.HandleFunc("GET /apis", s.listApis)
	mux.HandleFunc("GET /apis/{id}", s.getApi)
	mux.HandleFunc("PUT /apis/{id}", s.updateApi)
	mux.HandleFunc("DELETE /apis/{id}", s.deleteApi)
	mux.HandleFunc("POST /apis/{id}/execute", s.executeAdHoc)

	mux.HandleFunc("POST /synthetic-tests", s.createTest)
	mux.HandleFunc("GET /synthetic-tests", s.listTests)
	mux.HandleFunc("GET /synthetic-tests/{id}", s.getTest)
	mux.HandleFunc("PUT /synthetic-tests/{id}", s.updateTest)
	mux.HandleFunc("DELETE /synthetic-tests/{id}", s.deleteTest)
	mux.HandleFunc("POST /synthetic-tests/{id}/execute", s.executeTest)
	mux.HandleFunc("GET /synthetic-tests/{id}/history", s.testHistory)
	mux.HandleFunc("GET /synthetic-tests/{id}/stats", s.testStats)

	mux.HandleFunc("GET /tags", s.listTags)
	mux.HandleFunc("POST /tags", s.createTag)
	mux.HandleFunc("DELETE /tags/{id}", s.deleteTag)
	mux.HandleFunc("POST /tags/cleanup", s.cleanupTags)

	mux.HandleFunc("GET /history", s.queryHistory)
	mux.HandleFunc("GET /alerts", s.listAlerts)

	mux.Handle("GET /metrics", obs.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.Health != nil {
			if err := s.Health(r.Context()); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Total   *int64 `json:"total,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (s *Server) created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: data})
}

func (s *Server) okList(w http.ResponseWriter, data any, total int64) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Total: &total})
}

func (s *Server) fail(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: code, Message: msg})
}

// failErr maps domain errors onto HTTP statuses. A test whose API
// definition vanished is a referential inconsistency, not client error.
func (s *Server) failErr(w http.ResponseWriter, r *http.Request, err error) {
	var missing *bind.MissingParamError
	switch {
	case errors.As(err, &missing):
		s.fail(w, http.StatusBadRequest, "missing_parameter", err.Error())
	case errors.Is(err, postgres.ErrNotFound), errors.Is(err, sqlite.ErrNotFound):
		s.fail(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, postgres.ErrConflict):
		s.fail(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, postgres.ErrConstraint):
		s.fail(w, http.StatusUnprocessableEntity, "constraint", err.Error())
	default:
		obs.WithTrace(r.Context(), s.Log).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		s.fail(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func queryInt64(r *http.Request, key string) *int64 {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func queryBool(r *http.Request, key string) *bool {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func queryTime(r *http.Request, key string) *time.Time {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, raw); err == nil {
			return &t
		}
	}
	return nil
}

func queryIDList(r *http.Request, key string) []int64 {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		if v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}
