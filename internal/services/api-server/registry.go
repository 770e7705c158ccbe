package api_server

import (
	"net/http"
	"strings"
	"time"

	"github.com/NordCoder/Probeus/internal/domain/apidef"
	"github.com/NordCoder/Probeus/internal/domain/node"
	"github.com/NordCoder/Probeus/internal/domain/synthtest"
	"github.com/NordCoder/Probeus/internal/tags"
)

// --- nodes ---

func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	var n node.Node
	if err := decode(r, &n); err != nil {
		s.fail(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	if strings.TrimSpace(n.Name) == "" || strings.TrimSpace(n.Host) == "" {
		s.fail(w, http.StatusBadRequest, "validation", "name and host are required")
		return
	}
	n.Tags = tags.Canon(n.Tags)
	if err := s.Nodes.Create(r.Context(), &n); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.created(w, &n)
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	list, err := s.Nodes.List(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.okList(w, list, int64(len(list)))
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid node id")
		return
	}
	n, err := s.Nodes.GetByID(r.Context(), id)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, n)
}

func (s *Server) updateNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid node id")
		return
	}
	var n node.Node
	if err := decode(r, &n); err != nil {
		s.fail(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	n.ID = id
	n.Tags = tags.Canon(n.Tags)
	if err := s.Nodes.Update(r.Context(), &n); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, &n)
}

func (s *Server) deleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid node id")
		return
	}
	if err := s.Nodes.Delete(r.Context(), id); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, nil)
}

// --- node groups ---

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var g node.Group
	if err := decode(r, &g); err != nil {
		s.fail(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	if strings.TrimSpace(g.Name) == "" {
		s.fail(w, http.StatusBadRequest, "validation", "name is required")
		return
	}
	if err := s.Groups.Create(r.Context(), &g); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.created(w, &g)
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	list, err := s.Groups.List(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.okList(w, list, int64(len(list)))
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid group id")
		return
	}
	g, err := s.Groups.GetByID(r.Context(), id)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, g)
}

func (s *Server) updateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid group id")
		return
	}
	var g node.Group
	if err := decode(r, &g); err != nil {
		s.fail(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	g.ID = id
	if err := s.Groups.Update(r.Context(), &g); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, &g)
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid group id")
		return
	}
	if err := s.Groups.Delete(r.Context(), id); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, nil)
}

// --- api definitions ---

func (s *Server) createApi(w http.ResponseWriter, r *http.Request) {
	var d apidef.Definition
	if err := decode(r, &d); err != nil {
		s.fail(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	if strings.TrimSpace(d.Name) == "" || strings.TrimSpace(d.URI) == "" {
		s.fail(w, http.StatusBadRequest, "validation", "name and uri are required")
		return
	}
	if !validMethod(d.Method) {
		s.fail(w, http.StatusBadRequest, "validation", "method must be GET, POST, PUT or DELETE")
		return
	}
	d.Method = strings.ToUpper(d.Method)
	d.Tags = tags.Canon(d.Tags)
	if err := s.Apis.Create(r.Context(), &d); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.created(w, &d)
}

func (s *Server) listApis(w http.ResponseWriter, r *http.Request) {
	list, err := s.Apis.List(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.okList(w, list, int64(len(list)))
}

func (s *Server) getApi(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid api id")
		return
	}
	d, err := s.Apis.GetByID(r.Context(), id)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, d)
}

func (s *Server) updateApi(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid api id")
		return
	}
	var d apidef.Definition
	if err := decode(r, &d); err != nil {
		s.fail(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	if !validMethod(d.Method) {
		s.fail(w, http.StatusBadRequest, "validation", "method must be GET, POST, PUT or DELETE")
		return
	}
	d.ID = id
	d.Method = strings.ToUpper(d.Method)
	d.Tags = tags.Canon(d.Tags)
	if err := s.Apis.Update(r.Context(), &d); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, &d)
}

func (s *Server) deleteApi(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid api id")
		return
	}
	if err := s.Apis.Delete(r.Context(), id); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, nil)
}

// --- synthetic tests ---

func (s *Server) createTest(w http.ResponseWriter, r *http.Request) {
	var t synthtest.Test
	if err := decode(r, &t); err != nil {
		s.fail(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	if msg := validateTest(&t); msg != "" {
		s.fail(w, http.StatusBadRequest, "validation", msg)
		return
	}
	t.Tags = tags.Canon(t.Tags)
	if t.NextRun.IsZero() {
		t.NextRun = time.Now().UTC()
	}
	if err := s.Tests.Create(r.Context(), &t); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.created(w, &t)
}

func (s *Server) listTests(w http.ResponseWriter, r *http.Request) {
	list, err := s.Tests.List(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.okList(w, list, int64(len(list)))
}

func (s *Server) getTest(w http.ResponseWriter, r *http.Request) {
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
	s.ok(w, t)
}

func (s *Server) updateTest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid test id")
		return
	}
	var t synthtest.Test
	if err := decode(r, &t); err != nil {
		s.fail(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	if msg := validateTest(&t); msg != "" {
		s.fail(w, http.StatusBadRequest, "validation", msg)
		return
	}
	t.ID = id
	t.Tags = tags.Canon(t.Tags)
	if err := s.Tests.Update(r.Context(), &t); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, &t)
}

// deleteTest removes the test and its history in one call; orphaned
// history would otherwise surface as threshold-less records that every
// read path has to skip.
func (s *Server) deleteTest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid test id")
		return
	}
	if _, err := s.History.DeleteByTest(r.Context(), id); err != nil {
		s.failErr(w, r, err)
		return
	}
	if err := s.Tests.Delete(r.Context(), id); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, nil)
}

// --- tags ---

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	list, err := s.Tags.List(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.okList(w, list, int64(len(list)))
}

func (s *Server) createTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.fail(w, http.StatusBadRequest, "validation", "name is required")
		return
	}
	t, err := s.Tags.Ensure(r.Context(), req.Name)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.created(w, t)
}

func (s *Server) deleteTag(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid tag id")
		return
	}
	if err := s.Tags.Delete(r.Context(), id); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, nil)
}

func (s *Server) cleanupTags(w http.ResponseWriter, r *http.Request) {
	n, err := s.Tags.DeleteOrphans(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, map[string]int64{"deleted": n})
}

func validMethod(m string) bool {
	switch strings.ToUpper(strings.TrimSpace(m)) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func validateTest(t *synthtest.Test) string {
	if strings.TrimSpace(t.Name) == "" {
		return "name is required"
	}
	if t.TargetType != synthtest.TargetNode && t.TargetType != synthtest.TargetGroup {
		return "target_type must be node or group"
	}
	if t.ApiID <= 0 {
		return "api_id is required"
	}
	if t.IntervalSec <= 0 {
		return "interval_sec must be positive"
	}
	if t.ThresholdMs <= 0 {
		return "threshold_ms must be positive"
	}
	return ""
}
