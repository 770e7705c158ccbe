package api_server

import (
	"errors"
	"net/http"

	"github.com/NordCoder/Probeus/internal/domain/synthtest"
	"github.com/NordCoder/Probeus/internal/services/execution"
)

func (s *Server) executeTest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid test id")
		return
	}

	res, err := s.Runner.ExecuteTest(r.Context(), id)
	if err != nil {
		var broken *execution.BrokenRefError
		if errors.As(err, &broken) {
			s.fail(w, http.StatusUnprocessableEntity, "broken_reference", broken.Error())
			return
		}
		s.failErr(w, r, err)
		return
	}
	s.ok(w, res)
}

type adHocRequest struct {
	TargetType synthtest.TargetType `json:"target_type"`
	TargetID   int64                `json:"target_id"`
	// TargetNode is the short form for single-node previews.
	TargetNode int64             `json:"target_node"`
	Params     map[string]string `json:"params"`
}

// executeAdHoc probes an API with caller-supplied parameter values and
// returns the outcome without recording anything.
func (s *Server) executeAdHoc(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "bad_id", "invalid api id")
		return
	}
	var req adHocRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}

	tt, targetID := req.TargetType, req.TargetID
	if req.TargetNode > 0 {
		tt, targetID = synthtest.TargetNode, req.TargetNode
	}
	if tt != synthtest.TargetNode && tt != synthtest.TargetGroup {
		s.fail(w, http.StatusBadRequest, "validation", "target_type must be node or group")
		return
	}

	res, err := s.Runner.ExecuteAdHoc(r.Context(), id, req.Params, tt, targetID)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, res)
}
