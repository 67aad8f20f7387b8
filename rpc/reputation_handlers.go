package rpc

import (
	"net/http"
)

type reputationParams struct {
	Agent string `json:"agent"`
}

func (s *Server) handleReputationInit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params reputationParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	agent, err := parseAddress(params.Agent)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	rep, err := s.node.ReputationInit(agent)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatReputationResult(rep))
	return nil
}

func (s *Server) handleReputationGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params reputationParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	agent, err := parseAddress(params.Agent)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	rep, err := s.node.ReputationGet(agent)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatReputationResult(rep))
	return nil
}
