package rpc

import (
	"fmt"
	"net/http"

	"agentescrow/native/escrow"
)

type milestoneInputParams struct {
	Amount          string `json:"amount"`
	DescriptionHash string `json:"descriptionHash"`
}

type milestoneCreateParams struct {
	Caller         string                 `json:"caller"`
	EscrowID       uint64                 `json:"escrowId"`
	Recipient      string                 `json:"recipient"`
	Arbiter        string                 `json:"arbiter"`
	FeeRecipient   string                 `json:"feeRecipient"`
	Deadline       int64                  `json:"deadline"`
	TermsHash      string                 `json:"termsHash"`
	FeeBasisPoints uint16                 `json:"feeBasisPoints"`
	Milestones     []milestoneInputParams `json:"milestones"`
}

type milestoneActionParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Index   *uint8 `json:"index,omitempty"`
	Winner  string `json:"winner,omitempty"`
}

func (p *milestoneActionParams) identities() (caller, addr [20]byte, err error) {
	if caller, err = parseAddress(p.Caller); err != nil {
		return caller, addr, fmt.Errorf("caller: %w", err)
	}
	if addr, err = parseAddress(p.Address); err != nil {
		return caller, addr, fmt.Errorf("address: %w", err)
	}
	return caller, addr, nil
}

func (p *milestoneActionParams) milestoneIndex() (uint8, error) {
	if p.Index == nil {
		return 0, fmt.Errorf("index required")
	}
	return *p.Index, nil
}

func (s *Server) handleMilestoneCreate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params milestoneCreateParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return failParams(w, req.ID, fmt.Sprintf("caller: %v", err))
	}
	createParams := escrow.MilestoneCreateParams{
		EscrowID:       params.EscrowID,
		Deadline:       params.Deadline,
		FeeBasisPoints: params.FeeBasisPoints,
	}
	if createParams.Recipient, err = parseAddress(params.Recipient); err != nil {
		return failParams(w, req.ID, fmt.Sprintf("recipient: %v", err))
	}
	if createParams.Arbiter, err = parseAddress(params.Arbiter); err != nil {
		return failParams(w, req.ID, fmt.Sprintf("arbiter: %v", err))
	}
	if createParams.FeeRecipient, err = parseAddress(params.FeeRecipient); err != nil {
		return failParams(w, req.ID, fmt.Sprintf("feeRecipient: %v", err))
	}
	if createParams.TermsHash, err = parseHash32(params.TermsHash); err != nil {
		return failParams(w, req.ID, fmt.Sprintf("termsHash: %v", err))
	}
	createParams.Milestones = make([]escrow.MilestoneInput, len(params.Milestones))
	for i, input := range params.Milestones {
		amount, err := parseAmount(input.Amount)
		if err != nil {
			return failParams(w, req.ID, fmt.Sprintf("milestone %d: %v", i, err))
		}
		hash, err := parseHash32(input.DescriptionHash)
		if err != nil {
			return failParams(w, req.ID, fmt.Sprintf("milestone %d: %v", i, err))
		}
		createParams.Milestones[i] = escrow.MilestoneInput{Amount: amount, DescriptionHash: hash}
	}
	esc, err := s.node.MilestoneEscrowCreate(caller, createParams)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatMilestoneEscrowResult(esc))
	return nil
}

func (s *Server) handleMilestoneAccept(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params milestoneActionParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	caller, addr, err := params.identities()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := s.node.MilestoneEscrowAccept(addr, caller)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatMilestoneEscrowResult(esc))
	return nil
}

func (s *Server) handleMilestoneRelease(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params milestoneActionParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	caller, addr, err := params.identities()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	index, err := params.milestoneIndex()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := s.node.MilestoneEscrowRelease(addr, caller, index)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatMilestoneEscrowResult(esc))
	return nil
}

func (s *Server) handleMilestoneDispute(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params milestoneActionParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	caller, addr, err := params.identities()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	index, err := params.milestoneIndex()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := s.node.MilestoneEscrowDispute(addr, caller, index)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatMilestoneEscrowResult(esc))
	return nil
}

func (s *Server) handleMilestoneResolve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params milestoneActionParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	caller, addr, err := params.identities()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	index, err := params.milestoneIndex()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	winner, err := parseWinner(params.Winner)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := s.node.MilestoneEscrowResolve(addr, caller, index, winner)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatMilestoneEscrowResult(esc))
	return nil
}

func (s *Server) handleMilestoneRefund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params milestoneActionParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	caller, addr, err := params.identities()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := s.node.MilestoneEscrowRefund(addr, caller)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatMilestoneEscrowResult(esc))
	return nil
}

func (s *Server) handleMilestoneGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params escrowGetParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := s.node.MilestoneEscrowGet(addr)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatMilestoneEscrowResult(esc))
	return nil
}
