package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"agentescrow/core"
	"agentescrow/crypto"
	"agentescrow/native/escrow"
)

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAmount(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("amount required")
	}
	amount, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

type escrowCreateParams struct {
	Caller         string `json:"caller"`
	EscrowID       uint64 `json:"escrowId"`
	Recipient      string `json:"recipient"`
	Arbiter        string `json:"arbiter"`
	FeeRecipient   string `json:"feeRecipient"`
	Mint           string `json:"mint,omitempty"`
	Amount         string `json:"amount"`
	Deadline       int64  `json:"deadline"`
	TermsHash      string `json:"termsHash"`
	FeeBasisPoints uint16 `json:"feeBasisPoints"`
	AutoReleaseAt  int64  `json:"autoReleaseAt,omitempty"`
}

func (p *escrowCreateParams) toCreateParams() (caller [20]byte, params escrow.CreateParams, err error) {
	if caller, err = parseAddress(p.Caller); err != nil {
		return caller, params, fmt.Errorf("caller: %w", err)
	}
	if params.Recipient, err = parseAddress(p.Recipient); err != nil {
		return caller, params, fmt.Errorf("recipient: %w", err)
	}
	if params.Arbiter, err = parseAddress(p.Arbiter); err != nil {
		return caller, params, fmt.Errorf("arbiter: %w", err)
	}
	if params.FeeRecipient, err = parseAddress(p.FeeRecipient); err != nil {
		return caller, params, fmt.Errorf("feeRecipient: %w", err)
	}
	if params.Amount, err = parseAmount(p.Amount); err != nil {
		return caller, params, err
	}
	if params.TermsHash, err = parseHash32(p.TermsHash); err != nil {
		return caller, params, fmt.Errorf("termsHash: %w", err)
	}
	params.EscrowID = p.EscrowID
	params.Deadline = p.Deadline
	params.FeeBasisPoints = p.FeeBasisPoints
	params.AutoReleaseAt = p.AutoReleaseAt
	return caller, params, nil
}

type escrowActionParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Reason  string `json:"reason,omitempty"`
	Winner  string `json:"winner,omitempty"`
}

func (p *escrowActionParams) identities() (caller, addr [20]byte, err error) {
	if caller, err = parseAddress(p.Caller); err != nil {
		return caller, addr, fmt.Errorf("caller: %w", err)
	}
	if addr, err = parseAddress(p.Address); err != nil {
		return caller, addr, fmt.Errorf("address: %w", err)
	}
	return caller, addr, nil
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params escrowCreateParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	caller, createParams, err := params.toCreateParams()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := s.node.EscrowCreate(caller, createParams)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatEscrowResult(esc))
	return nil
}

func (s *Server) handleEscrowAction(w http.ResponseWriter, req *RPCRequest, op func(addr, caller [20]byte) (*escrow.Escrow, error)) *RPCError {
	var params escrowActionParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	caller, addr, err := params.identities()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := op(addr, caller)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatEscrowResult(esc))
	return nil
}

func (s *Server) handleEscrowAccept(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.handleEscrowAction(w, req, s.node.EscrowAccept)
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.handleEscrowAction(w, req, s.node.EscrowRelease)
}

func (s *Server) handleEscrowAutoRelease(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.handleEscrowAction(w, req, s.node.EscrowAutoRelease)
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.handleEscrowAction(w, req, s.node.EscrowRefund)
}

func (s *Server) handleEscrowDispute(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params escrowActionParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	caller, addr, err := params.identities()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := s.node.EscrowDispute(addr, caller, []byte(params.Reason))
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatEscrowResult(esc))
	return nil
}

func (s *Server) handleEscrowResolve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params escrowActionParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	caller, addr, err := params.identities()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	winner, err := parseWinner(params.Winner)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := s.node.EscrowResolve(addr, caller, winner)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatEscrowResult(esc))
	return nil
}

type escrowGetParams struct {
	Address string `json:"address"`
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params escrowGetParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := s.node.EscrowGet(addr)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatEscrowResult(esc))
	return nil
}

type escrowListParams struct {
	Creator string `json:"creator"`
}

type escrowListResult struct {
	Escrows          []EscrowResult          `json:"escrows"`
	MilestoneEscrows []MilestoneEscrowResult `json:"milestoneEscrows"`
}

func (s *Server) handleEscrowList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params escrowListParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	creator, err := parseAddress(params.Creator)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	singles, milestones, err := s.node.EscrowList(creator)
	if err != nil {
		return fail(w, req.ID, err)
	}
	result := escrowListResult{
		Escrows:          make([]EscrowResult, 0, len(singles)),
		MilestoneEscrows: make([]MilestoneEscrowResult, 0, len(milestones)),
	}
	for _, esc := range singles {
		result.Escrows = append(result.Escrows, formatEscrowResult(esc))
	}
	for _, esc := range milestones {
		result.MilestoneEscrows = append(result.MilestoneEscrows, formatMilestoneEscrowResult(esc))
	}
	writeResult(w, req.ID, result)
	return nil
}

type deriveAddressParams struct {
	Kind     string `json:"kind"`
	Creator  string `json:"creator"`
	EscrowID uint64 `json:"escrowId"`
	Agent    string `json:"agent,omitempty"`
}

type deriveAddressResult struct {
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
}

// handleEscrowDeriveAddress exposes the pure address derivation so callers
// can probe account existence before submitting an operation.
func (s *Server) handleEscrowDeriveAddress(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params deriveAddressParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	var (
		addr [20]byte
		bump uint8
	)
	switch strings.ToLower(strings.TrimSpace(params.Kind)) {
	case "escrow", "native", "":
		creator, err := parseAddress(params.Creator)
		if err != nil {
			return failParams(w, req.ID, err.Error())
		}
		addr, bump = crypto.EscrowPDA(creator, params.EscrowID)
	case "token", "tokenescrow", "token_escrow":
		creator, err := parseAddress(params.Creator)
		if err != nil {
			return failParams(w, req.ID, err.Error())
		}
		addr, bump = crypto.TokenEscrowPDA(creator, params.EscrowID)
	case "milestone", "milestoneescrow", "milestone_escrow":
		creator, err := parseAddress(params.Creator)
		if err != nil {
			return failParams(w, req.ID, err.Error())
		}
		addr, bump = crypto.MilestoneEscrowPDA(creator, params.EscrowID)
	case "reputation":
		agent, err := parseAddress(params.Agent)
		if err != nil {
			return failParams(w, req.ID, err.Error())
		}
		addr, bump = crypto.ReputationPDA(agent)
	default:
		return failParams(w, req.ID, fmt.Sprintf("unknown kind %q", params.Kind))
	}
	writeResult(w, req.ID, deriveAddressResult{Address: formatAddress(addr), Bump: bump})
	return nil
}

func (s *Server) handleTokenEscrowCreate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params escrowCreateParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	caller, createParams, err := params.toCreateParams()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	mint, err := parseAddress(params.Mint)
	if err != nil {
		return failParams(w, req.ID, fmt.Sprintf("mint: %v", err))
	}
	esc, err := s.node.TokenEscrowCreate(caller, mint, createParams)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatEscrowResult(esc))
	return nil
}

func (s *Server) handleTokenEscrowAccept(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.handleEscrowAction(w, req, s.node.TokenEscrowAccept)
}

func (s *Server) handleTokenEscrowRelease(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.handleEscrowAction(w, req, s.node.TokenEscrowRelease)
}

func (s *Server) handleTokenEscrowAutoRelease(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.handleEscrowAction(w, req, s.node.TokenEscrowAutoRelease)
}

func (s *Server) handleTokenEscrowRefund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	return s.handleEscrowAction(w, req, s.node.TokenEscrowRefund)
}

func (s *Server) handleTokenEscrowDispute(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params escrowActionParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	caller, addr, err := params.identities()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := s.node.TokenEscrowDispute(addr, caller, []byte(params.Reason))
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatEscrowResult(esc))
	return nil
}

func (s *Server) handleTokenEscrowResolve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params escrowActionParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	caller, addr, err := params.identities()
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	winner, err := parseWinner(params.Winner)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := s.node.TokenEscrowResolve(addr, caller, winner)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, formatEscrowResult(esc))
	return nil
}

func (s *Server) handleTokenEscrowGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params escrowGetParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	esc, err := s.node.EscrowGet(addr)
	if err != nil {
		return fail(w, req.ID, err)
	}
	if esc.Kind != escrow.KindToken {
		return fail(w, req.ID, core.ErrEscrowNotFound)
	}
	writeResult(w, req.ID, formatEscrowResult(esc))
	return nil
}
