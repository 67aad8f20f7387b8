package rpc

import (
	"fmt"
	"net/http"
)

type bankParams struct {
	Address string `json:"address"`
	Mint    string `json:"mint,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

type bankBalanceResult struct {
	Address string `json:"address"`
	Mint    string `json:"mint,omitempty"`
	Balance string `json:"balance"`
}

func (s *Server) handleBankBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params bankParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, bankBalanceResult{
		Address: formatAddress(addr),
		Balance: balance.String(),
	})
	return nil
}

func (s *Server) handleBankMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params bankParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	if err := s.node.Mint(addr, amount); err != nil {
		return fail(w, req.ID, err)
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, bankBalanceResult{
		Address: formatAddress(addr),
		Balance: balance.String(),
	})
	return nil
}

func (s *Server) handleBankTokenBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params bankParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	mint, err := parseAddress(params.Mint)
	if err != nil {
		return failParams(w, req.ID, fmt.Sprintf("mint: %v", err))
	}
	balance, err := s.node.TokenBalance(mint, addr)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, bankBalanceResult{
		Address: formatAddress(addr),
		Mint:    formatAddress(mint),
		Balance: fmt.Sprintf("%d", balance),
	})
	return nil
}

func (s *Server) handleBankTokenMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) *RPCError {
	var params bankParams
	if err := decodeParams(req, &params); err != nil {
		return failParams(w, req.ID, err.Error())
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	mint, err := parseAddress(params.Mint)
	if err != nil {
		return failParams(w, req.ID, fmt.Sprintf("mint: %v", err))
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return failParams(w, req.ID, err.Error())
	}
	if err := s.node.TokenMint(mint, addr, amount); err != nil {
		return fail(w, req.ID, err)
	}
	balance, err := s.node.TokenBalance(mint, addr)
	if err != nil {
		return fail(w, req.ID, err)
	}
	writeResult(w, req.ID, bankBalanceResult{
		Address: formatAddress(addr),
		Mint:    formatAddress(mint),
		Balance: fmt.Sprintf("%d", balance),
	})
	return nil
}
