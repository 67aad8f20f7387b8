package rpc

import (
	"errors"
	"net/http"

	"agentescrow/core"
	"agentescrow/core/state"
	"agentescrow/native/escrow"
	"agentescrow/native/reputation"
)

// failParams rejects a request with malformed or missing parameters.
func failParams(w http.ResponseWriter, id interface{}, data interface{}) *RPCError {
	rpcErr := &RPCError{Code: codeInvalidParams, Message: "invalid params", Data: data}
	writeError(w, http.StatusBadRequest, id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	return rpcErr
}

// fail maps a node error onto the wire taxonomy and writes the response.
// Protocol rejections surface their numbered code unchanged in the error
// data; everything else collapses to a transport-level code.
func fail(w http.ResponseWriter, id interface{}, err error) *RPCError {
	status := http.StatusInternalServerError
	rpcErr := &RPCError{Code: codeServerError, Message: "internal error", Data: err.Error()}

	var protocolErr *escrow.Error
	switch {
	case errors.As(err, &protocolErr):
		status = http.StatusConflict
		rpcErr.Code = codeProtocolError
		rpcErr.Message = protocolErr.Message
		rpcErr.Data = map[string]interface{}{"code": protocolErr.Code}
	case errors.Is(err, core.ErrEscrowNotFound), errors.Is(err, escrow.ErrNotFound), errors.Is(err, reputation.ErrNotFound):
		status = http.StatusNotFound
		rpcErr.Code = codeNotFound
		rpcErr.Message = err.Error()
		rpcErr.Data = nil
	case errors.Is(err, reputation.ErrAlreadyInitialized), errors.Is(err, escrow.ErrAlreadyExists):
		status = http.StatusConflict
		rpcErr.Code = codeDuplicate
		rpcErr.Message = err.Error()
		rpcErr.Data = nil
	case errors.Is(err, state.ErrInsufficientBalance):
		status = http.StatusBadRequest
		rpcErr.Code = codeInsufficient
		rpcErr.Message = err.Error()
		rpcErr.Data = nil
	case errors.Is(err, escrow.ErrVaultResidualBalance):
		rpcErr.Code = codeInvariant
		rpcErr.Message = err.Error()
		rpcErr.Data = nil
	}

	writeError(w, status, id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	return rpcErr
}
