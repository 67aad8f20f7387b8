package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"agentescrow/core"
	"agentescrow/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeNotFound       = -32004
	codeDuplicate      = -32010
	codeInsufficient   = -32015
	codeRateLimited    = -32020
	codeProtocolError  = -32030
	codeInvariant      = -32050
)

// ServerConfig controls the RPC server's auth and throttling posture.
// AuthToken and JWTSecret are alternative credentials: a bearer token is
// matched verbatim, any other bearer value is validated as an HS256 JWT when
// a secret is configured.
type ServerConfig struct {
	AuthToken     string
	JWTSecret     string
	RatePerSecond float64
	RateBurst     int
}

// Server exposes the protocol's operations over JSON-RPC.
type Server struct {
	node      *core.Node
	log       *slog.Logger
	metrics   *observability.RPCMetrics
	authToken string
	jwtSecret []byte
	limiter   *rate.Limiter
}

// NewServer constructs an RPC server over node.
func NewServer(node *core.Node, cfg ServerConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 50
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 100
	}
	s := &Server{
		node:      node,
		log:       log,
		metrics:   observability.Metrics(),
		authToken: strings.TrimSpace(cfg.AuthToken),
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
	}
	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		s.jwtSecret = []byte(secret)
	}
	return s
}

// Router assembles the HTTP surface: the JSON-RPC endpoint, health probe and
// metrics scrape target.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", observability.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router on addr until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a JSON-RPC error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest) *RPCError

type methodEntry struct {
	handler  handlerFunc
	requires bool
}

func (s *Server) methods() map[string]methodEntry {
	return map[string]methodEntry{
		"escrow_create":        {s.handleEscrowCreate, true},
		"escrow_accept":        {s.handleEscrowAccept, true},
		"escrow_release":       {s.handleEscrowRelease, true},
		"escrow_autoRelease":   {s.handleEscrowAutoRelease, true},
		"escrow_refund":        {s.handleEscrowRefund, true},
		"escrow_dispute":       {s.handleEscrowDispute, true},
		"escrow_resolve":       {s.handleEscrowResolve, true},
		"escrow_get":           {s.handleEscrowGet, false},
		"escrow_list":          {s.handleEscrowList, false},
		"escrow_deriveAddress": {s.handleEscrowDeriveAddress, false},

		"tokenEscrow_create":      {s.handleTokenEscrowCreate, true},
		"tokenEscrow_accept":      {s.handleTokenEscrowAccept, true},
		"tokenEscrow_release":     {s.handleTokenEscrowRelease, true},
		"tokenEscrow_autoRelease": {s.handleTokenEscrowAutoRelease, true},
		"tokenEscrow_refund":      {s.handleTokenEscrowRefund, true},
		"tokenEscrow_dispute":     {s.handleTokenEscrowDispute, true},
		"tokenEscrow_resolve":     {s.handleTokenEscrowResolve, true},
		"tokenEscrow_get":         {s.handleTokenEscrowGet, false},

		"milestoneEscrow_create":  {s.handleMilestoneCreate, true},
		"milestoneEscrow_accept":  {s.handleMilestoneAccept, true},
		"milestoneEscrow_release": {s.handleMilestoneRelease, true},
		"milestoneEscrow_dispute": {s.handleMilestoneDispute, true},
		"milestoneEscrow_resolve": {s.handleMilestoneResolve, true},
		"milestoneEscrow_refund":  {s.handleMilestoneRefund, true},
		"milestoneEscrow_get":     {s.handleMilestoneGet, false},

		"reputation_init": {s.handleReputationInit, true},
		"reputation_get":  {s.handleReputationGet, false},

		"bank_balance":      {s.handleBankBalance, false},
		"bank_mint":         {s.handleBankMint, true},
		"bank_tokenBalance": {s.handleBankTokenBalance, false},
		"bank_tokenMint":    {s.handleBankTokenMint, true},
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() { _ = reader.Close() }()

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	entry, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if entry.requires {
		if authErr := s.requireAuth(r); authErr != nil {
			s.metrics.ObserveRequest(req.Method, authErr.Code, 0)
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	started := time.Now()
	rpcErr := entry.handler(w, r, req)
	elapsed := time.Since(started)
	if rpcErr != nil {
		s.metrics.ObserveRequest(req.Method, rpcErr.Code, elapsed)
		s.log.Warn("rpc request rejected",
			"method", req.Method,
			"code", rpcErr.Code,
			"message", rpcErr.Message,
			"durationMs", elapsed.Milliseconds())
		return
	}
	s.metrics.ObserveRequest(req.Method, 0, elapsed)
	s.log.Debug("rpc request served", "method", req.Method, "durationMs", elapsed.Milliseconds())
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" && len(s.jwtSecret) == 0 {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "bearer token required"}
	}
	if s.authToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1 {
		return nil
	}
	if len(s.jwtSecret) > 0 {
		parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.jwtSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err == nil && parsed.Valid {
			return nil
		}
	}
	return &RPCError{Code: codeUnauthorized, Message: "invalid credentials"}
}
