package actors

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/clarity"
	"github.com/aibtcdev/edge-proxy/internal/contracts"
	"github.com/aibtcdev/edge-proxy/internal/events"
	"github.com/aibtcdev/edge-proxy/internal/metrics"
)

// ContractCallsActor exposes ABI lookup, read-only call execution, the
// known-contracts index, and standalone Clarity value decoding.
type ContractCallsActor struct {
	Actor
	abis   *contracts.AbiStore
	caller *contracts.Caller
}

// NewContractCalls builds the /contract-calls actor.
func NewContractCalls(abis *contracts.AbiStore, caller *contracts.Caller, logger *slog.Logger, bus *events.Bus, m *metrics.Registry) *ContractCallsActor {
	a := &ContractCallsActor{
		Actor:  newActor("contract-calls", "/contract-calls", logger, bus, m),
		abis:   abis,
		caller: caller,
	}
	a.endpoints = []Endpoint{
		{Pattern: "/abi/", Handle: a.handleABI},
		{Pattern: "/read-only/", Methods: []string{http.MethodPost}, Handle: a.handleReadOnly},
		{Pattern: "/known-contracts", Handle: a.handleKnownContracts},
		{Pattern: "/decode-clarity-value", Methods: []string{http.MethodPost}, Handle: a.handleDecode},
	}
	return a
}

// handleABI serves /abi/{addr}/{name}.
func (a *ContractCallsActor) handleABI(ctx context.Context, _ *Request, endpoint string) (any, error) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(endpoint, "/abi/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, "expected /abi/{address}/{name}")
	}
	return a.abis.Get(ctx, parts[0], parts[1])
}

// handleReadOnly serves POST /read-only/{addr}/{name}/{fn}.
func (a *ContractCallsActor) handleReadOnly(ctx context.Context, req *Request, endpoint string) (any, error) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(endpoint, "/read-only/"), "/"), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, "expected /read-only/{address}/{name}/{function}")
	}

	var call contracts.CallRequest
	if len(req.Body) > 0 {
		if err := decodeNumberPreserving(req.Body, &call); err != nil {
			return nil, apperr.New(apperr.CodeInvalidRequest, "malformed request body").WithCause(err)
		}
	}
	call.ContractAddress = parts[0]
	call.ContractName = parts[1]
	call.FunctionName = parts[2]
	if req.BustCache() {
		call.CacheControl.BustCache = true
	}
	return a.caller.Call(ctx, call)
}

// handleKnownContracts reports the index of contracts with cached ABIs.
func (a *ContractCallsActor) handleKnownContracts(ctx context.Context, _ *Request, _ string) (any, error) {
	known, err := a.abis.Known(ctx)
	if err != nil {
		return nil, err
	}
	if known == nil {
		known = []contracts.KnownContract{}
	}
	return map[string]any{
		"stats":     map[string]any{"cached": len(known)},
		"contracts": map[string]any{"cached": known},
	}, nil
}

// decodeValueRequest is the POST /decode-clarity-value body.
type decodeValueRequest struct {
	ClarityValue       string `json:"clarityValue"`
	StrictJSONCompat   *bool  `json:"strictJsonCompat,omitempty"`
	PreserveContainers bool   `json:"preserveContainers,omitempty"`
}

// handleDecode decodes a serialized Clarity value without touching any
// upstream.
func (a *ContractCallsActor) handleDecode(_ context.Context, req *Request, _ string) (any, error) {
	var body decodeValueRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, apperr.New(apperr.CodeInvalidRequest, "malformed request body").WithCause(err)
	}
	if body.ClarityValue == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, "clarityValue is required")
	}
	value, err := clarity.DeserializeHex(body.ClarityValue)
	if err != nil {
		return nil, apperr.New(apperr.CodeValidationError, "undecodable clarity value").WithCause(err)
	}
	opts := clarity.DefaultDecodeOptions()
	if body.StrictJSONCompat != nil {
		opts.StrictJSONCompat = *body.StrictJSONCompat
	}
	opts.PreserveContainers = body.PreserveContainers
	return map[string]any{
		"original": body.ClarityValue,
		"decoded":  clarity.Decode(value, opts),
	}, nil
}

// decodeNumberPreserving unmarshals with json.Number so large integers
// in functionArgs survive without float64 truncation.
func decodeNumberPreserving(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
