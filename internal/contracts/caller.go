package contracts

import (
	"context"
	"encoding/json"
	"fmt"

	"time"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/cache"
	"github.com/aibtcdev/edge-proxy/internal/clarity"
	"github.com/aibtcdev/edge-proxy/internal/fetcher"
)

// CallRequest describes one read-only contract call. FunctionArgs may be
// 0x-prefixed serialized values or simplified {type, value} objects.
// StrictJSONCompat defaults to true when absent.
type CallRequest struct {
	ContractAddress string `json:"contractAddress"`
	ContractName    string `json:"contractName"`
	FunctionName    string `json:"functionName"`
	FunctionArgs    []any  `json:"functionArgs"`
	Sender          string `json:"senderAddress,omitempty"`
	Network         string `json:"network,omitempty"`

	StrictJSONCompat   *bool `json:"strictJsonCompat,omitempty"`
	PreserveContainers bool  `json:"preserveContainers,omitempty"`

	CacheControl CacheControl `json:"cacheControl,omitempty"`
}

// DecodeOptions resolves the request's decode flags.
func (r *CallRequest) DecodeOptions() clarity.DecodeOptions {
	opts := clarity.DefaultDecodeOptions()
	if r.StrictJSONCompat != nil {
		opts.StrictJSONCompat = *r.StrictJSONCompat
	}
	opts.PreserveContainers = r.PreserveContainers
	return opts
}

// CacheControl is the caller's override of the default caching policy.
type CacheControl struct {
	BustCache bool `json:"bustCache,omitempty"`
	SkipCache bool `json:"skipCache,omitempty"`
	// TTLSeconds overrides the default entry lifetime. An explicit 0
	// caches without expiration; absent keeps the default.
	TTLSeconds *int `json:"ttl,omitempty"`
}

// callReadPayload is the node's call-read request body.
type callReadPayload struct {
	Sender    string   `json:"sender"`
	Arguments []string `json:"arguments"`
}

// callReadResponse is the node's call-read response body.
type callReadResponse struct {
	Okay   bool   `json:"okay"`
	Result string `json:"result,omitempty"`
	Cause  string `json:"cause,omitempty"`
}

// Caller executes read-only contract calls: it validates the call against
// the contract's interface, serializes arguments to the wire form, rides
// the fetcher's queue to the node, and caches the decoded result.
type Caller struct {
	fetcher *fetcher.Fetcher
	abis    *AbiStore
	keys    *cache.KeyBuilder
	network string
}

// NewCaller builds a Caller. network names the chain the upstream node
// serves; calls against addresses from the other network are rejected
// before any upstream traffic happens.
func NewCaller(f *fetcher.Fetcher, abis *AbiStore, keys *cache.KeyBuilder, network string) *Caller {
	return &Caller{fetcher: f, abis: abis, keys: keys, network: network}
}

// Call validates and executes req, returning the decoded Clarity result
// as JSON-ready data.
func (c *Caller) Call(ctx context.Context, req CallRequest) (any, error) {
	network := req.Network
	if network == "" {
		network = c.network
	}
	if !clarity.ValidNetwork(network) {
		return nil, apperr.New(apperr.CodeValidationError, "unknown network %q", network)
	}
	if network != c.network {
		return nil, apperr.New(apperr.CodeValidationError, "this deployment serves %s, not %s", c.network, network)
	}

	if err := clarity.ValidateAddress(req.ContractAddress); err != nil {
		return nil, apperr.New(apperr.CodeInvalidContractAddress, "invalid contract address %q", req.ContractAddress).WithCause(err)
	}
	addrNetwork, err := clarity.AddressNetwork(req.ContractAddress)
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalidContractAddress, "invalid contract address %q", req.ContractAddress).WithCause(err)
	}
	if addrNetwork != network {
		return nil, apperr.New(apperr.CodeInvalidContractAddress, "address %s belongs to %s, not %s",
			req.ContractAddress, addrNetwork, network)
	}
	if err := clarity.ValidateContractName(req.ContractName); err != nil {
		return nil, apperr.New(apperr.CodeValidationError, "invalid contract name %q", req.ContractName).WithCause(err)
	}

	sender := req.Sender
	if sender == "" {
		sender = req.ContractAddress
	}
	if err := clarity.ValidatePrincipal(sender); err != nil {
		return nil, apperr.New(apperr.CodeValidationError, "invalid sender %q", sender).WithCause(err)
	}

	abi, err := c.abis.Get(ctx, req.ContractAddress, req.ContractName)
	if err != nil {
		return nil, err
	}
	fn := abi.Function(req.FunctionName)
	if fn == nil {
		return nil, apperr.New(apperr.CodeInvalidFunction, "function %q not found in %s.%s",
			req.FunctionName, req.ContractAddress, req.ContractName)
	}
	if !fn.Callable() {
		return nil, apperr.New(apperr.CodeInvalidFunction, "function %q is %s and cannot be called read-only",
			req.FunctionName, fn.Access)
	}
	if len(req.FunctionArgs) != len(fn.Args) {
		return nil, apperr.New(apperr.CodeInvalidArguments, "function %q takes %d arguments, got %d",
			req.FunctionName, len(fn.Args), len(req.FunctionArgs))
	}

	values, err := clarity.FromSimplifiedList(req.FunctionArgs)
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalidArguments, "invalid function arguments").WithCause(err)
	}
	wireArgs := make([]string, len(values))
	for i, v := range values {
		h, serr := clarity.SerializeHex(v)
		if serr != nil {
			return nil, apperr.New(apperr.CodeInvalidArguments, "argument %d cannot be serialized", i).WithCause(serr)
		}
		wireArgs[i] = h
	}

	// Keying uses the raw argument JSON so semantically identical calls
	// collapse to one entry regardless of arrival order of object keys.
	argsJSON, err := json.Marshal(req.FunctionArgs)
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalidArguments, "invalid function arguments").WithCause(err)
	}
	cacheKey, err := c.keys.ContractCall(req.ContractAddress, req.ContractName, req.FunctionName, network, argsJSON)
	if err != nil {
		return nil, apperr.New(apperr.CodeCacheError, "derive cache key").WithCause(err)
	}

	payload, err := json.Marshal(callReadPayload{Sender: sender, Arguments: wireArgs})
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, "encode call payload").WithCause(err)
	}

	// The wire-form result is what gets cached: it is lossless, so cached
	// entries serve any combination of decode flags.
	endpoint := fmt.Sprintf("/v2/contracts/call-read/%s/%s/%s",
		req.ContractAddress, req.ContractName, req.FunctionName)
	res, err := c.fetcher.Post(ctx, endpoint, payload, fetcher.Options{
		CacheKey:  cacheKey,
		BustCache: req.CacheControl.BustCache,
		SkipCache: true, // cached below, after the node response is unwrapped
	})
	if err != nil {
		return nil, err
	}

	var resultHex string
	if res.Cached {
		resultHex = string(res.Body)
	} else {
		var nodeResp callReadResponse
		if err := json.Unmarshal(res.Body, &nodeResp); err != nil {
			return nil, apperr.New(apperr.CodeUpstreamAPIError, "malformed call-read response").WithCause(err)
		}
		if !nodeResp.Okay {
			return nil, apperr.New(apperr.CodeValidationError, "contract call failed").
				WithDetails(map[string]any{"cause": nodeResp.Cause})
		}
		resultHex = nodeResp.Result
	}

	value, err := clarity.DeserializeHex(resultHex)
	if err != nil {
		return nil, apperr.New(apperr.CodeUpstreamAPIError, "undecodable call result").WithCause(err)
	}

	if !res.Cached && !req.CacheControl.SkipCache {
		ttl := ttlFromSeconds(req.CacheControl.TTLSeconds)
		if err := c.fetcher.Cache().Set(ctx, cacheKey, resultHex, ttl); err != nil {
			return nil, err
		}
	}
	return clarity.Decode(value, req.DecodeOptions()), nil
}

// ttlFromSeconds maps the request-level TTL override onto the cache
// store's convention: absent keeps the default, 0 (or negative) disables
// expiration.
func ttlFromSeconds(secs *int) time.Duration {
	switch {
	case secs == nil:
		return cache.UseDefaultTTL
	case *secs <= 0:
		return 0
	default:
		return time.Duration(*secs) * time.Second
	}
}
