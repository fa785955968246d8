package contracts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/cache"
	"github.com/aibtcdev/edge-proxy/internal/clarity"
	"github.com/aibtcdev/edge-proxy/internal/fetcher"
)

// knownContractsKey indexes every contract whose ABI has been fetched.
const knownContractsKey = "known_contracts"

// KnownContract is one entry of the known-contracts index, persisted as
// a JSON array under knownContractsKey.
type KnownContract struct {
	ContractAddress string `json:"contractAddress"`
	ContractName    string `json:"contractName"`
}

// AbiKey returns the KV key for one contract's cached interface.
func AbiKey(address, name string) string {
	return "contract_abi_" + address + "_" + name
}

// AbiStore resolves contract interfaces, caching them without expiration.
// An ABI is immutable once a contract is deployed, so a cached entry is
// never refreshed unless explicitly deleted.
type AbiStore struct {
	fetcher *fetcher.Fetcher
	cache   *cache.Store

	// mu serializes known-contracts index updates.
	mu sync.Mutex
}

// NewAbiStore builds an AbiStore over the contract-calls fetcher.
func NewAbiStore(f *fetcher.Fetcher) *AbiStore {
	return &AbiStore{fetcher: f, cache: f.Cache()}
}

// Get returns the interface for address.name, fetching and caching it on
// first use. The upstream fetch rides the fetcher's queue and token
// bucket like any other request.
func (s *AbiStore) Get(ctx context.Context, address, name string) (*ABI, error) {
	if err := clarity.ValidateAddress(address); err != nil {
		return nil, apperr.New(apperr.CodeInvalidContractAddress, "invalid contract address %q", address).WithCause(err)
	}
	if err := clarity.ValidateContractName(name); err != nil {
		return nil, apperr.New(apperr.CodeValidationError, "invalid contract name %q", name).WithCause(err)
	}

	key := AbiKey(address, name)
	endpoint := fmt.Sprintf("/v2/contracts/interface/%s/%s", address, name)
	res, err := s.fetcher.Fetch(ctx, endpoint, fetcher.Options{
		CacheKey: key,
		TTL:      -1, // interfaces never expire
	})
	if err != nil {
		return nil, err
	}
	if res.Status != http.StatusOK {
		return nil, apperr.New(apperr.CodeNotFound, "contract %s.%s not found", address, name).
			WithDetails(map[string]any{"status": res.Status})
	}

	var abi ABI
	if err := json.Unmarshal(res.Body, &abi); err != nil {
		return nil, apperr.New(apperr.CodeUpstreamAPIError, "malformed contract interface for %s.%s", address, name).WithCause(err)
	}

	if !res.Cached {
		if err := s.recordKnown(ctx, address, name); err != nil {
			// Index updates are best-effort; the ABI itself is already cached.
			return &abi, nil
		}
	}
	return &abi, nil
}

// Known returns the known-contracts index sorted by address then name.
func (s *AbiStore) Known(ctx context.Context) ([]KnownContract, error) {
	list, err := s.loadKnown(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ContractAddress != list[j].ContractAddress {
			return list[i].ContractAddress < list[j].ContractAddress
		}
		return list[i].ContractName < list[j].ContractName
	})
	return list, nil
}

// Forget removes a cached interface and its index entry, forcing a
// refetch on next use.
func (s *AbiStore) Forget(ctx context.Context, address, name string) error {
	if err := s.cache.Delete(ctx, AbiKey(address, name)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.loadKnown(ctx)
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, c := range list {
		if c.ContractAddress != address || c.ContractName != name {
			kept = append(kept, c)
		}
	}
	return s.cache.SetForever(ctx, knownContractsKey, kept)
}

// recordKnown inserts into the index with set semantics.
func (s *AbiStore) recordKnown(ctx context.Context, address, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.loadKnown(ctx)
	if err != nil {
		return err
	}
	for _, c := range list {
		if c.ContractAddress == address && c.ContractName == name {
			return nil
		}
	}
	list = append(list, KnownContract{ContractAddress: address, ContractName: name})
	return s.cache.SetForever(ctx, knownContractsKey, list)
}

func (s *AbiStore) loadKnown(ctx context.Context) ([]KnownContract, error) {
	list, err := cache.Get[[]KnownContract](ctx, s.cache, knownContractsKey)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, nil
	}
	return *list, nil
}
