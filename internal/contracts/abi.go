// Package contracts implements the smart-contract surface: ABI retrieval
// with indefinite caching, the known-contracts index, and the read-only
// call executor that validates calls against the ABI before they reach
// the upstream node.
package contracts

import "encoding/json"

// Function access levels as they appear in contract interface JSON.
const (
	AccessPublic   = "public"
	AccessReadOnly = "read_only"
	AccessPrivate  = "private"
)

// ABIArg is one declared function argument. Type descriptors are nested
// JSON (e.g. {"buffer":{"length":34}}) and are carried verbatim.
type ABIArg struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

// ABIFunction is one function declaration from a contract interface.
type ABIFunction struct {
	Name    string          `json:"name"`
	Access  string          `json:"access"`
	Args    []ABIArg        `json:"args"`
	Outputs json.RawMessage `json:"outputs,omitempty"`
}

// ABI is a contract interface as served by the node. Only functions are
// interpreted; the remaining sections are carried through for clients.
type ABI struct {
	Functions         []ABIFunction     `json:"functions"`
	Variables         []json.RawMessage `json:"variables,omitempty"`
	Maps              []json.RawMessage `json:"maps,omitempty"`
	FungibleTokens    []json.RawMessage `json:"fungible_tokens,omitempty"`
	NonFungibleTokens []json.RawMessage `json:"non_fungible_tokens,omitempty"`
}

// Function returns the named function declaration, or nil when the
// contract does not declare it.
func (a *ABI) Function(name string) *ABIFunction {
	for i := range a.Functions {
		if a.Functions[i].Name == name {
			return &a.Functions[i]
		}
	}
	return nil
}

// Callable reports whether the function may be invoked through the
// read-only executor. Public functions are callable read-only too; only
// private ones are rejected.
func (f *ABIFunction) Callable() bool {
	return f.Access == AccessReadOnly || f.Access == AccessPublic
}
