package clarity

import (
	"fmt"
	"regexp"
	"strings"
)

// contractName matches valid Clarity contract names.
var contractName = regexp.MustCompile(`^[a-zA-Z]([a-zA-Z0-9]|[-_])*$`)

// maxContractNameLen per the Clarity contract naming rules.
const maxContractNameLen = 128

// ValidateAddress checksum-verifies a standard principal address.
func ValidateAddress(addr string) error {
	version, _, err := DecodeAddress(addr)
	if err != nil {
		return err
	}
	if _, err := NetworkOf(version); err != nil {
		return err
	}
	return nil
}

// ValidatePrincipal accepts either a standard principal ("SP…") or a
// contract principal ("SP….contract-name").
func ValidatePrincipal(p string) error {
	addr := p
	if i := strings.IndexByte(p, '.'); i >= 0 {
		addr = p[:i]
		name := p[i+1:]
		if err := ValidateContractName(name); err != nil {
			return err
		}
	}
	return ValidateAddress(addr)
}

// ValidateContractName checks a contract name against Clarity's rules.
func ValidateContractName(name string) error {
	if name == "" || len(name) > maxContractNameLen {
		return fmt.Errorf("invalid contract name length %d", len(name))
	}
	if !contractName.MatchString(name) {
		return fmt.Errorf("invalid contract name %q", name)
	}
	return nil
}

// AddressNetwork returns "mainnet" or "testnet" for a valid address.
func AddressNetwork(addr string) (string, error) {
	version, _, err := DecodeAddress(addr)
	if err != nil {
		return "", err
	}
	return NetworkOf(version)
}
