package clearsky

import (
	"fmt"
	"math/big"
	"strings"
)

// Network is a CAIP-2 chain identifier such as "eip155:1315"
type Network string

// ChainID extracts the numeric EIP-155 chain id from the network identifier
func (n Network) ChainID() (*big.Int, error) {
	ref, ok := strings.CutPrefix(string(n), "eip155:")
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", n)
	}
	id, ok := new(big.Int).SetString(ref, 10)
	if !ok || id.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id in network: %s", n)
	}
	return id, nil
}

// NetworkFromChainID builds the CAIP-2 identifier for an EVM chain id
func NetworkFromChainID(chainID *big.Int) Network {
	return Network("eip155:" + chainID.String())
}

// NativeCurrency describes the gas token of a chain
type NativeCurrency struct {
	Name     string `json:"name" yaml:"name"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals int    `json:"decimals" yaml:"decimals"`
}

// ChainConfig carries everything a wallet needs to switch to or add a chain
type ChainConfig struct {
	Network        Network        `json:"network" yaml:"network"`
	ChainID        *big.Int       `json:"chainId" yaml:"-"`
	Name           string         `json:"name" yaml:"name"`
	NativeCurrency NativeCurrency `json:"nativeCurrency" yaml:"nativeCurrency"`
	RPCURLs        []string       `json:"rpcUrls" yaml:"rpcUrls"`
	ExplorerURLs   []string       `json:"blockExplorerUrls,omitempty" yaml:"explorerUrls"`
}

// DisplayName returns the human readable chain name, falling back to the network id
func (c ChainConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return string(c.Network)
}

// Symbol returns the native currency symbol, or "ETH" when none is configured
func (c ChainConfig) Symbol() string {
	if c.NativeCurrency.Symbol != "" {
		return c.NativeCurrency.Symbol
	}
	return "ETH"
}

// TxURL returns the explorer link for a transaction, or "" without an explorer
func (c ChainConfig) TxURL(txHash string) string {
	if len(c.ExplorerURLs) == 0 || txHash == "" {
		return ""
	}
	return strings.TrimRight(c.ExplorerURLs[0], "/") + "/tx/" + txHash
}
