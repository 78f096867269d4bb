package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	clearsky "github.com/clearskynet/clearsky/go"
)

// ParseNetwork resolves an alias or CAIP-2 identifier to a network
func ParseNetwork(network string) (clearsky.Network, error) {
	name := strings.ToLower(strings.TrimSpace(network))
	if alias, ok := networkAliases[name]; ok {
		return alias, nil
	}

	n := clearsky.Network(name)
	if _, err := n.ChainID(); err != nil {
		return "", err
	}
	return n, nil
}

// GetChainConfig returns the configuration for a network
func GetChainConfig(network string) (clearsky.ChainConfig, error) {
	n, err := ParseNetwork(network)
	if err != nil {
		return clearsky.ChainConfig{}, err
	}
	if config, ok := ChainConfigs[n]; ok {
		return config, nil
	}
	return clearsky.ChainConfig{}, fmt.Errorf("unsupported network: %s", network)
}

// GetChainID returns the chain ID for a given network
func GetChainID(network string) (*big.Int, error) {
	if config, err := GetChainConfig(network); err == nil {
		return config.ChainID, nil
	}
	n, err := ParseNetwork(network)
	if err != nil {
		return nil, err
	}
	return n.ChainID()
}

// SupportedChains returns the registry in a stable order, mainnet first
func SupportedChains() []clearsky.ChainConfig {
	return []clearsky.ChainConfig{ChainConfigs[NetworkStoryMainnet], ChainConfigs[NetworkStoryAeneid]}
}

// ChainIDHex renders a chain id the way wallet RPC methods expect it
func ChainIDHex(chainID *big.Int) string {
	if chainID == nil {
		return "0x0"
	}
	return "0x" + chainID.Text(16)
}

// CreateNonce generates a random 32-byte nonce
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	_, err := rand.Read(nonce)
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(nonce), nil
}

// NormalizeAddress lower-cases an address for comparisons and map keys
func NormalizeAddress(address string) string {
	addr := strings.TrimPrefix(strings.ToLower(address), "0x")
	return "0x" + addr
}

// ChecksumAddress returns the EIP-55 form of address
func ChecksumAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// ParseAmount converts a decimal string amount to wei based on token decimals.
// Digits beyond the token precision are rejected rather than truncated.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", amount)
	}

	wei := d.Shift(int32(decimals))
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimals", amount, decimals)
	}
	return wei.BigInt(), nil
}

// FormatAmount converts an amount in wei to a decimal string
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, int32(-decimals)).String()
}

// HexToBytes converts a hex string to bytes
func HexToBytes(hexStr string) ([]byte, error) {
	cleaned := strings.TrimPrefix(hexStr, "0x")
	return hex.DecodeString(cleaned)
}
