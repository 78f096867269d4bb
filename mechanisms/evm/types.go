package evm

import (
	"context"
	"errors"
	"math/big"

	clearsky "github.com/clearskynet/clearsky/go"
)

// ErrNotFound is returned by chain readers for unknown transactions and receipts
var ErrNotFound = errors.New("not found")

// ContractReader defines the interface for reading from a smart contract
type ContractReader interface {
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)
}

// SignatureReader is what signature verification needs from the chain
type SignatureReader interface {
	ContractReader

	// GetCode returns the bytecode at the given address
	// Returns empty slice if address is an EOA or doesn't exist
	GetCode(ctx context.Context, address string) ([]byte, error)
}

// ContractWriter defines the interface for sending contract transactions
type ContractWriter interface {
	// Sender returns the address transactions are sent from
	Sender() string

	// WriteContract executes a smart contract transaction; value may be nil
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, value *big.Int, args ...interface{}) (string, error)

	// WaitForTransactionReceipt waits for a transaction to be mined
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// ChainReader is the read-only view of a chain used to verify payments
type ChainReader interface {
	GetChainID(ctx context.Context) (*big.Int, error)
	GetTransaction(ctx context.Context, txHash string) (*Transaction, error)
	GetTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Transaction is the part of a transaction a payment verifier looks at
type Transaction struct {
	Hash    string   `json:"hash"`
	From    string   `json:"from"`
	To      string   `json:"to"` // empty for contract creation
	Value   *big.Int `json:"value"`
	Pending bool     `json:"pending"`
}

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64     `json:"status"`
	BlockNumber uint64     `json:"blockNumber"`
	TxHash      string     `json:"transactionHash"`
	Logs        []EventLog `json:"logs,omitempty"`
}

// EventLog is a receipt log entry
type EventLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// TypedDataDomain represents the EIP-712 domain separator
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract,omitempty"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// AddChainParams is the EIP-3085 wallet_addEthereumChain parameter object
type AddChainParams struct {
	ChainID           string               `json:"chainId"` // 0x-prefixed hex
	ChainName         string               `json:"chainName"`
	NativeCurrency    NativeCurrencyParams `json:"nativeCurrency"`
	RPCURLs           []string             `json:"rpcUrls"`
	BlockExplorerURLs []string             `json:"blockExplorerUrls,omitempty"`
}

// NativeCurrencyParams is the nativeCurrency member of AddChainParams
type NativeCurrencyParams struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// SwitchChainParams is the EIP-3326 wallet_switchEthereumChain parameter object
type SwitchChainParams struct {
	ChainID string `json:"chainId"`
}

// NewAddChainParams converts a chain config to the EIP-3085 request shape
func NewAddChainParams(chain clearsky.ChainConfig) AddChainParams {
	return AddChainParams{
		ChainID:   ChainIDHex(chain.ChainID),
		ChainName: chain.DisplayName(),
		NativeCurrency: NativeCurrencyParams{
			Name:     chain.NativeCurrency.Name,
			Symbol:   chain.Symbol(),
			Decimals: chain.NativeCurrency.Decimals,
		},
		RPCURLs:           chain.RPCURLs,
		BlockExplorerURLs: chain.ExplorerURLs,
	}
}

// ERC6492SignatureData represents the parsed components of an ERC-6492 signature
// ERC-6492 allows signatures from undeployed smart contract accounts by wrapping
// the signature with deployment information (factory address and calldata)
type ERC6492SignatureData struct {
	Factory         [20]byte // CREATE2 factory address (zero address if not ERC-6492)
	FactoryCalldata []byte   // Calldata to deploy the wallet (empty if not ERC-6492)
	InnerSignature  []byte   // The actual signature (EIP-1271 or EOA)
}
