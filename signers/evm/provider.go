package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	clearsky "github.com/clearskynet/clearsky/go"
	csevm "github.com/clearskynet/clearsky/go/mechanisms/evm"
)

// ProviderWallet talks to an EIP-1193 wallet provider exposed over JSON-RPC,
// e.g. an embedded-wallet bridge. Keys never leave the provider.
type ProviderWallet struct {
	client *rpc.Client
}

var _ clearsky.Wallet = (*ProviderWallet)(nil)

// NewProviderWallet wraps an rpc client
func NewProviderWallet(client *rpc.Client) *ProviderWallet {
	return &ProviderWallet{client: client}
}

// DialProviderWallet connects to a provider endpoint (http, ws or ipc)
func DialProviderWallet(ctx context.Context, url string) (*ProviderWallet, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to wallet provider: %w", err)
	}
	return NewProviderWallet(client), nil
}

// Close closes the provider connection
func (w *ProviderWallet) Close() {
	w.client.Close()
}

// Address returns the first account exposed by the provider
func (w *ProviderWallet) Address(ctx context.Context) (string, error) {
	var accounts []common.Address
	if err := w.call(ctx, &accounts, "eth_accounts"); err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", clearsky.ErrWalletNotConnected
	}
	return accounts[0].Hex(), nil
}

// ChainID returns the chain the provider is currently on
func (w *ProviderWallet) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := w.call(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

// SwitchChain asks the provider to switch chains (EIP-3326)
func (w *ProviderWallet) SwitchChain(ctx context.Context, chainID *big.Int) error {
	return w.call(ctx, nil, "wallet_switchEthereumChain", csevm.SwitchChainParams{ChainID: csevm.ChainIDHex(chainID)})
}

// AddChain asks the provider to add a chain (EIP-3085)
func (w *ProviderWallet) AddChain(ctx context.Context, chain clearsky.ChainConfig) error {
	return w.call(ctx, nil, "wallet_addEthereumChain", csevm.NewAddChainParams(chain))
}

// Balance returns the native balance of address at the latest block
func (w *ProviderWallet) Balance(ctx context.Context, address string) (*big.Int, error) {
	var balance hexutil.Big
	if err := w.call(ctx, &balance, "eth_getBalance", common.HexToAddress(address), "latest"); err != nil {
		return nil, err
	}
	return (*big.Int)(&balance), nil
}

type sendTxArgs struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *hexutil.Big   `json:"value"`
	Data  hexutil.Bytes  `json:"data,omitempty"`
}

// SendTransaction asks the provider to sign and send tx from the connected account
func (w *ProviderWallet) SendTransaction(ctx context.Context, tx clearsky.TxRequest) (string, error) {
	from, err := w.Address(ctx)
	if err != nil {
		return "", err
	}
	if !common.IsHexAddress(tx.To) {
		return "", fmt.Errorf("invalid recipient %q", tx.To)
	}
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}

	var hash common.Hash
	err = w.call(ctx, &hash, "eth_sendTransaction", sendTxArgs{
		From:  common.HexToAddress(from),
		To:    common.HexToAddress(tx.To),
		Value: (*hexutil.Big)(value),
		Data:  tx.Data,
	})
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

type rpcReceipt struct {
	Status          hexutil.Uint64 `json:"status"`
	BlockNumber     *hexutil.Big   `json:"blockNumber"`
	TransactionHash common.Hash    `json:"transactionHash"`
}

// TransactionReceipt looks up a receipt through the provider
func (w *ProviderWallet) TransactionReceipt(ctx context.Context, txHash string) (*clearsky.Receipt, error) {
	var receipt *rpcReceipt
	if err := w.call(ctx, &receipt, "eth_getTransactionReceipt", common.HexToHash(txHash)); err != nil {
		return nil, err
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return nil, clearsky.ErrReceiptNotFound
	}
	return &clearsky.Receipt{
		Status:      uint64(receipt.Status),
		BlockNumber: (*big.Int)(receipt.BlockNumber).Uint64(),
		TxHash:      receipt.TransactionHash.Hex(),
	}, nil
}

func (w *ProviderWallet) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := w.client.CallContext(ctx, result, method, args...); err != nil {
		return ProviderError(method, err)
	}
	return nil
}

// ProviderError maps EIP-1193 error codes onto the clearsky sentinels
func ProviderError(method string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case csevm.ProviderErrUserRejected:
			return fmt.Errorf("%s: %w: %s", method, clearsky.ErrUserRejected, rpcErr.Error())
		case csevm.ProviderErrUnrecognizedChain:
			return fmt.Errorf("%s: %w: %s", method, clearsky.ErrUnrecognizedChain, rpcErr.Error())
		case csevm.ProviderErrUnauthorized:
			return fmt.Errorf("%s: %w: %s", method, clearsky.ErrWalletNotConnected, rpcErr.Error())
		}
	}
	return fmt.Errorf("%s: %w", method, err)
}
