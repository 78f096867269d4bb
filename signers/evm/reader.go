package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	csevm "github.com/clearskynet/clearsky/go/mechanisms/evm"
)

// EthClient is the subset of *ethclient.Client the signers use
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ EthClient = (*ethclient.Client)(nil)

// DialFunc opens an RPC connection
type DialFunc func(ctx context.Context, rpcURL string) (EthClient, error)

func dialEthClient(ctx context.Context, rpcURL string) (EthClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return client, nil
}

// ChainReader is a read-only RPC view of one chain. It implements
// csevm.ChainReader for payment verification and csevm.SignatureReader for
// wallet login.
type ChainReader struct {
	client EthClient
}

var (
	_ csevm.ChainReader     = (*ChainReader)(nil)
	_ csevm.SignatureReader = (*ChainReader)(nil)
)

// NewChainReader wraps an existing client
func NewChainReader(client EthClient) *ChainReader {
	return &ChainReader{client: client}
}

// DialChainReader connects to rpcURL
func DialChainReader(ctx context.Context, rpcURL string) (*ChainReader, error) {
	client, err := dialEthClient(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return NewChainReader(client), nil
}

// GetChainID returns the chain id served by the RPC endpoint
func (r *ChainReader) GetChainID(ctx context.Context) (*big.Int, error) {
	return r.client.ChainID(ctx)
}

// BlockNumber returns the latest block number
func (r *ChainReader) BlockNumber(ctx context.Context) (uint64, error) {
	return r.client.BlockNumber(ctx)
}

// GetTransaction returns a transaction with its recovered sender
func (r *ChainReader) GetTransaction(ctx context.Context, txHash string) (*csevm.Transaction, error) {
	tx, pending, err := r.client.TransactionByHash(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, csevm.ErrNotFound
		}
		return nil, err
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender: %w", err)
	}

	result := &csevm.Transaction{
		Hash:    tx.Hash().Hex(),
		From:    from.Hex(),
		Value:   tx.Value(),
		Pending: pending,
	}
	if tx.To() != nil {
		result.To = tx.To().Hex()
	}
	return result, nil
}

// GetTransactionReceipt returns the receipt of a mined transaction
func (r *ChainReader) GetTransactionReceipt(ctx context.Context, txHash string) (*csevm.TransactionReceipt, error) {
	receipt, err := r.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, csevm.ErrNotFound
		}
		return nil, err
	}
	return toReceipt(receipt), nil
}

// GetCode returns the bytecode at address
func (r *ChainReader) GetCode(ctx context.Context, address string) ([]byte, error) {
	return r.client.CodeAt(ctx, common.HexToAddress(address), nil)
}

// ReadContract calls a view function and returns its single result, all
// results for multi-value functions, or nil for none
func (r *ChainReader) ReadContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (interface{}, error) {
	return readContract(ctx, r.client, common.Address{}, address, abiJSON, functionName, args...)
}

func readContract(
	ctx context.Context,
	client EthClient,
	from common.Address,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack data: %w", err)
	}

	to := common.HexToAddress(contractAddress)
	resultBytes, err := client.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	unpacked, err := parsedABI.Unpack(functionName, resultBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}
	switch len(unpacked) {
	case 0:
		return nil, nil
	case 1:
		return unpacked[0], nil
	}
	return unpacked, nil
}

func toReceipt(receipt *types.Receipt) *csevm.TransactionReceipt {
	result := &csevm.TransactionReceipt{
		Status: receipt.Status,
		TxHash: receipt.TxHash.Hex(),
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	for _, log := range receipt.Logs {
		topics := make([]string, len(log.Topics))
		for i, topic := range log.Topics {
			topics[i] = topic.Hex()
		}
		result.Logs = append(result.Logs, csevm.EventLog{
			Address: log.Address.Hex(),
			Topics:  topics,
			Data:    "0x" + common.Bytes2Hex(log.Data),
		})
	}
	return result
}
