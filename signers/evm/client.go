package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	clearsky "github.com/clearskynet/clearsky/go"
	csevm "github.com/clearskynet/clearsky/go/mechanisms/evm"
)

// Gas limit used when estimation fails
const fallbackGasLimit = 300000

type chainConn struct {
	config clearsky.ChainConfig
	client EthClient
}

// ClientSigner is a local-key wallet. Each known chain has its own RPC
// connection and switching chains selects one of them; chains must be added
// (dialed) before they can be selected.
type ClientSigner struct {
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	dial         DialFunc
	pollInterval time.Duration

	mu     sync.RWMutex
	chains map[string]*chainConn
	active string
}

var (
	_ clearsky.Wallet      = (*ClientSigner)(nil)
	_ csevm.ContractWriter = (*ClientSigner)(nil)
)

// SignerOption configures a ClientSigner
type SignerOption func(*ClientSigner)

// WithDialer replaces ethclient.DialContext
func WithDialer(dial DialFunc) SignerOption {
	return func(s *ClientSigner) { s.dial = dial }
}

// WithReceiptPollInterval overrides the receipt polling interval
func WithReceiptPollInterval(d time.Duration) SignerOption {
	return func(s *ClientSigner) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewClientSignerFromPrivateKey creates a signer from a hex-encoded private key
// (with or without "0x" prefix). It has no chain until Connect or AddChain.
func NewClientSignerFromPrivateKey(privateKeyHex string, opts ...SignerOption) (*ClientSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	s := &ClientSigner{
		privateKey:   privateKey,
		address:      crypto.PubkeyToAddress(privateKey.PublicKey),
		dial:         dialEthClient,
		pollInterval: clearsky.DefaultPollInterval,
		chains:       make(map[string]*chainConn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect dials chain and makes it the active chain
func (s *ClientSigner) Connect(ctx context.Context, chain clearsky.ChainConfig) error {
	if err := s.AddChain(ctx, chain); err != nil {
		return err
	}
	return s.SwitchChain(ctx, chain.ChainID)
}

// Address returns the Ethereum address of the signer
func (s *ClientSigner) Address(_ context.Context) (string, error) {
	return s.address.Hex(), nil
}

// Sender returns the Ethereum address of the signer
func (s *ClientSigner) Sender() string {
	return s.address.Hex()
}

// ChainID returns the active chain
func (s *ClientSigner) ChainID(_ context.Context) (*big.Int, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(conn.config.ChainID), nil
}

// SwitchChain selects a previously added chain
func (s *ClientSigner) SwitchChain(_ context.Context, chainID *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chains[chainID.String()]; !ok {
		return fmt.Errorf("%w: %s", clearsky.ErrUnrecognizedChain, chainID)
	}
	s.active = chainID.String()
	return nil
}

// AddChain dials the first reachable RPC URL of chain and checks that it
// serves the expected chain id
func (s *ClientSigner) AddChain(ctx context.Context, chain clearsky.ChainConfig) error {
	if chain.ChainID == nil {
		return errors.New("chain id is required")
	}
	if len(chain.RPCURLs) == 0 {
		return fmt.Errorf("no RPC URL for %s", chain.DisplayName())
	}

	var errs []error
	for _, rpcURL := range chain.RPCURLs {
		client, err := s.dial(ctx, rpcURL)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		served, err := client.ChainID(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to get chain ID from %s: %w", rpcURL, err))
			continue
		}
		if served.Cmp(chain.ChainID) != 0 {
			errs = append(errs, fmt.Errorf("%s serves chain %s, expected %s", rpcURL, served, chain.ChainID))
			continue
		}

		s.mu.Lock()
		s.chains[chain.ChainID.String()] = &chainConn{config: chain, client: client}
		s.mu.Unlock()
		return nil
	}
	return fmt.Errorf("failed to add %s: %w", chain.DisplayName(), errors.Join(errs...))
}

// Balance returns the native balance of address on the active chain
func (s *ClientSigner) Balance(ctx context.Context, address string) (*big.Int, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	return conn.client.BalanceAt(ctx, common.HexToAddress(address), nil)
}

// SendTransaction signs and broadcasts tx on the active chain
func (s *ClientSigner) SendTransaction(ctx context.Context, tx clearsky.TxRequest) (string, error) {
	conn, err := s.conn()
	if err != nil {
		return "", err
	}
	if !common.IsHexAddress(tx.To) {
		return "", fmt.Errorf("invalid recipient %q", tx.To)
	}
	return s.send(ctx, conn, common.HexToAddress(tx.To), tx.Value, tx.Data)
}

// TransactionReceipt looks up a receipt on the active chain
func (s *ClientSigner) TransactionReceipt(ctx context.Context, txHash string) (*clearsky.Receipt, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	receipt, err := conn.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, clearsky.ErrReceiptNotFound
		}
		return nil, err
	}
	r := toReceipt(receipt)
	return &clearsky.Receipt{Status: r.Status, BlockNumber: r.BlockNumber, TxHash: r.TxHash}, nil
}

// ReadContract reads data from a smart contract on the active chain
func (s *ClientSigner) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	return readContract(ctx, conn.client, s.address, contractAddress, abiJSON, functionName, args...)
}

// WriteContract executes a smart contract transaction on the active chain
func (s *ClientSigner) WriteContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	value *big.Int,
	args ...interface{},
) (string, error) {
	conn, err := s.conn()
	if err != nil {
		return "", err
	}

	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack data: %w", err)
	}

	return s.send(ctx, conn, common.HexToAddress(contractAddress), value, data)
}

// WaitForTransactionReceipt waits for a transaction to be mined
func (s *ClientSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*csevm.TransactionReceipt, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := conn.client.TransactionReceipt(ctx, hash)
			if err != nil {
				if errors.Is(err, ethereum.NotFound) {
					continue // Not mined yet
				}
				return nil, err
			}
			return toReceipt(receipt), nil
		}
	}
}

// SignTypedData signs EIP-712 typed data; v is 27 or 28
func (s *ClientSigner) SignTypedData(
	_ context.Context,
	domain csevm.TypedDataDomain,
	fields map[string][]csevm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	digest, err := csevm.HashTypedData(domain, fields, primaryType, message)
	if err != nil {
		return nil, err
	}
	return s.sign(digest)
}

// SignLogin signs a marketplace login challenge
func (s *ClientSigner) SignLogin(challenge csevm.LoginChallenge) ([]byte, error) {
	digest, err := csevm.HashLoginChallenge(challenge)
	if err != nil {
		return nil, err
	}
	return s.sign(digest[:])
}

func (s *ClientSigner) sign(digest []byte) ([]byte, error) {
	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	signature[64] += 27
	return signature, nil
}

// send builds, signs and broadcasts a legacy EIP-155 transaction
func (s *ClientSigner) send(ctx context.Context, conn *chainConn, to common.Address, value *big.Int, data []byte) (string, error) {
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := conn.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := conn.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := conn.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		gasLimit = fallbackGasLimit
	} else {
		gasLimit = gasLimit * 6 / 5
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(conn.config.ChainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := conn.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

func (s *ClientSigner) conn() (*chainConn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.chains[s.active]
	if !ok {
		return nil, errors.New("RPC client not configured")
	}
	return conn, nil
}
