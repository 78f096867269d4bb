package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clearsky "github.com/clearskynet/clearsky/go"
	csevm "github.com/clearskynet/clearsky/go/mechanisms/evm"
)

type providerError struct {
	code int
	msg  string
}

func (e providerError) Error() string  { return e.msg }
func (e providerError) ErrorCode() int { return e.code }

// fakeProvider emulates an injected wallet: it knows a set of chains and
// rejects whatever the test tells it to
type fakeProvider struct {
	accounts []common.Address
	chainID  int64
	known    map[string]bool
	added    []csevm.AddChainParams
	reject   bool
	sent     []sendTxArgs
	receipts map[common.Hash]*rpcReceipt
}

type ethService struct{ p *fakeProvider }

func (s *ethService) Accounts() []common.Address { return s.p.accounts }

func (s *ethService) ChainId() *hexutil.Big { return (*hexutil.Big)(big.NewInt(s.p.chainID)) }

func (s *ethService) GetBalance(address common.Address, block string) (*hexutil.Big, error) {
	if block != "latest" {
		return nil, providerError{code: -32602, msg: "bad block"}
	}
	return (*hexutil.Big)(big.NewInt(2e18)), nil
}

func (s *ethService) SendTransaction(args sendTxArgs) (common.Hash, error) {
	if s.p.reject {
		return common.Hash{}, providerError{code: csevm.ProviderErrUserRejected, msg: "User rejected the request."}
	}
	s.p.sent = append(s.p.sent, args)
	hash := common.BigToHash(big.NewInt(int64(len(s.p.sent))))
	s.p.receipts[hash] = &rpcReceipt{
		Status:          1,
		BlockNumber:     (*hexutil.Big)(big.NewInt(77)),
		TransactionHash: hash,
	}
	return hash, nil
}

func (s *ethService) GetTransactionReceipt(hash common.Hash) *rpcReceipt {
	return s.p.receipts[hash]
}

type walletService struct{ p *fakeProvider }

func (s *walletService) SwitchEthereumChain(params csevm.SwitchChainParams) error {
	if s.p.reject {
		return providerError{code: csevm.ProviderErrUserRejected, msg: "User rejected the request."}
	}
	if !s.p.known[params.ChainID] {
		return providerError{code: csevm.ProviderErrUnrecognizedChain, msg: "Unrecognized chain ID " + params.ChainID}
	}
	id, err := hexutil.DecodeBig(params.ChainID)
	if err != nil {
		return err
	}
	s.p.chainID = id.Int64()
	return nil
}

func (s *walletService) AddEthereumChain(params csevm.AddChainParams) error {
	s.p.added = append(s.p.added, params)
	s.p.known[params.ChainID] = true
	return nil
}

func newProviderWallet(t *testing.T, p *fakeProvider) *ProviderWallet {
	t.Helper()
	if p.known == nil {
		p.known = map[string]bool{}
	}
	p.receipts = map[common.Hash]*rpcReceipt{}

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", &ethService{p: p}))
	require.NoError(t, server.RegisterName("wallet", &walletService{p: p}))
	t.Cleanup(server.Stop)

	w := NewProviderWallet(rpc.DialInProc(server))
	t.Cleanup(w.Close)
	return w
}

func TestProviderWalletChainSwitch(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{accounts: []common.Address{common.HexToAddress(testAddress)}, chainID: 1}
	w := newProviderWallet(t, p)

	aeneid, err := csevm.GetChainConfig(string(csevm.NetworkStoryAeneid))
	require.NoError(t, err)

	err = w.SwitchChain(ctx, aeneid.ChainID)
	assert.ErrorIs(t, err, clearsky.ErrUnrecognizedChain)

	require.NoError(t, clearsky.EnsureChain(ctx, w, aeneid))
	require.Len(t, p.added, 1)
	assert.Equal(t, "0x523", p.added[0].ChainID)
	assert.Equal(t, "IP", p.added[0].NativeCurrency.Symbol)

	id, err := w.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1315), id.Int64())

	p.reject = true
	err = w.SwitchChain(ctx, big.NewInt(1))
	assert.ErrorIs(t, err, clearsky.ErrUserRejected)
}

func TestProviderWalletPayment(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{accounts: []common.Address{common.HexToAddress(testAddress)}, chainID: 1315}
	w := newProviderWallet(t, p)

	address, err := w.Address(ctx)
	require.NoError(t, err)
	assert.Equal(t, testAddress, address)

	balance, err := w.Balance(ctx, address)
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", balance.String())

	txHash, err := w.SendTransaction(ctx, clearsky.TxRequest{To: testSeller, Value: big.NewInt(1000)})
	require.NoError(t, err)
	require.Len(t, p.sent, 1)
	assert.Equal(t, common.HexToAddress(testAddress), p.sent[0].From)
	assert.Equal(t, int64(1000), p.sent[0].Value.ToInt().Int64())

	receipt, err := w.TransactionReceipt(ctx, txHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), receipt.BlockNumber)
	assert.Equal(t, uint64(clearsky.ReceiptStatusSuccess), receipt.Status)

	_, err = w.TransactionReceipt(ctx, common.Hash{0xff}.Hex())
	assert.ErrorIs(t, err, clearsky.ErrReceiptNotFound)

	p.reject = true
	_, err = w.SendTransaction(ctx, clearsky.TxRequest{To: testSeller, Value: big.NewInt(1)})
	assert.ErrorIs(t, err, clearsky.ErrUserRejected)
	assert.Equal(t, clearsky.UserMessage(clearsky.ErrUserRejected), clearsky.UserMessage(err))
}

func TestProviderWalletNotConnected(t *testing.T) {
	w := newProviderWallet(t, &fakeProvider{chainID: 1315})

	_, err := w.Address(context.Background())
	assert.ErrorIs(t, err, clearsky.ErrWalletNotConnected)

	_, err = w.SendTransaction(context.Background(), clearsky.TxRequest{To: testSeller})
	assert.ErrorIs(t, err, clearsky.ErrWalletNotConnected)
}
