package clearsky_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	clearsky "github.com/clearskynet/clearsky/go"
)

const (
	buyerAddress  = "0x14791697260E4c9A71f18484C9f997B308e59325"
	sellerAddress = "0xAbCdEf1234567890123456789012345678901234"
	testNetwork   = clearsky.Network("eip155:1315")
	testTxHash    = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
)

var (
	oneIP       = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	aeneidChain = clearsky.ChainConfig{
		Network: testNetwork,
		ChainID: big.NewInt(1315),
		Name:    "Story Aeneid",
		NativeCurrency: clearsky.NativeCurrency{
			Name:     "IP",
			Symbol:   "IP",
			Decimals: 18,
		},
		RPCURLs:      []string{"https://aeneid.storyrpc.io"},
		ExplorerURLs: []string{"https://aeneid.storyscan.io"},
	}
)

// mockWallet simulates an injected wallet: it only switches to chains it knows
type mockWallet struct {
	mu sync.Mutex

	address     string
	chainID     *big.Int
	knownChains map[string]bool
	balance     *big.Int

	balanceErr error
	switchErr  error
	addErr     error
	sendErr    error

	// pendingPolls receipt lookups report "not found" before the receipt appears
	pendingPolls  int
	neverMine     bool
	receiptStatus uint64
	polled        chan struct{}

	sent     []clearsky.TxRequest
	polls    int
	switches int
	adds     int
}

func newMockWallet() *mockWallet {
	return &mockWallet{
		address:       buyerAddress,
		chainID:       big.NewInt(1315),
		knownChains:   map[string]bool{"1": true, "1315": true},
		balance:       new(big.Int).Mul(oneIP, big.NewInt(5)),
		receiptStatus: clearsky.ReceiptStatusSuccess,
	}
}

func (w *mockWallet) Address(_ context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.address == "" {
		return "", clearsky.ErrWalletNotConnected
	}
	return w.address, nil
}

func (w *mockWallet) ChainID(_ context.Context) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return new(big.Int).Set(w.chainID), nil
}

func (w *mockWallet) SwitchChain(_ context.Context, chainID *big.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.switches++
	if w.switchErr != nil {
		return w.switchErr
	}
	if !w.knownChains[chainID.String()] {
		return fmt.Errorf("%w: %s", clearsky.ErrUnrecognizedChain, chainID)
	}
	w.chainID = new(big.Int).Set(chainID)
	return nil
}

func (w *mockWallet) AddChain(_ context.Context, chain clearsky.ChainConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.adds++
	if w.addErr != nil {
		return w.addErr
	}
	w.knownChains[chain.ChainID.String()] = true
	return nil
}

func (w *mockWallet) Balance(_ context.Context, _ string) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balanceErr != nil {
		return nil, w.balanceErr
	}
	return new(big.Int).Set(w.balance), nil
}

func (w *mockWallet) SendTransaction(_ context.Context, tx clearsky.TxRequest) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendErr != nil {
		return "", w.sendErr
	}
	w.sent = append(w.sent, tx)
	return testTxHash, nil
}

func (w *mockWallet) TransactionReceipt(_ context.Context, txHash string) (*clearsky.Receipt, error) {
	w.mu.Lock()
	w.polls++
	polls, pending, never, polled := w.polls, w.pendingPolls, w.neverMine, w.polled
	status := w.receiptStatus
	w.mu.Unlock()

	if polled != nil {
		select {
		case polled <- struct{}{}:
		default:
		}
	}
	if never || polls <= pending {
		return nil, clearsky.ErrReceiptNotFound
	}
	return &clearsky.Receipt{Status: status, BlockNumber: 42, TxHash: txHash}, nil
}

func (w *mockWallet) mine() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.neverMine = false
	w.pendingPolls = 0
}

func (w *mockWallet) sentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sent)
}

type mockBackend struct {
	mu    sync.Mutex
	errs  []error
	calls []clearsky.Confirmation
}

func (b *mockBackend) ConfirmPurchase(_ context.Context, c clearsky.Confirmation) (*clearsky.ConfirmResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, c)
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &clearsky.ConfirmResult{OrderID: fmt.Sprintf("order-%d", len(b.calls)), Status: "completed"}, nil
}

func (b *mockBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type mockLicenser struct {
	err      error
	requests []clearsky.LicenseRequest
}

func (l *mockLicenser) MintLicense(_ context.Context, req clearsky.LicenseRequest) (*clearsky.LicenseResult, error) {
	l.requests = append(l.requests, req)
	if l.err != nil {
		return nil, l.err
	}
	return &clearsky.LicenseResult{TxHash: "0xlicense", StartTokenID: "77"}, nil
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []clearsky.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note clearsky.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, note)
}

func (n *recordingNotifier) last() clearsky.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notifications) == 0 {
		return clearsky.Notification{}
	}
	return n.notifications[len(n.notifications)-1]
}

func reportRequest() clearsky.PurchaseRequest {
	return clearsky.PurchaseRequest{
		Kind:    clearsky.KindReport,
		ItemID:  "report-7",
		Seller:  sellerAddress,
		Price:   new(big.Int).Set(oneIP),
		Network: testNetwork,
	}
}

var errBackendDown = errors.New("backend unavailable")

var fixedNow = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
