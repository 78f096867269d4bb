package clearsky_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/store"
)

type harness struct {
	wallet   *mockWallet
	backend  *mockBackend
	store    *store.MemoryStore
	notifier *recordingNotifier
	states   []clearsky.PurchaseState
	mu       sync.Mutex
}

func newHarness() *harness {
	return &harness{
		wallet:   newMockWallet(),
		backend:  &mockBackend{},
		store:    store.NewMemoryStore(),
		notifier: &recordingNotifier{},
	}
}

func (h *harness) purchaser(opts ...clearsky.Option) *clearsky.Purchaser {
	base := []clearsky.Option{
		clearsky.WithStore(h.store),
		clearsky.WithNotifier(h.notifier),
		clearsky.WithChains(aeneidChain),
		clearsky.WithPollInterval(time.Millisecond),
		clearsky.WithClock(fixedNow),
	}
	p := clearsky.NewPurchaser(h.wallet, h.backend, append(base, opts...)...)
	p.OnStateChange(func(ctx clearsky.StateChangeContext) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.states = append(h.states, ctx.To)
	})
	return p
}

func (h *harness) visited() []clearsky.PurchaseState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]clearsky.PurchaseState(nil), h.states...)
}

func requireReason(t *testing.T, err error, reason string) *clearsky.PurchaseError {
	t.Helper()
	var pe *clearsky.PurchaseError
	require.True(t, errors.As(err, &pe), "expected PurchaseError, got %v", err)
	require.Equal(t, reason, pe.Reason)
	return pe
}

func TestPurchaseHappyPath(t *testing.T) {
	h := newHarness()
	h.wallet.pendingPolls = 3
	p := h.purchaser()

	purchase, err := p.Purchase(context.Background(), reportRequest())
	require.NoError(t, err)

	assert.Equal(t, clearsky.StateSuccess, purchase.State)
	assert.Equal(t, testTxHash, purchase.TxHash)
	assert.Equal(t, uint64(42), purchase.BlockNumber)
	assert.Equal(t, "order-1", purchase.OrderID)
	assert.Equal(t, []clearsky.PurchaseState{
		clearsky.StateSendingPayment,
		clearsky.StateAwaitingConfirmation,
		clearsky.StateFinalizing,
		clearsky.StateSuccess,
	}, h.visited())

	require.Len(t, h.wallet.sent, 1)
	assert.True(t, strings.EqualFold(sellerAddress, h.wallet.sent[0].To))
	assert.Equal(t, 0, h.wallet.sent[0].Value.Cmp(oneIP))
	assert.Equal(t, 4, h.wallet.polls)
	assert.Zero(t, h.wallet.switches)

	require.Len(t, h.backend.calls, 1)
	assert.Equal(t, clearsky.Confirmation{
		Kind:    clearsky.KindReport,
		ItemID:  "report-7",
		Buyer:   buyerAddress,
		TxHash:  testTxHash,
		Network: testNetwork,
	}, h.backend.calls[0])

	stored, err := h.store.Get(context.Background(), purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, clearsky.StateSuccess, stored.State)

	last := h.notifier.last()
	assert.Equal(t, clearsky.LevelSuccess, last.Level)
	assert.Equal(t, "Purchase complete!", last.Message)
	assert.Equal(t, "https://aeneid.storyscan.io/tx/"+testTxHash, last.TxURL)
}

func TestPurchaseChainSwitching(t *testing.T) {
	t.Run("switches a wallet on another known chain", func(t *testing.T) {
		h := newHarness()
		h.wallet.chainID = big.NewInt(1)
		p := h.purchaser()

		purchase, err := p.Purchase(context.Background(), reportRequest())
		require.NoError(t, err)
		assert.Equal(t, clearsky.StateSuccess, purchase.State)
		assert.Equal(t, clearsky.StateSwitchingChain, h.visited()[0])
		assert.Equal(t, 1, h.wallet.switches)
		assert.Zero(t, h.wallet.adds)
	})

	t.Run("adds an unrecognized chain then switches", func(t *testing.T) {
		h := newHarness()
		h.wallet.chainID = big.NewInt(1)
		delete(h.wallet.knownChains, "1315")
		p := h.purchaser()

		purchase, err := p.Purchase(context.Background(), reportRequest())
		require.NoError(t, err)
		assert.Equal(t, clearsky.StateSuccess, purchase.State)
		assert.Equal(t, 2, h.wallet.switches)
		assert.Equal(t, 1, h.wallet.adds)
		assert.Equal(t, int64(1315), h.wallet.chainID.Int64())
	})

	t.Run("rejected switch fails without paying", func(t *testing.T) {
		h := newHarness()
		h.wallet.chainID = big.NewInt(1)
		h.wallet.switchErr = clearsky.ErrUserRejected
		p := h.purchaser()

		purchase, err := p.Purchase(context.Background(), reportRequest())
		pe := requireReason(t, err, clearsky.ReasonChainSwitchRejected)
		assert.Equal(t, "Please switch to Story Aeneid to continue.", pe.Message)
		assert.Equal(t, clearsky.StateFailed, purchase.State)
		assert.Zero(t, h.wallet.sentCount())
		assert.Equal(t, clearsky.LevelError, h.notifier.last().Level)
	})

	t.Run("failed add", func(t *testing.T) {
		h := newHarness()
		h.wallet.chainID = big.NewInt(1)
		delete(h.wallet.knownChains, "1315")
		h.wallet.addErr = errors.New("provider refused")
		p := h.purchaser()

		_, err := p.Purchase(context.Background(), reportRequest())
		pe := requireReason(t, err, clearsky.ReasonChainAddFailed)
		assert.Equal(t, "Could not add Story Aeneid to your wallet.", clearsky.UserMessage(pe))
		assert.Zero(t, h.wallet.sentCount())
	})
}

func TestPurchasePaymentFailures(t *testing.T) {
	t.Run("insufficient balance", func(t *testing.T) {
		h := newHarness()
		h.wallet.balance = new(big.Int).Div(oneIP, big.NewInt(2))
		p := h.purchaser()

		purchase, err := p.Purchase(context.Background(), reportRequest())
		pe := requireReason(t, err, clearsky.ReasonInsufficientBalance)
		assert.Equal(t, "Insufficient balance: need 1 IP, have 0.5 IP.", pe.Message)
		assert.Equal(t, clearsky.StateFailed, purchase.State)
		assert.Zero(t, h.wallet.sentCount())
		assert.Zero(t, h.backend.callCount())
		assert.Zero(t, h.wallet.switches)
	})

	t.Run("balance read error", func(t *testing.T) {
		h := newHarness()
		h.wallet.balanceErr = errors.New("rpc down")
		_, err := h.purchaser().Purchase(context.Background(), reportRequest())
		requireReason(t, err, clearsky.ReasonBalanceCheckFailed)
	})

	t.Run("wallet rejects transfer", func(t *testing.T) {
		h := newHarness()
		h.wallet.sendErr = fmt.Errorf("eth_sendTransaction: %w", clearsky.ErrUserRejected)
		purchase, err := h.purchaser().Purchase(context.Background(), reportRequest())
		pe := requireReason(t, err, clearsky.ReasonPaymentRejected)
		assert.Equal(t, "Payment was rejected in your wallet.", pe.Message)
		assert.Equal(t, clearsky.StateFailed, purchase.State)
		assert.Empty(t, purchase.TxHash)
	})

	t.Run("reverted transfer is never confirmed", func(t *testing.T) {
		h := newHarness()
		h.wallet.receiptStatus = 0
		purchase, err := h.purchaser().Purchase(context.Background(), reportRequest())
		requireReason(t, err, clearsky.ReasonTransactionReverted)
		assert.Equal(t, clearsky.StateFailed, purchase.State)
		assert.Zero(t, h.backend.callCount())
	})
}

func TestPurchaseValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*clearsky.PurchaseRequest)
	}{
		{"unknown kind", func(r *clearsky.PurchaseRequest) { r.Kind = "dataset" }},
		{"missing item", func(r *clearsky.PurchaseRequest) { r.ItemID = "" }},
		{"bad seller", func(r *clearsky.PurchaseRequest) { r.Seller = "0x123" }},
		{"zero price", func(r *clearsky.PurchaseRequest) { r.Price = big.NewInt(0) }},
		{"nil price", func(r *clearsky.PurchaseRequest) { r.Price = nil }},
		{"non evm network", func(r *clearsky.PurchaseRequest) { r.Network = "solana:devnet" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			req := reportRequest()
			tt.mutate(&req)
			purchase, err := h.purchaser().Purchase(context.Background(), req)
			requireReason(t, err, clearsky.ReasonInvalidRequest)
			assert.Nil(t, purchase)
			assert.Zero(t, h.wallet.sentCount())
		})
	}

	t.Run("wallet not connected", func(t *testing.T) {
		h := newHarness()
		h.wallet.address = ""
		_, err := h.purchaser().Purchase(context.Background(), reportRequest())
		pe := requireReason(t, err, clearsky.ReasonWalletNotConnected)
		assert.Equal(t, "Please connect your wallet first.", clearsky.UserMessage(pe))
	})

	t.Run("before hook aborts", func(t *testing.T) {
		h := newHarness()
		p := h.purchaser().OnBeforePurchase(func(ctx clearsky.PurchaseContext) (*clearsky.BeforeHookResult, error) {
			assert.Equal(t, buyerAddress, ctx.Buyer)
			return &clearsky.BeforeHookResult{Abort: true, Reason: "Sellers cannot buy their own reports."}, nil
		})
		_, err := p.Purchase(context.Background(), reportRequest())
		pe := requireReason(t, err, clearsky.ReasonPurchaseAborted)
		assert.Equal(t, "Sellers cannot buy their own reports.", pe.Message)
		assert.Zero(t, h.wallet.sentCount())
	})
}

func TestPurchaseDeduplication(t *testing.T) {
	t.Run("concurrent purchase of the same item", func(t *testing.T) {
		h := newHarness()
		h.wallet.neverMine = true
		h.wallet.polled = make(chan struct{}, 1)
		p := h.purchaser()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan error, 1)
		go func() {
			_, err := p.Purchase(ctx, reportRequest())
			done <- err
		}()
		<-h.wallet.polled

		_, err := p.Purchase(context.Background(), reportRequest())
		requireReason(t, err, clearsky.ReasonPurchaseInProgress)

		cancel()
		requireReason(t, <-done, clearsky.ReasonPurchaseCanceled)
		assert.Equal(t, 1, h.wallet.sentCount())
	})

	t.Run("journaled purchase blocks a new one", func(t *testing.T) {
		h := newHarness()
		h.wallet.neverMine = true
		first, err := h.purchaser(clearsky.WithMaxPollAttempts(2)).Purchase(context.Background(), reportRequest())
		requireReason(t, err, clearsky.ReasonReceiptTimeout)

		// a fresh process sees the journal entry
		existing, err := h.purchaser().Purchase(context.Background(), reportRequest())
		pe := requireReason(t, err, clearsky.ReasonPurchaseInProgress)
		assert.Equal(t, first.ID, pe.PurchaseID)
		assert.Equal(t, first.ID, existing.ID)
		assert.Equal(t, 1, h.wallet.sentCount())
	})

	t.Run("owned item", func(t *testing.T) {
		h := newHarness()
		_, err := h.purchaser().Purchase(context.Background(), reportRequest())
		require.NoError(t, err)

		_, err = h.purchaser().Purchase(context.Background(), reportRequest())
		requireReason(t, err, clearsky.ReasonAlreadyPurchased)
		assert.Equal(t, 1, h.wallet.sentCount())
	})

	t.Run("failed purchase can be retried", func(t *testing.T) {
		h := newHarness()
		h.wallet.balance = big.NewInt(1)
		_, err := h.purchaser().Purchase(context.Background(), reportRequest())
		requireReason(t, err, clearsky.ReasonInsufficientBalance)

		h.wallet.balance = new(big.Int).Mul(oneIP, big.NewInt(2))
		purchase, err := h.purchaser().Purchase(context.Background(), reportRequest())
		require.NoError(t, err)
		assert.Equal(t, clearsky.StateSuccess, purchase.State)
	})
}

func TestPurchaseRecovery(t *testing.T) {
	t.Run("receipt timeout then resume", func(t *testing.T) {
		h := newHarness()
		h.wallet.neverMine = true
		purchase, err := h.purchaser(clearsky.WithMaxPollAttempts(3)).Purchase(context.Background(), reportRequest())
		pe := requireReason(t, err, clearsky.ReasonReceiptTimeout)
		assert.True(t, pe.Retryable())
		assert.Equal(t, clearsky.StateAwaitingConfirmation, purchase.State)
		assert.Equal(t, 3, h.wallet.polls)

		h.wallet.mine()
		resumed, err := h.purchaser().Resume(context.Background(), purchase.ID)
		require.NoError(t, err)
		assert.Equal(t, clearsky.StateSuccess, resumed.State)
		assert.Empty(t, resumed.Reason)
		assert.Equal(t, 1, h.wallet.sentCount())
		assert.Equal(t, 1, h.backend.callCount())
	})

	t.Run("cancelled polling stays resumable", func(t *testing.T) {
		h := newHarness()
		h.wallet.neverMine = true
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		purchase, err := h.purchaser().Purchase(ctx, reportRequest())
		requireReason(t, err, clearsky.ReasonPurchaseCanceled)

		stored, err := h.store.Get(context.Background(), purchase.ID)
		require.NoError(t, err)
		assert.Equal(t, clearsky.StateAwaitingConfirmation, stored.State)
		assert.Equal(t, testTxHash, stored.TxHash)
		assert.Equal(t, clearsky.ReasonPurchaseCanceled, stored.Reason)
	})

	t.Run("backend failure then resume", func(t *testing.T) {
		h := newHarness()
		h.backend.errs = []error{errBackendDown}
		purchase, err := h.purchaser().Purchase(context.Background(), reportRequest())
		pe := requireReason(t, err, clearsky.ReasonConfirmationFailed)
		assert.Equal(t, "Payment sent but purchase confirmation failed; it can be retried.", clearsky.UserMessage(pe))
		assert.Equal(t, clearsky.StateFinalizing, purchase.State)

		results, err := h.purchaser().ResumePending(context.Background())
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, clearsky.StateSuccess, results[0].State)
		assert.Equal(t, 2, h.backend.callCount())
		assert.Equal(t, 1, h.wallet.sentCount())
		assert.Equal(t, 1, h.wallet.polls)
	})

	t.Run("backend rejection is terminal", func(t *testing.T) {
		h := newHarness()
		h.backend.errs = []error{fmt.Errorf("422: %w", clearsky.ErrConfirmationRejected)}
		purchase, err := h.purchaser().Purchase(context.Background(), reportRequest())
		requireReason(t, err, clearsky.ReasonConfirmationRejected)
		assert.Equal(t, clearsky.StateFailed, purchase.State)

		pending, err := h.store.ListPending(context.Background())
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("interrupted payment is not re-sent", func(t *testing.T) {
		h := newHarness()
		require.NoError(t, h.store.Save(context.Background(), &clearsky.Purchase{
			ID:        "crashed",
			Kind:      clearsky.KindDerivative,
			ItemID:    "deriv-1",
			Buyer:     buyerAddress,
			Seller:    sellerAddress,
			Price:     oneIP,
			Network:   testNetwork,
			State:     clearsky.StateSendingPayment,
			CreatedAt: fixedNow(),
		}))

		purchase, err := h.purchaser().Resume(context.Background(), "crashed")
		requireReason(t, err, clearsky.ReasonPaymentInterrupted)
		assert.Equal(t, clearsky.StateFailed, purchase.State)
		assert.Zero(t, h.wallet.sentCount())
	})

	t.Run("resume of a purchase that never paid restarts it", func(t *testing.T) {
		h := newHarness()
		h.wallet.chainID = big.NewInt(1)
		require.NoError(t, h.store.Save(context.Background(), &clearsky.Purchase{
			ID:        "early",
			Kind:      clearsky.KindReport,
			ItemID:    "report-9",
			Buyer:     buyerAddress,
			Seller:    sellerAddress,
			Price:     oneIP,
			Network:   testNetwork,
			State:     clearsky.StateSwitchingChain,
			CreatedAt: fixedNow(),
		}))

		purchase, err := h.purchaser().Resume(context.Background(), "early")
		require.NoError(t, err)
		assert.Equal(t, clearsky.StateSuccess, purchase.State)
		assert.Equal(t, 1, h.wallet.sentCount())
	})

	t.Run("resume from another account does not pay", func(t *testing.T) {
		h := newHarness()
		h.wallet.chainID = big.NewInt(1)
		h.wallet.address = "0x1111111111111111111111111111111111111111"
		require.NoError(t, h.store.Save(context.Background(), &clearsky.Purchase{
			ID:        "switched-account",
			Kind:      clearsky.KindReport,
			ItemID:    "report-9",
			Buyer:     buyerAddress,
			Seller:    sellerAddress,
			Price:     oneIP,
			Network:   testNetwork,
			State:     clearsky.StateSwitchingChain,
			CreatedAt: fixedNow(),
		}))

		purchase, err := h.purchaser().Resume(context.Background(), "switched-account")
		requireReason(t, err, clearsky.ReasonWalletNotConnected)
		assert.ErrorIs(t, err, clearsky.ErrWalletNotConnected)
		assert.Contains(t, clearsky.UserMessage(err), buyerAddress)
		assert.Equal(t, clearsky.StateFailed, purchase.State)
		assert.Zero(t, h.wallet.sentCount())
		assert.Zero(t, h.backend.callCount())
		assert.Zero(t, h.wallet.switches)
	})

	t.Run("terminal purchases are returned as is", func(t *testing.T) {
		h := newHarness()
		h.wallet.balance = big.NewInt(0)
		failed, err := h.purchaser().Purchase(context.Background(), reportRequest())
		requireReason(t, err, clearsky.ReasonInsufficientBalance)

		again, err := h.purchaser().Resume(context.Background(), failed.ID)
		requireReason(t, err, clearsky.ReasonInsufficientBalance)
		assert.Equal(t, clearsky.StateFailed, again.State)
	})

	t.Run("unknown purchase", func(t *testing.T) {
		_, err := newHarness().purchaser().Resume(context.Background(), "nope")
		assert.ErrorIs(t, err, clearsky.ErrPurchaseNotFound)
	})

	t.Run("without a journal", func(t *testing.T) {
		h := newHarness()
		p := clearsky.NewPurchaser(h.wallet, h.backend, clearsky.WithPollInterval(time.Millisecond))
		purchase, err := p.Purchase(context.Background(), reportRequest())
		require.NoError(t, err)
		assert.Equal(t, clearsky.StateSuccess, purchase.State)

		_, err = p.Resume(context.Background(), purchase.ID)
		assert.ErrorIs(t, err, clearsky.ErrPurchaseNotFound)
	})
}

func TestPurchaseLicensing(t *testing.T) {
	license := &clearsky.LicenseRequest{
		LicensorIPID:   "0x1111111111111111111111111111111111111111",
		LicenseTermsID: "5",
	}

	t.Run("mints after confirmation", func(t *testing.T) {
		h := newHarness()
		licenser := &mockLicenser{}
		req := reportRequest()
		req.License = license

		var confirmed *clearsky.Purchase
		p := h.purchaser(clearsky.WithLicenser(licenser)).
			OnAfterPurchase(func(ctx clearsky.PurchaseResultContext) error {
				confirmed = ctx.Purchase
				return nil
			})

		purchase, err := p.Purchase(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "0xlicense", purchase.LicenseTx)
		assert.Equal(t, "77", purchase.LicenseID)
		require.Len(t, licenser.requests, 1)
		assert.Equal(t, buyerAddress, licenser.requests[0].Receiver)
		assert.Equal(t, uint64(1), licenser.requests[0].Amount)
		require.NotNil(t, confirmed)
		assert.Empty(t, confirmed.LicenseTx)
	})

	t.Run("mint failure keeps the purchase", func(t *testing.T) {
		h := newHarness()
		licenser := &mockLicenser{err: errors.New("execution reverted")}
		req := reportRequest()
		req.License = license

		var failures []string
		p := h.purchaser(clearsky.WithLicenser(licenser)).
			OnPurchaseFailure(func(ctx clearsky.PurchaseFailureContext) {
				failures = append(failures, ctx.Error.Reason)
			})

		purchase, err := p.Purchase(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, clearsky.StateSuccess, purchase.State)
		assert.Equal(t, clearsky.ReasonLicenseMintFailed, purchase.Reason)
		assert.Equal(t, []string{clearsky.ReasonLicenseMintFailed}, failures)
		assert.Equal(t, "Purchase complete, but license minting failed.", h.notifier.last().Message)

		// resuming retries the mint only
		licenser.err = nil
		resumed, err := h.purchaser(clearsky.WithLicenser(licenser)).Resume(context.Background(), purchase.ID)
		require.NoError(t, err)
		assert.Equal(t, "0xlicense", resumed.LicenseTx)
		assert.Equal(t, 1, h.wallet.sentCount())
		assert.Equal(t, 1, h.backend.callCount())
	})
}
