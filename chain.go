package clearsky

import (
	"context"
	"errors"
	"time"
)

// EnsureChain switches the wallet to chain, adding the chain first when the
// wallet does not recognize it.
func EnsureChain(ctx context.Context, w Wallet, chain ChainConfig) error {
	current, err := w.ChainID(ctx)
	if err == nil && current != nil && current.Cmp(chain.ChainID) == 0 {
		return nil
	}

	err = w.SwitchChain(ctx, chain.ChainID)
	if err == nil {
		return verifyChain(ctx, w, chain)
	}
	if !errors.Is(err, ErrUnrecognizedChain) {
		return &ChainError{Op: "switch", Chain: chain, Err: err}
	}

	if err := w.AddChain(ctx, chain); err != nil {
		return &ChainError{Op: "add", Chain: chain, Err: err}
	}
	// Some wallets switch on add, others do not
	if err := w.SwitchChain(ctx, chain.ChainID); err != nil {
		return &ChainError{Op: "switch", Chain: chain, Err: err}
	}
	return verifyChain(ctx, w, chain)
}

func verifyChain(ctx context.Context, w Wallet, chain ChainConfig) error {
	current, err := w.ChainID(ctx)
	if err != nil {
		return &ChainError{Op: "switch", Chain: chain, Err: err}
	}
	if current.Cmp(chain.ChainID) != 0 {
		return &ChainError{
			Op:    "switch",
			Chain: chain,
			Err:   errors.New("wallet reports chain " + current.String() + " after switch"),
		}
	}
	return nil
}

// ReceiptPoll configures WaitForReceipt
type ReceiptPoll struct {
	Interval time.Duration
	// MaxAttempts bounds the number of lookups; 0 polls until the context ends
	MaxAttempts int
	// OnAttempt observes every lookup that did not produce a receipt
	OnAttempt func(attempt int, err error)
}

// WaitForReceipt polls the wallet's RPC for a transaction receipt on a fixed
// interval. Lookup errors are treated like a pending transaction.
func WaitForReceipt(ctx context.Context, w Wallet, txHash string, poll ReceiptPoll) (*Receipt, error) {
	interval := poll.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := w.TransactionReceipt(ctx, txHash)
			if err == nil && receipt != nil {
				return receipt, nil
			}
			if err == nil {
				err = ErrReceiptNotFound
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if poll.OnAttempt != nil {
				poll.OnAttempt(attempt, err)
			}
			if poll.MaxAttempts > 0 && attempt >= poll.MaxAttempts {
				return nil, ErrReceiptTimeout
			}
		}
	}
}
