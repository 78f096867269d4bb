package clearsky

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option configures a Purchaser
type Option func(*Purchaser)

// WithStore journals every transition so purchases survive restarts
func WithStore(store Store) Option {
	return func(p *Purchaser) { p.store = store }
}

// WithLicenser enables license minting after a confirmed purchase
func WithLicenser(licenser Licenser) Option {
	return func(p *Purchaser) { p.licenser = licenser }
}

// WithNotifier sets the sink for user-facing notifications
func WithNotifier(notifier Notifier) Option {
	return func(p *Purchaser) { p.notifier = notifier }
}

// WithLogger sets the structured logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Purchaser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPollInterval overrides the receipt polling interval
func WithPollInterval(d time.Duration) Option {
	return func(p *Purchaser) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithMaxPollAttempts bounds receipt polling; 0 polls until the context ends
func WithMaxPollAttempts(n int) Option {
	return func(p *Purchaser) { p.maxPollAttempts = n }
}

// WithChains registers the chains purchases may target
func WithChains(chains ...ChainConfig) Option {
	return func(p *Purchaser) {
		for _, c := range chains {
			p.chains[c.Network] = c
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(p *Purchaser) { p.now = now }
}

// WithIDGenerator replaces the purchase id generator
func WithIDGenerator(newID func() string) Option {
	return func(p *Purchaser) { p.newID = newID }
}

// Purchaser runs the purchase-confirmation flow: chain switch, balance check,
// native transfer, receipt polling, backend confirmation and optional licensing.
type Purchaser struct {
	wallet   Wallet
	backend  Backend
	licenser Licenser
	store    Store
	notifier Notifier
	logger   *zap.Logger

	chains          map[Network]ChainConfig
	pollInterval    time.Duration
	maxPollAttempts int
	now             func() time.Time
	newID           func() string

	mu       sync.Mutex
	inflight map[string]struct{}

	beforeHooks  []BeforePurchaseHook
	stateHooks   []StateChangeHook
	afterHooks   []AfterPurchaseHook
	failureHooks []PurchaseFailureHook
}

// NewPurchaser creates a Purchaser for the connected wallet and marketplace backend
func NewPurchaser(wallet Wallet, backend Backend, opts ...Option) *Purchaser {
	p := &Purchaser{
		wallet:       wallet,
		backend:      backend,
		logger:       zap.NewNop(),
		chains:       make(map[Network]ChainConfig),
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		newID:        uuid.NewString,
		inflight:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Purchase buys a listing with the connected wallet. The returned purchase is
// non-nil whenever a journal entry was created, including on failure.
func (p *Purchaser) Purchase(ctx context.Context, req PurchaseRequest) (*Purchase, error) {
	if err := validateRequest(req); err != nil {
		return nil, p.report(ctx, nil, NewPurchaseError(ReasonInvalidRequest, StateIdle, nil, err))
	}

	buyer, err := p.wallet.Address(ctx)
	if err == nil && buyer == "" {
		err = ErrWalletNotConnected
	}
	if err != nil {
		return nil, p.report(ctx, nil, NewPurchaseError(ReasonWalletNotConnected, StateIdle, nil, err))
	}

	for _, hook := range p.beforeHooks {
		result, err := hook(PurchaseContext{Ctx: ctx, Request: req, Buyer: buyer})
		if err != nil {
			return nil, p.report(ctx, nil, NewPurchaseError(ReasonPurchaseAborted, StateIdle, nil, err))
		}
		if result != nil && result.Abort {
			pe := NewPurchaseError(ReasonPurchaseAborted, StateIdle, nil, errors.New(result.Reason))
			if result.Reason != "" {
				pe.Message = result.Reason
			}
			return nil, p.report(ctx, nil, pe)
		}
	}

	key := ItemKey(buyer, req.Kind, req.ItemID)
	if !p.claim(key) {
		return nil, p.report(ctx, nil, NewPurchaseError(ReasonPurchaseInProgress, StateIdle, nil, nil))
	}
	defer p.release(key)

	if p.store != nil {
		existing, err := p.store.FindActive(ctx, key)
		if err != nil {
			return nil, p.report(ctx, nil, NewPurchaseError(ReasonJournalFailed, StateIdle, nil, err))
		}
		if existing != nil {
			reason := ReasonPurchaseInProgress
			if existing.State == StateSuccess {
				reason = ReasonAlreadyPurchased
			}
			return existing, p.report(ctx, nil, NewPurchaseError(reason, existing.State, existing, nil))
		}
	}

	now := p.now()
	purchase := &Purchase{
		ID:        p.newID(),
		Kind:      req.Kind,
		ItemID:    req.ItemID,
		Buyer:     buyer,
		Seller:    common.HexToAddress(req.Seller).Hex(),
		Price:     new(big.Int).Set(req.Price),
		Network:   req.Network,
		State:     StateIdle,
		License:   req.License,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.save(ctx, purchase); err != nil {
		return nil, p.report(ctx, nil, NewPurchaseError(ReasonJournalFailed, StateIdle, purchase, err))
	}

	p.logger.Info("purchase started",
		zap.String("purchase_id", purchase.ID),
		zap.String("kind", string(purchase.Kind)),
		zap.String("item_id", purchase.ItemID),
		zap.String("buyer", purchase.Buyer),
		zap.String("price_wei", purchase.Price.String()),
		zap.String("network", string(purchase.Network)),
	)

	return p.run(ctx, purchase, false)
}

// Resume continues a journaled purchase from its last recorded state. A
// purchase interrupted while sending payment is failed rather than re-sent.
func (p *Purchaser) Resume(ctx context.Context, id string) (*Purchase, error) {
	if p.store == nil {
		return nil, ErrPurchaseNotFound
	}
	purchase, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	key := purchase.ItemKey()
	if !p.claim(key) {
		return purchase, p.report(ctx, nil, NewPurchaseError(ReasonPurchaseInProgress, purchase.State, purchase, nil))
	}
	defer p.release(key)

	p.logger.Info("resuming purchase",
		zap.String("purchase_id", purchase.ID),
		zap.String("state", string(purchase.State)),
		zap.String("tx_hash", purchase.TxHash),
	)
	return p.run(ctx, purchase, true)
}

// ResumePending resumes every non-terminal purchase in the journal
func (p *Purchaser) ResumePending(ctx context.Context) ([]*Purchase, error) {
	if p.store == nil {
		return nil, nil
	}
	pending, err := p.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending purchases: %w", err)
	}

	var (
		results []*Purchase
		errs    []error
	)
	for _, pending := range pending {
		purchase, err := p.Resume(ctx, pending.ID)
		if purchase != nil {
			results = append(results, purchase)
		}
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return results, errors.Join(errs...)
}

// Get returns a journaled purchase
func (p *Purchaser) Get(ctx context.Context, id string) (*Purchase, error) {
	if p.store == nil {
		return nil, ErrPurchaseNotFound
	}
	return p.store.Get(ctx, id)
}

func (p *Purchaser) run(ctx context.Context, purchase *Purchase, resumed bool) (*Purchase, error) {
	chain, err := p.chainFor(purchase.Network)
	if err != nil {
		return purchase, p.abort(ctx, purchase, NewPurchaseError(ReasonInvalidRequest, purchase.State, purchase, err))
	}

	if resumed && purchase.State == StateSendingPayment {
		return purchase, p.abort(ctx, purchase, NewPurchaseError(ReasonPaymentInterrupted, StateSendingPayment, purchase, nil))
	}

	for !purchase.State.IsTerminal() {
		var err error
		switch purchase.State {
		case StateIdle, StateSwitchingChain:
			if err = p.checkBuyer(ctx, purchase); err == nil {
				err = p.switchChain(ctx, purchase, chain)
			}
			if err == nil {
				err = p.pay(ctx, purchase, chain)
			}
		case StateAwaitingConfirmation:
			err = p.awaitReceipt(ctx, purchase, chain)
		case StateFinalizing:
			err = p.finalize(ctx, purchase, chain)
		default:
			err = p.abort(ctx, purchase, NewPurchaseError(ReasonInvalidRequest, purchase.State, purchase,
				fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, purchase.State)))
		}
		if err != nil {
			return purchase, err
		}
	}

	if purchase.State == StateFailed {
		pe := NewPurchaseError(purchase.Reason, StateFailed, purchase, nil)
		if purchase.Error != "" {
			pe.Err = errors.New(purchase.Error)
		}
		return purchase, pe
	}

	p.mintLicense(ctx, purchase, chain)
	return purchase, nil
}

// checkBuyer makes sure the payment leaves the account recorded as buyer. A
// resumed purchase may find the wallet on a different account.
func (p *Purchaser) checkBuyer(ctx context.Context, purchase *Purchase) error {
	current, err := p.wallet.Address(ctx)
	if err != nil {
		return p.abort(ctx, purchase, NewPurchaseError(ReasonWalletNotConnected, purchase.State, purchase, err))
	}
	if !common.IsHexAddress(current) || common.HexToAddress(current) != common.HexToAddress(purchase.Buyer) {
		pe := NewPurchaseError(ReasonWalletNotConnected, purchase.State, purchase,
			fmt.Errorf("%w: connected account %s is not buyer %s", ErrWalletNotConnected, current, purchase.Buyer)).
			withMessage("Please connect the wallet %s to continue this purchase.", purchase.Buyer)
		return p.abort(ctx, purchase, pe)
	}
	return nil
}

func (p *Purchaser) switchChain(ctx context.Context, purchase *Purchase, chain ChainConfig) error {
	current, err := p.wallet.ChainID(ctx)
	if err != nil {
		return p.abort(ctx, purchase, NewPurchaseError(ReasonWalletNotConnected, purchase.State, purchase, err))
	}

	if current.Cmp(chain.ChainID) != 0 {
		if purchase.State == StateIdle {
			if err := p.transition(ctx, purchase, StateSwitchingChain); err != nil {
				return err
			}
		}
		p.notify(ctx, LevelInfo, fmt.Sprintf("Switching to %s...", chain.DisplayName()), purchase, chain)

		if err := EnsureChain(ctx, p.wallet, chain); err != nil {
			reason := ReasonChainSwitchRejected
			message := fmt.Sprintf("Please switch to %s to continue.", chain.DisplayName())
			var ce *ChainError
			if errors.As(err, &ce) && ce.Op == "add" {
				reason = ReasonChainAddFailed
				message = fmt.Sprintf("Could not add %s to your wallet.", chain.DisplayName())
			}
			return p.abort(ctx, purchase, NewPurchaseError(reason, StateSwitchingChain, purchase, err).withMessage("%s", message))
		}
	}

	return p.transition(ctx, purchase, StateSendingPayment)
}

func (p *Purchaser) pay(ctx context.Context, purchase *Purchase, chain ChainConfig) error {
	balance, err := p.wallet.Balance(ctx, purchase.Buyer)
	if err != nil {
		return p.abort(ctx, purchase, NewPurchaseError(ReasonBalanceCheckFailed, StateSendingPayment, purchase, err))
	}
	if balance.Cmp(purchase.Price) < 0 {
		decimals := chain.NativeCurrency.Decimals
		if decimals == 0 {
			decimals = NativeDecimals
		}
		pe := NewPurchaseError(ReasonInsufficientBalance, StateSendingPayment, purchase,
			fmt.Errorf("balance %s < price %s", balance, purchase.Price)).
			withMessage("Insufficient balance: need %s %s, have %s %s.",
				FormatNative(purchase.Price, decimals), chain.Symbol(),
				FormatNative(balance, decimals), chain.Symbol())
		return p.abort(ctx, purchase, pe)
	}

	txHash, err := p.wallet.SendTransaction(ctx, TxRequest{
		To:    purchase.Seller,
		Value: purchase.Price,
	})
	if err != nil {
		pe := NewPurchaseError(ReasonPaymentRejected, StateSendingPayment, purchase, err)
		if errors.Is(err, ErrUserRejected) {
			pe.Message = "Payment was rejected in your wallet."
		}
		return p.abort(ctx, purchase, pe)
	}

	purchase.TxHash = txHash
	if err := p.transition(ctx, purchase, StateAwaitingConfirmation); err != nil {
		return err
	}
	p.notify(ctx, LevelInfo, "Payment sent. Waiting for confirmation...", purchase, chain)
	return nil
}

func (p *Purchaser) awaitReceipt(ctx context.Context, purchase *Purchase, chain ChainConfig) error {
	receipt, err := WaitForReceipt(ctx, p.wallet, purchase.TxHash, ReceiptPoll{
		Interval:    p.pollInterval,
		MaxAttempts: p.maxPollAttempts,
		OnAttempt: func(attempt int, err error) {
			p.logger.Debug("transaction receipt not available",
				zap.String("purchase_id", purchase.ID),
				zap.String("tx_hash", purchase.TxHash),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrReceiptTimeout):
			return p.interrupt(ctx, purchase, NewPurchaseError(ReasonReceiptTimeout, StateAwaitingConfirmation, purchase, err))
		case ctx.Err() != nil:
			return p.interrupt(ctx, purchase, NewPurchaseError(ReasonPurchaseCanceled, StateAwaitingConfirmation, purchase, err))
		default:
			return p.interrupt(ctx, purchase, NewPurchaseError(ReasonReceiptFailed, StateAwaitingConfirmation, purchase, err))
		}
	}

	purchase.BlockNumber = receipt.BlockNumber
	if receipt.Status != ReceiptStatusSuccess {
		return p.abort(ctx, purchase, NewPurchaseError(ReasonTransactionReverted, StateAwaitingConfirmation, purchase, nil))
	}
	return p.transition(ctx, purchase, StateFinalizing)
}

func (p *Purchaser) finalize(ctx context.Context, purchase *Purchase, chain ChainConfig) error {
	result, err := p.backend.ConfirmPurchase(ctx, Confirmation{
		Kind:    purchase.Kind,
		ItemID:  purchase.ItemID,
		Buyer:   purchase.Buyer,
		TxHash:  purchase.TxHash,
		Network: purchase.Network,
	})
	if err != nil {
		if errors.Is(err, ErrConfirmationRejected) {
			return p.abort(ctx, purchase, NewPurchaseError(ReasonConfirmationRejected, StateFinalizing, purchase, err))
		}
		return p.interrupt(ctx, purchase, NewPurchaseError(ReasonConfirmationFailed, StateFinalizing, purchase, err))
	}

	if result != nil {
		purchase.OrderID = result.OrderID
	}
	purchase.Reason, purchase.Error = "", ""
	if err := p.transition(ctx, purchase, StateSuccess); err != nil {
		return err
	}

	p.logger.Info("purchase confirmed",
		zap.String("purchase_id", purchase.ID),
		zap.String("order_id", purchase.OrderID),
		zap.String("tx_hash", purchase.TxHash),
	)
	p.notify(ctx, LevelSuccess, "Purchase complete!", purchase, chain)

	for _, hook := range p.afterHooks {
		if err := hook(PurchaseResultContext{Ctx: ctx, Purchase: purchase.Clone()}); err != nil {
			p.logger.Warn("after-purchase hook failed", zap.String("purchase_id", purchase.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Purchaser) mintLicense(ctx context.Context, purchase *Purchase, chain ChainConfig) {
	if purchase.License == nil || p.licenser == nil || purchase.LicenseTx != "" {
		return
	}

	req := *purchase.License
	if req.Receiver == "" {
		req.Receiver = purchase.Buyer
	}
	if req.Amount == 0 {
		req.Amount = 1
	}

	result, err := p.licenser.MintLicense(ctx, req)
	if err != nil {
		purchase.Reason = ReasonLicenseMintFailed
		purchase.Error = err.Error()
		purchase.UpdatedAt = p.now()
		if err := p.save(ctx, purchase); err != nil {
			p.logger.Error("failed to journal license failure", zap.String("purchase_id", purchase.ID), zap.Error(err))
		}
		_ = p.report(ctx, purchase, NewPurchaseError(ReasonLicenseMintFailed, StateSuccess, purchase, err))
		return
	}

	purchase.LicenseTx = result.TxHash
	purchase.LicenseID = result.StartTokenID
	purchase.Reason, purchase.Error = "", ""
	purchase.UpdatedAt = p.now()
	if err := p.save(ctx, purchase); err != nil {
		p.logger.Error("failed to journal license mint", zap.String("purchase_id", purchase.ID), zap.Error(err))
	}
	p.logger.Info("license minted",
		zap.String("purchase_id", purchase.ID),
		zap.String("license_tx", result.TxHash),
		zap.String("start_token_id", result.StartTokenID),
	)
	p.notify(ctx, LevelSuccess, "License minted.", purchase, chain)
}

// transition journals the move to the next state before the flow continues
func (p *Purchaser) transition(ctx context.Context, purchase *Purchase, to PurchaseState) error {
	from := purchase.State
	if !CanTransition(from, to) {
		return p.report(ctx, purchase, NewPurchaseError(ReasonJournalFailed, from, purchase,
			fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)))
	}

	purchase.State = to
	purchase.UpdatedAt = p.now()
	if err := p.save(ctx, purchase); err != nil {
		return p.report(ctx, purchase, NewPurchaseError(ReasonJournalFailed, to, purchase, err))
	}

	p.logger.Debug("purchase state changed",
		zap.String("purchase_id", purchase.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	p.fireStateChange(ctx, purchase, from, to)
	return nil
}

// abort moves the purchase to failed and reports pe
func (p *Purchaser) abort(ctx context.Context, purchase *Purchase, pe *PurchaseError) error {
	if purchase != nil && !purchase.State.IsTerminal() {
		from := purchase.State
		purchase.State = StateFailed
		purchase.Reason = pe.Reason
		purchase.Error = errString(pe.Err)
		purchase.UpdatedAt = p.now()
		if err := p.save(ctx, purchase); err != nil {
			p.logger.Error("failed to journal purchase failure", zap.String("purchase_id", purchase.ID), zap.Error(err))
		}
		p.fireStateChange(ctx, purchase, from, StateFailed)
	}
	return p.report(ctx, purchase, pe)
}

// interrupt records pe without leaving the current state so the purchase can be resumed
func (p *Purchaser) interrupt(ctx context.Context, purchase *Purchase, pe *PurchaseError) error {
	purchase.Reason = pe.Reason
	purchase.Error = errString(pe.Err)
	purchase.UpdatedAt = p.now()
	if err := p.save(ctx, purchase); err != nil {
		p.logger.Error("failed to journal purchase interruption", zap.String("purchase_id", purchase.ID), zap.Error(err))
	}
	return p.report(ctx, purchase, pe)
}

func (p *Purchaser) report(ctx context.Context, purchase *Purchase, pe *PurchaseError) error {
	fields := []zap.Field{
		zap.String("reason", pe.Reason),
		zap.String("state", string(pe.State)),
		zap.Error(pe.Err),
	}
	if purchase != nil {
		fields = append(fields, zap.String("purchase_id", purchase.ID), zap.String("tx_hash", purchase.TxHash))
	}
	p.logger.Warn("purchase step failed", fields...)

	chain, _ := p.chainFor(pe.Network)
	n := Notification{
		Level:      LevelError,
		Message:    UserMessage(pe),
		PurchaseID: pe.PurchaseID,
		State:      pe.State,
		Reason:     pe.Reason,
		TxHash:     pe.Transaction,
		TxURL:      chain.TxURL(pe.Transaction),
		Time:       p.now(),
	}
	if p.notifier != nil {
		p.notifier.Notify(ctx, n)
	}

	var snapshot *Purchase
	if purchase != nil {
		snapshot = purchase.Clone()
	}
	for _, hook := range p.failureHooks {
		hook(PurchaseFailureContext{Ctx: ctx, Purchase: snapshot, Error: pe})
	}
	return pe
}

func (p *Purchaser) notify(ctx context.Context, level NotificationLevel, message string, purchase *Purchase, chain ChainConfig) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(ctx, Notification{
		Level:      level,
		Message:    message,
		PurchaseID: purchase.ID,
		State:      purchase.State,
		TxHash:     purchase.TxHash,
		TxURL:      chain.TxURL(purchase.TxHash),
		Time:       p.now(),
	})
}

func (p *Purchaser) fireStateChange(ctx context.Context, purchase *Purchase, from, to PurchaseState) {
	if len(p.stateHooks) == 0 {
		return
	}
	snapshot := purchase.Clone()
	for _, hook := range p.stateHooks {
		hook(StateChangeContext{Ctx: ctx, Purchase: snapshot, From: from, To: to})
	}
}

// save writes the journal even after ctx is cancelled
func (p *Purchaser) save(ctx context.Context, purchase *Purchase) error {
	if p.store == nil {
		return nil
	}
	return p.store.Save(context.WithoutCancel(ctx), purchase.Clone())
}

func (p *Purchaser) claim(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[key]; busy {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *Purchaser) release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, key)
}

func (p *Purchaser) chainFor(network Network) (ChainConfig, error) {
	if chain, ok := p.chains[network]; ok && chain.ChainID != nil {
		return chain, nil
	}
	chainID, err := network.ChainID()
	if err != nil {
		return ChainConfig{Network: network}, err
	}
	return ChainConfig{Network: network, ChainID: chainID}, nil
}

func validateRequest(req PurchaseRequest) error {
	switch {
	case !req.Kind.IsValid():
		return fmt.Errorf("unknown item kind %q", req.Kind)
	case req.ItemID == "":
		return errors.New("item id is required")
	case !common.IsHexAddress(req.Seller):
		return fmt.Errorf("invalid seller address %q", req.Seller)
	case req.Price == nil || req.Price.Sign() <= 0:
		return errors.New("price must be positive")
	}
	if _, err := req.Network.ChainID(); err != nil {
		return err
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
