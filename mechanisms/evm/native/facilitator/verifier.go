// Package facilitator verifies native-token purchase payments on behalf of the
// marketplace backend before a purchase is recorded.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/mechanisms/evm"
)

// Verification failure reasons
const (
	ReasonUnsupportedNetwork        = "unsupported_network"
	ReasonInvalidClaim              = "invalid_claim"
	ReasonTransactionNotFound       = "transaction_not_found"
	ReasonTransactionPending        = "transaction_pending"
	ReasonTransactionFailed         = "transaction_failed"
	ReasonChainMismatch             = "chain_mismatch"
	ReasonPayerMismatch             = "payer_mismatch"
	ReasonRecipientMismatch         = "recipient_mismatch"
	ReasonInsufficientAmount        = "insufficient_amount"
	ReasonInsufficientConfirmations = "insufficient_confirmations"
	ReasonTransactionAlreadyUsed    = "transaction_already_used"
	ReasonRPCFailed                 = "rpc_failed"
)

// VerifyError is returned when a payment claim cannot be accepted
type VerifyError struct {
	Reason      string
	Payer       string
	Network     clearsky.Network
	Transaction string
	Err         error
}

// NewVerifyError creates a VerifyError
func NewVerifyError(reason, payer string, network clearsky.Network, transaction string, err error) *VerifyError {
	return &VerifyError{
		Reason:      reason,
		Payer:       payer,
		Network:     network,
		Transaction: transaction,
		Err:         err,
	}
}

func (e *VerifyError) Error() string {
	msg := fmt.Sprintf("payment verification failed: %s", e.Reason)
	if e.Transaction != "" {
		msg += " (tx " + e.Transaction + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same claim may succeed later
func (e *VerifyError) Retryable() bool {
	switch e.Reason {
	case ReasonTransactionNotFound, ReasonTransactionPending, ReasonInsufficientConfirmations, ReasonRPCFailed:
		return true
	}
	return false
}

// PaymentClaim is a buyer's assertion that TxHash paid for an item
type PaymentClaim struct {
	Network clearsky.Network
	TxHash  string
	Buyer   string
	Seller  string
	Price   *big.Int
	// Item identifies what the payment buys; one transaction pays for one item
	Item string
}

// VerifiedPayment is an accepted payment
type VerifiedPayment struct {
	Network       clearsky.Network `json:"network"`
	TxHash        string           `json:"txHash"`
	Payer         string           `json:"payer"`
	Seller        string           `json:"seller"`
	Value         *big.Int         `json:"value"`
	BlockNumber   uint64           `json:"blockNumber"`
	Confirmations uint64           `json:"confirmations"`
	Item          string           `json:"item"`
}

// Config holds configuration for the NativePaymentVerifier
type Config struct {
	// Confirmations is the number of blocks, including the payment's own, required
	// before a payment is accepted
	Confirmations uint64
}

// NativePaymentVerifier checks native-token transfers against listings
type NativePaymentVerifier struct {
	config Config

	mu      sync.Mutex
	readers map[clearsky.Network]evm.ChainReader
	used    map[string]*VerifiedPayment
}

// NewNativePaymentVerifier creates a verifier; config may be nil
func NewNativePaymentVerifier(config *Config) *NativePaymentVerifier {
	cfg := Config{Confirmations: evm.DefaultConfirmations}
	if config != nil {
		cfg = *config
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	return &NativePaymentVerifier{
		config:  cfg,
		readers: make(map[clearsky.Network]evm.ChainReader),
		used:    make(map[string]*VerifiedPayment),
	}
}

// Register adds a chain the verifier accepts payments on
func (v *NativePaymentVerifier) Register(network clearsky.Network, reader evm.ChainReader) *NativePaymentVerifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.readers[network] = reader
	return v
}

// Verify checks that claim.TxHash is a successful, sufficiently confirmed
// transfer of at least claim.Price from the buyer to the seller. Verifying the
// same transaction for the same item again returns the first result.
func (v *NativePaymentVerifier) Verify(ctx context.Context, claim PaymentClaim) (*VerifiedPayment, error) {
	network := claim.Network
	if err := validateClaim(claim); err != nil {
		return nil, NewVerifyError(ReasonInvalidClaim, claim.Buyer, network, claim.TxHash, err)
	}

	key := strings.ToLower(claim.TxHash)
	v.mu.Lock()
	reader, ok := v.readers[network]
	prior := v.used[key]
	v.mu.Unlock()

	if prior != nil {
		return replay(prior, claim)
	}
	if !ok {
		return nil, NewVerifyError(ReasonUnsupportedNetwork, claim.Buyer, network, claim.TxHash, nil)
	}

	expectedChainID, err := network.ChainID()
	if err != nil {
		return nil, NewVerifyError(ReasonUnsupportedNetwork, claim.Buyer, network, claim.TxHash, err)
	}
	chainID, err := reader.GetChainID(ctx)
	if err != nil {
		return nil, NewVerifyError(ReasonRPCFailed, claim.Buyer, network, claim.TxHash, err)
	}
	if chainID.Cmp(expectedChainID) != 0 {
		return nil, NewVerifyError(ReasonChainMismatch, claim.Buyer, network, claim.TxHash,
			fmt.Errorf("rpc serves chain %s, expected %s", chainID, expectedChainID))
	}

	tx, err := reader.GetTransaction(ctx, claim.TxHash)
	if err != nil {
		if errors.Is(err, evm.ErrNotFound) {
			return nil, NewVerifyError(ReasonTransactionNotFound, claim.Buyer, network, claim.TxHash, nil)
		}
		return nil, NewVerifyError(ReasonRPCFailed, claim.Buyer, network, claim.TxHash, err)
	}
	if tx.Pending {
		return nil, NewVerifyError(ReasonTransactionPending, claim.Buyer, network, claim.TxHash, nil)
	}

	if !strings.EqualFold(tx.From, claim.Buyer) {
		return nil, NewVerifyError(ReasonPayerMismatch, tx.From, network, claim.TxHash,
			fmt.Errorf("sent by %s, claimed by %s", tx.From, claim.Buyer))
	}
	if !strings.EqualFold(tx.To, claim.Seller) {
		return nil, NewVerifyError(ReasonRecipientMismatch, tx.From, network, claim.TxHash,
			fmt.Errorf("paid %s, seller is %s", tx.To, claim.Seller))
	}
	if tx.Value == nil || tx.Value.Cmp(claim.Price) < 0 {
		return nil, NewVerifyError(ReasonInsufficientAmount, tx.From, network, claim.TxHash,
			fmt.Errorf("paid %s, price is %s", tx.Value, claim.Price))
	}

	receipt, err := reader.GetTransactionReceipt(ctx, claim.TxHash)
	if err != nil {
		if errors.Is(err, evm.ErrNotFound) {
			return nil, NewVerifyError(ReasonTransactionPending, tx.From, network, claim.TxHash, nil)
		}
		return nil, NewVerifyError(ReasonRPCFailed, tx.From, network, claim.TxHash, err)
	}
	if receipt.Status != evm.TxStatusSuccess {
		return nil, NewVerifyError(ReasonTransactionFailed, tx.From, network, claim.TxHash, nil)
	}

	head, err := reader.BlockNumber(ctx)
	if err != nil {
		return nil, NewVerifyError(ReasonRPCFailed, tx.From, network, claim.TxHash, err)
	}
	var confirmations uint64
	if head >= receipt.BlockNumber {
		confirmations = head - receipt.BlockNumber + 1
	}
	if confirmations < v.config.Confirmations {
		return nil, NewVerifyError(ReasonInsufficientConfirmations, tx.From, network, claim.TxHash,
			fmt.Errorf("%d of %d confirmations", confirmations, v.config.Confirmations))
	}

	verified := &VerifiedPayment{
		Network:       network,
		TxHash:        claim.TxHash,
		Payer:         tx.From,
		Seller:        tx.To,
		Value:         new(big.Int).Set(tx.Value),
		BlockNumber:   receipt.BlockNumber,
		Confirmations: confirmations,
		Item:          claim.Item,
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if prior := v.used[key]; prior != nil {
		return replay(prior, claim)
	}
	v.used[key] = verified
	return verified, nil
}

// Forget releases a transaction hash, e.g. when recording the purchase failed
func (v *NativePaymentVerifier) Forget(txHash string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.used, strings.ToLower(txHash))
}

func replay(prior *VerifiedPayment, claim PaymentClaim) (*VerifiedPayment, error) {
	if prior.Item != claim.Item || prior.Network != claim.Network || !strings.EqualFold(prior.Payer, claim.Buyer) {
		return nil, NewVerifyError(ReasonTransactionAlreadyUsed, claim.Buyer, claim.Network, claim.TxHash,
			fmt.Errorf("already used for %s", prior.Item))
	}
	copied := *prior
	return &copied, nil
}

func validateClaim(claim PaymentClaim) error {
	switch {
	case claim.TxHash == "":
		return errors.New("transaction hash is required")
	case !evm.IsValidAddress(claim.Buyer):
		return fmt.Errorf("invalid buyer address %q", claim.Buyer)
	case !evm.IsValidAddress(claim.Seller):
		return fmt.Errorf("invalid seller address %q", claim.Seller)
	case claim.Price == nil || claim.Price.Sign() <= 0:
		return errors.New("price must be positive")
	case claim.Item == "":
		return errors.New("item is required")
	}
	return nil
}
