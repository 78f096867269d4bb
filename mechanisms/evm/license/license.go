// Package license mints Story Protocol license tokens for purchased items and
// wraps the native IP token.
package license

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/mechanisms/evm"
)

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex()

// Config holds configuration for the StoryLicenser
type Config struct {
	LicensingModule string
	LicenseTemplate string
	// MaxMintingFee bounds the fee paid per mint; 0 means no limit
	MaxMintingFee *big.Int
	// MaxRevenueShare bounds the commercial revenue share, 100_000_000 = 100%
	MaxRevenueShare uint32
}

// StoryLicenser implements clearsky.Licenser against the Story LicensingModule
type StoryLicenser struct {
	writer evm.ContractWriter
	config Config
}

var _ clearsky.Licenser = (*StoryLicenser)(nil)

// NewStoryLicenser creates a licenser sending through writer; config may be nil
func NewStoryLicenser(writer evm.ContractWriter, config *Config) *StoryLicenser {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.LicensingModule == "" {
		cfg.LicensingModule = evm.LicensingModuleAddress
	}
	if cfg.LicenseTemplate == "" {
		cfg.LicenseTemplate = evm.PILicenseTemplateAddress
	}
	if cfg.MaxMintingFee == nil {
		cfg.MaxMintingFee = big.NewInt(0)
	}
	return &StoryLicenser{writer: writer, config: cfg}
}

// MintLicense mints req.Amount license tokens of the licensor's terms to the receiver
func (l *StoryLicenser) MintLicense(ctx context.Context, req clearsky.LicenseRequest) (*clearsky.LicenseResult, error) {
	if !evm.IsValidAddress(req.LicensorIPID) {
		return nil, fmt.Errorf("invalid licensor ip id %q", req.LicensorIPID)
	}
	termsID, ok := new(big.Int).SetString(req.LicenseTermsID, 10)
	if !ok || termsID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid license terms id %q", req.LicenseTermsID)
	}

	template := req.LicenseTemplate
	if template == "" {
		template = l.config.LicenseTemplate
	}
	receiver := req.Receiver
	if receiver == "" {
		receiver = l.writer.Sender()
	}
	amount := req.Amount
	if amount == 0 {
		amount = 1
	}

	txHash, err := l.writer.WriteContract(
		ctx,
		l.config.LicensingModule,
		evm.MintLicenseTokensABI,
		"mintLicenseTokens",
		nil,
		common.HexToAddress(req.LicensorIPID),
		common.HexToAddress(template),
		termsID,
		new(big.Int).SetUint64(amount),
		common.HexToAddress(receiver),
		[]byte{},
		l.config.MaxMintingFee,
		l.config.MaxRevenueShare,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mint license tokens: %w", err)
	}

	receipt, err := l.writer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get mint receipt for %s: %w", txHash, err)
	}
	if receipt.Status != evm.TxStatusSuccess {
		return nil, fmt.Errorf("license mint %s reverted", txHash)
	}

	return &clearsky.LicenseResult{
		TxHash:       txHash,
		StartTokenID: mintedTokenID(receipt, receiver),
	}, nil
}

// mintedTokenID returns the first token id minted to receiver, or "" if the
// receipt carries no matching Transfer event
func mintedTokenID(receipt *evm.TransactionReceipt, receiver string) string {
	zero := common.Hash{}.Hex()
	to := common.BytesToHash(common.HexToAddress(receiver).Bytes()).Hex()
	for _, log := range receipt.Logs {
		if len(log.Topics) != 4 || !strings.EqualFold(log.Topics[0], transferTopic) {
			continue
		}
		if strings.EqualFold(log.Topics[1], zero) && strings.EqualFold(log.Topics[2], to) {
			return common.HexToHash(log.Topics[3]).Big().String()
		}
	}
	return ""
}

// WIP wraps and unwraps the native IP token
type WIP struct {
	writer  evm.ContractWriter
	address string
}

// NewWIP creates a WIP helper for the canonical WIP contract
func NewWIP(writer evm.ContractWriter) *WIP {
	return &WIP{writer: writer, address: evm.WIPAddress}
}

// Wrap deposits amount of native IP and returns the transaction hash
func (w *WIP) Wrap(ctx context.Context, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", errors.New("wrap amount must be positive")
	}
	return w.send(ctx, "deposit", amount)
}

// Unwrap withdraws amount of WIP back to native IP
func (w *WIP) Unwrap(ctx context.Context, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", errors.New("unwrap amount must be positive")
	}
	return w.send(ctx, "withdraw", nil, amount)
}

func (w *WIP) send(ctx context.Context, method string, value *big.Int, args ...interface{}) (string, error) {
	txHash, err := w.writer.WriteContract(ctx, w.address, evm.WIPABI, method, value, args...)
	if err != nil {
		return "", fmt.Errorf("failed to %s WIP: %w", method, err)
	}
	receipt, err := w.writer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return txHash, fmt.Errorf("failed to get %s receipt: %w", method, err)
	}
	if receipt.Status != evm.TxStatusSuccess {
		return txHash, fmt.Errorf("WIP %s %s reverted", method, txHash)
	}
	return txHash, nil
}
