package clearsky

import (
	"context"
	"math/big"
	"strings"
	"time"
)

// ItemKind distinguishes the two kinds of marketplace listings
type ItemKind string

const (
	KindReport     ItemKind = "report"
	KindDerivative ItemKind = "derivative"
)

// IsValid reports whether k is a known listing kind
func (k ItemKind) IsValid() bool {
	return k == KindReport || k == KindDerivative
}

// PurchaseRequest describes a listing the connected wallet wants to buy
type PurchaseRequest struct {
	Kind    ItemKind
	ItemID  string
	Seller  string
	Price   *big.Int
	Network Network

	// License, when set, mints a license token after the purchase is confirmed
	License *LicenseRequest
}

// Purchase is the journal entry for one run of the purchase flow
type Purchase struct {
	ID          string          `json:"id"`
	Kind        ItemKind        `json:"kind"`
	ItemID      string          `json:"itemId"`
	Buyer       string          `json:"buyer"`
	Seller      string          `json:"seller"`
	Price       *big.Int        `json:"price"`
	Network     Network         `json:"network"`
	State       PurchaseState   `json:"state"`
	TxHash      string          `json:"txHash,omitempty"`
	BlockNumber uint64          `json:"blockNumber,omitempty"`
	OrderID     string          `json:"orderId,omitempty"`
	License     *LicenseRequest `json:"license,omitempty"`
	LicenseTx   string          `json:"licenseTx,omitempty"`
	LicenseID   string          `json:"licenseTokenId,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ItemKey identifies the (buyer, kind, item) triple used for deduplication
func (p *Purchase) ItemKey() string {
	return ItemKey(p.Buyer, p.Kind, p.ItemID)
}

// ItemKey builds the deduplication key for a buyer and listing
func ItemKey(buyer string, kind ItemKind, itemID string) string {
	return strings.ToLower(buyer) + ":" + string(kind) + ":" + itemID
}

// Clone returns a deep copy safe to hand to hooks and notifiers
func (p *Purchase) Clone() *Purchase {
	c := *p
	if p.Price != nil {
		c.Price = new(big.Int).Set(p.Price)
	}
	if p.License != nil {
		l := *p.License
		c.License = &l
	}
	return &c
}

// TxRequest is a transaction to be signed and sent by the wallet
type TxRequest struct {
	To    string
	Value *big.Int
	Data  []byte
}

// Receipt is the mined outcome of a transaction
type Receipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// Confirmation is sent to the backend once the payment is mined
type Confirmation struct {
	Kind    ItemKind `json:"kind"`
	ItemID  string   `json:"itemId"`
	Buyer   string   `json:"buyerAddress"`
	TxHash  string   `json:"txHash"`
	Network Network  `json:"network"`
}

// ConfirmResult is the backend's answer to a Confirmation
type ConfirmResult struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// LicenseRequest asks the licensing contract to mint license tokens for an IP asset
type LicenseRequest struct {
	LicensorIPID    string `json:"licensorIpId"`
	LicenseTemplate string `json:"licenseTemplate,omitempty"`
	LicenseTermsID  string `json:"licenseTermsId"`
	Amount          uint64 `json:"amount"`
	Receiver        string `json:"receiver,omitempty"`
}

// LicenseResult is the outcome of a license mint
type LicenseResult struct {
	TxHash       string `json:"txHash"`
	StartTokenID string `json:"startLicenseTokenId,omitempty"`
}

// NotificationLevel is the severity of a Notification
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelError   NotificationLevel = "error"
)

// Notification is a user-facing message about a purchase
type Notification struct {
	Level      NotificationLevel `json:"level"`
	Message    string            `json:"message"`
	PurchaseID string            `json:"purchaseId,omitempty"`
	State      PurchaseState     `json:"state,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	TxHash     string            `json:"txHash,omitempty"`
	TxURL      string            `json:"txUrl,omitempty"`
	Time       time.Time         `json:"time"`
}

// Wallet is the connected buyer wallet
type Wallet interface {
	// Address returns the connected account or ErrWalletNotConnected
	Address(ctx context.Context) (string, error)

	// ChainID returns the chain the wallet currently signs for
	ChainID(ctx context.Context) (*big.Int, error)

	// SwitchChain asks the wallet to change chains.
	// Implementations wrap ErrUnrecognizedChain when the chain is unknown to the wallet.
	SwitchChain(ctx context.Context, chainID *big.Int) error

	// AddChain registers a chain with the wallet
	AddChain(ctx context.Context, chain ChainConfig) error

	// Balance returns the native balance of address on the current chain
	Balance(ctx context.Context, address string) (*big.Int, error)

	// SendTransaction signs and broadcasts tx, returning its hash
	SendTransaction(ctx context.Context, tx TxRequest) (string, error)

	// TransactionReceipt returns ErrReceiptNotFound while the transaction is pending
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
}

// Backend finalizes purchases after payment
type Backend interface {
	// ConfirmPurchase wraps ErrConfirmationRejected when the backend refuses the payment for good
	ConfirmPurchase(ctx context.Context, c Confirmation) (*ConfirmResult, error)
}

// Licenser mints license tokens for purchased IP assets
type Licenser interface {
	MintLicense(ctx context.Context, req LicenseRequest) (*LicenseResult, error)
}

// Store is the purchase journal
type Store interface {
	Save(ctx context.Context, p *Purchase) error

	// Get returns ErrPurchaseNotFound for unknown ids
	Get(ctx context.Context, id string) (*Purchase, error)

	// FindActive returns the latest non-failed purchase for the item key, or nil
	FindActive(ctx context.Context, itemKey string) (*Purchase, error)

	// ListPending returns every purchase in a non-terminal state
	ListPending(ctx context.Context) ([]*Purchase, error)
}

// Notifier delivers user-facing notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}
