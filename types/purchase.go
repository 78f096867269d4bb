package types

import clearsky "github.com/clearskynet/clearsky/go"

// PurchaseConfirmRequest is the body of POST /marketplace/{kind}s/{id}/purchase
type PurchaseConfirmRequest struct {
	BuyerAddress string           `json:"buyerAddress"`
	TxHash       string           `json:"txHash"`
	Network      clearsky.Network `json:"network"`
}

// PurchaseConfirmResponse is returned once the backend has verified the payment
type PurchaseConfirmResponse struct {
	OrderID     string            `json:"orderId"`
	Status      string            `json:"status"`
	Kind        clearsky.ItemKind `json:"kind"`
	ItemID      string            `json:"itemId"`
	Buyer       string            `json:"buyerAddress"`
	TxHash      string            `json:"txHash"`
	BlockNumber uint64            `json:"blockNumber"`
	Amount      string            `json:"amount"`
}

// Order statuses
const (
	OrderStatusConfirmed = "confirmed"
)

// ConfirmRequestFrom builds the request body for a confirmation
func ConfirmRequestFrom(c clearsky.Confirmation) PurchaseConfirmRequest {
	return PurchaseConfirmRequest{
		BuyerAddress: c.Buyer,
		TxHash:       c.TxHash,
		Network:      c.Network,
	}
}
