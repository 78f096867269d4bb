package types

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/mechanisms/evm"
)

// Listing is the part shared by every marketplace item
type Listing struct {
	ID             string            `json:"id"`
	Kind           clearsky.ItemKind `json:"kind"`
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	Seller         string            `json:"sellerAddress"`
	Price          string            `json:"price"` // decimal amount of the native token, e.g. "1.5"
	Network        clearsky.Network  `json:"network"`
	IPAssetID      string            `json:"ipAssetId,omitempty"`
	LicenseTermsID string            `json:"licenseTermsId,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// PriceWei converts the decimal price into the smallest unit of the native token
func (l *Listing) PriceWei() (*big.Int, error) {
	return ParsePrice(l.Price)
}

// ParsePrice converts a decimal native-token amount to wei
func ParsePrice(price string) (*big.Int, error) {
	wei, err := evm.ParseAmount(price, clearsky.NativeDecimals)
	if err != nil {
		return nil, err
	}
	if wei.Sign() == 0 {
		return nil, fmt.Errorf("price must be positive, got %s", price)
	}
	return wei, nil
}

// FormatPrice renders wei as a decimal native-token amount
func FormatPrice(wei *big.Int) string {
	return evm.FormatAmount(wei, clearsky.NativeDecimals)
}

// Licensable reports whether buyers can mint a license for the listing
func (l *Listing) Licensable() bool {
	return l.IPAssetID != "" && l.LicenseTermsID != ""
}

// PurchaseRequest builds the request for buying the listing. withLicense asks
// for a license token when the listing is licensable.
func (l *Listing) PurchaseRequest(withLicense bool) (clearsky.PurchaseRequest, error) {
	price, err := l.PriceWei()
	if err != nil {
		return clearsky.PurchaseRequest{}, err
	}
	req := clearsky.PurchaseRequest{
		Kind:    l.Kind,
		ItemID:  l.ID,
		Seller:  l.Seller,
		Price:   price,
		Network: l.Network,
	}
	if withLicense {
		if !l.Licensable() {
			return clearsky.PurchaseRequest{}, errors.New("listing has no license terms")
		}
		req.License = &clearsky.LicenseRequest{
			LicensorIPID:   l.IPAssetID,
			LicenseTermsID: l.LicenseTermsID,
			Amount:         1,
		}
	}
	return req, nil
}

// Period is a closed time range covered by a report
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// RefinedReport is an AI-refined report built from a device's raw readings
type RefinedReport struct {
	Listing
	DeviceID string   `json:"deviceId"`
	Region   string   `json:"region,omitempty"`
	Period   Period   `json:"period"`
	Metrics  []string `json:"metrics,omitempty"`
	Summary  string   `json:"summary,omitempty"`
}

// Derivative is a report derived from a parent refined report
type Derivative struct {
	Listing
	ParentReportID string `json:"parentReportId"`
	Model          string `json:"model,omitempty"`
	Summary        string `json:"summary,omitempty"`
}

// Page is one page of a listing query
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// HasMore reports whether items exist past this page
func (p Page[T]) HasMore() bool {
	return p.Offset+len(p.Items) < p.Total
}

// Marketplace is everything shown on the marketplace screen
type Marketplace struct {
	Reports     Page[RefinedReport] `json:"reports"`
	Derivatives Page[Derivative]    `json:"derivatives"`
}
