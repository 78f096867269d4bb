// Package http is the HTTP side of the marketplace: route paths shared by the
// service and its client, and a resty client for the marketplace backend.
package http

import (
	"fmt"
	"net/url"

	clearsky "github.com/clearskynet/clearsky/go"
)

// Routes served by the marketplace backend
const (
	HealthPath      = "/health"
	ReportsPath     = "/marketplace/reports"
	DerivativesPath = "/marketplace/derivatives"
	DevicesPath     = "/devices"
	LandingPath     = "/landing"
	OrdersPath      = "/orders"

	AuthChallengePath = "/auth/challenge"
	AuthWalletPath    = "/auth/wallet"
)

// CollectionPath returns the listing collection of kind, e.g. /marketplace/reports
func CollectionPath(kind clearsky.ItemKind) string {
	return fmt.Sprintf("/marketplace/%ss", kind)
}

// ItemPath returns the path of one listing
func ItemPath(kind clearsky.ItemKind, id string) string {
	return CollectionPath(kind) + "/" + url.PathEscape(id)
}

// PurchasePath returns the confirmation endpoint of one listing
func PurchasePath(kind clearsky.ItemKind, id string) string {
	return ItemPath(kind, id) + "/purchase"
}
