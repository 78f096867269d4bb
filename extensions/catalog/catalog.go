// Package catalog holds marketplace listings and purchase records in memory.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/types"
)

// Paging limits
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var (
	ErrNotFound      = errors.New("listing not found")
	ErrAlreadyListed = errors.New("listing already exists")
)

type entry struct {
	item    interface{}
	listing *types.Listing
}

// Catalog is a thread-safe store of listings keyed by kind and id, plus the
// orders that bought them
type Catalog struct {
	mu     sync.RWMutex
	items  map[string]entry
	ids    map[clearsky.ItemKind][]string
	orders map[string]types.PurchaseConfirmResponse // by lower-case tx hash
	owners map[string]string                        // item key -> tx hash

	now   func() time.Time
	newID func() string
}

// New creates an empty catalog
func New() *Catalog {
	return &Catalog{
		items:  make(map[string]entry),
		ids:    make(map[clearsky.ItemKind][]string),
		orders: make(map[string]types.PurchaseConfirmResponse),
		owners: make(map[string]string),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func key(kind clearsky.ItemKind, id string) string {
	return string(kind) + ":" + id
}

// Put adds a *types.RefinedReport or *types.Derivative. Items without an id
// get a generated one.
func (c *Catalog) Put(item interface{}) (*types.Listing, error) {
	switch item.(type) {
	case *types.RefinedReport, *types.Derivative:
	default:
		return nil, fmt.Errorf("unsupported item type %T", item)
	}
	listing, err := types.ListingOf(item)
	if err != nil {
		return nil, err
	}
	if !listing.Kind.IsValid() {
		return nil, fmt.Errorf("invalid kind: %q", listing.Kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if listing.ID == "" {
		listing.ID = c.newID()
	}
	k := key(listing.Kind, listing.ID)
	if _, exists := c.items[k]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyListed, k)
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = c.now().UTC()
	}

	c.items[k] = entry{item: item, listing: listing}
	c.ids[listing.Kind] = append(c.ids[listing.Kind], listing.ID)
	return listing, nil
}

// Get returns the item and its listing
func (c *Catalog) Get(kind clearsky.ItemKind, id string) (interface{}, *types.Listing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key(kind, id)]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return e.item, e.listing, nil
}

// List returns one page of items of kind in listing order
func (c *Catalog) List(kind clearsky.ItemKind, limit, offset int) types.Page[interface{}] {
	limit, offset = clamp(limit, offset)

	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.ids[kind]
	page := types.Page[interface{}]{Items: []interface{}{}, Total: len(ids), Limit: limit, Offset: offset}
	for i := offset; i < len(ids) && len(page.Items) < limit; i++ {
		page.Items = append(page.Items, c.items[key(kind, ids[i])].item)
	}
	return page
}

// Reports returns one page of refined reports
func (c *Catalog) Reports(limit, offset int) types.Page[types.RefinedReport] {
	return typed[types.RefinedReport](c.List(clearsky.KindReport, limit, offset))
}

// Derivatives returns one page of derivatives
func (c *Catalog) Derivatives(limit, offset int) types.Page[types.Derivative] {
	return typed[types.Derivative](c.List(clearsky.KindDerivative, limit, offset))
}

func typed[T any](page types.Page[interface{}]) types.Page[T] {
	out := types.Page[T]{Items: make([]T, 0, len(page.Items)), Total: page.Total, Limit: page.Limit, Offset: page.Offset}
	for _, item := range page.Items {
		if v, ok := item.(*T); ok {
			out.Items = append(out.Items, *v)
		}
	}
	return out
}

// RecordPurchase stores a confirmed order. Recording the same transaction
// twice returns the first order and false.
func (c *Catalog) RecordPurchase(order types.PurchaseConfirmResponse) (types.PurchaseConfirmResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := strings.ToLower(order.TxHash)
	if existing, ok := c.orders[tx]; ok {
		return existing, false
	}
	if order.OrderID == "" {
		order.OrderID = c.newID()
	}
	c.orders[tx] = order
	c.owners[clearsky.ItemKey(order.Buyer, order.Kind, order.ItemID)] = tx
	return order, true
}

// Owns reports whether buyer has a confirmed order for the item
func (c *Catalog) Owns(buyer string, kind clearsky.ItemKind, id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.owners[clearsky.ItemKey(buyer, kind, id)]
	return ok
}

// OrderByTx looks up the order paid by txHash
func (c *Catalog) OrderByTx(txHash string) (types.PurchaseConfirmResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	order, ok := c.orders[strings.ToLower(txHash)]
	return order, ok
}

// Orders returns every order of buyer sorted by transaction hash
func (c *Catalog) Orders(buyer string) []types.PurchaseConfirmResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []types.PurchaseConfirmResponse
	for _, order := range c.orders {
		if strings.EqualFold(order.Buyer, buyer) {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TxHash < out[j].TxHash })
	return out
}

func clamp(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
