package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/auth"
	csevm "github.com/clearskynet/clearsky/go/mechanisms/evm"
	"github.com/clearskynet/clearsky/go/types"
)

// Client defaults
const (
	DefaultTimeout    = 15 * time.Second
	DefaultRetryCount = 2
)

// BackendClient talks to the marketplace backend. It implements
// clearsky.Backend and devices.Registrar.
type BackendClient struct {
	client *resty.Client
	token  func() string
	logger *zap.Logger
}

var _ clearsky.Backend = (*BackendClient)(nil)

// ClientOption configures a BackendClient
type ClientOption func(*BackendClient)

// WithToken sends a fixed bearer token
func WithToken(token string) ClientOption {
	return func(c *BackendClient) { c.token = func() string { return token } }
}

// WithTokenSource reads the bearer token before every request
func WithTokenSource(source func() string) ClientOption {
	return func(c *BackendClient) { c.token = source }
}

// WithHTTPClient replaces the underlying transport client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *BackendClient) {
		base := c.client.BaseURL
		c.client = resty.NewWithClient(hc).SetBaseURL(base)
	}
}

// WithClientLogger sets the structured logger
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *BackendClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewBackendClient creates a client for the backend at baseURL
func NewBackendClient(baseURL string, opts ...ClientOption) *BackendClient {
	c := &BackendClient{
		client: resty.New().SetBaseURL(strings.TrimRight(baseURL, "/")),
		token:  func() string { return "" },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.client.
		SetTimeout(DefaultTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "clearsky-go/"+clearsky.Version).
		SetRetryCount(DefaultRetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(retryReads)
	return c
}

// retryReads retries idempotent reads on transport errors and 5xx answers
func retryReads(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	return err != nil || resp.StatusCode() >= http.StatusInternalServerError
}

func (c *BackendClient) request(ctx context.Context) *resty.Request {
	req := c.client.R().SetContext(ctx).SetError(&APIError{})
	if token := c.token(); token != "" {
		req.SetAuthToken(token)
	}
	return req
}

func (c *BackendClient) check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	if resp.IsSuccess() {
		return nil
	}

	apiErr, _ := resp.Error().(*APIError)
	if apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.StatusCode = resp.StatusCode()
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(resp.Body()))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode())
	}
	c.logger.Debug("backend error",
		zap.String("method", resp.Request.Method),
		zap.String("url", resp.Request.URL),
		zap.Int("status", apiErr.StatusCode),
		zap.String("reason", apiErr.Reason))
	return apiErr
}

// ConfirmPurchase posts the payment transaction so the backend can verify it
// and record the order. Answers that cannot change on retry wrap
// clearsky.ErrConfirmationRejected.
func (c *BackendClient) ConfirmPurchase(ctx context.Context, confirmation clearsky.Confirmation) (*clearsky.ConfirmResult, error) {
	var result types.PurchaseConfirmResponse
	resp, err := c.request(ctx).
		SetBody(types.ConfirmRequestFrom(confirmation)).
		SetResult(&result).
		Post(PurchasePath(confirmation.Kind, confirmation.ItemID))
	if err := c.check(resp, err); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Permanent() {
			return nil, fmt.Errorf("%w: %w", clearsky.ErrConfirmationRejected, err)
		}
		return nil, err
	}
	return &clearsky.ConfirmResult{OrderID: result.OrderID, Status: result.Status}, nil
}

// ListReports returns one page of refined reports
func (c *BackendClient) ListReports(ctx context.Context, limit, offset int) (*types.Page[types.RefinedReport], error) {
	var page types.Page[types.RefinedReport]
	if err := c.list(ctx, ReportsPath, limit, offset, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListDerivatives returns one page of derivatives
func (c *BackendClient) ListDerivatives(ctx context.Context, limit, offset int) (*types.Page[types.Derivative], error) {
	var page types.Page[types.Derivative]
	if err := c.list(ctx, DerivativesPath, limit, offset, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *BackendClient) list(ctx context.Context, path string, limit, offset int, out interface{}) error {
	req := c.request(ctx).SetResult(out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		req.SetQueryParam("offset", strconv.Itoa(offset))
	}
	resp, err := req.Get(path)
	return c.check(resp, err)
}

// GetListing fetches one listing; the item is a *types.RefinedReport or *types.Derivative
func (c *BackendClient) GetListing(ctx context.Context, kind clearsky.ItemKind, id string) (interface{}, *types.Listing, error) {
	resp, err := c.request(ctx).Get(ItemPath(kind, id))
	if err := c.check(resp, err); err != nil {
		return nil, nil, err
	}
	item, listing, err := types.DecodeItem(resp.Body())
	if err != nil {
		return nil, nil, err
	}
	if listing.Kind != kind || listing.ID != id {
		return nil, nil, fmt.Errorf("backend returned %s %s for %s %s", listing.Kind, listing.ID, kind, id)
	}
	return item, listing, nil
}

// CreateListing publishes a report or derivative for sale
func (c *BackendClient) CreateListing(ctx context.Context, item interface{}) (*types.Listing, error) {
	listing, err := types.ListingOf(item)
	if err != nil {
		return nil, err
	}
	resp, err := c.request(ctx).SetBody(item).Post(CollectionPath(listing.Kind))
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	_, created, err := types.DecodeItem(resp.Body())
	return created, err
}

// ListDevices returns the devices owned by the session wallet
func (c *BackendClient) ListDevices(ctx context.Context) ([]types.Device, error) {
	var devices []types.Device
	resp, err := c.request(ctx).SetResult(&devices).Get(DevicesPath)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return devices, nil
}

// RegisterDevice submits a completed registration
func (c *BackendClient) RegisterDevice(ctx context.Context, reg types.DeviceRegistration) (*types.Device, error) {
	var device types.Device
	resp, err := c.request(ctx).SetBody(reg).SetResult(&device).Post(DevicesPath)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &device, nil
}

// Orders returns the confirmed orders of the session wallet
func (c *BackendClient) Orders(ctx context.Context) ([]types.PurchaseConfirmResponse, error) {
	var orders []types.PurchaseConfirmResponse
	resp, err := c.request(ctx).SetResult(&orders).Get(OrdersPath)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return orders, nil
}

// RequestChallenge asks the backend for a login challenge for wallet
func (c *BackendClient) RequestChallenge(ctx context.Context, wallet string) (*csevm.LoginChallenge, error) {
	var challenge csevm.LoginChallenge
	resp, err := c.request(ctx).
		SetBody(map[string]string{"wallet": wallet}).
		SetResult(&challenge).
		Post(AuthChallengePath)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// LoginWithWallet exchanges a signed challenge for a session
func (c *BackendClient) LoginWithWallet(ctx context.Context, challenge csevm.LoginChallenge, signature []byte) (*auth.Session, error) {
	var session auth.Session
	resp, err := c.request(ctx).
		SetBody(map[string]string{
			"wallet":    challenge.Wallet,
			"nonce":     challenge.Nonce,
			"signature": hexutil.Encode(signature),
		}).
		SetResult(&session).
		Post(AuthWalletPath)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &session, nil
}

// LoadMarketplace fetches the first page of reports and derivatives concurrently
func (c *BackendClient) LoadMarketplace(ctx context.Context, limit int) (*types.Marketplace, error) {
	var market types.Marketplace
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		page, err := c.ListReports(ctx, limit, 0)
		if err != nil {
			return fmt.Errorf("failed to load reports: %w", err)
		}
		market.Reports = *page
		return nil
	})
	g.Go(func() error {
		page, err := c.ListDerivatives(ctx, limit, 0)
		if err != nil {
			return fmt.Errorf("failed to load derivatives: %w", err)
		}
		market.Derivatives = *page
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &market, nil
}
