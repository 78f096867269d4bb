package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/types"
)

const buyer = "0x14791697260E4c9A71f18484C9f997B308e59325"

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestConfirmPurchase(t *testing.T) {
	var got types.PurchaseConfirmRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/marketplace/reports/report-7/purchase":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			writeJSON(w, http.StatusOK, types.PurchaseConfirmResponse{OrderID: "order-1", Status: types.OrderStatusConfirmed})
		case "/marketplace/derivatives/d-1/purchase":
			writeJSON(w, http.StatusUnprocessableEntity, APIError{Reason: "recipient_mismatch", Message: "payment does not pay the seller"})
		case "/marketplace/reports/not-mine/purchase":
			writeJSON(w, http.StatusForbidden, APIError{Reason: "forbidden", Message: "buyer must be the session wallet"})
		case "/marketplace/reports/expired/purchase":
			writeJSON(w, http.StatusUnauthorized, APIError{Reason: "unauthenticated", Message: "session expired"})
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	client := NewBackendClient(srv.URL+"/", WithToken("session-token"))
	result, err := client.ConfirmPurchase(context.Background(), clearsky.Confirmation{
		Kind:    clearsky.KindReport,
		ItemID:  "report-7",
		Buyer:   buyer,
		TxHash:  "0xfeed",
		Network: "eip155:1315",
	})
	require.NoError(t, err)
	assert.Equal(t, "order-1", result.OrderID)
	assert.Equal(t, types.OrderStatusConfirmed, result.Status)
	assert.Equal(t, "Bearer session-token", auth)
	assert.Equal(t, types.PurchaseConfirmRequest{BuyerAddress: buyer, TxHash: "0xfeed", Network: "eip155:1315"}, got)

	_, err = client.ConfirmPurchase(context.Background(), clearsky.Confirmation{Kind: clearsky.KindDerivative, ItemID: "d-1"})
	assert.ErrorIs(t, err, clearsky.ErrConfirmationRejected)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "recipient_mismatch", apiErr.Reason)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)

	_, err = client.ConfirmPurchase(context.Background(), clearsky.Confirmation{Kind: clearsky.KindReport, ItemID: "not-mine"})
	assert.ErrorIs(t, err, clearsky.ErrConfirmationRejected)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	_, err = client.ConfirmPurchase(context.Background(), clearsky.Confirmation{Kind: clearsky.KindReport, ItemID: "expired"})
	require.ErrorAs(t, err, &apiErr)
	assert.NotErrorIs(t, err, clearsky.ErrConfirmationRejected)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = client.ConfirmPurchase(context.Background(), clearsky.Confirmation{Kind: clearsky.KindReport, ItemID: "other"})
	require.ErrorAs(t, err, &apiErr)
	assert.NotErrorIs(t, err, clearsky.ErrConfirmationRejected)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Message)
}

func TestListingsAndRetries(t *testing.T) {
	var reportCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ReportsPath:
			if reportCalls.Add(1) == 1 {
				writeJSON(w, http.StatusServiceUnavailable, APIError{Message: "warming up"})
				return
			}
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, types.Page[types.RefinedReport]{
				Items: []types.RefinedReport{{Listing: types.Listing{ID: "r-1", Kind: clearsky.KindReport}}},
				Total: 1, Limit: 5,
			})
		case DerivativesPath:
			writeJSON(w, http.StatusOK, types.Page[types.Derivative]{Items: []types.Derivative{}, Limit: 5})
		case "/marketplace/derivatives/d-1":
			writeJSON(w, http.StatusOK, types.Derivative{Listing: types.Listing{ID: "d-1", Kind: clearsky.KindDerivative}, ParentReportID: "r-1"})
		case "/marketplace/reports/r-2":
			writeJSON(w, http.StatusOK, types.Derivative{Listing: types.Listing{ID: "d-1", Kind: clearsky.KindDerivative}})
		default:
			writeJSON(w, http.StatusNotFound, APIError{Message: "not found"})
		}
	}))
	defer srv.Close()

	client := NewBackendClient(srv.URL)
	market, err := client.LoadMarketplace(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, market.Reports.Items, 1)
	assert.Equal(t, "r-1", market.Reports.Items[0].ID)
	assert.Empty(t, market.Derivatives.Items)
	assert.Equal(t, int32(2), reportCalls.Load())

	item, listing, err := client.GetListing(context.Background(), clearsky.KindDerivative, "d-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", item.(*types.Derivative).ParentReportID)
	assert.Equal(t, "d-1", listing.ID)

	_, _, err = client.GetListing(context.Background(), clearsky.KindReport, "r-2")
	assert.ErrorContains(t, err, "returned derivative d-1")

	_, _, err = client.GetListing(context.Background(), clearsky.KindReport, "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Permanent())
}

func TestDevices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, DevicesPath, r.URL.Path)
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, []types.Device{{ID: "dev-1", Owner: buyer}})
			return
		}
		var reg types.DeviceRegistration
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
		writeJSON(w, http.StatusCreated, types.Device{ID: "dev-2", Name: reg.Name, Owner: reg.Owner, Status: types.DeviceStatusPending})
	}))
	defer srv.Close()

	client := NewBackendClient(srv.URL, WithTokenSource(func() string { return "" }))
	devices, err := client.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)

	device, err := client.RegisterDevice(context.Background(), types.DeviceRegistration{Owner: buyer, Name: "Balcony"})
	require.NoError(t, err)
	assert.Equal(t, "dev-2", device.ID)
	assert.Equal(t, types.DeviceStatusPending, device.Status)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/marketplace/reports", CollectionPath(clearsky.KindReport))
	assert.Equal(t, ReportsPath, CollectionPath(clearsky.KindReport))
	assert.Equal(t, DerivativesPath, CollectionPath(clearsky.KindDerivative))
	assert.Equal(t, "/marketplace/derivatives/a%2Fb/purchase", PurchasePath(clearsky.KindDerivative, "a/b"))
}
