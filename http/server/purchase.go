package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/mechanisms/evm"
	"github.com/clearskynet/clearsky/go/mechanisms/evm/native/facilitator"
	"github.com/clearskynet/clearsky/go/types"
)

// confirmPurchase verifies the buyer's payment transaction on chain and
// records the order. Confirming an already recorded transaction returns the
// existing order.
func (s *Server) confirmPurchase(kind clearsky.ItemKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := s.requestContext(c)
		defer cancel()

		raw, err := c.GetRawData()
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid_payload", "Invalid request body")
			return
		}
		if err := types.ValidatePayload(types.PurchaseConfirmSchema, raw); err != nil {
			fail(c, http.StatusBadRequest, "invalid_payload", err.Error())
			return
		}
		var req types.PurchaseConfirmRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			fail(c, http.StatusBadRequest, "invalid_payload", err.Error())
			return
		}
		if !sameWallet(c, req.BuyerAddress) {
			fail(c, http.StatusForbidden, "forbidden", "buyer must be the session wallet")
			return
		}

		id := c.Param("id")
		_, listing, err := s.catalog.Get(kind, id)
		if err != nil {
			fail(c, http.StatusNotFound, "not_found", err.Error())
			return
		}

		if order, ok := s.catalog.OrderByTx(req.TxHash); ok {
			if order.Kind != kind || order.ItemID != id || !sameAddress(order.Buyer, req.BuyerAddress) {
				fail(c, http.StatusUnprocessableEntity, facilitator.ReasonTransactionAlreadyUsed,
					"transaction already paid for another order")
				return
			}
			c.JSON(http.StatusOK, order)
			return
		}

		if req.Network != listing.Network {
			fail(c, http.StatusUnprocessableEntity, facilitator.ReasonChainMismatch,
				"listing settles on "+string(listing.Network))
			return
		}
		price, err := listing.PriceWei()
		if err != nil {
			fail(c, http.StatusInternalServerError, "invalid_price", err.Error())
			return
		}

		verified, err := s.verifier.Verify(ctx, facilitator.PaymentClaim{
			Network: listing.Network,
			TxHash:  req.TxHash,
			Buyer:   req.BuyerAddress,
			Seller:  listing.Seller,
			Price:   price,
			Item:    string(kind) + ":" + id,
		})
		if err != nil {
			s.verifyFailed(c, err)
			return
		}

		order, created := s.catalog.RecordPurchase(types.PurchaseConfirmResponse{
			Status:      types.OrderStatusConfirmed,
			Kind:        kind,
			ItemID:      id,
			Buyer:       evm.ChecksumAddress(verified.Payer),
			TxHash:      verified.TxHash,
			BlockNumber: verified.BlockNumber,
			Amount:      types.FormatPrice(verified.Value),
		})
		status := http.StatusOK
		if created {
			status = http.StatusCreated
			s.logger.Info("purchase confirmed",
				zap.String("order", order.OrderID),
				zap.String("kind", string(kind)),
				zap.String("item", id),
				zap.String("buyer", order.Buyer),
				zap.String("tx", order.TxHash))
		}
		c.JSON(status, order)
	}
}

func (s *Server) verifyFailed(c *gin.Context, err error) {
	var ve *facilitator.VerifyError
	if !errors.As(err, &ve) {
		s.logger.Error("payment verification error", zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	s.logger.Info("payment rejected",
		zap.String("reason", ve.Reason),
		zap.String("payer", ve.Payer),
		zap.String("tx", ve.Transaction),
		zap.Bool("retryable", ve.Retryable()))
	if ve.Retryable() {
		c.Header("Retry-After", RetryAfterSeconds)
		fail(c, http.StatusServiceUnavailable, ve.Reason, ve.Error())
		return
	}
	fail(c, http.StatusUnprocessableEntity, ve.Reason, ve.Error())
}

func sameAddress(a, b string) bool {
	return evm.IsValidAddress(a) && evm.IsValidAddress(b) && evm.ChecksumAddress(a) == evm.ChecksumAddress(b)
}
