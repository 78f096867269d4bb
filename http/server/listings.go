package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/extensions/catalog"
	"github.com/clearskynet/clearsky/go/types"
)

func (s *Server) listItems(kind clearsky.ItemKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := queryInt(c, "limit")
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}
		offset, err := queryInt(c, "offset")
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}

		if kind == clearsky.KindReport {
			c.JSON(http.StatusOK, s.catalog.Reports(limit, offset))
			return
		}
		c.JSON(http.StatusOK, s.catalog.Derivatives(limit, offset))
	}
}

func (s *Server) getItem(kind clearsky.ItemKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, _, err := s.catalog.Get(kind, c.Param("id"))
		if err != nil {
			fail(c, http.StatusNotFound, "not_found", err.Error())
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

// createItem publishes a listing for the session wallet
func (s *Server) createItem(kind clearsky.ItemKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid_payload", "Invalid request body")
			return
		}
		if err := types.ValidatePayload(types.ListingSchema, raw); err != nil {
			fail(c, http.StatusBadRequest, "invalid_payload", err.Error())
			return
		}

		item, listing, err := types.DecodeItem(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid_payload", err.Error())
			return
		}
		if listing.Kind != kind {
			fail(c, http.StatusBadRequest, "invalid_payload", "kind does not match collection")
			return
		}
		if !sameWallet(c, listing.Seller) {
			fail(c, http.StatusForbidden, "forbidden", "seller must be the session wallet")
			return
		}
		if _, err := listing.PriceWei(); err != nil {
			fail(c, http.StatusUnprocessableEntity, "invalid_price", err.Error())
			return
		}

		created, err := s.catalog.Put(item)
		if err != nil {
			if errors.Is(err, catalog.ErrAlreadyListed) {
				fail(c, http.StatusConflict, "already_listed", err.Error())
				return
			}
			fail(c, http.StatusBadRequest, "invalid_payload", err.Error())
			return
		}
		s.logger.Info("listing created",
			zap.String("kind", string(created.Kind)),
			zap.String("id", created.ID),
			zap.String("seller", created.Seller))
		c.JSON(http.StatusCreated, item)
	}
}

func queryInt(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name + ": " + v)
	}
	return n, nil
}
