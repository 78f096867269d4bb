package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clearskynet/clearsky/go/devices"
	"github.com/clearskynet/clearsky/go/mechanisms/evm"
	"github.com/clearskynet/clearsky/go/types"
)

type deviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]types.Device
	serials map[string]string
}

func newDeviceRegistry() *deviceRegistry {
	return &deviceRegistry{
		devices: make(map[string]types.Device),
		serials: make(map[string]string),
	}
}

// add stores d unless its serial number is already registered
func (r *deviceRegistry) add(d types.Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	serial := strings.ToUpper(d.SerialNumber)
	if _, taken := r.serials[serial]; taken {
		return false
	}
	r.serials[serial] = d.ID
	r.devices[d.ID] = d
	return true
}

// owned returns the devices of owner, oldest first
func (r *deviceRegistry) owned(owner string) []types.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []types.Device{}
	for _, d := range r.devices {
		if strings.EqualFold(d.Owner, owner) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

func (s *Server) listDevices(c *gin.Context) {
	c.JSON(http.StatusOK, s.devices.owned(sessionOf(c).Wallet))
}

func (s *Server) registerDevice(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid_payload", "Invalid request body")
		return
	}
	if err := types.ValidatePayload(types.DeviceRegistrationSchema, raw); err != nil {
		fail(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	var reg types.DeviceRegistration
	if err := json.Unmarshal(raw, &reg); err != nil {
		fail(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	if !sameWallet(c, reg.Owner) {
		fail(c, http.StatusForbidden, "forbidden", "owner must be the session wallet")
		return
	}

	device := types.Device{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(reg.Name),
		Model:        strings.TrimSpace(reg.Model),
		SerialNumber: reg.SerialNumber,
		Owner:        evm.ChecksumAddress(reg.Owner),
		Location:     reg.Location,
		Status:       types.DeviceStatusPending,
		RegisteredAt: s.now().UTC(),
	}
	if !s.devices.add(device) {
		fail(c, http.StatusConflict, "already_registered", "serial number already registered")
		return
	}
	s.logger.Info("device registered",
		zap.String("id", device.ID),
		zap.String("owner", device.Owner),
		zap.String("serial", device.SerialNumber))
	c.JSON(http.StatusCreated, device)
}

func (s *Server) landing(c *gin.Context) {
	c.JSON(http.StatusOK, devices.Landing(s.devices.owned(sessionOf(c).Wallet)))
}

func (s *Server) orders(c *gin.Context) {
	orders := s.catalog.Orders(sessionOf(c).Wallet)
	if orders == nil {
		orders = []types.PurchaseConfirmResponse{}
	}
	c.JSON(http.StatusOK, orders)
}
