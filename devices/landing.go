package devices

import (
	"context"
	"net/url"

	"github.com/clearskynet/clearsky/go/types"
)

// Destination is where the smart landing sends a user
type Destination string

const (
	DestinationRegister  Destination = "register"
	DestinationDevice    Destination = "device"
	DestinationDashboard Destination = "dashboard"
)

// LandingResult is the resolved landing page
type LandingResult struct {
	Destination Destination `json:"destination"`
	DeviceID    string      `json:"deviceId,omitempty"`
	Path        string      `json:"path"`
	DeviceCount int         `json:"deviceCount"`
}

// Landing picks the page for a user owning devices: registration for none,
// the device page for exactly one, the dashboard otherwise
func Landing(devices []types.Device) LandingResult {
	switch len(devices) {
	case 0:
		return LandingResult{Destination: DestinationRegister, Path: "/register"}
	case 1:
		id := devices[0].ID
		return LandingResult{
			Destination: DestinationDevice,
			DeviceID:    id,
			Path:        "/devices/" + url.PathEscape(id),
			DeviceCount: 1,
		}
	}
	return LandingResult{Destination: DestinationDashboard, Path: "/dashboard", DeviceCount: len(devices)}
}

// Lister returns the devices of the current user
type Lister interface {
	ListDevices(ctx context.Context) ([]types.Device, error)
}

// Resolve loads the user's devices and picks the landing page
func Resolve(ctx context.Context, lister Lister) (LandingResult, error) {
	devices, err := lister.ListDevices(ctx)
	if err != nil {
		return LandingResult{}, err
	}
	return Landing(devices), nil
}
