package types

import "time"

// Location is where a sensor is installed
type Location struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Label     string  `json:"label,omitempty" validate:"max=120"`
}

// Device is a registered air-quality sensor
type Device struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Model        string    `json:"model"`
	SerialNumber string    `json:"serialNumber"`
	Owner        string    `json:"ownerAddress"`
	Location     Location  `json:"location"`
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Device statuses
const (
	DeviceStatusPending = "pending"
	DeviceStatusActive  = "active"
)

// DeviceRegistration is the payload submitted at the end of the registration wizard
type DeviceRegistration struct {
	Owner        string   `json:"ownerAddress" validate:"required,eth_addr"`
	Name         string   `json:"name" validate:"required,max=64"`
	Model        string   `json:"model" validate:"required,max=64"`
	SerialNumber string   `json:"serialNumber" validate:"required,alphanum,min=6,max=32"`
	Location     Location `json:"location"`
}
